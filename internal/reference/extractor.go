package reference

import (
	"regexp"
	"strings"

	"github.com/paywatch/payhook-backend/internal/cache"
)

// Extractor recovers an internal order reference from a free-text bank
// transfer description. The same description always resolves to the same
// reference, so results are cached by description, misses included.
type Extractor struct {
	prefix  string
	strict  *regexp.Regexp
	loose   *regexp.Regexp
	results *cache.Store[string]
}

// New builds an extractor anchored on the given order reference prefix.
// A nil store disables caching.
func New(prefix string, results *cache.Store[string]) *Extractor {
	quoted := regexp.QuoteMeta(prefix)
	return &Extractor{
		prefix:  prefix,
		strict:  regexp.MustCompile(quoted + `\d{8}[A-Za-z0-9]{7}`),
		loose:   regexp.MustCompile(quoted + `[A-Z0-9-]+`),
		results: results,
	}
}

// Extract returns the order reference found in description, or ("", false)
// when no stage matches. Strategies run in order and the first match wins.
func (e *Extractor) Extract(description string) (string, bool) {
	if description == "" {
		return "", false
	}
	if e.results != nil {
		if ref, ok := e.results.Get(description); ok {
			return ref, ref != ""
		}
	}

	ref := e.extract(description)
	if e.results != nil {
		e.results.Set(description, ref)
	}
	return ref, ref != ""
}

func (e *Extractor) extract(description string) string {
	if ref := e.strict.FindString(description); ref != "" {
		return ref
	}
	if ref := e.loosePattern(description); ref != "" {
		return ref
	}
	if ref := e.afterPrefix(description); ref != "" {
		return ref
	}
	return longTokenHeuristic(description)
}

// loosePattern matches the prefix followed by an uppercase-alphanumeric run
// and cuts the match at the first hyphen. Banks routinely append suffixes
// like "-NAPTIEN" after the real reference.
func (e *Extractor) loosePattern(description string) string {
	match := e.loose.FindString(description)
	if match == "" {
		return ""
	}
	if i := strings.IndexByte(match, '-'); i > len(e.prefix) {
		match = match[:i]
	} else if i >= 0 && i <= len(e.prefix) {
		return ""
	}
	if match == e.prefix {
		return ""
	}
	return match
}

// afterPrefix takes whatever immediately follows the first occurrence of the
// prefix, truncated at whitespace or hyphen. It catches lowercase or
// otherwise mangled references the anchored patterns reject.
func (e *Extractor) afterPrefix(description string) string {
	i := strings.Index(description, e.prefix)
	if i < 0 {
		return ""
	}
	rest := description[i+len(e.prefix):]
	end := strings.IndexFunc(rest, func(r rune) bool {
		return r == '-' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if end >= 0 {
		rest = rest[:end]
	}
	if rest == "" {
		return ""
	}
	return e.prefix + rest
}

var longToken = regexp.MustCompile(`^[A-Z0-9-]{10,}$`)

// longTokenHeuristic returns the first whitespace-delimited token of at
// least ten uppercase letters, digits, or hyphens. Last resort for
// descriptions where the prefix was stripped entirely.
func longTokenHeuristic(description string) string {
	for _, token := range strings.Fields(description) {
		if longToken.MatchString(token) {
			return token
		}
	}
	return ""
}
