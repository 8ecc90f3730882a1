package portal

import (
	"bytes"
	"net/http"

	"github.com/paywatch/payhook-backend/pkg/config"
	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
)

// Adapter converts one aggregator's webhook payload into normalized
// transactions and verifies the delivery is authentic.
type Adapter interface {
	Portal() enums.Portal
	// Verify checks the request's authentication material. A verification
	// failure means the payload must not be processed; the HTTP response
	// stays 200 so the aggregator does not retry forever.
	Verify(header http.Header, body []byte) error
	// Parse decodes the body into normalized transactions. Both single
	// object and array shapes are accepted.
	Parse(body []byte) ([]NormalizedTransaction, error)
}

// Registry holds the configured adapter per portal tag.
type Registry struct {
	adapters map[enums.Portal]Adapter
}

// NewRegistry wires one adapter per supported portal from the portal
// credentials configuration.
func NewRegistry(cfg config.PortalsConfig) *Registry {
	r := &Registry{adapters: make(map[enums.Portal]Adapter)}
	r.register(NewSepayAdapter(cfg.SepayAPIKey))
	r.register(NewCassoAdapter(cfg.CassoToken))
	r.register(NewPayosAdapter(cfg.PayosSecret, cfg.PayosClockSkew))
	return r
}

func (r *Registry) register(a Adapter) {
	r.adapters[a.Portal()] = a
}

// For returns the adapter handling the named portal.
func (r *Registry) For(portal enums.Portal) (Adapter, error) {
	a, ok := r.adapters[portal]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no adapter for portal "+portal.String())
	}
	return a, nil
}

// isArrayPayload sniffs the first significant byte. Portals switch between
// single-object and array shapes without a version field.
func isArrayPayload(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}
