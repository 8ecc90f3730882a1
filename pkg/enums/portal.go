package enums

import "fmt"

// Portal identifies the banking/payment aggregator that delivered a webhook.
type Portal string

const (
	PortalSepay Portal = "sepay"
	PortalCasso Portal = "casso"
	PortalPayos Portal = "payos"
)

var validPortals = []Portal{
	PortalSepay,
	PortalCasso,
	PortalPayos,
}

// String implements fmt.Stringer.
func (p Portal) String() string {
	return string(p)
}

// IsValid reports whether the value is a known Portal.
func (p Portal) IsValid() bool {
	for _, candidate := range validPortals {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePortal converts raw input into a Portal.
func ParsePortal(value string) (Portal, error) {
	for _, candidate := range validPortals {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid portal %q", value)
}
