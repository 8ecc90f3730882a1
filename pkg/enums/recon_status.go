package enums

import "fmt"

// ReconStatus tracks the reconciliation outcome of one bank transaction.
// Every status except pending is terminal.
type ReconStatus string

const (
	ReconStatusPending    ReconStatus = "pending"
	ReconStatusDuplicated ReconStatus = "duplicated"
	ReconStatusFailed     ReconStatus = "failed"
	ReconStatusUnlinked   ReconStatus = "unlinked"
	ReconStatusProcessed  ReconStatus = "processed"
	ReconStatusAvailable  ReconStatus = "available"
)

var validReconStatuses = []ReconStatus{
	ReconStatusPending,
	ReconStatusDuplicated,
	ReconStatusFailed,
	ReconStatusUnlinked,
	ReconStatusProcessed,
	ReconStatusAvailable,
}

// String implements fmt.Stringer.
func (s ReconStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ReconStatus.
func (s ReconStatus) IsValid() bool {
	for _, candidate := range validReconStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s ReconStatus) IsTerminal() bool {
	return s.IsValid() && s != ReconStatusPending
}

// ParseReconStatus converts raw input into a ReconStatus.
func ParseReconStatus(value string) (ReconStatus, error) {
	for _, candidate := range validReconStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid recon status %q", value)
}
