package enums

import "fmt"

// Direction encodes whether a bank transaction credits or debits the account.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// IsValid reports whether the value is a known Direction.
func (d Direction) IsValid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// DirectionForAmount derives the direction from a signed minor-unit amount.
func DirectionForAmount(amount int64) Direction {
	if amount < 0 {
		return DirectionDebit
	}
	return DirectionCredit
}

// ParseDirection converts raw input into a Direction.
func ParseDirection(value string) (Direction, error) {
	switch Direction(value) {
	case DirectionCredit:
		return DirectionCredit, nil
	case DirectionDebit:
		return DirectionDebit, nil
	default:
		return "", fmt.Errorf("invalid direction %q", value)
	}
}
