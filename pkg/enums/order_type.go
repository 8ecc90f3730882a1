package enums

import "fmt"

// OrderType distinguishes deposit requests from withdrawal requests.
type OrderType string

const (
	OrderTypeDeposit  OrderType = "deposit"
	OrderTypeWithdraw OrderType = "withdraw"
)

// IsValid reports whether the value is a known OrderType.
func (t OrderType) IsValid() bool {
	return t == OrderTypeDeposit || t == OrderTypeWithdraw
}

// ParseOrderType converts raw input into an OrderType.
func ParseOrderType(value string) (OrderType, error) {
	switch OrderType(value) {
	case OrderTypeDeposit:
		return OrderTypeDeposit, nil
	case OrderTypeWithdraw:
		return OrderTypeWithdraw, nil
	default:
		return "", fmt.Errorf("invalid order type %q", value)
	}
}
