package credits

import "fmt"

// ErrInsufficient is returned when a debit would push the balance below zero.
type ErrInsufficient struct {
	Balance  int64
	Required int64
}

func (e ErrInsufficient) Error() string {
	return fmt.Sprintf("insufficient credits: balance=%d required=%d", e.Balance, e.Required)
}
