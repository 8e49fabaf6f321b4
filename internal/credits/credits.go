package credits

import "context"

// ResearchCost is the number of credits one research run consumes.
const ResearchCost int64 = 2

// Ledger is the contended shared resource guarding pipeline entry. Debit is
// a single atomic check-and-decrement: it either debits the full amount or
// returns ErrInsufficient without changing the balance, so two concurrent
// runs can never both pass on a balance that covers only one.
type Ledger interface {
	// Balance returns the user's current credit balance.
	Balance(ctx context.Context, userID string) (int64, error)
	// Debit atomically subtracts amount when balance >= amount and returns
	// the remaining balance. Insufficient funds yield ErrInsufficient.
	Debit(ctx context.Context, userID string, amount int64) (int64, error)
	// Grant adds amount to the user's balance, creating the row if needed,
	// and returns the new balance.
	Grant(ctx context.Context, userID string, amount int64) (int64, error)
}
