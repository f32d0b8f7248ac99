package order

// State represents the order lifecycle.
type State string

const (
	StatePendingCreate   State = "PENDING_CREATE"
	StateOpen            State = "OPEN"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StatePendingCancel   State = "PENDING_CANCEL"
	StateCanceled        State = "CANCELED"
	StateFilled          State = "FILLED"
	StateFailed          State = "FAILED"

	// Token approval sub-flow for on-chain orders.
	StatePendingApproval State = "PENDING_APPROVAL"
	StateApproved        State = "APPROVED"
)

// IsTerminal reports whether no further transitions are legal from s,
// except for lost-order quarantine resolution.
func (s State) IsTerminal() bool {
	switch s {
	case StateCanceled, StateFilled, StateFailed, StateApproved:
		return true
	default:
		return false
	}
}

// isOpenState reports whether s counts as open for tracking purposes.
func isOpenState(s State) bool {
	switch s {
	case StatePendingCreate, StateOpen, StatePartiallyFilled, StatePendingCancel:
		return true
	default:
		return false
	}
}

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Kind of an order.
type Kind string

const (
	KindLimit    Kind = "LIMIT"
	KindMarket   Kind = "MARKET"
	KindSwap     Kind = "SWAP"
	KindApproval Kind = "APPROVAL"
)
