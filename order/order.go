package order

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// fillEpsilon is the tolerance below which a remaining amount counts as
// fully filled.
var fillEpsilon = decimal.New(1, -8)

// Order is the state-carrying entity for a single client-submitted order,
// CEX or on-chain. It is created by the caller and owned by the Tracker
// once tracking begins; all mutation goes through ApplyOrderUpdate and
// ApplyTradeUpdate. Methods are safe for concurrent use.
type Order struct {
	clientOrderID string
	tradingPair   string
	side          Side
	kind          Kind
	price         decimal.Decimal
	amount        decimal.Decimal
	createdAt     time.Time

	mu              sync.RWMutex
	exchangeOrderID string
	state           State
	executedBase    decimal.Decimal
	executedQuote   decimal.Decimal
	feeAsset        string
	cumulativeFee   decimal.Decimal
	lastFillPrice   decimal.Decimal
	lastFillAmount  decimal.Decimal
	updatedAt       time.Time
	fills           map[string]TradeUpdate
	fillOrder       []string

	// On-chain extension.
	creationTxHash  string
	cancelTxHash    string
	feePerUnit      int64
	nonce           *uint64
	networkFeeAsset string
	networkFee      decimal.Decimal
	errorMessage    string

	// Terminal latch: once the order is done it stays done, even if a
	// trailing update carries a non-terminal state.
	done bool

	// Signals, each closed exactly once when the condition first holds.
	// Never reset while the order is live; an order is single-use.
	exchangeIDReady   chan struct{}
	exchangeIDClosed  bool
	fullyFilled       chan struct{}
	fullyFilledClosed bool
}

// New creates an order in PENDING_CREATE.
func New(clientOrderID, tradingPair string, side Side, kind Kind, price, amount decimal.Decimal, createdAt time.Time) *Order {
	return newOrder(clientOrderID, tradingPair, side, kind, price, amount, createdAt, StatePendingCreate)
}

// NewTokenApproval creates a token-approval order in PENDING_APPROVAL.
// The trading pair carries the token symbol.
func NewTokenApproval(clientOrderID, token string, createdAt time.Time) *Order {
	return newOrder(clientOrderID, token, SideBuy, KindApproval, decimal.Zero, decimal.Zero, createdAt, StatePendingApproval)
}

func newOrder(clientOrderID, tradingPair string, side Side, kind Kind, price, amount decimal.Decimal, createdAt time.Time, initial State) *Order {
	return &Order{
		clientOrderID:   clientOrderID,
		tradingPair:     tradingPair,
		side:            side,
		kind:            kind,
		price:           price,
		amount:          amount,
		createdAt:       createdAt,
		state:           initial,
		fills:           make(map[string]TradeUpdate),
		exchangeIDReady: make(chan struct{}),
		fullyFilled:     make(chan struct{}),
	}
}

// UpdateResult describes the transition produced by ApplyOrderUpdate.
type UpdateResult struct {
	Updated   bool
	PrevState State
	NewState  State
	WasOpen   bool
	IsDone    bool
}

// ApplyOrderUpdate reconciles a status update into the order. The update
// is rejected (no mutation, Updated false) when neither identity matches.
// A newly supplied exchange order id is assigned and waiters are signaled.
// On-chain creation fields are frozen once the order has entered
// PENDING_CANCEL or CANCELED so stale creation data cannot clobber
// cancellation data. The last-update timestamp moves only when an
// observable field changed.
func (o *Order) ApplyOrderUpdate(u OrderUpdate) UpdateResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	// WasOpen is state-based only: a fully filled order latches done but
	// stays in an open state until the terminal update lands, and that
	// update is exactly the transition completion hangs on.
	res := UpdateResult{
		PrevState: o.state,
		NewState:  o.state,
		WasOpen:   isOpenState(o.state),
	}
	if !o.matchesLocked(u.ClientOrderID, u.ExchangeOrderID) {
		res.IsDone = o.isDoneLocked()
		return res
	}

	frozen := o.state == StatePendingCancel || o.state == StateCanceled
	changed := false

	if u.ExchangeOrderID != "" && o.exchangeOrderID == "" {
		o.exchangeOrderID = u.ExchangeOrderID
		o.signalExchangeIDLocked()
		changed = true
	}
	if u.NewState != "" && u.NewState != o.state {
		o.state = u.NewState
		changed = true
	}
	if u.OnChain != nil && o.applyOnChainLocked(u.OnChain, frozen) {
		changed = true
	}
	if o.state.IsTerminal() {
		o.done = true
	}
	if changed {
		if !u.UpdateTimestamp.IsZero() {
			o.updatedAt = u.UpdateTimestamp
		} else {
			o.updatedAt = time.Now()
		}
	}

	res.Updated = changed
	res.NewState = o.state
	res.IsDone = o.isDoneLocked()
	return res
}

func (o *Order) applyOnChainLocked(d *OnChainData, frozen bool) bool {
	changed := false
	if !frozen {
		if d.TxHash != "" && d.TxHash != o.creationTxHash {
			o.creationTxHash = d.TxHash
			changed = true
		}
		if d.FeePerUnit != 0 && d.FeePerUnit != o.feePerUnit {
			o.feePerUnit = d.FeePerUnit
			changed = true
		}
		if d.Nonce != nil && (o.nonce == nil || *o.nonce != *d.Nonce) {
			n := *d.Nonce
			o.nonce = &n
			changed = true
		}
	}
	if d.CancelTxHash != "" && d.CancelTxHash != o.cancelTxHash {
		o.cancelTxHash = d.CancelTxHash
		changed = true
	}
	if d.FeeAsset != "" && d.FeeAsset != o.networkFeeAsset {
		o.networkFeeAsset = d.FeeAsset
		changed = true
	}
	if !d.FeeAmount.IsZero() && !d.FeeAmount.Equal(o.networkFee) {
		o.networkFee = d.FeeAmount
		changed = true
	}
	if d.ErrorMessage != "" && d.ErrorMessage != o.errorMessage {
		o.errorMessage = d.ErrorMessage
		changed = true
	}
	return changed
}

// ApplyTradeUpdate records a fill. Returns false (no mutation) when the
// trade id was already recorded or neither identity matches. Recording a
// fill increments the cumulative executed amounts and, once the remaining
// amount drops within the fill epsilon, signals the fully-filled waiters.
func (o *Order) ApplyTradeUpdate(t TradeUpdate) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.matchesLocked(t.ClientOrderID, t.ExchangeOrderID) {
		return false
	}
	if _, seen := o.fills[t.TradeID]; seen {
		return false
	}

	o.fills[t.TradeID] = t
	o.fillOrder = append(o.fillOrder, t.TradeID)
	o.executedBase = o.executedBase.Add(t.FillBaseAmount)
	o.executedQuote = o.executedQuote.Add(t.FillQuoteAmount)
	if t.Fee.Asset != "" {
		o.feeAsset = t.Fee.Asset
	}
	o.cumulativeFee = o.cumulativeFee.Add(t.Fee.Amount)
	o.lastFillPrice = t.FillPrice
	o.lastFillAmount = t.FillBaseAmount
	if !t.FillTimestamp.IsZero() {
		o.updatedAt = t.FillTimestamp
	} else {
		o.updatedAt = time.Now()
	}

	if o.isFullyFilledLocked() {
		o.done = true
		o.signalFullyFilledLocked()
	}
	return true
}

func (o *Order) matchesLocked(clientOrderID, exchangeOrderID string) bool {
	if clientOrderID != "" && clientOrderID == o.clientOrderID {
		return true
	}
	if exchangeOrderID != "" && o.exchangeOrderID != "" && exchangeOrderID == o.exchangeOrderID {
		return true
	}
	return false
}

func (o *Order) signalExchangeIDLocked() {
	if !o.exchangeIDClosed {
		o.exchangeIDClosed = true
		close(o.exchangeIDReady)
	}
}

func (o *Order) signalFullyFilledLocked() {
	if !o.fullyFilledClosed {
		o.fullyFilledClosed = true
		close(o.fullyFilled)
	}
}

func (o *Order) isFullyFilledLocked() bool {
	if o.amount.IsZero() {
		return false
	}
	return o.amount.Sub(o.executedBase).LessThanOrEqual(fillEpsilon)
}

func (o *Order) isDoneLocked() bool {
	return o.done || o.state.IsTerminal() || o.isFullyFilledLocked()
}

// ClientOrderID is the caller-assigned identity, stable for the order's
// lifetime.
func (o *Order) ClientOrderID() string { return o.clientOrderID }

// TradingPair returns the order's trading pair.
func (o *Order) TradingPair() string { return o.tradingPair }

// Side returns the order side.
func (o *Order) Side() Side { return o.side }

// Kind returns the order kind.
func (o *Order) Kind() Kind { return o.kind }

// Price returns the requested price.
func (o *Order) Price() decimal.Decimal { return o.price }

// Amount returns the requested base amount.
func (o *Order) Amount() decimal.Decimal { return o.amount }

// CreatedAt returns the creation timestamp.
func (o *Order) CreatedAt() time.Time { return o.createdAt }

// CurrentState returns the current lifecycle state.
func (o *Order) CurrentState() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// ExchangeOrderID returns the venue-assigned identity, if known.
func (o *Order) ExchangeOrderID() (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.exchangeOrderID, o.exchangeOrderID != ""
}

// WaitForExchangeOrderID blocks until the exchange order id is known or
// ctx is done.
func (o *Order) WaitForExchangeOrderID(ctx context.Context) (string, error) {
	select {
	case <-o.exchangeIDReady:
		id, _ := o.ExchangeOrderID()
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// FullyFilled returns a channel closed once executed amount reaches the
// order amount within the fill epsilon.
func (o *Order) FullyFilled() <-chan struct{} { return o.fullyFilled }

// WaitFullyFilled blocks until the order is completely filled or ctx is
// done.
func (o *Order) WaitFullyFilled(ctx context.Context) error {
	select {
	case <-o.fullyFilled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecutedAmountBase returns the cumulative filled base amount.
func (o *Order) ExecutedAmountBase() decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.executedBase
}

// ExecutedAmountQuote returns the cumulative filled quote amount.
func (o *Order) ExecutedAmountQuote() decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.executedQuote
}

// LastUpdateAt returns the timestamp of the last applied change.
func (o *Order) LastUpdateAt() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.updatedAt
}

// CreationTxHash returns the transaction hash of the on-chain creation,
// if any.
func (o *Order) CreationTxHash() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.creationTxHash
}

// CancelTxHash returns the transaction hash of the on-chain cancellation,
// if any.
func (o *Order) CancelTxHash() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cancelTxHash
}

// ErrorMessage returns the error message of the last failure update.
func (o *Order) ErrorMessage() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.errorMessage
}

// Fills returns the recorded fills in arrival order.
func (o *Order) Fills() []TradeUpdate {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]TradeUpdate, 0, len(o.fillOrder))
	for _, id := range o.fillOrder {
		out = append(out, o.fills[id])
	}
	return out
}

// AverageExecutedPrice returns the volume-weighted fill price. The second
// return is false when no fills were recorded.
func (o *Order) AverageExecutedPrice() (decimal.Decimal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.fillOrder) == 0 {
		return decimal.Zero, false
	}
	notional := decimal.Zero
	volume := decimal.Zero
	for _, id := range o.fillOrder {
		f := o.fills[id]
		notional = notional.Add(f.FillPrice.Mul(f.FillBaseAmount))
		volume = volume.Add(f.FillBaseAmount)
	}
	if volume.IsZero() {
		return decimal.Zero, false
	}
	return notional.Div(volume), true
}

// IsFullyFilled reports whether executed base amount reached the order
// amount within the fill epsilon.
func (o *Order) IsFullyFilled() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isFullyFilledLocked()
}

// IsOpen reports whether the order can still receive fills or state
// changes.
func (o *Order) IsOpen() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return isOpenState(o.state) && !o.done
}

// IsDone reports whether the order reached a terminal state or is fully
// filled. Once true it never becomes false again.
func (o *Order) IsDone() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isDoneLocked()
}

// IsFilled reports whether the order completed by filling.
func (o *Order) IsFilled() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state == StateFilled || o.isFullyFilledLocked()
}

// IsFailure reports whether the order failed.
func (o *Order) IsFailure() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state == StateFailed
}

// IsCancelled reports whether the order was cancelled.
func (o *Order) IsCancelled() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state == StateCanceled
}

// IsPendingCancelConfirmation reports whether a cancellation was requested
// but not yet confirmed.
func (o *Order) IsPendingCancelConfirmation() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state == StatePendingCancel
}
