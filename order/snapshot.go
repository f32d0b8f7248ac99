package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the serialized form of an Order, sufficient to restore
// tracking state across restarts and to hand read-only copies to event
// subscribers.
type Snapshot struct {
	ClientOrderID   string          `json:"client_order_id"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty"`
	TradingPair     string          `json:"trading_pair"`
	Side            Side            `json:"side"`
	Kind            Kind            `json:"kind"`
	Price           decimal.Decimal `json:"price"`
	Amount          decimal.Decimal `json:"amount"`
	ExecutedBase    decimal.Decimal `json:"executed_amount_base"`
	ExecutedQuote   decimal.Decimal `json:"executed_amount_quote"`
	FeeAsset        string          `json:"fee_asset,omitempty"`
	CumulativeFee   decimal.Decimal `json:"cumulative_fee_paid"`
	State           State           `json:"state"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at,omitempty"`
	CreationTxHash  string          `json:"creation_tx_hash,omitempty"`
	CancelTxHash    string          `json:"cancel_tx_hash,omitempty"`
	FeePerUnit      int64           `json:"fee_per_unit,omitempty"`
	Nonce           *uint64         `json:"nonce,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Fills           []TradeUpdate   `json:"fills,omitempty"`
}

// Snapshot returns a consistent copy of the order's observable state.
func (o *Order) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var nonce *uint64
	if o.nonce != nil {
		n := *o.nonce
		nonce = &n
	}
	fills := make([]TradeUpdate, 0, len(o.fillOrder))
	for _, id := range o.fillOrder {
		fills = append(fills, o.fills[id])
	}
	return Snapshot{
		ClientOrderID:   o.clientOrderID,
		ExchangeOrderID: o.exchangeOrderID,
		TradingPair:     o.tradingPair,
		Side:            o.side,
		Kind:            o.kind,
		Price:           o.price,
		Amount:          o.amount,
		ExecutedBase:    o.executedBase,
		ExecutedQuote:   o.executedQuote,
		FeeAsset:        o.feeAsset,
		CumulativeFee:   o.cumulativeFee,
		State:           o.state,
		CreatedAt:       o.createdAt,
		UpdatedAt:       o.updatedAt,
		CreationTxHash:  o.creationTxHash,
		CancelTxHash:    o.cancelTxHash,
		FeePerUnit:      o.feePerUnit,
		Nonce:           nonce,
		ErrorMessage:    o.errorMessage,
		Fills:           fills,
	}
}

// FromSnapshot reconstructs an Order. Signals whose condition already
// holds in the snapshot are set immediately; this is the only point where
// signals are (re)initialized.
func FromSnapshot(s Snapshot) *Order {
	o := newOrder(s.ClientOrderID, s.TradingPair, s.Side, s.Kind, s.Price, s.Amount, s.CreatedAt, s.State)
	o.exchangeOrderID = s.ExchangeOrderID
	o.executedBase = s.ExecutedBase
	o.executedQuote = s.ExecutedQuote
	o.feeAsset = s.FeeAsset
	o.cumulativeFee = s.CumulativeFee
	o.updatedAt = s.UpdatedAt
	o.creationTxHash = s.CreationTxHash
	o.cancelTxHash = s.CancelTxHash
	o.feePerUnit = s.FeePerUnit
	if s.Nonce != nil {
		n := *s.Nonce
		o.nonce = &n
	}
	o.errorMessage = s.ErrorMessage
	for _, f := range s.Fills {
		o.fills[f.TradeID] = f
		o.fillOrder = append(o.fillOrder, f.TradeID)
	}
	if o.exchangeOrderID != "" {
		o.signalExchangeIDLocked()
	}
	if o.isFullyFilledLocked() {
		o.signalFullyFilledLocked()
	}
	if o.state.IsTerminal() || o.isFullyFilledLocked() {
		o.done = true
	}
	return o
}
