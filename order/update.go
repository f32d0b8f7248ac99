package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// OnChainData carries the blockchain-specific payload of an order update.
// It replaces an open key/value bag with an explicit field set; zero values
// mean "not supplied" (Nonce uses a pointer because zero is a valid nonce).
type OnChainData struct {
	TxHash       string          `json:"tx_hash,omitempty"`
	CancelTxHash string          `json:"cancel_tx_hash,omitempty"`
	FeePerUnit   int64           `json:"fee_per_unit,omitempty"`
	Nonce        *uint64         `json:"nonce,omitempty"`
	FeeAsset     string          `json:"fee_asset,omitempty"`
	FeeAmount    decimal.Decimal `json:"fee_amount,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// OrderUpdate is an immutable status notification for a single order.
// At least one of ClientOrderID/ExchangeOrderID must be set.
type OrderUpdate struct {
	ClientOrderID   string
	ExchangeOrderID string
	TradingPair     string
	UpdateTimestamp time.Time
	NewState        State
	OnChain         *OnChainData
}

// HasIdentity reports whether the update names at least one order id.
func (u OrderUpdate) HasIdentity() bool {
	return u.ClientOrderID != "" || u.ExchangeOrderID != ""
}

// TradeFee describes the fee charged on a single fill.
type TradeFee struct {
	Asset  string          `json:"asset,omitempty"`
	Amount decimal.Decimal `json:"amount"`
}

// TradeUpdate is an immutable fill notification. TradeID is the dedup key:
// a fill with a previously seen TradeID is a no-op.
type TradeUpdate struct {
	TradeID         string          `json:"trade_id"`
	ClientOrderID   string          `json:"client_order_id"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty"`
	TradingPair     string          `json:"trading_pair"`
	FillTimestamp   time.Time       `json:"fill_timestamp"`
	FillPrice       decimal.Decimal `json:"fill_price"`
	FillBaseAmount  decimal.Decimal `json:"fill_base_amount"`
	FillQuoteAmount decimal.Decimal `json:"fill_quote_amount"`
	Fee             TradeFee        `json:"fee"`
	IsTaker         bool            `json:"is_taker"`
}

// HasIdentity reports whether the trade names at least one order id.
func (t TradeUpdate) HasIdentity() bool {
	return t.ClientOrderID != "" || t.ExchangeOrderID != ""
}
