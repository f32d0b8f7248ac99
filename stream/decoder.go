package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trading-connector-go/order"
)

// eventFrame is the envelope the gateway relay pushes on its event stream.
type eventFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type orderFrame struct {
	ClientOrderID   string `json:"clientOrderId"`
	ExchangeOrderID string `json:"exchangeOrderId"`
	TradingPair     string `json:"tradingPair"`
	Timestamp       int64  `json:"timestamp"`
	State           string `json:"state"`
	TxHash          string `json:"txHash"`
	ErrorMessage    string `json:"errorMessage"`
}

type tradeFrame struct {
	TradeID         string `json:"tradeId"`
	ClientOrderID   string `json:"clientOrderId"`
	ExchangeOrderID string `json:"exchangeOrderId"`
	TradingPair     string `json:"tradingPair"`
	Timestamp       int64  `json:"timestamp"`
	Price           string `json:"price"`
	BaseAmount      string `json:"baseAmount"`
	QuoteAmount     string `json:"quoteAmount"`
	FeeAsset        string `json:"feeAsset"`
	FeeAmount       string `json:"feeAmount"`
	IsTaker         bool   `json:"isTaker"`
}

// JSONDecoder decodes the relay's JSON event frames. Frames other than
// order and trade events are skipped.
type JSONDecoder struct{}

func (JSONDecoder) Decode(raw []byte) ([]order.OrderUpdate, []order.TradeUpdate, error) {
	var frame eventFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, nil, fmt.Errorf("decode frame: %w", err)
	}
	switch frame.Type {
	case "order":
		var of orderFrame
		if err := json.Unmarshal(frame.Data, &of); err != nil {
			return nil, nil, fmt.Errorf("decode order frame: %w", err)
		}
		u := order.OrderUpdate{
			ClientOrderID:   of.ClientOrderID,
			ExchangeOrderID: of.ExchangeOrderID,
			TradingPair:     of.TradingPair,
			UpdateTimestamp: time.UnixMilli(of.Timestamp),
			NewState:        order.State(strings.ToUpper(of.State)),
		}
		if of.TxHash != "" || of.ErrorMessage != "" {
			u.OnChain = &order.OnChainData{
				TxHash:       of.TxHash,
				ErrorMessage: of.ErrorMessage,
			}
		}
		return []order.OrderUpdate{u}, nil, nil
	case "trade":
		var tf tradeFrame
		if err := json.Unmarshal(frame.Data, &tf); err != nil {
			return nil, nil, fmt.Errorf("decode trade frame: %w", err)
		}
		t := order.TradeUpdate{
			TradeID:         tf.TradeID,
			ClientOrderID:   tf.ClientOrderID,
			ExchangeOrderID: tf.ExchangeOrderID,
			TradingPair:     tf.TradingPair,
			FillTimestamp:   time.UnixMilli(tf.Timestamp),
			FillPrice:       parseDecimal(tf.Price),
			FillBaseAmount:  parseDecimal(tf.BaseAmount),
			FillQuoteAmount: parseDecimal(tf.QuoteAmount),
			Fee: order.TradeFee{
				Asset:  tf.FeeAsset,
				Amount: parseDecimal(tf.FeeAmount),
			},
			IsTaker: tf.IsTaker,
		}
		return nil, []order.TradeUpdate{t}, nil
	default:
		return nil, nil, ErrSkipFrame
	}
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
