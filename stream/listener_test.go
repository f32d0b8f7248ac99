package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"trading-connector-go/order"
)

type sinkRecorder struct {
	mu     sync.Mutex
	orders []order.OrderUpdate
	trades []order.TradeUpdate
}

func (s *sinkRecorder) ProcessOrderUpdate(ctx context.Context, u order.OrderUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, u)
}

func (s *sinkRecorder) ProcessTradeUpdate(ctx context.Context, t order.TradeUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
}

func (s *sinkRecorder) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders), len(s.trades)
}

func TestJSONDecoderOrderFrame(t *testing.T) {
	raw := []byte(`{"type":"order","data":{
		"clientOrderId":"ord-1","exchangeOrderId":"ex-1","tradingPair":"SOL-USDC",
		"timestamp":1717000000000,"state":"open","txHash":"0xabc"}}`)
	orders, trades, err := JSONDecoder{}.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || len(trades) != 0 {
		t.Fatalf("orders=%d trades=%d", len(orders), len(trades))
	}
	u := orders[0]
	if u.ClientOrderID != "ord-1" || u.NewState != order.StateOpen {
		t.Fatalf("update = %+v", u)
	}
	if u.OnChain == nil || u.OnChain.TxHash != "0xabc" {
		t.Fatalf("on-chain data = %+v", u.OnChain)
	}
	if u.UpdateTimestamp.UnixMilli() != 1717000000000 {
		t.Fatalf("timestamp = %s", u.UpdateTimestamp)
	}
}

func TestJSONDecoderTradeFrame(t *testing.T) {
	raw := []byte(`{"type":"trade","data":{
		"tradeId":"t-1","clientOrderId":"ord-1","tradingPair":"SOL-USDC",
		"timestamp":1717000000000,"price":"150.5","baseAmount":"2",
		"quoteAmount":"301","feeAsset":"USDC","feeAmount":"0.3","isTaker":true}}`)
	orders, trades, err := JSONDecoder{}.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 0 || len(trades) != 1 {
		t.Fatalf("orders=%d trades=%d", len(orders), len(trades))
	}
	tr := trades[0]
	if tr.TradeID != "t-1" || !tr.FillPrice.Equal(decimal.RequireFromString("150.5")) {
		t.Fatalf("trade = %+v", tr)
	}
	if tr.Fee.Asset != "USDC" || !tr.Fee.Amount.Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("fee = %+v", tr.Fee)
	}
	if !tr.IsTaker {
		t.Fatal("taker flag lost")
	}
}

func TestJSONDecoderSkipsUnknownFrames(t *testing.T) {
	_, _, err := JSONDecoder{}.Decode([]byte(`{"type":"heartbeat","data":{}}`))
	if !errors.Is(err, ErrSkipFrame) {
		t.Fatalf("err = %v", err)
	}
}

func TestJSONDecoderRejectsGarbage(t *testing.T) {
	_, _, err := JSONDecoder{}.Decode([]byte(`not json`))
	if err == nil || errors.Is(err, ErrSkipFrame) {
		t.Fatalf("err = %v", err)
	}
}

func TestListenerDeliversFramesToSink(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := []string{
		`{"type":"heartbeat","data":{}}`,
		`{"type":"order","data":{"clientOrderId":"ord-1","state":"open"}}`,
		`{"type":"trade","data":{"tradeId":"t-1","clientOrderId":"ord-1","price":"150","baseAmount":"1"}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	sink := &sinkRecorder{}
	l := NewListener(Config{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		MaxRetries:   1,
		RetryBackoff: 10 * time.Millisecond,
	}, JSONDecoder{}, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		o, tr := sink.counts()
		if o == 1 && tr == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sink got orders=%d trades=%d", o, tr)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	l.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenerGivesUpAfterMaxRetries(t *testing.T) {
	fatal := make(chan error, 1)
	l := NewListener(Config{
		URL:          "ws://127.0.0.1:1", // nothing listens here
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, JSONDecoder{}, &sinkRecorder{}, nil)
	l.SetFatalErrorHandler(func(err error) { fatal <- err })

	err := l.Run(context.Background())
	if err == nil {
		t.Fatal("Run returned nil for unreachable endpoint")
	}
	select {
	case ferr := <-fatal:
		if !strings.Contains(ferr.Error(), "after 2 retries") {
			t.Fatalf("fatal err = %v", ferr)
		}
	default:
		t.Fatal("fatal handler not invoked")
	}
}

func TestListenerStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewListener(Config{URL: "ws://127.0.0.1:1"}, JSONDecoder{}, &sinkRecorder{}, nil)
	if err := l.Run(ctx); err != nil {
		t.Fatalf("cancelled Run returned %v", err)
	}
}
