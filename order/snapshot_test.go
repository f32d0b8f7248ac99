package order

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSnapshotRoundTripPreservesState(t *testing.T) {
	o := newTestOrder("ord-1")
	o.ApplyOrderUpdate(OrderUpdate{
		ClientOrderID:   "ord-1",
		ExchangeOrderID: "ex-1",
		NewState:        StatePartiallyFilled,
		OnChain:         &OnChainData{TxHash: "0xabc", FeePerUnit: 750},
	})
	o.ApplyTradeUpdate(TradeUpdate{
		TradeID: "t-1", ClientOrderID: "ord-1",
		FillPrice: decimal.NewFromInt(150), FillBaseAmount: decimal.NewFromInt(1),
		FillQuoteAmount: decimal.NewFromInt(150),
		Fee:             TradeFee{Asset: "SOL", Amount: decimal.NewFromFloat(0.0005)},
	})

	data, err := json.Marshal(o.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	restored := FromSnapshot(snap)

	if restored.ClientOrderID() != "ord-1" || restored.CurrentState() != StatePartiallyFilled {
		t.Fatalf("restored identity/state wrong: %s %s", restored.ClientOrderID(), restored.CurrentState())
	}
	id, ok := restored.ExchangeOrderID()
	if !ok || id != "ex-1" {
		t.Fatalf("exchange id = %q", id)
	}
	if !restored.ExecutedAmountBase().Equal(decimal.NewFromInt(1)) {
		t.Fatalf("executed = %s", restored.ExecutedAmountBase())
	}
	if restored.CreationTxHash() != "0xabc" {
		t.Fatalf("tx hash = %s", restored.CreationTxHash())
	}
	if len(restored.Fills()) != 1 {
		t.Fatalf("fills = %d", len(restored.Fills()))
	}
	// Duplicate fill detection survives the round trip.
	if restored.ApplyTradeUpdate(TradeUpdate{TradeID: "t-1", ClientOrderID: "ord-1"}) {
		t.Fatal("restored order accepted a duplicate trade id")
	}
}

func TestFromSnapshotSignalsAlreadySatisfiedConditions(t *testing.T) {
	o := newTestOrder("ord-1")
	o.ApplyOrderUpdate(OrderUpdate{ClientOrderID: "ord-1", ExchangeOrderID: "ex-1", NewState: StateOpen})
	o.ApplyTradeUpdate(TradeUpdate{
		TradeID: "t-1", ClientOrderID: "ord-1", FillBaseAmount: decimal.NewFromInt(2),
	})

	restored := FromSnapshot(o.Snapshot())
	select {
	case <-restored.FullyFilled():
	default:
		t.Fatal("fully-filled not signaled on restore")
	}
	if !restored.IsDone() {
		t.Fatal("restored fully-filled order not done")
	}
}

func TestFromSnapshotTerminalStateSetsDoneLatch(t *testing.T) {
	o := newTestOrder("ord-1")
	o.ApplyOrderUpdate(OrderUpdate{ClientOrderID: "ord-1", NewState: StateCanceled})
	restored := FromSnapshot(o.Snapshot())
	if !restored.IsDone() || restored.IsOpen() {
		t.Fatal("restored canceled order not latched done")
	}
	// Trailing updates after restore cannot reopen it.
	restored.ApplyOrderUpdate(OrderUpdate{ClientOrderID: "ord-1", NewState: StateOpen})
	if restored.IsOpen() {
		t.Fatal("restored order reopened")
	}
}

func TestSnapshotTimestampsSurviveJSON(t *testing.T) {
	created := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	o := New("ord-1", "ETH-USDC", SideSell, KindSwap,
		decimal.NewFromInt(3000), decimal.NewFromInt(1), created)
	data, err := json.Marshal(o.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	if !snap.CreatedAt.Equal(created) {
		t.Fatalf("created at = %s", snap.CreatedAt)
	}
	if snap.Kind != KindSwap || snap.Side != SideSell {
		t.Fatalf("kind/side = %s/%s", snap.Kind, snap.Side)
	}
}
