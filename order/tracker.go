package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-connector-go/infrastructure/logger"
	"trading-connector-go/metrics"
)

// ErrDuplicateOrder is returned when tracking an already tracked order.
var ErrDuplicateOrder = errors.New("order already tracked")

// TrackerConfig bounds the tracker's caches and wait behavior.
type TrackerConfig struct {
	// CacheTTL is how long untracked (terminal) orders keep absorbing
	// trailing updates.
	CacheTTL time.Duration
	// CacheCapacity bounds the untracked-order cache, FIFO eviction.
	CacheCapacity int
	// NotFoundLimit is how many consecutive not-found reports an active
	// order survives before being marked failed and quarantined.
	NotFoundLimit int
	// FillWaitTimeout bounds the wait for in-flight fills before a FILLED
	// update is honored.
	FillWaitTimeout time.Duration
}

// DefaultTrackerConfig returns the standard bounds.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		CacheTTL:        30 * time.Second,
		CacheCapacity:   1000,
		NotFoundLimit:   3,
		FillWaitTimeout: 5 * time.Second,
	}
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	d := DefaultTrackerConfig()
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = d.CacheCapacity
	}
	if c.NotFoundLimit <= 0 {
		c.NotFoundLimit = d.NotFoundLimit
	}
	if c.FillWaitTimeout <= 0 {
		c.FillWaitTimeout = d.FillWaitTimeout
	}
	return c
}

// Tracker is the single reconciliation point for all order updates,
// regardless of whether they originate from a CEX stream or an on-chain
// transaction monitor. It owns the orders it tracks and guarantees
// at-most-once creation and exactly-once completion events per order.
type Tracker struct {
	cfg    TrackerConfig
	log    *logger.Logger
	met    *metrics.Metrics
	events *Events

	mu       sync.RWMutex
	active   map[string]*Order
	lost     map[string]*Order
	notFound map[string]int
	cached   *expiringCache
}

// NewTracker builds a tracker. log may be nil; met may be nil.
func NewTracker(cfg TrackerConfig, log *logger.Logger, met *metrics.Metrics) *Tracker {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Tracker{
		cfg:      cfg,
		log:      log,
		met:      met,
		events:   NewEvents(),
		active:   make(map[string]*Order),
		lost:     make(map[string]*Order),
		notFound: make(map[string]int),
		cached:   newExpiringCache(cfg.CacheTTL, cfg.CacheCapacity),
	}
}

// Events returns the tracker's event registry for subscriptions.
func (t *Tracker) Events() *Events { return t.events }

// StartTracking inserts an order into the active set.
func (t *Tracker) StartTracking(o *Order) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := o.ClientOrderID()
	if _, ok := t.active[id]; ok {
		return ErrDuplicateOrder
	}
	t.active[id] = o
	delete(t.notFound, id)
	return nil
}

// StopTracking moves an active order into the short-lived cache so late
// duplicate updates still resolve.
func (t *Tracker) StopTracking(clientOrderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.active[clientOrderID]
	if !ok {
		return
	}
	delete(t.active, clientOrderID)
	delete(t.notFound, clientOrderID)
	t.cached.put(clientOrderID, o)
}

// Fetch looks an order up across active, lost and cached sets, matching
// either identity. Returns nil when unknown.
func (t *Tracker) Fetch(clientOrderID, exchangeOrderID string) *Order {
	t.mu.RLock()
	if clientOrderID != "" {
		if o, ok := t.active[clientOrderID]; ok {
			t.mu.RUnlock()
			return o
		}
		if o, ok := t.lost[clientOrderID]; ok {
			t.mu.RUnlock()
			return o
		}
	}
	var scan []*Order
	if exchangeOrderID != "" {
		scan = make([]*Order, 0, len(t.active)+len(t.lost))
		for _, o := range t.active {
			scan = append(scan, o)
		}
		for _, o := range t.lost {
			scan = append(scan, o)
		}
	}
	t.mu.RUnlock()

	if clientOrderID != "" {
		if o, ok := t.cached.get(clientOrderID); ok {
			return o
		}
	}
	if exchangeOrderID != "" {
		for _, o := range scan {
			if id, ok := o.ExchangeOrderID(); ok && id == exchangeOrderID {
				return o
			}
		}
		if o, ok := t.cached.find(func(o *Order) bool {
			id, ok := o.ExchangeOrderID()
			return ok && id == exchangeOrderID
		}); ok {
			return o
		}
	}
	return nil
}

// ActiveOrders returns the currently tracked orders.
func (t *Tracker) ActiveOrders() []*Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Order, 0, len(t.active))
	for _, o := range t.active {
		out = append(out, o)
	}
	return out
}

// ProcessOrderUpdate locates the target order and reconciles the update,
// emitting creation and completion events on the transitions that warrant
// them. Unknown orders are dropped silently apart from a debug log; this
// is an expected race with cache eviction, not an error.
func (t *Tracker) ProcessOrderUpdate(ctx context.Context, u OrderUpdate) {
	if !u.HasIdentity() {
		t.log.Error("order update carries no identifiers",
			zap.String("trading_pair", u.TradingPair),
			zap.String("new_state", string(u.NewState)))
		t.met.DroppedUpdate("malformed")
		return
	}
	o := t.Fetch(u.ClientOrderID, u.ExchangeOrderID)
	if o == nil {
		t.log.Debug("update for untracked order",
			zap.String("client_order_id", u.ClientOrderID),
			zap.String("exchange_order_id", u.ExchangeOrderID))
		t.met.DroppedUpdate("unknown_order")
		return
	}

	if t.isLost(o.ClientOrderID()) {
		t.resolveLostOrder(o, u)
		return
	}

	// Best-effort ordering: fills for this order may still be in flight
	// when the completion notice arrives. Wait a bounded time for them,
	// then proceed regardless.
	if u.NewState == StateFilled && !o.IsFullyFilled() {
		waitCtx, cancel := context.WithTimeout(ctx, t.cfg.FillWaitTimeout)
		err := o.WaitFullyFilled(waitCtx)
		cancel()
		if err != nil {
			t.log.Warn("completion update arrived before all fills",
				zap.String("client_order_id", o.ClientOrderID()),
				zap.String("executed", o.ExecutedAmountBase().String()),
				zap.String("amount", o.Amount().String()))
		}
		// The order may have been evicted while we waited.
		o = t.Fetch(u.ClientOrderID, u.ExchangeOrderID)
		if o == nil {
			t.met.DroppedUpdate("unknown_order")
			return
		}
	}

	res := o.ApplyOrderUpdate(u)
	if !res.Updated {
		return
	}
	ts := u.UpdateTimestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	if res.PrevState == StatePendingCreate &&
		res.NewState != StateCanceled && res.NewState != StateFailed && res.NewState != StatePendingCancel {
		t.met.OrderEvent("created")
		t.events.publish(Event{Kind: EventCreated, Timestamp: ts, Order: o.Snapshot()})
	}

	if res.WasOpen && res.IsDone {
		t.completeOrder(o, ts)
		return
	}

	// Approval orders are never "open"; untrack them on their terminal
	// transition without a completion event.
	if res.PrevState == StatePendingApproval && res.NewState.IsTerminal() {
		t.StopTracking(o.ClientOrderID())
	}
}

// completeOrder untracks a finished order and emits its terminal event.
// The active-set check and removal happen under one lock, so completion
// fires at most once per order no matter how many terminal updates race
// in; cached orders absorbing trailing updates can never re-complete.
func (t *Tracker) completeOrder(o *Order, ts time.Time) {
	id := o.ClientOrderID()
	t.mu.Lock()
	if _, ok := t.active[id]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.active, id)
	delete(t.notFound, id)
	t.cached.put(id, o)
	t.mu.Unlock()

	snap := o.Snapshot()
	var kind EventKind
	switch {
	case o.IsCancelled():
		kind = EventCancelled
		t.met.OrderEvent("cancelled")
	case o.IsFilled():
		kind = EventCompleted
		t.met.OrderEvent("filled")
	default:
		kind = EventFailure
		t.met.OrderEvent("failed")
	}
	t.log.LogOrderEvent(string(kind), o.ClientOrderID(), map[string]interface{}{
		"trading_pair": snap.TradingPair,
		"state":        string(snap.State),
	})
	t.events.publish(Event{Kind: kind, Timestamp: ts, Order: snap})
}

// resolveLostOrder applies an update to a quarantined order. A terminal
// update releases it from quarantine; no events fire, the failure event
// was already emitted when the order was lost.
func (t *Tracker) resolveLostOrder(o *Order, u OrderUpdate) {
	o.ApplyOrderUpdate(u)
	switch u.NewState {
	case StateCanceled, StateFilled, StateFailed:
		t.mu.Lock()
		delete(t.lost, o.ClientOrderID())
		delete(t.notFound, o.ClientOrderID())
		t.mu.Unlock()
		t.log.Debug("lost order resolved by terminal update",
			zap.String("client_order_id", o.ClientOrderID()),
			zap.String("new_state", string(u.NewState)))
	}
}

// ProcessTradeUpdate records a fill against an order in any set; fills
// may legitimately arrive after cancellation was requested or after the
// order left the active set.
func (t *Tracker) ProcessTradeUpdate(ctx context.Context, tu TradeUpdate) {
	if !tu.HasIdentity() {
		t.log.Error("trade update carries no identifiers",
			zap.String("trade_id", tu.TradeID))
		t.met.DroppedUpdate("malformed")
		return
	}
	o := t.Fetch(tu.ClientOrderID, tu.ExchangeOrderID)
	if o == nil {
		t.log.Debug("fill for untracked order",
			zap.String("trade_id", tu.TradeID),
			zap.String("client_order_id", tu.ClientOrderID))
		t.met.DroppedUpdate("unknown_order")
		return
	}
	if !o.ApplyTradeUpdate(tu) {
		return
	}
	ts := tu.FillTimestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	t.met.Fill(tu.TradingPair)
	t.events.publish(Event{Kind: EventFill, Timestamp: ts, Order: o.Snapshot(), Trade: &tu})
}

// ProcessOrderNotFound counts a venue not-found report for an active
// order. Past the configured limit the order is marked FAILED and
// quarantined in the lost set, where it stays resolvable until a genuine
// terminal update arrives. A further not-found report for a lost order
// drops it for good.
func (t *Tracker) ProcessOrderNotFound(ctx context.Context, clientOrderID string) {
	now := time.Now()

	t.mu.Lock()
	if o, ok := t.active[clientOrderID]; ok {
		t.notFound[clientOrderID]++
		count := t.notFound[clientOrderID]
		t.mu.Unlock()

		if count <= t.cfg.NotFoundLimit {
			t.log.Debug("order not found on venue",
				zap.String("client_order_id", clientOrderID),
				zap.Int("count", count))
			return
		}
		if o.IsDone() {
			return
		}
		t.ProcessOrderUpdate(ctx, OrderUpdate{
			ClientOrderID:   clientOrderID,
			TradingPair:     o.TradingPair(),
			UpdateTimestamp: now,
			NewState:        StateFailed,
			OnChain:         &OnChainData{ErrorMessage: "order not found on venue after repeated checks"},
		})
		t.mu.Lock()
		t.lost[clientOrderID] = o
		delete(t.notFound, clientOrderID)
		t.mu.Unlock()
		t.met.LostOrder()
		t.events.publish(Event{Kind: EventLost, Timestamp: now, Order: o.Snapshot()})
		return
	}

	if o, ok := t.lost[clientOrderID]; ok {
		delete(t.lost, clientOrderID)
		t.mu.Unlock()
		o.ApplyOrderUpdate(OrderUpdate{
			ClientOrderID:   clientOrderID,
			UpdateTimestamp: now,
			NewState:        StateFailed,
		})
		t.log.Debug("lost order dropped after repeated not-found",
			zap.String("client_order_id", clientOrderID))
		return
	}
	t.mu.Unlock()

	t.log.Debug("not-found report for untracked order",
		zap.String("client_order_id", clientOrderID))
}

func (t *Tracker) isLost(clientOrderID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.lost[clientOrderID]
	return ok
}

// TrackingStates serializes all active orders for persistence.
func (t *Tracker) TrackingStates() map[string]Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Snapshot, len(t.active))
	for id, o := range t.active {
		out[id] = o.Snapshot()
	}
	return out
}

// RestoreTrackingStates rebuilds the active set from persisted snapshots.
// Only orders still open at serialization time are restored; terminal
// orders are dropped.
func (t *Tracker) RestoreTrackingStates(states map[string]Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range states {
		o := FromSnapshot(s)
		if !o.IsOpen() {
			continue
		}
		if _, ok := t.active[id]; ok {
			continue
		}
		t.active[id] = o
	}
}
