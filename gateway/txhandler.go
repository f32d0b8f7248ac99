package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-connector-go/infrastructure/logger"
	"trading-connector-go/metrics"
	"trading-connector-go/order"
)

// ErrNoComputeUnits is returned when neither an override, a cached value,
// nor a chain default yields a compute unit budget.
var ErrNoComputeUnits = errors.New("no compute unit budget available")

// ChainConfig holds the per-chain fee and retry policy. Total fees are
// denominated in the chain's native currency.
type ChainConfig struct {
	DefaultComputeUnits uint64
	FeeEstimateInterval time.Duration
	MinTotalFee         float64
	MaxTotalFee         float64
	RetryCount          int
	RetryInterval       time.Duration
	RetryFeeMultiplier  float64
}

// DefaultChainConfig returns the conservative baseline policy applied to
// chains without explicit configuration.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		DefaultComputeUnits: 200_000,
		FeeEstimateInterval: 60 * time.Second,
		MinTotalFee:         0.0001,
		MaxTotalFee:         0.01,
		RetryCount:          3,
		RetryInterval:       2 * time.Second,
		RetryFeeMultiplier:  2.0,
	}
}

func (c ChainConfig) withDefaults() ChainConfig {
	d := DefaultChainConfig()
	if c.DefaultComputeUnits == 0 {
		c.DefaultComputeUnits = d.DefaultComputeUnits
	}
	if c.FeeEstimateInterval <= 0 {
		c.FeeEstimateInterval = d.FeeEstimateInterval
	}
	if c.MinTotalFee <= 0 {
		c.MinTotalFee = d.MinTotalFee
	}
	if c.MaxTotalFee <= 0 {
		c.MaxTotalFee = d.MaxTotalFee
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.RetryFeeMultiplier <= 0 {
		c.RetryFeeMultiplier = d.RetryFeeMultiplier
	}
	return c
}

// UpdateSink receives the order and trade updates produced by transaction
// execution. The tracker satisfies this interface.
type UpdateSink interface {
	ProcessOrderUpdate(ctx context.Context, u order.OrderUpdate)
	ProcessTradeUpdate(ctx context.Context, t order.TradeUpdate)
}

// ExecuteRequest describes one transaction to execute on behalf of an
// order. ComputeUnits overrides the cached and default budgets when set.
type ExecuteRequest struct {
	ClientOrderID string
	TradingPair   string
	Side          order.Side
	Price         decimal.Decimal
	Amount        decimal.Decimal

	Chain        string
	Network      string
	Connector    string
	Method       string
	Params       map[string]interface{}
	ComputeUnits uint64
}

// TxHandler executes gateway transactions with bounded priority fees and
// fee-escalating retries. Execute returns immediately; the outcome arrives
// asynchronously through the update sink.
type TxHandler struct {
	client  Client
	monitor *Monitor
	sink    UpdateSink
	log     *logger.Logger
	met     *metrics.Metrics

	mu           sync.RWMutex
	chains       map[string]ChainConfig
	feeEstimates map[string]FeeEstimate
	computeUnits map[string]uint64

	wg sync.WaitGroup
}

// NewTxHandler builds a handler. chains maps chain name to policy; chains
// without an entry use DefaultChainConfig. log may be nil; met may be nil.
func NewTxHandler(client Client, monitor *Monitor, sink UpdateSink, chains map[string]ChainConfig, log *logger.Logger, met *metrics.Metrics) *TxHandler {
	if log == nil {
		log = logger.Nop()
	}
	h := &TxHandler{
		client:       client,
		monitor:      monitor,
		sink:         sink,
		log:          log,
		met:          met,
		chains:       make(map[string]ChainConfig, len(chains)),
		feeEstimates: make(map[string]FeeEstimate),
		computeUnits: make(map[string]uint64),
	}
	for name, cfg := range chains {
		h.chains[name] = cfg.withDefaults()
	}
	return h
}

// SetChainConfig replaces the policy for one chain. Used by config hot
// reload; in-flight executions keep the policy they started with.
func (h *TxHandler) SetChainConfig(chain string, cfg ChainConfig) {
	h.mu.Lock()
	h.chains[chain] = cfg.withDefaults()
	h.mu.Unlock()
}

func (h *TxHandler) chainConfig(chain string) ChainConfig {
	h.mu.RLock()
	cfg, ok := h.chains[chain]
	h.mu.RUnlock()
	if !ok {
		return DefaultChainConfig()
	}
	return cfg
}

func computeUnitKey(method, connector, network string) string {
	return method + ":" + connector + ":" + network
}

// CacheComputeUnits records the observed compute unit consumption for a
// method so later executions size their budget from real usage.
func (h *TxHandler) CacheComputeUnits(method, connector, network string, units uint64) {
	if units == 0 {
		return
	}
	h.mu.Lock()
	h.computeUnits[computeUnitKey(method, connector, network)] = units
	h.mu.Unlock()
}

// CachedComputeUnits returns the recorded compute unit consumption for a
// method, if any.
func (h *TxHandler) CachedComputeUnits(method, connector, network string) (uint64, bool) {
	h.mu.RLock()
	units, ok := h.computeUnits[computeUnitKey(method, connector, network)]
	h.mu.RUnlock()
	return units, ok
}

// Execute resolves the compute unit budget and initial fee, then launches
// the retry loop in a detached goroutine. The empty return hash signals
// that the real hash arrives through the sink once a submission lands.
func (h *TxHandler) Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	cfg := h.chainConfig(req.Chain)

	units := req.ComputeUnits
	if units == 0 {
		if cached, ok := h.CachedComputeUnits(req.Method, req.Connector, req.Network); ok {
			units = cached
		} else {
			units = cfg.DefaultComputeUnits
		}
	}
	if units == 0 {
		return "", fmt.Errorf("%w for %s on %s:%s", ErrNoComputeUnits, req.Method, req.Connector, req.Network)
	}

	estimate := h.estimatePriorityFee(ctx, req.Chain, req.Network, cfg)
	minFee, maxFee := feeBoundsPerUnit(req.Chain, cfg, units)
	fee := clampFee(estimate, minFee, maxFee)

	h.wg.Add(1)
	go h.executeWithRetry(ctx, req, cfg, units, fee, maxFee)
	return "", nil
}

// Wait blocks until all in-flight executions finish. Used on shutdown.
func (h *TxHandler) Wait() {
	h.wg.Wait()
}

// estimatePriorityFee returns the cached per-compute-unit estimate for the
// chain and network, refreshing it once the estimate interval elapses. An
// estimation failure degrades to zero: the bounds clamp it to the floor
// rather than blocking the order.
func (h *TxHandler) estimatePriorityFee(ctx context.Context, chain, network string, cfg ChainConfig) int64 {
	key := chain + ":" + network
	h.mu.RLock()
	cached, ok := h.feeEstimates[key]
	h.mu.RUnlock()
	if ok && time.Since(cached.Timestamp) < cfg.FeeEstimateInterval {
		h.met.FeeCacheLookup("hit")
		return cached.FeePerComputeUnit
	}
	h.met.FeeCacheLookup("miss")

	est, err := h.client.EstimateFee(ctx, chain, network)
	if err != nil {
		h.log.Warn("fee estimation failed",
			zap.String("chain", chain),
			zap.String("network", network),
			zap.Error(err))
		return 0
	}
	if est.Timestamp.IsZero() {
		est.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.feeEstimates[key] = est
	h.mu.Unlock()
	return est.FeePerComputeUnit
}

// feeBoundsPerUnit converts the configured total fee bounds, denominated
// in native currency, into per-compute-unit bounds. Solana prices fees in
// microlamports per compute unit; other chains use the total converted to
// gwei.
func feeBoundsPerUnit(chain string, cfg ChainConfig, units uint64) (int64, int64) {
	if chain == "solana" {
		min := int64(cfg.MinTotalFee * 1e9 * 1e6 / float64(units))
		max := int64(cfg.MaxTotalFee * 1e9 * 1e6 / float64(units))
		return min, max
	}
	return int64(cfg.MinTotalFee * 1e9), int64(cfg.MaxTotalFee * 1e9)
}

func clampFee(fee, min, max int64) int64 {
	if fee < min {
		return min
	}
	if fee > max {
		return max
	}
	return fee
}

func escalateFee(fee int64, multiplier float64, max int64) int64 {
	next := int64(float64(fee) * multiplier)
	if next <= fee {
		next = fee + 1
	}
	if next > max {
		return max
	}
	return next
}

// executeWithRetry submits the transaction up to RetryCount+1 times,
// escalating the fee between attempts. Each submission that yields a hash
// reports it through the sink so the tracker learns the hash even when
// the attempt later fails. Context cancellation aborts without emitting
// any update.
func (h *TxHandler) executeWithRetry(ctx context.Context, req ExecuteRequest, cfg ChainConfig, units uint64, feePerUnit, maxFeePerUnit int64) {
	defer h.wg.Done()

	var lastErr string
	for attempt := 0; attempt <= cfg.RetryCount; attempt++ {
		if ctx.Err() != nil {
			return
		}

		params := make(map[string]interface{}, len(req.Params)+2)
		for k, v := range req.Params {
			params[k] = v
		}
		params["priorityFeePerCU"] = feePerUnit
		params["computeUnits"] = units

		h.met.TxAttempt(req.Chain)
		h.met.FeePerUnit(req.Chain, feePerUnit)
		h.log.Debug("submitting transaction",
			zap.String("order_id", req.ClientOrderID),
			zap.Int("attempt", attempt+1),
			zap.Int64("fee_per_cu", feePerUnit))

		res, err := h.client.Submit(ctx, SubmitRequest{
			Chain:     req.Chain,
			Network:   req.Network,
			Connector: req.Connector,
			Method:    req.Method,
			Params:    params,
		})
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			lastErr = err.Error()
			h.log.Warn("transaction submission failed",
				zap.String("order_id", req.ClientOrderID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		default:
			if res.TxHash != "" {
				h.sink.ProcessOrderUpdate(ctx, order.OrderUpdate{
					ClientOrderID:   req.ClientOrderID,
					ExchangeOrderID: res.TxHash,
					TradingPair:     req.TradingPair,
					UpdateTimestamp: time.Now(),
					NewState:        order.StateOpen,
					OnChain: &order.OnChainData{
						TxHash:     res.TxHash,
						FeePerUnit: feePerUnit,
					},
				})
			}
			if res.Status == TxStatusConfirmed {
				h.finalizeSuccess(ctx, req, res.TxHash, res.Payload)
				return
			}
			if res.Status < 0 {
				lastErr = res.ErrorMessage
				if lastErr == "" {
					lastErr = "transaction failed"
				}
			} else {
				mres, merr := h.monitor.Await(ctx, MonitorRequest{
					Chain:      req.Chain,
					Network:    req.Network,
					OrderID:    req.ClientOrderID,
					Submission: res,
					HashKnown:  true,
				}, nil)
				if merr != nil {
					if ctx.Err() != nil {
						return
					}
					lastErr = merr.Error()
				} else if mres.Outcome == OutcomeConfirmed {
					h.finalizeSuccess(ctx, req, res.TxHash, mres.Payload)
					return
				} else {
					lastErr = mres.Message
				}
			}
		}

		if attempt < cfg.RetryCount {
			feePerUnit = escalateFee(feePerUnit, cfg.RetryFeeMultiplier, maxFeePerUnit)
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.RetryInterval):
			}
		}
	}

	if ctx.Err() != nil {
		return
	}
	if lastErr == "" {
		lastErr = "max retries exceeded"
	}
	h.met.TxOutcome(req.Chain, "exhausted")
	h.log.LogError(errors.New(lastErr), map[string]interface{}{
		"order_id": req.ClientOrderID,
		"chain":    req.Chain,
		"attempts": cfg.RetryCount + 1,
	})
	h.sink.ProcessOrderUpdate(ctx, order.OrderUpdate{
		ClientOrderID:   req.ClientOrderID,
		TradingPair:     req.TradingPair,
		UpdateTimestamp: time.Now(),
		NewState:        order.StateFailed,
		OnChain:         &order.OnChainData{ErrorMessage: lastErr},
	})
}

// finalizeSuccess reports the fill and the FILLED transition for a
// confirmed transaction, and feeds observed compute unit usage back into
// the cache. Amountless requests, such as approvals, skip the trade.
func (h *TxHandler) finalizeSuccess(ctx context.Context, req ExecuteRequest, txHash string, payload map[string]interface{}) {
	now := time.Now()
	data := &order.OnChainData{TxHash: txHash}
	if fee := asFloat(payload["fee"]); fee > 0 {
		data.FeeAmount = decimal.NewFromFloat(fee)
		data.FeeAsset = asString(payload["feeToken"])
	}
	if used := asInt64(payload["computeUnitsUsed"]); used > 0 {
		h.CacheComputeUnits(req.Method, req.Connector, req.Network, uint64(used))
	}

	if req.Amount.IsPositive() {
		h.sink.ProcessTradeUpdate(ctx, order.TradeUpdate{
			TradeID:         txHash,
			ClientOrderID:   req.ClientOrderID,
			ExchangeOrderID: txHash,
			TradingPair:     req.TradingPair,
			FillTimestamp:   now,
			FillPrice:       req.Price,
			FillBaseAmount:  req.Amount,
			FillQuoteAmount: req.Price.Mul(req.Amount),
			Fee:             order.TradeFee{Asset: data.FeeAsset, Amount: data.FeeAmount},
			IsTaker:         true,
		})
	}
	targetState := order.StateFilled
	if req.Method == "approve" {
		targetState = order.StateApproved
	}
	h.sink.ProcessOrderUpdate(ctx, order.OrderUpdate{
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: txHash,
		TradingPair:     req.TradingPair,
		UpdateTimestamp: now,
		NewState:        targetState,
		OnChain:         data,
	})
}
