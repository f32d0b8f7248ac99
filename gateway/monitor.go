package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trading-connector-go/infrastructure/logger"
	"trading-connector-go/metrics"
)

// TxEventKind identifies a monitor callback event.
type TxEventKind string

const (
	// TxEventHash reports a newly known transaction hash before the
	// outcome is decided.
	TxEventHash TxEventKind = "tx_hash"
	// TxEventConfirmed reports a confirmed transaction with its payload.
	TxEventConfirmed TxEventKind = "confirmed"
	// TxEventFailed reports an explicit failure or a poll timeout.
	TxEventFailed TxEventKind = "failed"
)

// TxEvent is delivered to the monitor callback.
type TxEvent struct {
	Kind    TxEventKind
	OrderID string
	TxHash  string
	Payload map[string]interface{}
	Message string
}

// TxCallback receives monitor events. An error returned by the callback
// propagates out of the monitor: a broken persistence callback must not
// be swallowed.
type TxCallback func(ctx context.Context, ev TxEvent) error

// MonitorOutcome is the terminal result of monitoring one submission.
type MonitorOutcome int

const (
	OutcomeConfirmed MonitorOutcome = iota
	OutcomeFailed
	OutcomeTimedOut
)

func (o MonitorOutcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "failed"
	}
}

// MonitorResult carries the outcome, the gateway payload for confirmed
// transactions, and the failure message otherwise.
type MonitorResult struct {
	Outcome MonitorOutcome
	Payload map[string]interface{}
	Message string
}

// MonitorConfig bounds the polling loop.
type MonitorConfig struct {
	PollInterval time.Duration
	MaxPollTime  time.Duration
}

// DefaultMonitorConfig returns the standard 2s/60s polling bounds.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval: 2 * time.Second,
		MaxPollTime:  60 * time.Second,
	}
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	d := DefaultMonitorConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxPollTime <= 0 {
		c.MaxPollTime = d.MaxPollTime
	}
	return c
}

// Monitor drives a submitted transaction to a terminal outcome by polling
// the gateway's status endpoint. It is independent of the retry policy:
// TxHandler invokes it once per attempt, and callers may invoke it
// directly for single-shot submissions.
type Monitor struct {
	client Client
	cfg    MonitorConfig
	log    *logger.Logger
	met    *metrics.Metrics
}

// NewMonitor builds a monitor. log may be nil; met may be nil.
func NewMonitor(client Client, cfg MonitorConfig, log *logger.Logger, met *metrics.Metrics) *Monitor {
	if log == nil {
		log = logger.Nop()
	}
	return &Monitor{
		client: client,
		cfg:    cfg.withDefaults(),
		log:    log,
		met:    met,
	}
}

// MonitorRequest identifies the submission to monitor. HashKnown marks
// that the caller already learned the transaction hash, suppressing the
// tx_hash callback event.
type MonitorRequest struct {
	Chain      string
	Network    string
	OrderID    string
	Submission SubmitResult
	HashKnown  bool
}

// Await polls until the transaction confirms, fails, or the maximum poll
// time elapses, invoking cb (which may be nil) for hash discovery and the
// terminal outcome. Poll errors are transient and retried on the next
// tick. Context cancellation aborts without invoking the callback.
func (m *Monitor) Await(ctx context.Context, req MonitorRequest, cb TxCallback) (MonitorResult, error) {
	sub := req.Submission

	// A terminal initial response skips polling entirely.
	if sub.Status == TxStatusConfirmed {
		return m.finish(ctx, req, cb, MonitorResult{Outcome: OutcomeConfirmed, Payload: sub.Payload})
	}
	if sub.Status < 0 {
		msg := sub.ErrorMessage
		if msg == "" {
			msg = "transaction failed"
		}
		return m.finish(ctx, req, cb, MonitorResult{Outcome: OutcomeFailed, Message: msg})
	}
	if sub.TxHash == "" {
		return m.finish(ctx, req, cb, MonitorResult{Outcome: OutcomeFailed, Message: "no transaction hash returned"})
	}

	if !req.HashKnown && cb != nil {
		ev := TxEvent{Kind: TxEventHash, OrderID: req.OrderID, TxHash: sub.TxHash}
		if err := cb(ctx, ev); err != nil {
			return MonitorResult{}, err
		}
	}

	deadline := time.NewTimer(m.cfg.MaxPollTime)
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return MonitorResult{}, ctx.Err()
		case <-deadline.C:
			msg := fmt.Sprintf("transaction %s timed out after %s", sub.TxHash, m.cfg.MaxPollTime)
			return m.finish(ctx, req, cb, MonitorResult{Outcome: OutcomeTimedOut, Message: msg})
		case <-ticker.C:
			m.met.TxPoll(req.Chain)
			res, err := m.client.PollStatus(ctx, req.Chain, req.Network, sub.TxHash)
			if err != nil {
				if ctx.Err() != nil {
					return MonitorResult{}, ctx.Err()
				}
				m.log.Debug("poll failed",
					zap.String("tx_hash", sub.TxHash),
					zap.Error(err))
				continue
			}
			if res.Status == TxStatusConfirmed {
				return m.finish(ctx, req, cb, MonitorResult{Outcome: OutcomeConfirmed, Payload: res.Payload})
			}
			if res.Status < 0 {
				msg := res.ErrorMessage
				if msg == "" {
					msg = "transaction failed"
				}
				return m.finish(ctx, req, cb, MonitorResult{Outcome: OutcomeFailed, Message: msg})
			}
		}
	}
}

// finish records the outcome and routes it through the callback. Callback
// errors propagate to the caller alongside the result.
func (m *Monitor) finish(ctx context.Context, req MonitorRequest, cb TxCallback, res MonitorResult) (MonitorResult, error) {
	m.met.TxOutcome(req.Chain, res.Outcome.String())
	m.log.LogTx(res.Outcome.String(), req.Submission.TxHash, map[string]interface{}{
		"order_id": req.OrderID,
		"chain":    req.Chain,
		"message":  res.Message,
	})
	if cb == nil {
		return res, nil
	}
	ev := TxEvent{
		OrderID: req.OrderID,
		TxHash:  req.Submission.TxHash,
	}
	if res.Outcome == OutcomeConfirmed {
		ev.Kind = TxEventConfirmed
		ev.Payload = res.Payload
	} else {
		ev.Kind = TxEventFailed
		ev.Message = res.Message
	}
	if err := cb(ctx, ev); err != nil {
		return res, err
	}
	return res, nil
}
