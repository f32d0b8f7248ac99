package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trading-connector-go/infrastructure/logger"
	"trading-connector-go/order"
)

// ErrSkipFrame marks a frame that carries no order or trade data, such as
// heartbeats and subscription acks. The listener drops it silently.
var ErrSkipFrame = errors.New("frame carries no updates")

// Decoder turns a raw websocket frame into order and trade updates.
// Implementations are venue-specific; returning ErrSkipFrame drops the
// frame without logging.
type Decoder interface {
	Decode(raw []byte) ([]order.OrderUpdate, []order.TradeUpdate, error)
}

// Sink consumes decoded updates. The order tracker satisfies this.
type Sink interface {
	ProcessOrderUpdate(ctx context.Context, u order.OrderUpdate)
	ProcessTradeUpdate(ctx context.Context, t order.TradeUpdate)
}

// Config controls the connection lifecycle.
type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	ReadTimeout  time.Duration
}

// DefaultConfig returns the connection policy used when fields are unset.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   5,
		RetryBackoff: 3 * time.Second,
		ReadTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	return c
}

// Listener maintains a websocket subscription to a venue's user event
// stream and routes decoded updates into the sink. It reconnects with
// linear backoff; MaxRetries consecutive dial failures are fatal.
type Listener struct {
	cfg     Config
	decoder Decoder
	sink    Sink
	log     *logger.Logger

	onConnected func()
	onFatal     func(error)

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewListener builds a listener. log may be nil.
func NewListener(cfg Config, dec Decoder, sink Sink, log *logger.Logger) *Listener {
	if log == nil {
		log = logger.Nop()
	}
	return &Listener{
		cfg:     cfg.withDefaults(),
		decoder: dec,
		sink:    sink,
		log:     log,
	}
}

// SetConnectedHandler registers a callback invoked after each successful
// connect. Callers use it to resynchronize state missed while offline.
func (l *Listener) SetConnectedHandler(fn func()) {
	l.onConnected = fn
}

// SetFatalErrorHandler registers a callback for unrecoverable connection
// failures so the host can trigger a graceful shutdown.
func (l *Listener) SetFatalErrorHandler(fn func(error)) {
	l.onFatal = fn
}

// Run dials and reads until ctx is cancelled, reconnecting on disconnect.
// It returns nil on cancellation and the dial error once MaxRetries
// consecutive attempts fail.
func (l *Listener) Run(ctx context.Context) error {
	retries := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			retries++
			if retries > l.cfg.MaxRetries {
				fatal := fmt.Errorf("stream reconnection failed after %d retries: %w", l.cfg.MaxRetries, err)
				l.log.Error("stream connection lost", zap.Error(fatal))
				if l.onFatal != nil {
					l.onFatal(fatal)
				}
				return fatal
			}
			backoff := time.Duration(retries) * l.cfg.RetryBackoff
			l.log.Warn("stream dial failed",
				zap.Int("attempt", retries),
				zap.Int("max", l.cfg.MaxRetries),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}

		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()
		retries = 0
		l.log.Info("stream connected", zap.String("url", l.cfg.URL))
		if l.onConnected != nil {
			l.onConnected()
		}

		l.readLoop(ctx, conn)

		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn("stream disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.cfg.RetryBackoff):
		}
	}
}

// Close tears down the current connection, unblocking the read loop.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
	l.mu.Unlock()
}

func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				l.log.Debug("stream read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		l.handleMessage(ctx, msg)
	}
}

func (l *Listener) handleMessage(ctx context.Context, raw []byte) {
	orders, trades, err := l.decoder.Decode(raw)
	if err != nil {
		if !errors.Is(err, ErrSkipFrame) {
			l.log.Warn("stream decode failed", zap.Error(err))
		}
		return
	}
	// Trades first so completion checks see the fills that accompany a
	// terminal order update in the same frame.
	for _, t := range trades {
		l.sink.ProcessTradeUpdate(ctx, t)
	}
	for _, u := range orders {
		l.sink.ProcessOrderUpdate(ctx, u)
	}
}
