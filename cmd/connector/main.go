package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"trading-connector-go/config"
	"trading-connector-go/gateway"
	"trading-connector-go/infrastructure/logger"
	"trading-connector-go/internal/store"
	"trading-connector-go/metrics"
	"trading-connector-go/order"
	"trading-connector-go/stream"
)

func main() {
	cfgPath := flag.String("config", "configs/connector.yaml", "config file path")
	snapshotPath := flag.String("snapshot", "", "order snapshot file (overrides config)")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	met := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		metrics.StartMetricsServer(cfg.Metrics.Addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := gateway.NewHTTPClient(cfg.Gateway.BaseURL)
	if cfg.Gateway.RequestTimeoutMs > 0 {
		client.HTTPClient.Timeout = time.Duration(cfg.Gateway.RequestTimeoutMs) * time.Millisecond
	}
	if cfg.Gateway.RequestsPerSec > 0 {
		client.Limiter = gateway.NewTokenBucketLimiter(cfg.Gateway.RequestsPerSec, cfg.Gateway.Burst)
	}

	tracker := order.NewTracker(cfg.Tracker.TrackerConfig(), log, met)
	tracker.Events().SubscribeAll(func(ev order.Event) {
		log.LogOrderEvent(string(ev.Kind), ev.Order.ClientOrderID, map[string]interface{}{
			"trading_pair": ev.Order.TradingPair,
			"state":        string(ev.Order.State),
		})
	})

	monitor := gateway.NewMonitor(client, cfg.Monitor.MonitorConfig(), log, met)
	handler := gateway.NewTxHandler(client, monitor, tracker, cfg.ChainConfigs(), log, met)

	snapPath := cfg.Snapshot.Path
	if *snapshotPath != "" {
		snapPath = *snapshotPath
	}
	var fileStore *store.FileStore
	if snapPath != "" {
		fileStore = store.NewFileStore(snapPath)
		states, err := fileStore.Load()
		if err != nil {
			log.Error("snapshot restore failed", zap.Error(err))
		} else if len(states) > 0 {
			tracker.RestoreTrackingStates(states)
			log.Info("restored tracked orders", zap.Int("count", len(tracker.ActiveOrders())))
		}
	}

	if cfg.Stream.URL != "" {
		listener := stream.NewListener(cfg.Stream.StreamConfig(), stream.JSONDecoder{}, tracker, log)
		listener.SetFatalErrorHandler(func(err error) {
			log.Error("event stream unrecoverable", zap.Error(err))
			cancel()
		})
		go func() {
			if err := listener.Run(ctx); err != nil {
				cancel()
			}
		}()
		defer listener.Close()
	}

	watcher, err := config.NewWatcher(*cfgPath, config.DefaultWatchConfig())
	if err != nil {
		log.Warn("config watcher unavailable", zap.Error(err))
	} else {
		watcher.SetReloadHandler(func(next config.AppConfig) error {
			for name, cc := range next.ChainConfigs() {
				handler.SetChainConfig(name, cc)
			}
			log.Info("chain config reloaded", zap.Int("chains", len(next.Chains)))
			return nil
		})
		if err := watcher.Start(ctx); err != nil {
			log.Warn("config watch failed", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	if fileStore != nil {
		interval := time.Duration(cfg.Snapshot.IntervalSec) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := fileStore.Save(tracker.TrackingStates()); err != nil {
						log.Error("snapshot save failed", zap.Error(err))
					}
				}
			}
		}()
	}

	log.Info("connector started",
		zap.String("env", cfg.Env),
		zap.String("gateway", cfg.Gateway.BaseURL))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	cancel()

	// Drain in-flight transaction attempts before the final snapshot so
	// their terminal updates are captured.
	handler.Wait()
	if fileStore != nil {
		if err := fileStore.Save(tracker.TrackingStates()); err != nil {
			log.Error("final snapshot failed", zap.Error(err))
		}
	}
	log.Info("connector stopped")
}
