package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connector.yaml")
	if err := os.WriteFile(path, []byte("env: dev\ngateway:\n  baseURL: http://a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, WatchConfig{Enabled: true, CooldownTime: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	reloaded := make(chan AppConfig, 1)
	w.SetReloadHandler(func(cfg AppConfig) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("env: dev\ngateway:\n  baseURL: http://b\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Gateway.BaseURL != "http://b" {
			t.Fatalf("reloaded URL = %s", cfg.Gateway.BaseURL)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload never fired")
	}
}

func TestWatcherIgnoresInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connector.yaml")
	if err := os.WriteFile(path, []byte("env: dev\ngateway:\n  baseURL: http://a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, WatchConfig{Enabled: true, CooldownTime: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	called := make(chan struct{}, 1)
	w.SetReloadHandler(func(AppConfig) error {
		select {
		case called <- struct{}{}:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// Validation fails: the handler must not see this config.
	if err := os.WriteFile(path, []byte("gateway: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-called:
		t.Fatal("handler invoked for invalid config")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherDisabledIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connector.yaml")
	if err := os.WriteFile(path, []byte("env: dev\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(path, WatchConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
}
