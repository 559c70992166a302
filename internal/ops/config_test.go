package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"main/pkg/exception"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "session:\n  name: test\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Store.Backend != BackendFile {
		t.Fatalf("backend mismatch! should be file but got %s", cfg.Store.Backend)
	}
	if cfg.Store.Path != "./data" {
		t.Fatalf("path mismatch! should be ./data but got %s", cfg.Store.Path)
	}
	if cfg.Feed.Kind != "sim" {
		t.Fatalf("feed kind mismatch! should be sim but got %s", cfg.Feed.Kind)
	}
	if cfg.Runtime.CheckpointInterval != 5*time.Minute {
		t.Fatalf("checkpoint interval mismatch! should be 5m but got %s", cfg.Runtime.CheckpointInterval)
	}
	if cfg.Runtime.ShutdownTimeout != 10*time.Second {
		t.Fatalf("shutdown timeout mismatch! should be 10s but got %s", cfg.Runtime.ShutdownTimeout)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
session:
  name: prod
  heartbeatInterval: 5s
pace:
  eventsPerWindow: 40
  window: 1s
store:
  backend: file
  path: /tmp/trader-data
feed:
  kind: ws
  ws:
    url: wss://feed.example.com/ws
    token: secret
risk:
  maxOrderQty: 500
strategies:
  - name: example_value
    enabled: true
    allocatedCapital: 100000
    minMarketCap: 2000000000
runtime:
  checkpointInterval: 1m
  shutdownTimeout: 5s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Pace.EventsPerWindow != 40 {
		t.Fatalf("pace mismatch! should be 40 but got %d", cfg.Pace.EventsPerWindow)
	}
	if cfg.Feed.WS.URL != "wss://feed.example.com/ws" {
		t.Fatalf("feed url mismatch! got %s", cfg.Feed.WS.URL)
	}
	if cfg.Risk.MaxOrderQty != 500 {
		t.Fatalf("risk qty mismatch! should be 500 but got %d", cfg.Risk.MaxOrderQty)
	}
	if len(cfg.Strategies) != 1 || cfg.Strategies[0].AllocatedCapital != 100000 {
		t.Fatalf("strategies mismatch: %+v", cfg.Strategies)
	}
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	path := writeConfig(t, "strategies:\n  - name: momentum_9000\n    enabled: true\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("unknown strategy should fail validation")
	}
	if err != exception.ErrUnknownStrategy {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: cassandra\n")
	if _, err := Load(path); err == nil {
		t.Fatal("unknown backend should fail validation")
	}
}

func TestLoadRequiresDSNForPostgres(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: postgres\n")
	if _, err := Load(path); err != exception.ErrMissingDSN {
		t.Fatalf("expected ErrMissingDSN, got %v", err)
	}
}

func TestLoadRequiresURLForWSFeed(t *testing.T) {
	path := writeConfig(t, "feed:\n  kind: ws\n")
	if _, err := Load(path); err == nil {
		t.Fatal("ws feed without url should fail validation")
	}
}

func TestLoadRejectsBadPace(t *testing.T) {
	path := writeConfig(t, "pace:\n  eventsPerWindow: -5\n  window: 1s\n")
	if _, err := Load(path); err == nil {
		t.Fatal("negative pace budget should fail validation")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing config file should fail")
	}
}
