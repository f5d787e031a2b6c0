package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
source: discord
broker:
  kind: mock
  timeout: 5s
  initial_equity: 50000
risk:
  max_position_size: 0.05
  daily_loss_limit: 0.03
  cooldown: 2m
  blacklist:
    - GME
    - AMC
  allow_short: true
executor:
  max_attempts: 4
  dedup_ttl: 10m
  breaker:
    threshold: 3
    reset_timeout: 30s
pipeline:
  shards: 8
  raw_dedup_window: 15s
notify:
  kind: nop
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	cfg, err := Load(writeConfig(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Source != "discord" {
		t.Fatalf("source: %s", cfg.Source)
	}
	if cfg.Broker.Kind != "mock" || cfg.Broker.Timeout != 5*time.Second || cfg.Broker.InitialEquity != 50_000 {
		t.Fatalf("broker config: %+v", cfg.Broker)
	}
	if cfg.Risk.MaxPositionSize != 0.05 || cfg.Risk.Cooldown != 2*time.Minute || !cfg.Risk.AllowShort {
		t.Fatalf("risk config: %+v", cfg.Risk)
	}
	if len(cfg.Risk.Blacklist) != 2 || cfg.Risk.Blacklist[0] != "GME" {
		t.Fatalf("blacklist: %+v", cfg.Risk.Blacklist)
	}
	if cfg.Executor.MaxAttempts != 4 || cfg.Executor.DedupTTL != 10*time.Minute {
		t.Fatalf("executor config: %+v", cfg.Executor)
	}
	if cfg.Executor.Breaker.Threshold != 3 || cfg.Executor.Breaker.ResetTimeout != 30*time.Second {
		t.Fatalf("breaker config: %+v", cfg.Executor.Breaker)
	}
	if cfg.Pipeline.Shards != 8 || cfg.Pipeline.RawDedupWindow != 15*time.Second {
		t.Fatalf("pipeline config: %+v", cfg.Pipeline)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TRADER_BROKER_KIND", "binance")
	t.Setenv("TRADER_SOURCE", "telegram")

	cfg, err := Load(writeConfig(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Broker.Kind != "binance" {
		t.Fatalf("env override ignored: %s", cfg.Broker.Kind)
	}
	if cfg.Source != "telegram" {
		t.Fatalf("env override ignored: %s", cfg.Source)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing explicit config file should fail")
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if cfg.Source != "chat" {
		t.Fatalf("default source: %s", cfg.Source)
	}
}
