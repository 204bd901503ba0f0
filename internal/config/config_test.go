package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Aggregation.CriticalThreshold != 10 {
		t.Errorf("criticalThreshold = %d, want 10", cfg.Aggregation.CriticalThreshold)
	}
	if cfg.Patterns.AnalysisInterval != 5*time.Minute {
		t.Errorf("analysisInterval = %s, want 5m", cfg.Patterns.AnalysisInterval)
	}
	if cfg.Resolution.FixSimilarity != 0.6 {
		t.Errorf("fixSimilarity = %f, want 0.6", cfg.Resolution.FixSimilarity)
	}
	if cfg.Storage.Retention != 30*24*time.Hour {
		t.Errorf("retention = %s, want 720h", cfg.Storage.Retention)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load("/nonexistent/errwatch.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errwatch.yaml")
	body := `
logging:
  level: debug
  json: true
storage:
  dataDir: /tmp/errwatch-test
aggregation:
  criticalThreshold: 5
patterns:
  minCorrelation: 0.4
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.DataDir != "/tmp/errwatch-test" {
		t.Errorf("dataDir = %s", cfg.Storage.DataDir)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.JSON {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Aggregation.CriticalThreshold != 5 {
		t.Errorf("criticalThreshold = %d", cfg.Aggregation.CriticalThreshold)
	}
	if cfg.Patterns.MinCorrelation != 0.4 {
		t.Errorf("minCorrelation = %f", cfg.Patterns.MinCorrelation)
	}
	// Untouched sections keep their defaults.
	if cfg.Patterns.TrendInterval != time.Hour {
		t.Errorf("trendInterval = %s, want 1h", cfg.Patterns.TrendInterval)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ERRWATCH_CRITICAL_THRESHOLD", "42")
	t.Setenv("ERRWATCH_DATA_DIR", "/tmp/from-env")
	t.Setenv("ERRWATCH_TREND_INTERVAL", "15m")
	t.Setenv("ERRWATCH_LOG_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Aggregation.CriticalThreshold != 42 {
		t.Errorf("criticalThreshold = %d, want 42", cfg.Aggregation.CriticalThreshold)
	}
	if cfg.Storage.DataDir != "/tmp/from-env" {
		t.Errorf("dataDir = %s", cfg.Storage.DataDir)
	}
	if cfg.Patterns.TrendInterval != 15*time.Minute {
		t.Errorf("trendInterval = %s", cfg.Patterns.TrendInterval)
	}
	if !cfg.Logging.JSON {
		t.Error("json logging not enabled")
	}
}
