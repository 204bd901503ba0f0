package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to run the error pipeline.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Storage     StorageConfig     `yaml:"storage"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Patterns    PatternsConfig    `yaml:"patterns"`
	Resolution  ResolutionConfig  `yaml:"resolution"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	// File enables a rotating log file alongside stdout when non-empty.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// StorageConfig controls where and how often state is flushed to disk.
type StorageConfig struct {
	DataDir       string        `yaml:"dataDir"`
	FlushInterval time.Duration `yaml:"flushInterval"`
	Retention     time.Duration `yaml:"retention"`
}

// AggregationConfig tunes grouping and critical flagging. The classification
// thresholds are deliberately configurable rather than hard-coded.
type AggregationConfig struct {
	CriticalThreshold int           `yaml:"criticalThreshold"`
	CriticalWindow    time.Duration `yaml:"criticalWindow"`
	OccurrenceTail    int           `yaml:"occurrenceTail"`
	QueueSize         int           `yaml:"queueSize"`
}

// PatternsConfig tunes the pattern and trend analysis cycles.
type PatternsConfig struct {
	AnalysisInterval    time.Duration `yaml:"analysisInterval"`
	TrendInterval       time.Duration `yaml:"trendInterval"`
	InitialDelay        time.Duration `yaml:"initialDelay"`
	MinOccurrences      int64         `yaml:"minOccurrences"`
	TemporalMultiplier  float64       `yaml:"temporalMultiplier"`
	CorrelationWindow   time.Duration `yaml:"correlationWindow"`
	MinCorrelation      float64       `yaml:"minCorrelation"`
	MinCoOccurrences    int           `yaml:"minCoOccurrences"`
	NewPatternThreshold int64         `yaml:"newPatternThreshold"`
	AlertMultiplier     float64       `yaml:"alertMultiplier"`
	AlertCorrelation    float64       `yaml:"alertCorrelation"`
	RapidGrowth         float64       `yaml:"rapidGrowth"`
	HighRatePerMinute   float64       `yaml:"highRatePerMinute"`
	TrendMaxPoints      int           `yaml:"trendMaxPoints"`
}

// ResolutionConfig tunes fix tracking and the ineffectiveness override.
type ResolutionConfig struct {
	IneffectiveRecurrences int           `yaml:"ineffectiveRecurrences"`
	IneffectiveWindow      time.Duration `yaml:"ineffectiveWindow"`
	EffortPenaltyHours     float64       `yaml:"effortPenaltyHours"`
	FixSimilarity          float64       `yaml:"fixSimilarity"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ERRWATCH_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:      "info",
			JSON:       false,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Metrics: MetricsConfig{Address: ":2112"},
		Storage: StorageConfig{
			DataDir:       "data",
			FlushInterval: time.Minute,
			Retention:     30 * 24 * time.Hour,
		},
		Aggregation: AggregationConfig{
			CriticalThreshold: 10,
			CriticalWindow:    time.Hour,
			OccurrenceTail:    100,
			QueueSize:         1024,
		},
		Patterns: PatternsConfig{
			AnalysisInterval:    5 * time.Minute,
			TrendInterval:       time.Hour,
			InitialDelay:        30 * time.Second,
			MinOccurrences:      5,
			TemporalMultiplier:  2,
			CorrelationWindow:   5 * time.Minute,
			MinCorrelation:      0.3,
			MinCoOccurrences:    3,
			NewPatternThreshold: 10,
			AlertMultiplier:     3,
			AlertCorrelation:    0.5,
			RapidGrowth:         1.0,
			HighRatePerMinute:   10,
			TrendMaxPoints:      30,
		},
		Resolution: ResolutionConfig{
			IneffectiveRecurrences: 3,
			IneffectiveWindow:      24 * time.Hour,
			EffortPenaltyHours:     8,
			FixSimilarity:          0.6,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ERRWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ERRWATCH_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("ERRWATCH_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("ERRWATCH_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
	if v := os.Getenv("ERRWATCH_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("ERRWATCH_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Storage.FlushInterval = d
		}
	}
	if v := os.Getenv("ERRWATCH_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Storage.Retention = d
		}
	}
	if v := os.Getenv("ERRWATCH_CRITICAL_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Aggregation.CriticalThreshold = n
		}
	}
	if v := os.Getenv("ERRWATCH_CRITICAL_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Aggregation.CriticalWindow = d
		}
	}
	if v := os.Getenv("ERRWATCH_ANALYSIS_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Patterns.AnalysisInterval = d
		}
	}
	if v := os.Getenv("ERRWATCH_TREND_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Patterns.TrendInterval = d
		}
	}
	if v := os.Getenv("ERRWATCH_RAPID_GROWTH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Patterns.RapidGrowth = f
		}
	}
	if v := os.Getenv("ERRWATCH_HIGH_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Patterns.HighRatePerMinute = f
		}
	}
	if v := os.Getenv("ERRWATCH_INEFFECTIVE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Resolution.IneffectiveWindow = d
		}
	}
}
