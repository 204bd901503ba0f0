package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/errwatch/errwatch"
	"github.com/errwatch/errwatch/internal/config"
	"github.com/errwatch/errwatch/internal/metrics"
	"github.com/errwatch/errwatch/internal/models"
	"github.com/errwatch/errwatch/internal/utils"
)

func main() {
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging)
	logger.Info("starting errwatch", slog.String("dataDir", cfg.Storage.DataDir))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	pipeline, err := errwatch.New(logger, cfg, nil)
	if err != nil {
		logger.Error("failed to build pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	pipeline.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Metrics.Address,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Metrics.Address))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	// Events arrive as newline-delimited JSON on stdin; EOF ends ingestion
	// but the analysis timers keep running until a signal arrives.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var raw models.RawErrorEvent
			if err := json.Unmarshal(line, &raw); err != nil {
				logger.Warn("skipping malformed event", slog.Any("error", err))
				continue
			}
			result, err := pipeline.Ingest(ctx, raw)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("ingest failed", slog.Any("error", err))
				continue
			}
			if result.IsCritical {
				logger.Warn("critical error ingested",
					slog.String("signature", result.Signature),
					slog.String("category", string(result.Category)),
					slog.Int64("count", result.Count))
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Error("stdin read failed", slog.Any("error", err))
		}
		logger.Info("event stream ended")
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	pipeline.Close()

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("errwatch stopped")
}
