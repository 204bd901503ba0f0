package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/errwatch/errwatch/internal/config"
)

// NewLogger returns a slog.Logger configured for the desired verbosity and
// format. When cfg.File is set, output also goes to a size-rotated log file.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	handlerLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		handlerLevel = slog.LevelDebug
	case "warn":
		handlerLevel = slog.LevelWarn
	case "error":
		handlerLevel = slog.LevelError
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: handlerLevel})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: handlerLevel})
	}

	return slog.New(handler)
}
