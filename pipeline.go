// Package errwatch wires the aggregation engine, pattern detector, and
// resolution tracker into one error observability pipeline.
package errwatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/errwatch/errwatch/internal/aggregation"
	"github.com/errwatch/errwatch/internal/alerting"
	"github.com/errwatch/errwatch/internal/config"
	"github.com/errwatch/errwatch/internal/models"
	"github.com/errwatch/errwatch/internal/patterns"
	"github.com/errwatch/errwatch/internal/resolution"
	"github.com/errwatch/errwatch/internal/store"
)

// Pipeline owns the three engines and their shared lifecycle. Construct with
// New, call Start, and Close on shutdown; Close flushes all state.
type Pipeline struct {
	logger *slog.Logger

	aggregator *aggregation.Engine
	detector   *patterns.Detector
	resolver   *resolution.Tracker
}

// New builds a Pipeline from configuration. Each engine persists under its
// own subdirectory of cfg.Storage.DataDir. sink may be nil, in which case
// alerts are logged.
func New(logger *slog.Logger, cfg *config.Config, sink alerting.Sink) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = alerting.NewLogSink(logger)
	}

	aggFiles, err := store.New(filepath.Join(cfg.Storage.DataDir, "aggregation"), logger)
	if err != nil {
		return nil, err
	}
	patternFiles, err := store.New(filepath.Join(cfg.Storage.DataDir, "patterns"), logger)
	if err != nil {
		return nil, err
	}
	resolutionFiles, err := store.New(filepath.Join(cfg.Storage.DataDir, "resolution"), logger)
	if err != nil {
		return nil, err
	}

	resolver, err := resolution.New(logger, cfg.Resolution, cfg.Storage, resolutionFiles)
	if err != nil {
		return nil, err
	}
	aggregator, err := aggregation.New(logger, cfg.Aggregation, cfg.Storage, aggFiles, sink, resolver)
	if err != nil {
		return nil, err
	}
	// The resolver needs group lookups to derive fix patterns, and the
	// aggregator calls back into the resolver on every ingest; one of the two
	// references has to bind after construction.
	resolver.SetGroupReader(aggregator)

	detector, err := patterns.New(logger, cfg.Patterns, cfg.Storage, patternFiles, aggregator, sink)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		logger:     logger,
		aggregator: aggregator,
		detector:   detector,
		resolver:   resolver,
	}, nil
}

// Start launches the ingest worker, analysis timers, and flush timers.
func (p *Pipeline) Start() {
	p.aggregator.Start()
	p.detector.Start()
	p.resolver.Start()
}

// Close stops all engines. Each Stop performs a final flush, so no events or
// analysis state are lost on a clean shutdown.
func (p *Pipeline) Close() {
	p.detector.Stop()
	p.aggregator.Stop()
	p.resolver.Stop()
	p.logger.Info("pipeline stopped")
}

// Ingest submits one raw error event and returns its aggregation result.
func (p *Pipeline) Ingest(ctx context.Context, raw models.RawErrorEvent) (models.IngestResult, error) {
	return p.aggregator.Ingest(ctx, raw)
}

// Group returns the aggregated group for a signature.
func (p *Pipeline) Group(signature string) (models.ErrorGroup, bool) {
	return p.aggregator.Group(signature)
}

// Groups lists aggregated groups filtered, sorted, and paginated.
func (p *Pipeline) Groups(filter models.GroupFilter) []models.ErrorGroup {
	return p.aggregator.Groups(filter)
}

// CriticalErrors lists active critical records, most recent first.
func (p *Pipeline) CriticalErrors() []models.CriticalErrorRecord {
	return p.aggregator.CriticalErrors()
}

// ResolveCritical marks a critical record resolved.
func (p *Pipeline) ResolveCritical(signature string) error {
	return p.aggregator.ResolveCritical(signature)
}

// Stats aggregates the group store over an optional time window.
func (p *Pipeline) Stats(since, until time.Time) models.ErrorStats {
	return p.aggregator.Stats(since, until)
}

// Patterns returns detected patterns, highest confidence first.
func (p *Pipeline) Patterns() []models.DetectedPattern {
	return p.detector.Patterns()
}

// Trends returns per-category error-rate trends.
func (p *Pipeline) Trends() []models.ErrorTrend {
	return p.detector.Trends()
}

// Alerts returns active alerts, most recently triggered first.
func (p *Pipeline) Alerts() []models.ActiveAlert {
	return p.detector.Alerts()
}

// ResolveAlert marks an active alert resolved.
func (p *Pipeline) ResolveAlert(id string) error {
	return p.detector.ResolveAlert(id)
}

// Report summarises current pattern, trend, and alert state.
func (p *Pipeline) Report() models.PatternReport {
	return p.detector.Report()
}

// RunPatternAnalysis triggers one pattern detection cycle immediately.
func (p *Pipeline) RunPatternAnalysis(ctx context.Context) {
	p.detector.RunPatternAnalysis(ctx)
}

// RunTrendAnalysis triggers one trend analysis cycle immediately.
func (p *Pipeline) RunTrendAnalysis(ctx context.Context) {
	p.detector.RunTrendAnalysis(ctx)
}

// MarkResolved records the first resolution of a signature and reflects the
// new status on the aggregated group.
func (p *Pipeline) MarkResolved(signature string, input resolution.Input) (models.Resolution, error) {
	res, err := p.resolver.MarkResolved(signature, input)
	if err != nil {
		return models.Resolution{}, err
	}
	p.aggregator.SetResolutionStatus(signature, models.StatusResolved)
	return res, nil
}

// ReResolve records a replacement fix for a recurred signature.
func (p *Pipeline) ReResolve(signature string, input resolution.Input) (models.Resolution, error) {
	res, err := p.resolver.ReResolve(signature, input)
	if err != nil {
		return models.Resolution{}, err
	}
	p.aggregator.SetResolutionStatus(signature, models.StatusResolved)
	return res, nil
}

// Resolution returns the resolution record for a signature.
func (p *Pipeline) Resolution(signature string) (models.Resolution, bool) {
	return p.resolver.Resolution(signature)
}

// ResolutionStatus reports the lifecycle state for a signature.
func (p *Pipeline) ResolutionStatus(signature string) models.ResolutionStatus {
	return p.resolver.Status(signature)
}

// SuggestedFixes returns ranked fixes for the pattern a signature maps to.
func (p *Pipeline) SuggestedFixes(signature string, query models.SuggestedFixQuery) []models.RankedFix {
	return p.resolver.SuggestedFixes(signature, query)
}

// FixEffectiveness summarises how well fixes held across resolutions.
func (p *Pipeline) FixEffectiveness(filter models.EffectivenessFilter) models.EffectivenessReport {
	return p.resolver.FixEffectiveness(filter)
}
