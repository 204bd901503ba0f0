// Package patterns periodically scans the aggregated error groups for
// recurring signatures, temporal hot-spots, and cross-category correlations,
// and tracks per-category error-rate trends.
package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/errwatch/errwatch/internal/aggregation"
	"github.com/errwatch/errwatch/internal/alerting"
	"github.com/errwatch/errwatch/internal/config"
	"github.com/errwatch/errwatch/internal/metrics"
	"github.com/errwatch/errwatch/internal/models"
	"github.com/errwatch/errwatch/internal/store"
	"github.com/errwatch/errwatch/internal/utils"
)

const (
	patternsDoc = "patterns.json"
	trendsDoc   = "trends.json"
	alertsDoc   = "alerts.json"
)

// GroupSource is the aggregation engine's read API used by analysis cycles.
type GroupSource interface {
	Snapshot() []models.ErrorGroup
}

// Detector runs the pattern and trend analysis cycles.
type Detector struct {
	logger  *slog.Logger
	cfg     config.PatternsConfig
	storage config.StorageConfig
	files   *store.Files
	source  GroupSource
	sink    alerting.Sink

	mu       sync.RWMutex
	patterns map[string]*models.DetectedPattern
	trends   map[models.Category]*models.ErrorTrend
	alerts   map[string]*models.ActiveAlert

	patternBusy atomic.Bool
	trendBusy   atomic.Bool

	done      chan struct{}
	stopped   chan struct{}
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// New constructs a Detector and reloads persisted patterns, trends, and
// alerts. sink may be nil.
func New(logger *slog.Logger, cfg config.PatternsConfig, storage config.StorageConfig, files *store.Files, source GroupSource, sink alerting.Sink) (*Detector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = alerting.NewLogSink(logger)
	}

	d := &Detector{
		logger:   logger,
		cfg:      cfg,
		storage:  storage,
		files:    files,
		source:   source,
		sink:     sink,
		patterns: make(map[string]*models.DetectedPattern),
		trends:   make(map[models.Category]*models.ErrorTrend),
		alerts:   make(map[string]*models.ActiveAlert),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

// Start launches the analysis timers. An initial pass runs after a short
// delay so the aggregation engine has time to load its persisted state.
func (d *Detector) Start() {
	d.startOnce.Do(func() {
		d.started = true
		go d.run()
	})
}

// Stop halts the timers and performs one final synchronous flush. Safe on a
// detector that was never started.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() {
		// Claim the start slot so a late Start cannot launch the timers;
		// the Once also publishes d.started if Start already ran.
		d.startOnce.Do(func() {})
		close(d.done)
		if d.started {
			<-d.stopped
		}
		if err := d.Flush(); err != nil {
			d.logger.Error("final pattern flush failed", slog.Any("error", err))
		}
	})
}

func (d *Detector) run() {
	defer close(d.stopped)

	delay := d.cfg.InitialDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}
	initial := time.NewTimer(delay)
	defer initial.Stop()

	patternTicker := time.NewTicker(d.interval(d.cfg.AnalysisInterval, 5*time.Minute))
	defer patternTicker.Stop()
	trendTicker := time.NewTicker(d.interval(d.cfg.TrendInterval, time.Hour))
	defer trendTicker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-initial.C:
			d.RunPatternAnalysis(ctx)
			d.RunTrendAnalysis(ctx)
		case <-patternTicker.C:
			d.RunPatternAnalysis(ctx)
		case <-trendTicker.C:
			d.RunTrendAnalysis(ctx)
		case <-d.done:
			return
		}
	}
}

func (d *Detector) interval(configured, fallback time.Duration) time.Duration {
	if configured <= 0 {
		return fallback
	}
	return configured
}

// RunPatternAnalysis executes one full pattern detection cycle. Cycles are
// idempotent; if the previous one is still running this call is skipped
// rather than queued.
func (d *Detector) RunPatternAnalysis(ctx context.Context) {
	if !d.patternBusy.CompareAndSwap(false, true) {
		d.logger.Debug("pattern analysis still running, skipping cycle")
		return
	}
	defer d.patternBusy.Store(false)

	start := time.Now()
	groups := d.source.Snapshot()

	fresh := make(map[string]models.DetectedPattern)
	d.detectRecurring(groups, start, fresh)
	d.detectTemporal(groups, start, fresh)
	d.detectCorrelation(groups, start, fresh)

	d.mu.Lock()
	for signature, pattern := range fresh {
		if existing, ok := d.patterns[signature]; ok {
			pattern.FirstSeen = existing.FirstSeen
		}
		stored := pattern
		d.patterns[signature] = &stored
	}
	if d.storage.Retention > 0 {
		horizon := start.Add(-d.storage.Retention)
		for signature, pattern := range d.patterns {
			if pattern.LastSeen.Before(horizon) {
				delete(d.patterns, signature)
			}
		}
	}
	notifications := d.evaluatePatternAlertsLocked(start)
	activeCount := d.activeAlertCountLocked()
	d.mu.Unlock()

	d.deliver(ctx, notifications)
	metrics.SetActiveAlerts(activeCount)

	if err := d.persistPatterns(); err != nil {
		metrics.IncFlushError()
		d.logger.Error("pattern persistence failed", slog.Any("error", err))
	}

	metrics.ObserveAnalysis("pattern", time.Since(start))
	d.logger.Debug("pattern analysis complete",
		slog.Int("groups", len(groups)),
		slog.Int("patterns", len(fresh)),
		slog.Duration("elapsed", time.Since(start)))
}

func (d *Detector) detectRecurring(groups []models.ErrorGroup, now time.Time, out map[string]models.DetectedPattern) {
	type recurringAgg struct {
		category       models.Category
		messagePattern string
		stackPattern   string
		service        string
		signatures     []string
		occurrences    int64
		users          map[string]struct{}
	}

	aggregates := make(map[string]*recurringAgg)
	for _, group := range groups {
		if group.Count < d.cfg.MinOccurrences {
			continue
		}
		messagePattern := aggregation.NormalizeMessage(group.ErrorMessage)
		stackPattern := aggregation.NormalizeStackPattern(group.StackTrace)
		key := aggregation.PatternSignature(string(group.Category), messagePattern, stackPattern, group.Service)

		agg, ok := aggregates[key]
		if !ok {
			agg = &recurringAgg{
				category:       group.Category,
				messagePattern: messagePattern,
				stackPattern:   stackPattern,
				service:        group.Service,
				users:          make(map[string]struct{}),
			}
			aggregates[key] = agg
		}
		agg.signatures = append(agg.signatures, group.Signature)
		agg.occurrences += group.Count
		for _, user := range group.AffectedUsers {
			agg.users[user] = struct{}{}
		}
	}

	for key, agg := range aggregates {
		confidence := 0.5*minFloat(1, float64(agg.occurrences)/20) +
			0.3*minFloat(1, float64(len(agg.signatures))/10) +
			0.2*minFloat(1, float64(len(agg.users))/5)
		confidence = utils.Clamp(confidence, 0.1, 0.95)

		sort.Strings(agg.signatures)
		out[key] = models.DetectedPattern{
			Signature:       key,
			Kind:            models.PatternRecurring,
			Category:        agg.category,
			MessagePattern:  agg.messagePattern,
			StackPattern:    agg.stackPattern,
			Service:         agg.service,
			GroupSignatures: agg.signatures,
			Occurrences:     agg.occurrences,
			AffectedUsers:   len(agg.users),
			Confidence:      confidence,
			FirstSeen:       now,
			LastSeen:        now,
		}
	}
}

func (d *Detector) detectTemporal(groups []models.ErrorGroup, now time.Time, out map[string]models.DetectedPattern) {
	var hourBuckets [24]int64
	var weekdayBuckets [7]int64
	var total int64

	for _, group := range groups {
		for _, occ := range group.Occurrences {
			hourBuckets[occ.Timestamp.Hour()]++
			weekdayBuckets[int(occ.Timestamp.Weekday())]++
			total++
		}
	}
	if total == 0 {
		return
	}

	multiplierFloor := d.cfg.TemporalMultiplier
	if multiplierFloor <= 0 {
		multiplierFloor = 2
	}

	emit := func(kind string, bucket int, count int64, mean float64) {
		if mean <= 0 || float64(count) <= multiplierFloor*mean {
			return
		}
		multiplier := float64(count) / mean
		signature := fmt.Sprintf("temporal-%s-%d", kind, bucket)
		out[signature] = models.DetectedPattern{
			Signature:    signature,
			Kind:         models.PatternTemporal,
			BucketKind:   kind,
			Bucket:       bucket,
			BucketCount:  count,
			AverageCount: mean,
			Multiplier:   multiplier,
			Confidence:   utils.Clamp(multiplier/4, 0.1, 0.95),
			FirstSeen:    now,
			LastSeen:     now,
		}
	}

	hourMean := float64(total) / 24
	for hour, count := range hourBuckets {
		emit("hour", hour, count, hourMean)
	}
	weekdayMean := float64(total) / 7
	for weekday, count := range weekdayBuckets {
		emit("weekday", weekday, count, weekdayMean)
	}
}

func (d *Detector) detectCorrelation(groups []models.ErrorGroup, now time.Time, out map[string]models.DetectedPattern) {
	window := d.cfg.CorrelationWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	windowSeconds := int64(window.Seconds())

	// Windows are anchored to the Unix epoch so bucketing is stable across
	// cycles.
	windows := make(map[int64]map[models.Category]struct{})
	for _, group := range groups {
		for _, occ := range group.Occurrences {
			idx := occ.Timestamp.Unix() / windowSeconds
			cats, ok := windows[idx]
			if !ok {
				cats = make(map[models.Category]struct{})
				windows[idx] = cats
			}
			cats[group.Category] = struct{}{}
		}
	}
	totalWindows := len(windows)
	if totalWindows == 0 {
		return
	}

	pairCounts := make(map[[2]models.Category]int)
	for _, cats := range windows {
		list := make([]models.Category, 0, len(cats))
		for cat := range cats {
			list = append(list, cat)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		for i := 0; i < len(list); i++ {
			for j := i + 1; j < len(list); j++ {
				pairCounts[[2]models.Category{list[i], list[j]}]++
			}
		}
	}

	for pair, count := range pairCounts {
		correlation := float64(count) / float64(totalWindows)
		if correlation < d.cfg.MinCorrelation || count < d.cfg.MinCoOccurrences {
			continue
		}
		signature := fmt.Sprintf("correlation-%s-%s", pair[0], pair[1])
		out[signature] = models.DetectedPattern{
			Signature:     signature,
			Kind:          models.PatternCorrelation,
			CategoryA:     pair[0],
			CategoryB:     pair[1],
			CoOccurrences: count,
			Correlation:   correlation,
			Confidence:    minFloat(0.9, correlation*2),
			FirstSeen:     now,
			LastSeen:      now,
		}
	}
}

// evaluatePatternAlertsLocked checks every tracked pattern against its
// type-specific threshold and upserts deduplicated alerts. The returned
// notifications cover only newly created or reactivated alerts, so a
// still-active condition fires once, not once per cycle.
func (d *Detector) evaluatePatternAlertsLocked(now time.Time) []models.ActiveAlert {
	var notifications []models.ActiveAlert

	for _, pattern := range d.patterns {
		triggered := false
		severity := models.SeverityMedium
		reason := ""

		switch pattern.Kind {
		case models.PatternRecurring:
			if pattern.Occurrences >= d.cfg.NewPatternThreshold {
				triggered = true
				reason = fmt.Sprintf("recurring %s pattern: %d occurrences across %d groups",
					pattern.Category, pattern.Occurrences, len(pattern.GroupSignatures))
				switch {
				case pattern.AffectedUsers > 10:
					severity = models.SeverityCritical
				case pattern.Occurrences >= 3*d.cfg.NewPatternThreshold:
					severity = models.SeverityHigh
				}
			}
		case models.PatternTemporal:
			if pattern.Multiplier >= d.cfg.AlertMultiplier {
				triggered = true
				reason = fmt.Sprintf("temporal hot-spot: %s %d at %.1fx the mean",
					pattern.BucketKind, pattern.Bucket, pattern.Multiplier)
				if pattern.Multiplier >= 5 {
					severity = models.SeverityHigh
				}
			}
		case models.PatternCorrelation:
			if pattern.Correlation >= d.cfg.AlertCorrelation {
				triggered = true
				reason = fmt.Sprintf("correlated categories %s and %s (strength %.2f)",
					pattern.CategoryA, pattern.CategoryB, pattern.Correlation)
				if pattern.Correlation >= 0.7 {
					severity = models.SeverityHigh
				}
			}
		}

		if !triggered {
			continue
		}
		if alert := d.upsertAlertLocked("pattern-"+pattern.Signature, models.AlertPattern, severity, reason, now, map[string]string{
			"patternSignature": pattern.Signature,
			"kind":             string(pattern.Kind),
		}); alert != nil {
			notifications = append(notifications, *alert)
		}
	}
	return notifications
}

// upsertAlertLocked deduplicates alerts by id. It returns a notification
// only when the alert is new or was previously resolved. A still-active
// alert counts a re-trigger only when its reason changed; the reason text
// embeds the measured values, so an unchanged condition leaves the count
// alone.
func (d *Detector) upsertAlertLocked(id string, alertType models.AlertType, severity models.Severity, reason string, now time.Time, metadata map[string]string) *models.ActiveAlert {
	existing, ok := d.alerts[id]
	if ok && existing.Status == models.AlertActive {
		existing.LastTriggered = now
		if reason != existing.Reason {
			existing.TriggerCount++
			existing.Reason = reason
		}
		if severity > existing.Severity {
			existing.Severity = severity
		}
		return nil
	}

	alert := &models.ActiveAlert{
		ID:            id,
		Type:          alertType,
		Severity:      severity,
		Reason:        reason,
		CreatedAt:     now,
		LastTriggered: now,
		TriggerCount:  1,
		Status:        models.AlertActive,
		Metadata:      metadata,
	}
	if ok {
		alert.CreatedAt = existing.CreatedAt
		alert.TriggerCount = existing.TriggerCount + 1
	}
	d.alerts[id] = alert
	metrics.IncAlert(string(alertType))
	return alert
}

func (d *Detector) activeAlertCountLocked() int {
	count := 0
	for _, alert := range d.alerts {
		if alert.Status == models.AlertActive {
			count++
		}
	}
	return count
}

func (d *Detector) deliver(ctx context.Context, notifications []models.ActiveAlert) {
	for _, alert := range notifications {
		if err := d.sink.Notify(ctx, alert); err != nil {
			d.logger.Warn("alert delivery failed",
				slog.String("id", alert.ID), slog.Any("error", err))
		}
	}
}

// Patterns returns all tracked patterns, highest confidence first.
func (d *Detector) Patterns() []models.DetectedPattern {
	d.mu.RLock()
	result := make([]models.DetectedPattern, 0, len(d.patterns))
	for _, pattern := range d.patterns {
		result = append(result, *pattern)
	}
	d.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Confidence > result[j].Confidence
	})
	return result
}

// Alerts returns all active alerts, most recently triggered first.
func (d *Detector) Alerts() []models.ActiveAlert {
	d.mu.RLock()
	result := make([]models.ActiveAlert, 0, len(d.alerts))
	for _, alert := range d.alerts {
		if alert.Status == models.AlertActive {
			result = append(result, *alert)
		}
	}
	d.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].LastTriggered.After(result[j].LastTriggered)
	})
	return result
}

// ResolveAlert marks an active alert resolved.
func (d *Detector) ResolveAlert(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	alert, ok := d.alerts[id]
	if !ok {
		return utils.NewAppError("patterns.ResolveAlert", "no alert with id "+id, nil)
	}
	alert.Status = models.AlertResolved
	return nil
}

// Report summarises current analysis state: top patterns by confidence,
// sharply increasing trends, and active alerts.
func (d *Detector) Report() models.PatternReport {
	report := models.PatternReport{GeneratedAt: time.Now()}

	patterns := d.Patterns()
	if len(patterns) > 10 {
		patterns = patterns[:10]
	}
	report.TopPatterns = patterns

	for _, trend := range d.Trends() {
		if trend.Direction == models.TrendIncreasing && trend.GrowthRate > 1 {
			report.IncreasingTrends = append(report.IncreasingTrends, trend)
		}
	}
	report.ActiveAlerts = d.Alerts()
	return report
}

// Flush persists patterns, trends, and alerts.
func (d *Detector) Flush() error {
	if err := d.persistPatterns(); err != nil {
		return err
	}
	return d.persistTrends()
}

func (d *Detector) persistPatterns() error {
	d.mu.RLock()
	patterns := make([]models.DetectedPattern, 0, len(d.patterns))
	for _, pattern := range d.patterns {
		patterns = append(patterns, *pattern)
	}
	alerts := make([]models.ActiveAlert, 0, len(d.alerts))
	for _, alert := range d.alerts {
		alerts = append(alerts, *alert)
	}
	d.mu.RUnlock()

	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Signature < patterns[j].Signature })
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })

	if err := d.files.Save(patternsDoc, patterns); err != nil {
		return err
	}
	return d.files.Save(alertsDoc, alerts)
}

func (d *Detector) persistTrends() error {
	d.mu.RLock()
	trends := make([]models.ErrorTrend, 0, len(d.trends))
	for _, trend := range d.trends {
		trends = append(trends, *trend)
	}
	d.mu.RUnlock()

	sort.Slice(trends, func(i, j int) bool { return trends[i].Category < trends[j].Category })
	return d.files.Save(trendsDoc, trends)
}

func (d *Detector) load() error {
	var patterns []models.DetectedPattern
	if err := d.files.Load(patternsDoc, &patterns); err != nil {
		return err
	}
	var trends []models.ErrorTrend
	if err := d.files.Load(trendsDoc, &trends); err != nil {
		return err
	}
	var alerts []models.ActiveAlert
	if err := d.files.Load(alertsDoc, &alerts); err != nil {
		return err
	}

	d.mu.Lock()
	for i := range patterns {
		pattern := patterns[i]
		d.patterns[pattern.Signature] = &pattern
	}
	for i := range trends {
		trend := trends[i]
		d.trends[trend.Category] = &trend
	}
	for i := range alerts {
		alert := alerts[i]
		d.alerts[alert.ID] = &alert
	}
	d.mu.Unlock()
	return nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
