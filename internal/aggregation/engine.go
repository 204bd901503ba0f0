// Package aggregation ingests raw error events, groups them by stable
// signature, and flags groups whose recent rate or classified severity
// crosses the critical threshold.
package aggregation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/errwatch/errwatch/internal/alerting"
	"github.com/errwatch/errwatch/internal/config"
	"github.com/errwatch/errwatch/internal/metrics"
	"github.com/errwatch/errwatch/internal/models"
	"github.com/errwatch/errwatch/internal/store"
	"github.com/errwatch/errwatch/internal/utils"
)

const (
	groupsDoc   = "groups.json"
	criticalDoc = "critical.json"
)

// RecurrenceTracker is the optional post-ingest hook into resolution
// tracking. It reports whether a recurrence was actually recorded; absence of
// a prior resolution is expected and returns false.
type RecurrenceTracker interface {
	TrackRecurrence(signature string, context map[string]any) bool
}

type ingestRequest struct {
	raw   models.RawErrorEvent
	reply chan models.IngestResult
}

// Engine is the error aggregation engine. Ingestion runs on a single worker
// goroutine draining a queue, so per-signature read-modify-write is
// serialized by construction; queries read a snapshot under a short lock.
type Engine struct {
	logger     *slog.Logger
	cfg        config.AggregationConfig
	storage    config.StorageConfig
	files      *store.Files
	sink       alerting.Sink
	recurrence RecurrenceTracker
	latencies  *utils.LatencyTracker

	mu       sync.RWMutex
	groups   map[string]*models.ErrorGroup
	critical map[string]*models.CriticalErrorRecord

	events    chan ingestRequest
	done      chan struct{}
	stopped   chan struct{}
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// New constructs an Engine and reloads any persisted state from files.
// sink and recurrence may be nil.
func New(logger *slog.Logger, cfg config.AggregationConfig, storage config.StorageConfig, files *store.Files, sink alerting.Sink, recurrence RecurrenceTracker) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = alerting.NewLogSink(logger)
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 1024
	}

	e := &Engine{
		logger:     logger,
		cfg:        cfg,
		storage:    storage,
		files:      files,
		sink:       sink,
		recurrence: recurrence,
		latencies:  utils.NewLatencyTracker(1024),
		groups:     make(map[string]*models.ErrorGroup),
		critical:   make(map[string]*models.CriticalErrorRecord),
		events:     make(chan ingestRequest, queue),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

// SetRecurrenceTracker wires the resolution hook after construction; the
// tracker itself needs a reference back to this engine, so one of the two
// links is bound late.
func (e *Engine) SetRecurrenceTracker(tracker RecurrenceTracker) {
	e.recurrence = tracker
}

// Start launches the ingest worker and flush timer.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.started = true
		go e.run()
	})
}

// Stop halts the worker and performs one final synchronous flush. Safe on an
// engine that was never started.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		// Claim the start slot so a late Start cannot launch the worker;
		// the Once also publishes e.started if Start already ran.
		e.startOnce.Do(func() {})
		close(e.done)
		if e.started {
			<-e.stopped
		}
		if err := e.Flush(); err != nil {
			e.logger.Error("final aggregation flush failed", slog.Any("error", err))
		}
	})
}

// Ingest submits one raw error event and waits for its result. Malformed
// input never fails; every field degrades to a default so a signature can
// still be computed.
func (e *Engine) Ingest(ctx context.Context, raw models.RawErrorEvent) (models.IngestResult, error) {
	req := ingestRequest{raw: raw, reply: make(chan models.IngestResult, 1)}

	select {
	case e.events <- req:
	case <-e.done:
		return models.IngestResult{}, utils.NewAppError("aggregation.Ingest", "engine stopped", nil)
	case <-ctx.Done():
		return models.IngestResult{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res, nil
	case <-e.stopped:
		return models.IngestResult{}, utils.NewAppError("aggregation.Ingest", "engine stopped", nil)
	case <-ctx.Done():
		return models.IngestResult{}, ctx.Err()
	}
}

func (e *Engine) run() {
	defer close(e.stopped)

	interval := e.storage.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case req := <-e.events:
			req.reply <- e.process(req.raw)
		case <-ticker.C:
			e.cleanupExpired(time.Now())
			if err := e.Flush(); err != nil {
				// Keep operating in memory; the next tick retries.
				e.logger.Error("aggregation flush failed", slog.Any("error", err))
			}
		case <-e.done:
			return
		}
	}
}

func (e *Engine) process(raw models.RawErrorEvent) models.IngestResult {
	start := time.Now()
	ev := preprocess(raw, start)

	signature := Signature(ev.Name, ev.Message, ev.Stack, ev.Code, ev.Service)
	category := Categorize(ev)
	severity := ClassifySeverity(ev, category)

	e.mu.Lock()
	group, ok := e.groups[signature]
	if !ok {
		group = &models.ErrorGroup{
			Signature:        signature,
			Category:         category,
			Severity:         severity,
			FirstOccurrence:  ev.Timestamp,
			ErrorName:        ev.Name,
			ErrorMessage:     ev.Message,
			StackTrace:       ev.Stack,
			Service:          ev.Service,
			ResolutionStatus: models.StatusUnresolved,
		}
		e.groups[signature] = group
	}

	group.Count++
	group.LastOccurrence = ev.Timestamp
	if severity > group.Severity {
		group.Severity = severity
	}

	occ := models.Occurrence{
		Timestamp: ev.Timestamp,
		UserID:    ev.UserID,
		SessionID: ev.SessionID,
		Context:   serializeContext(ev.Context),
		UserAgent: ev.UserAgent,
		Origin:    ev.Origin,
	}
	group.Occurrences = append(group.Occurrences, occ)
	tail := e.cfg.OccurrenceTail
	if tail <= 0 {
		tail = 100
	}
	if len(group.Occurrences) > tail {
		group.Occurrences = group.Occurrences[len(group.Occurrences)-tail:]
	}
	if occ.Context != "" {
		group.Contexts = appendUnique(group.Contexts, occ.Context)
	}
	if ev.UserID != "" {
		group.AffectedUsers = appendUnique(group.AffectedUsers, ev.UserID)
	}
	group.Tags = buildTags(category, ev)

	recent := recentOccurrences(group, start.Add(-e.criticalWindow()))
	isCritical := group.Severity >= models.SeverityCritical || recent >= e.cfg.CriticalThreshold
	var alert *models.ActiveAlert
	if isCritical {
		alert = e.flagCritical(group, recent, start)
	}

	result := models.IngestResult{
		Signature:  signature,
		Category:   group.Category,
		Severity:   group.Severity,
		Count:      group.Count,
		IsCritical: isCritical,
	}
	groupCount := len(e.groups)
	e.mu.Unlock()

	if alert != nil {
		if err := e.sink.Notify(context.Background(), *alert); err != nil {
			e.logger.Warn("critical alert delivery failed", slog.Any("error", err))
		}
	}

	if e.recurrence != nil {
		if e.recurrence.TrackRecurrence(signature, ev.Context) {
			e.mu.Lock()
			if g, ok := e.groups[signature]; ok {
				g.ResolutionStatus = models.StatusRecurred
			}
			e.mu.Unlock()
		}
	}

	elapsed := time.Since(start)
	e.latencies.Observe(elapsed)
	metrics.ObserveIngest(elapsed, string(result.Category))
	metrics.SetErrorGroups(groupCount)
	if total := e.latencies.Total(); total%1000 == 0 {
		e.logger.Info("ingest latency",
			slog.Duration("p95", e.latencies.Percentile(95)),
			slog.Int64("events", total))
	}

	return result
}

func (e *Engine) criticalWindow() time.Duration {
	if e.cfg.CriticalWindow <= 0 {
		return time.Hour
	}
	return e.cfg.CriticalWindow
}

// flagCritical creates or refreshes the critical record for a group. The
// returned alert is non-nil only when the record is newly created or
// reactivated, so a still-critical group does not re-alert on every event.
func (e *Engine) flagCritical(group *models.ErrorGroup, recent int, now time.Time) *models.ActiveAlert {
	rec, ok := e.critical[group.Signature]
	if !ok {
		rec = &models.CriticalErrorRecord{
			Signature:          group.Signature,
			Category:           group.Category,
			Severity:           group.Severity,
			Count:              group.Count,
			RecentCount:        recent,
			FlaggedAt:          now,
			Status:             models.CriticalActive,
			AffectedUsersCount: len(group.AffectedUsers),
			AlertsSent:         1,
		}
		e.critical[group.Signature] = rec
		metrics.IncCriticalFlag()
		return criticalAlert(group, recent, now)
	}

	rec.Count = group.Count
	rec.RecentCount = recent
	rec.Severity = group.Severity
	rec.AffectedUsersCount = len(group.AffectedUsers)
	if rec.Status == models.CriticalResolved {
		rec.Status = models.CriticalActive
		rec.FlaggedAt = now
		rec.AlertsSent++
		metrics.IncCriticalFlag()
		return criticalAlert(group, recent, now)
	}
	return nil
}

func criticalAlert(group *models.ErrorGroup, recent int, now time.Time) *models.ActiveAlert {
	return &models.ActiveAlert{
		ID:            "critical-" + group.Signature,
		Type:          models.AlertCritical,
		Severity:      group.Severity,
		Reason:        fmt.Sprintf("%s (%s) hit %d occurrences in the last hour", group.ErrorName, group.Category, recent),
		CreatedAt:     now,
		LastTriggered: now,
		TriggerCount:  1,
		Status:        models.AlertActive,
		Metadata: map[string]string{
			"signature": group.Signature,
			"category":  string(group.Category),
		},
	}
}

// Group returns a copy of the group for one signature.
func (e *Engine) Group(signature string) (models.ErrorGroup, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	group, ok := e.groups[signature]
	if !ok {
		return models.ErrorGroup{}, false
	}
	return cloneGroup(group), true
}

// Groups returns filtered, sorted, paginated group copies.
func (e *Engine) Groups(filter models.GroupFilter) []models.ErrorGroup {
	e.mu.RLock()
	result := make([]models.ErrorGroup, 0, len(e.groups))
	for _, group := range e.groups {
		if filter.Category != "" && group.Category != filter.Category {
			continue
		}
		if filter.MinSeverity > 0 && group.Severity < filter.MinSeverity {
			continue
		}
		if !filter.Since.IsZero() && group.LastOccurrence.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && group.FirstOccurrence.After(filter.Until) {
			continue
		}
		result = append(result, cloneGroup(group))
	}
	e.mu.RUnlock()

	switch filter.SortBy {
	case models.SortByUsers:
		sort.SliceStable(result, func(i, j int) bool {
			return len(result[i].AffectedUsers) > len(result[j].AffectedUsers)
		})
	default:
		sort.SliceStable(result, func(i, j int) bool {
			return result[i].Count > result[j].Count
		})
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

// Snapshot returns copies of all groups for analysis cycles.
func (e *Engine) Snapshot() []models.ErrorGroup {
	return e.Groups(models.GroupFilter{})
}

// CriticalErrors returns all active critical records, most recent first.
func (e *Engine) CriticalErrors() []models.CriticalErrorRecord {
	e.mu.RLock()
	result := make([]models.CriticalErrorRecord, 0, len(e.critical))
	for _, rec := range e.critical {
		if rec.Status == models.CriticalActive {
			result = append(result, *rec)
		}
	}
	e.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].FlaggedAt.After(result[j].FlaggedAt)
	})
	return result
}

// ResolveCritical marks a critical record resolved. Records are never
// deleted, only resolved explicitly.
func (e *Engine) ResolveCritical(signature string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.critical[signature]
	if !ok {
		return utils.NewAppError("aggregation.ResolveCritical", "no critical record for "+signature, nil)
	}
	rec.Status = models.CriticalResolved
	return nil
}

// SetResolutionStatus updates the resolution status stored on a group.
func (e *Engine) SetResolutionStatus(signature string, status models.ResolutionStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if group, ok := e.groups[signature]; ok {
		group.ResolutionStatus = status
	}
}

// Stats aggregates the group store over an optional time window bounded by
// each group's last occurrence.
func (e *Engine) Stats(since, until time.Time) models.ErrorStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := models.ErrorStats{
		ByCategory: make(map[models.Category]int64),
		BySeverity: make(map[string]int64),
	}
	top := make([]models.TopError, 0, len(e.groups))

	for _, group := range e.groups {
		if !since.IsZero() && group.LastOccurrence.Before(since) {
			continue
		}
		if !until.IsZero() && group.FirstOccurrence.After(until) {
			continue
		}
		stats.TotalGroups++
		stats.TotalErrors += group.Count
		stats.ByCategory[group.Category] += group.Count
		stats.BySeverity[group.Severity.String()] += group.Count
		top = append(top, models.TopError{
			Signature:    group.Signature,
			Category:     group.Category,
			Severity:     group.Severity,
			Count:        group.Count,
			ErrorMessage: group.ErrorMessage,
		})
	}

	for _, rec := range e.critical {
		if rec.Status == models.CriticalActive {
			stats.CriticalCount++
		}
	}

	sort.Slice(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	if len(top) > 10 {
		top = top[:10]
	}
	stats.Top = top
	return stats
}

// Flush writes a consistent snapshot of groups and critical records to disk.
// The snapshot is taken under a short lock; the disk write happens outside it.
func (e *Engine) Flush() error {
	e.mu.RLock()
	groups := make([]models.ErrorGroup, 0, len(e.groups))
	for _, group := range e.groups {
		groups = append(groups, cloneGroup(group))
	}
	critical := make([]models.CriticalErrorRecord, 0, len(e.critical))
	for _, rec := range e.critical {
		critical = append(critical, *rec)
	}
	e.mu.RUnlock()

	sort.Slice(groups, func(i, j int) bool { return groups[i].Signature < groups[j].Signature })
	sort.Slice(critical, func(i, j int) bool { return critical[i].Signature < critical[j].Signature })

	if err := e.files.Save(groupsDoc, groups); err != nil {
		metrics.IncFlushError()
		return err
	}
	if err := e.files.Save(criticalDoc, critical); err != nil {
		metrics.IncFlushError()
		return err
	}
	return nil
}

func (e *Engine) load() error {
	var groups []models.ErrorGroup
	if err := e.files.Load(groupsDoc, &groups); err != nil {
		return err
	}
	var critical []models.CriticalErrorRecord
	if err := e.files.Load(criticalDoc, &critical); err != nil {
		return err
	}

	e.mu.Lock()
	for i := range groups {
		group := groups[i]
		e.groups[group.Signature] = &group
	}
	for i := range critical {
		rec := critical[i]
		e.critical[rec.Signature] = &rec
	}
	e.mu.Unlock()

	if len(groups) > 0 {
		e.logger.Info("aggregation state loaded",
			slog.Int("groups", len(groups)), slog.Int("critical", len(critical)))
	}
	return nil
}

// cleanupExpired drops groups whose last occurrence is past the retention
// horizon. Critical records survive cleanup; they resolve explicitly.
func (e *Engine) cleanupExpired(now time.Time) {
	if e.storage.Retention <= 0 {
		return
	}
	horizon := now.Add(-e.storage.Retention)

	e.mu.Lock()
	defer e.mu.Unlock()
	for signature, group := range e.groups {
		if group.LastOccurrence.Before(horizon) {
			delete(e.groups, signature)
		}
	}
}

func preprocess(raw models.RawErrorEvent, now time.Time) models.ErrorEvent {
	ev := models.ErrorEvent{
		Name:      raw.Name,
		Message:   raw.Message,
		Stack:     raw.Stack,
		Status:    raw.Status,
		Code:      raw.Code,
		UserID:    raw.UserID,
		SessionID: raw.SessionID,
		Context:   raw.Context,
		UserAgent: raw.UserAgent,
		Origin:    raw.Origin,
		Service:   raw.Service,
		Operation: raw.Operation,
	}

	if raw.Error != nil {
		if ev.Name == "" {
			ev.Name = raw.Error.Name
		}
		if ev.Message == "" {
			ev.Message = raw.Error.Message
		}
		if ev.Stack == "" {
			ev.Stack = raw.Error.Stack
		}
		if ev.Status == 0 {
			ev.Status = raw.Error.Status
		}
		if ev.Code == "" {
			ev.Code = raw.Error.Code
		}
	}

	if looksInformational(ev) {
		ev.Name = "UnknownError"
	}
	if ev.Name == "" {
		ev.Name = "UnknownError"
	}
	if ev.Message == "" {
		ev.Message = "No message provided"
	}
	if ev.Service == "" {
		ev.Service = "unknown"
	}
	if ts, err := utils.ParseRFC3339(raw.Timestamp); err == nil {
		ev.Timestamp = ts
	} else {
		ev.Timestamp = now
	}
	return ev
}

// recentOccurrences counts occurrences at or after cutoff. Client clocks can
// deliver timestamps out of order, so the whole bounded tail is scanned.
func recentOccurrences(group *models.ErrorGroup, cutoff time.Time) int {
	count := 0
	for _, occ := range group.Occurrences {
		if !occ.Timestamp.Before(cutoff) {
			count++
		}
	}
	return count
}

func serializeContext(ctx map[string]any) string {
	if len(ctx) == 0 {
		return ""
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return ""
	}
	return string(data)
}

func buildTags(category models.Category, ev models.ErrorEvent) []string {
	tags := []string{"category:" + string(category)}
	if ev.Service != "" && ev.Service != "unknown" {
		tags = append(tags, "service:"+ev.Service)
	}
	if ev.Operation != "" {
		tags = append(tags, "operation:"+ev.Operation)
	}
	if ev.Status > 0 {
		tags = append(tags, "status:"+strconv.Itoa(ev.Status))
	}
	if ev.Code != "" {
		tags = append(tags, "code:"+ev.Code)
	}
	return tags
}

func appendUnique(values []string, value string) []string {
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}

func cloneGroup(group *models.ErrorGroup) models.ErrorGroup {
	copied := *group
	copied.Occurrences = append([]models.Occurrence(nil), group.Occurrences...)
	copied.Contexts = append([]string(nil), group.Contexts...)
	copied.AffectedUsers = append([]string(nil), group.AffectedUsers...)
	copied.Tags = append([]string(nil), group.Tags...)
	return copied
}
