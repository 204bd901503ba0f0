// Package resolution records fixes applied to error signatures, tracks
// whether they hold, and maintains the suggested-fix knowledge base.
package resolution

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/errwatch/errwatch/internal/config"
	"github.com/errwatch/errwatch/internal/metrics"
	"github.com/errwatch/errwatch/internal/models"
	"github.com/errwatch/errwatch/internal/store"
	"github.com/errwatch/errwatch/internal/utils"
)

const (
	resolutionsDoc   = "resolutions.json"
	fixesDoc         = "fixes.json"
	effectivenessDoc = "effectiveness.json"
)

// GroupReader exposes the aggregation engine lookup used to derive the
// coarse fix pattern for a signature.
type GroupReader interface {
	Group(signature string) (models.ErrorGroup, bool)
}

// Input carries the developer-supplied detail for a resolution.
type Input struct {
	Notes                string
	FixDescription       string
	FixType              models.FixType
	DeveloperID          string
	EstimatedEffortHours float64
	RootCause            string
	PreventionMeasures   string
	RelatedIssues        []string
	Tags                 []string
}

// Tracker implements the resolution lifecycle: UNRESOLVED -> RESOLVED ->
// RECURRED -> RESOLVED again, with no terminal state.
type Tracker struct {
	logger  *slog.Logger
	cfg     config.ResolutionConfig
	storage config.StorageConfig
	files   *store.Files
	groups  GroupReader

	mu            sync.RWMutex
	resolutions   map[string]*models.Resolution
	fixes         map[string]*models.SuggestedFix
	effectiveness map[string]*models.EffectivenessRecord

	done      chan struct{}
	stopped   chan struct{}
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// New constructs a Tracker and reloads persisted state.
func New(logger *slog.Logger, cfg config.ResolutionConfig, storage config.StorageConfig, files *store.Files) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		logger:        logger,
		cfg:           cfg,
		storage:       storage,
		files:         files,
		resolutions:   make(map[string]*models.Resolution),
		fixes:         make(map[string]*models.SuggestedFix),
		effectiveness: make(map[string]*models.EffectivenessRecord),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

// SetGroupReader wires the aggregation lookup; bound late because the
// aggregation engine also holds a reference to this tracker.
func (t *Tracker) SetGroupReader(reader GroupReader) {
	t.groups = reader
}

// Start launches the periodic flush timer.
func (t *Tracker) Start() {
	t.startOnce.Do(func() {
		t.started = true
		go t.run()
	})
}

// Stop halts the timer and performs one final synchronous flush. Safe on a
// tracker that was never started.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		// Claim the start slot so a late Start cannot launch the timer;
		// the Once also publishes t.started if Start already ran.
		t.startOnce.Do(func() {})
		close(t.done)
		if t.started {
			<-t.stopped
		}
		if err := t.Flush(); err != nil {
			t.logger.Error("final resolution flush failed", slog.Any("error", err))
		}
	})
}

func (t *Tracker) run() {
	defer close(t.stopped)

	interval := t.storage.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.Flush(); err != nil {
				metrics.IncFlushError()
				t.logger.Error("resolution flush failed", slog.Any("error", err))
			}
		case <-t.done:
			return
		}
	}
}

// MarkResolved records the first resolution of a signature. Re-resolving a
// recurred signature goes through ReResolve instead.
func (t *Tracker) MarkResolved(signature string, input Input) (models.Resolution, error) {
	if signature == "" {
		return models.Resolution{}, utils.NewAppError("resolution.MarkResolved", "empty signature", nil)
	}
	now := time.Now()
	pattern := t.extractPattern(signature)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.resolutions[signature]; exists {
		return models.Resolution{}, utils.NewAppError("resolution.MarkResolved",
			"signature already has a resolution; use ReResolve", nil)
	}

	fixType := input.FixType
	if fixType == "" {
		fixType = models.FixUnknown
	}

	res := &models.Resolution{
		ID:                   uuid.NewString(),
		Signature:            signature,
		Status:               models.StatusResolved,
		ResolvedAt:           now,
		Notes:                input.Notes,
		FixDescription:       input.FixDescription,
		FixType:              fixType,
		DeveloperID:          input.DeveloperID,
		EstimatedEffortHours: input.EstimatedEffortHours,
		RootCause:            input.RootCause,
		PreventionMeasures:   input.PreventionMeasures,
		RelatedIssues:        append([]string(nil), input.RelatedIssues...),
		Tags:                 append([]string(nil), input.Tags...),
		FixPattern:           pattern,
		History: []models.ResolutionHistoryEntry{{
			Action:    models.ActionResolved,
			Timestamp: now,
			Note:      input.Notes,
		}},
	}
	t.resolutions[signature] = res

	t.recordFixLocked(pattern, fixType, input.FixDescription, now)
	t.effectiveness[res.ID] = &models.EffectivenessRecord{
		ResolutionID: res.ID,
		Signature:    signature,
		FixType:      fixType,
		DeveloperID:  input.DeveloperID,
		ResolvedAt:   now,
		Score:        1,
	}

	return cloneResolution(res), nil
}

// TrackRecurrence records that a resolved signature fired again. Absence of
// a prior resolution is expected and returns false; recurrence tracking is
// best-effort by design.
func (t *Tracker) TrackRecurrence(signature string, _ map[string]any) bool {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	res, ok := t.resolutions[signature]
	if !ok {
		return false
	}

	res.RecurrenceCount++
	res.LastRecurrence = &now
	res.Status = models.StatusRecurred
	elapsed := now.Sub(res.ResolvedAt)
	res.History = append(res.History, models.ResolutionHistoryEntry{
		Action:    models.ActionRecurred,
		Timestamp: now,
		Note:      fmt.Sprintf("recurred %s after resolution", elapsed.Round(time.Second)),
	})

	rec, ok := t.effectiveness[res.ID]
	if !ok {
		rec = &models.EffectivenessRecord{
			ResolutionID: res.ID,
			Signature:    signature,
			FixType:      res.FixType,
			DeveloperID:  res.DeveloperID,
			ResolvedAt:   res.ResolvedAt,
		}
		t.effectiveness[res.ID] = rec
	}
	rec.RecurrenceCount = res.RecurrenceCount

	previous := rec.LastRecurrence
	if previous.IsZero() {
		previous = res.ResolvedAt
	}
	gap := now.Sub(previous)
	if res.RecurrenceCount == 1 {
		rec.TimeToFirstRecur = elapsed
		rec.AvgRecurrenceGap = gap
		t.revokeFixSuccessLocked(res)
	} else {
		n := float64(res.RecurrenceCount)
		rec.AvgRecurrenceGap = time.Duration((float64(rec.AvgRecurrenceGap)*(n-1) + float64(gap)) / n)
	}
	rec.LastRecurrence = now

	score := t.scoreLocked(res, rec, now)
	res.EffectivenessScore = &score
	rec.Score = score

	return true
}

// ReResolve replaces the fix for a previously resolved signature and starts
// a fresh observation window. It errors when no prior resolution exists.
func (t *Tracker) ReResolve(signature string, input Input) (models.Resolution, error) {
	now := time.Now()
	pattern := t.extractPattern(signature)

	t.mu.Lock()
	defer t.mu.Unlock()

	res, ok := t.resolutions[signature]
	if !ok {
		return models.Resolution{}, utils.NewAppError("resolution.ReResolve",
			"no prior resolution for "+signature, nil)
	}

	prior := res.RecurrenceCount
	fixType := input.FixType
	if fixType == "" {
		fixType = models.FixUnknown
	}

	res.Status = models.StatusResolved
	res.ResolvedAt = now
	res.Notes = input.Notes
	res.FixDescription = input.FixDescription
	res.FixType = fixType
	res.DeveloperID = input.DeveloperID
	res.EstimatedEffortHours = input.EstimatedEffortHours
	res.RootCause = input.RootCause
	res.PreventionMeasures = input.PreventionMeasures
	res.RelatedIssues = append([]string(nil), input.RelatedIssues...)
	res.Tags = append([]string(nil), input.Tags...)
	res.FixPattern = pattern
	res.RecurrenceCount = 0
	res.LastRecurrence = nil
	res.EffectivenessScore = nil
	res.History = append(res.History, models.ResolutionHistoryEntry{
		Action:    models.ActionReResolved,
		Timestamp: now,
		Note:      fmt.Sprintf("re-resolved after %d recurrences", prior),
	})

	t.recordFixLocked(pattern, fixType, input.FixDescription, now)
	t.effectiveness[res.ID] = &models.EffectivenessRecord{
		ResolutionID: res.ID,
		Signature:    signature,
		FixType:      fixType,
		DeveloperID:  input.DeveloperID,
		ResolvedAt:   now,
		Score:        1,
	}

	return cloneResolution(res), nil
}

// Resolution returns a copy of the resolution for a signature.
func (t *Tracker) Resolution(signature string) (models.Resolution, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	res, ok := t.resolutions[signature]
	if !ok {
		return models.Resolution{}, false
	}
	return cloneResolution(res), true
}

// Status reports the lifecycle state for a signature; signatures without a
// resolution are UNRESOLVED.
func (t *Tracker) Status(signature string) models.ResolutionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if res, ok := t.resolutions[signature]; ok {
		return res.Status
	}
	return models.StatusUnresolved
}

// extractPattern derives the coarse suggested-fix key for a signature. When
// the group is known the key combines category, the leading token of the
// normalized message, and service; otherwise a signature prefix keeps fixes
// for the same class adjacent.
func (t *Tracker) extractPattern(signature string) string {
	if t.groups != nil {
		if group, ok := t.groups.Group(signature); ok {
			return fixPatternFor(group)
		}
	}
	if len(signature) > 8 {
		return "sig:" + signature[:8]
	}
	return "sig:" + signature
}

// Flush writes resolutions, fixes, and effectiveness records to disk.
func (t *Tracker) Flush() error {
	t.mu.RLock()
	resolutions := make([]models.Resolution, 0, len(t.resolutions))
	for _, res := range t.resolutions {
		resolutions = append(resolutions, cloneResolution(res))
	}
	fixes := make([]models.SuggestedFix, 0, len(t.fixes))
	for _, fix := range t.fixes {
		copied := *fix
		copied.Fixes = append([]models.FixOption(nil), fix.Fixes...)
		fixes = append(fixes, copied)
	}
	records := make([]models.EffectivenessRecord, 0, len(t.effectiveness))
	for _, rec := range t.effectiveness {
		records = append(records, *rec)
	}
	t.mu.RUnlock()

	sort.Slice(resolutions, func(i, j int) bool { return resolutions[i].Signature < resolutions[j].Signature })
	sort.Slice(fixes, func(i, j int) bool { return fixes[i].Pattern < fixes[j].Pattern })
	sort.Slice(records, func(i, j int) bool { return records[i].ResolutionID < records[j].ResolutionID })

	if err := t.files.Save(resolutionsDoc, resolutions); err != nil {
		return err
	}
	if err := t.files.Save(fixesDoc, fixes); err != nil {
		return err
	}
	return t.files.Save(effectivenessDoc, records)
}

func (t *Tracker) load() error {
	var resolutions []models.Resolution
	if err := t.files.Load(resolutionsDoc, &resolutions); err != nil {
		return err
	}
	var fixes []models.SuggestedFix
	if err := t.files.Load(fixesDoc, &fixes); err != nil {
		return err
	}
	var records []models.EffectivenessRecord
	if err := t.files.Load(effectivenessDoc, &records); err != nil {
		return err
	}

	t.mu.Lock()
	for i := range resolutions {
		res := resolutions[i]
		t.resolutions[res.Signature] = &res
	}
	for i := range fixes {
		fix := fixes[i]
		t.fixes[fix.Pattern] = &fix
	}
	for i := range records {
		rec := records[i]
		t.effectiveness[rec.ResolutionID] = &rec
	}
	t.mu.Unlock()
	return nil
}

func cloneResolution(res *models.Resolution) models.Resolution {
	copied := *res
	copied.RelatedIssues = append([]string(nil), res.RelatedIssues...)
	copied.Tags = append([]string(nil), res.Tags...)
	copied.History = append([]models.ResolutionHistoryEntry(nil), res.History...)
	if res.LastRecurrence != nil {
		lr := *res.LastRecurrence
		copied.LastRecurrence = &lr
	}
	if res.EffectivenessScore != nil {
		score := *res.EffectivenessScore
		copied.EffectivenessScore = &score
	}
	return copied
}
