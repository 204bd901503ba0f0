package patterns

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/errwatch/errwatch/internal/config"
	"github.com/errwatch/errwatch/internal/models"
	"github.com/errwatch/errwatch/internal/store"
)

type fakeSource struct {
	groups []models.ErrorGroup
}

func (f *fakeSource) Snapshot() []models.ErrorGroup { return f.groups }

type captureSink struct {
	mu     sync.Mutex
	alerts []models.ActiveAlert
}

func (s *captureSink) Notify(_ context.Context, alert models.ActiveAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func testConfig() config.PatternsConfig {
	return config.PatternsConfig{
		MinOccurrences:      5,
		TemporalMultiplier:  2,
		CorrelationWindow:   5 * time.Minute,
		MinCorrelation:      0.3,
		MinCoOccurrences:    3,
		NewPatternThreshold: 10,
		AlertMultiplier:     3,
		AlertCorrelation:    0.5,
		TrendMaxPoints:      30,
	}
}

func testDetector(t *testing.T, cfg config.PatternsConfig, source GroupSource, sink *captureSink) *Detector {
	t.Helper()
	files, err := store.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	detector, err := New(nil, cfg, config.StorageConfig{}, files, source, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return detector
}

func occurrencesAt(times ...time.Time) []models.Occurrence {
	occs := make([]models.Occurrence, len(times))
	for i, ts := range times {
		occs[i] = models.Occurrence{Timestamp: ts}
	}
	return occs
}

func findPattern(patterns []models.DetectedPattern, kind models.PatternKind) (models.DetectedPattern, bool) {
	for _, p := range patterns {
		if p.Kind == kind {
			return p, true
		}
	}
	return models.DetectedPattern{}, false
}

func TestDetectRecurringPattern(t *testing.T) {
	source := &fakeSource{groups: []models.ErrorGroup{{
		Signature:     "sig-a",
		Category:      models.CategoryDatabase,
		ErrorMessage:  "User 123 not found",
		Service:       "api",
		Count:         25,
		AffectedUsers: []string{"u1", "u2", "u3"},
	}}}
	sink := &captureSink{}
	detector := testDetector(t, testConfig(), source, sink)

	detector.RunPatternAnalysis(context.Background())

	pattern, ok := findPattern(detector.Patterns(), models.PatternRecurring)
	if !ok {
		t.Fatal("no recurring pattern detected")
	}
	if pattern.Occurrences != 25 || pattern.AffectedUsers != 3 {
		t.Fatalf("pattern = %+v", pattern)
	}
	// 0.5*min(1,25/20) + 0.3*min(1,1/10) + 0.2*min(1,3/5)
	want := 0.5 + 0.03 + 0.12
	if math.Abs(pattern.Confidence-want) > 1e-9 {
		t.Fatalf("confidence = %f, want %f", pattern.Confidence, want)
	}

	// 25 occurrences crosses the alert threshold; one notification only.
	if sink.count() != 1 {
		t.Fatalf("alerts = %d, want 1", sink.count())
	}
	detector.RunPatternAnalysis(context.Background())
	if sink.count() != 1 {
		t.Fatalf("still-active alert re-notified, alerts = %d", sink.count())
	}
}

func TestDetectRecurringBelowFloor(t *testing.T) {
	source := &fakeSource{groups: []models.ErrorGroup{{
		Signature: "sig-a", Category: models.CategoryDatabase,
		ErrorMessage: "rare glitch", Service: "api", Count: 4,
	}}}
	detector := testDetector(t, testConfig(), source, &captureSink{})

	detector.RunPatternAnalysis(context.Background())
	if _, ok := findPattern(detector.Patterns(), models.PatternRecurring); ok {
		t.Fatal("group below the occurrence floor should not form a pattern")
	}
}

func TestRecurringMergesNormalizedGroups(t *testing.T) {
	source := &fakeSource{groups: []models.ErrorGroup{
		{Signature: "sig-a", Category: models.CategoryClient, ErrorMessage: "User 123 not found", Service: "api", Count: 10},
		{Signature: "sig-b", Category: models.CategoryClient, ErrorMessage: "User 999 not found", Service: "api", Count: 10},
	}}
	detector := testDetector(t, testConfig(), source, &captureSink{})

	detector.RunPatternAnalysis(context.Background())
	pattern, ok := findPattern(detector.Patterns(), models.PatternRecurring)
	if !ok {
		t.Fatal("no recurring pattern detected")
	}
	if len(pattern.GroupSignatures) != 2 || pattern.Occurrences != 20 {
		t.Fatalf("groups not merged: %+v", pattern)
	}
}

func TestDetectTemporalPattern(t *testing.T) {
	// Every occurrence lands in the same hour, far above the hourly mean.
	base := time.Date(2026, 8, 24, 3, 10, 0, 0, time.UTC)
	times := make([]time.Time, 30)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * time.Second)
	}
	source := &fakeSource{groups: []models.ErrorGroup{{
		Signature: "sig-a", Category: models.CategoryServer,
		ErrorMessage: "boom", Service: "api", Count: 30,
		Occurrences: occurrencesAt(times...),
	}}}
	detector := testDetector(t, testConfig(), source, &captureSink{})

	detector.RunPatternAnalysis(context.Background())

	var hourPattern models.DetectedPattern
	found := false
	for _, p := range detector.Patterns() {
		if p.Kind == models.PatternTemporal && p.BucketKind == "hour" {
			hourPattern = p
			found = true
		}
	}
	if !found {
		t.Fatal("no hourly temporal pattern detected")
	}
	if hourPattern.Bucket != 3 || hourPattern.BucketCount != 30 {
		t.Fatalf("pattern = %+v", hourPattern)
	}
	if hourPattern.Multiplier < 2 {
		t.Fatalf("multiplier = %f, want above floor", hourPattern.Multiplier)
	}
}

func TestDetectCorrelationPattern(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 1, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(5 * time.Minute), base.Add(10 * time.Minute)}
	source := &fakeSource{groups: []models.ErrorGroup{
		{Signature: "sig-db", Category: models.CategoryDatabase, ErrorMessage: "deadlock", Service: "api",
			Count: 3, Occurrences: occurrencesAt(times...)},
		{Signature: "sig-net", Category: models.CategoryNetwork, ErrorMessage: "timeout", Service: "api",
			Count: 3, Occurrences: occurrencesAt(times...)},
	}}
	sink := &captureSink{}
	detector := testDetector(t, testConfig(), source, sink)

	detector.RunPatternAnalysis(context.Background())

	pattern, ok := findPattern(detector.Patterns(), models.PatternCorrelation)
	if !ok {
		t.Fatal("no correlation pattern detected")
	}
	if pattern.CoOccurrences != 3 {
		t.Fatalf("coOccurrences = %d, want 3", pattern.CoOccurrences)
	}
	if pattern.Correlation != 1 {
		t.Fatalf("correlation = %f, want 1", pattern.Correlation)
	}
	if pattern.CategoryA != models.CategoryDatabase || pattern.CategoryB != models.CategoryNetwork {
		t.Fatalf("pair ordering not canonical: %s, %s", pattern.CategoryA, pattern.CategoryB)
	}
}

func TestCorrelationBelowThresholdIgnored(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 1, 0, 0, time.UTC)
	// Only two co-occurring windows; the floor requires three.
	times := []time.Time{base, base.Add(5 * time.Minute)}
	source := &fakeSource{groups: []models.ErrorGroup{
		{Signature: "sig-db", Category: models.CategoryDatabase, ErrorMessage: "deadlock", Service: "api",
			Count: 2, Occurrences: occurrencesAt(times...)},
		{Signature: "sig-net", Category: models.CategoryNetwork, ErrorMessage: "timeout", Service: "api",
			Count: 2, Occurrences: occurrencesAt(times...)},
	}}
	detector := testDetector(t, testConfig(), source, &captureSink{})

	detector.RunPatternAnalysis(context.Background())
	if _, ok := findPattern(detector.Patterns(), models.PatternCorrelation); ok {
		t.Fatal("correlation below the co-occurrence floor should be ignored")
	}
}

func TestPatternFirstSeenSurvivesCycles(t *testing.T) {
	source := &fakeSource{groups: []models.ErrorGroup{{
		Signature: "sig-a", Category: models.CategoryDatabase,
		ErrorMessage: "deadlock", Service: "api", Count: 25,
	}}}
	detector := testDetector(t, testConfig(), source, &captureSink{})

	detector.RunPatternAnalysis(context.Background())
	first, _ := findPattern(detector.Patterns(), models.PatternRecurring)

	time.Sleep(5 * time.Millisecond)
	detector.RunPatternAnalysis(context.Background())
	second, _ := findPattern(detector.Patterns(), models.PatternRecurring)

	if !second.FirstSeen.Equal(first.FirstSeen) {
		t.Fatal("FirstSeen changed across cycles")
	}
	if !second.LastSeen.After(first.LastSeen) {
		t.Fatal("LastSeen not advanced")
	}
}

func TestResolveAlert(t *testing.T) {
	source := &fakeSource{groups: []models.ErrorGroup{{
		Signature: "sig-a", Category: models.CategoryDatabase,
		ErrorMessage: "deadlock", Service: "api", Count: 25,
	}}}
	sink := &captureSink{}
	detector := testDetector(t, testConfig(), source, sink)

	detector.RunPatternAnalysis(context.Background())
	alerts := detector.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}

	if err := detector.ResolveAlert(alerts[0].ID); err != nil {
		t.Fatalf("ResolveAlert: %v", err)
	}
	if len(detector.Alerts()) != 0 {
		t.Fatal("resolved alert still listed")
	}
	if err := detector.ResolveAlert("missing"); err == nil {
		t.Fatal("expected error for unknown alert id")
	}

	// The condition persists, so the next cycle reactivates and re-notifies.
	detector.RunPatternAnalysis(context.Background())
	if sink.count() != 2 {
		t.Fatalf("alerts sent = %d, want 2", sink.count())
	}
}

func TestAlertTriggerCountTracksAdvance(t *testing.T) {
	source := &fakeSource{groups: []models.ErrorGroup{{
		Signature: "sig-a", Category: models.CategoryDatabase,
		ErrorMessage: "deadlock", Service: "api", Count: 25,
	}}}
	detector := testDetector(t, testConfig(), source, &captureSink{})

	detector.RunPatternAnalysis(context.Background())
	detector.RunPatternAnalysis(context.Background())

	alerts := detector.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].TriggerCount != 1 {
		t.Fatalf("unchanged condition re-triggered, count = %d", alerts[0].TriggerCount)
	}

	// More occurrences advance the condition, so the count moves.
	source.groups[0].Count = 40
	detector.RunPatternAnalysis(context.Background())
	if got := detector.Alerts()[0].TriggerCount; got != 2 {
		t.Fatalf("advanced condition trigger count = %d, want 2", got)
	}
}

func TestDetectorStopWithoutStart(t *testing.T) {
	detector := testDetector(t, testConfig(), &fakeSource{}, &captureSink{})
	// Must return without waiting on timers that never launched.
	detector.Stop()
}

func TestDetectorPersistenceRoundTrip(t *testing.T) {
	files, err := store.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	source := &fakeSource{groups: []models.ErrorGroup{{
		Signature: "sig-a", Category: models.CategoryDatabase,
		ErrorMessage: "deadlock", Service: "api", Count: 25,
	}}}

	detector, err := New(nil, testConfig(), config.StorageConfig{}, files, source, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	detector.RunPatternAnalysis(context.Background())
	if err := detector.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reloaded, err := New(nil, testConfig(), config.StorageConfig{}, files, source, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Patterns()) == 0 {
		t.Fatal("patterns lost across reload")
	}
	if len(reloaded.Alerts()) != 1 {
		t.Fatal("alerts lost across reload")
	}
}

func TestReport(t *testing.T) {
	source := &fakeSource{groups: []models.ErrorGroup{{
		Signature: "sig-a", Category: models.CategoryDatabase,
		ErrorMessage: "deadlock", Service: "api", Count: 25,
	}}}
	detector := testDetector(t, testConfig(), source, &captureSink{})

	detector.RunPatternAnalysis(context.Background())
	report := detector.Report()
	if len(report.TopPatterns) == 0 {
		t.Fatal("report missing patterns")
	}
	if len(report.ActiveAlerts) != 1 {
		t.Fatalf("report alerts = %d, want 1", len(report.ActiveAlerts))
	}
	if report.GeneratedAt.IsZero() {
		t.Fatal("report missing timestamp")
	}
}
