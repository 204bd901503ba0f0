package errwatch

import (
	"context"
	"testing"
	"time"

	"github.com/errwatch/errwatch/internal/config"
	"github.com/errwatch/errwatch/internal/models"
	"github.com/errwatch/errwatch/internal/resolution"
)

func testPipeline(t *testing.T) *Pipeline {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Aggregation.CriticalThreshold = 100

	pipeline, err := New(nil, &cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pipeline.Start()
	t.Cleanup(pipeline.Close)
	return pipeline
}

func TestPipelineIngestAndQuery(t *testing.T) {
	pipeline := testPipeline(t)
	ctx := context.Background()

	res, err := pipeline.Ingest(ctx, models.RawErrorEvent{
		Name: "QueryError", Message: "deadlock detected in sql", Service: "api",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Category != models.CategoryDatabase {
		t.Fatalf("category = %s, want DATABASE_ERROR", res.Category)
	}

	if _, ok := pipeline.Group(res.Signature); !ok {
		t.Fatal("group not queryable")
	}
	if groups := pipeline.Groups(models.GroupFilter{}); len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	if stats := pipeline.Stats(time.Time{}, time.Time{}); stats.TotalErrors != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestPipelineResolutionRoundTrip(t *testing.T) {
	pipeline := testPipeline(t)
	ctx := context.Background()

	res, err := pipeline.Ingest(ctx, models.RawErrorEvent{
		Name: "QueryError", Message: "deadlock detected in sql", Service: "api",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if _, err := pipeline.MarkResolved(res.Signature, resolution.Input{
		FixDescription: "retry the transaction on deadlock",
		FixType:        models.FixCode,
	}); err != nil {
		t.Fatalf("MarkResolved: %v", err)
	}

	group, _ := pipeline.Group(res.Signature)
	if group.ResolutionStatus != models.StatusResolved {
		t.Fatalf("group status = %s, want RESOLVED", group.ResolutionStatus)
	}
	if got := pipeline.ResolutionStatus(res.Signature); got != models.StatusResolved {
		t.Fatalf("status = %s, want RESOLVED", got)
	}

	// The same error arriving again counts as a recurrence and flips both
	// the resolution record and the group.
	if _, err := pipeline.Ingest(ctx, models.RawErrorEvent{
		Name: "QueryError", Message: "deadlock detected in sql", Service: "api",
	}); err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	if got := pipeline.ResolutionStatus(res.Signature); got != models.StatusRecurred {
		t.Fatalf("status = %s, want RECURRED", got)
	}
	group, _ = pipeline.Group(res.Signature)
	if group.ResolutionStatus != models.StatusRecurred {
		t.Fatalf("group status = %s, want RECURRED", group.ResolutionStatus)
	}

	record, ok := pipeline.Resolution(res.Signature)
	if !ok || record.RecurrenceCount != 1 {
		t.Fatalf("resolution = %+v", record)
	}

	if _, err := pipeline.ReResolve(res.Signature, resolution.Input{
		FixDescription: "use ordered lock acquisition",
		FixType:        models.FixCode,
	}); err != nil {
		t.Fatalf("ReResolve: %v", err)
	}
	if got := pipeline.ResolutionStatus(res.Signature); got != models.StatusResolved {
		t.Fatalf("status after re-resolve = %s", got)
	}

	// The fix pattern derives from the live group, so suggestions come back
	// for the same signature.
	fixes := pipeline.SuggestedFixes(res.Signature, models.SuggestedFixQuery{})
	if len(fixes) == 0 {
		t.Fatal("no suggested fixes for the resolved signature")
	}

	report := pipeline.FixEffectiveness(models.EffectivenessFilter{})
	if report.Total == 0 {
		t.Fatal("effectiveness report empty")
	}
}

func TestPipelineAnalysisAndAlerts(t *testing.T) {
	pipeline := testPipeline(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if _, err := pipeline.Ingest(ctx, models.RawErrorEvent{
			Name: "QueryError", Message: "deadlock detected in sql", Service: "api", UserID: "u1",
		}); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	pipeline.RunPatternAnalysis(ctx)
	pipeline.RunTrendAnalysis(ctx)

	if patterns := pipeline.Patterns(); len(patterns) == 0 {
		t.Fatal("no patterns detected")
	}
	if trends := pipeline.Trends(); len(trends) == 0 {
		t.Fatal("no trends recorded")
	}

	alerts := pipeline.Alerts()
	if len(alerts) == 0 {
		t.Fatal("no alerts for a heavy recurring pattern")
	}
	if err := pipeline.ResolveAlert(alerts[0].ID); err != nil {
		t.Fatalf("ResolveAlert: %v", err)
	}

	report := pipeline.Report()
	if len(report.TopPatterns) == 0 {
		t.Fatal("report missing patterns")
	}
}

func TestPipelineCloseWithoutStart(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()

	pipeline, err := New(nil, &cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Close on a pipeline whose workers never launched must still return
	// and flush, not wait on them.
	pipeline.Close()
}

func TestPipelineRestartRecoversState(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DataDir = dir
	cfg.Aggregation.CriticalThreshold = 100

	pipeline, err := New(nil, &cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pipeline.Start()

	res, err := pipeline.Ingest(context.Background(), models.RawErrorEvent{
		Name: "QueryError", Message: "deadlock detected in sql", Service: "api",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	pipeline.Close()

	restarted, err := New(nil, &cfg, nil)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer restarted.Close()

	group, ok := restarted.Group(res.Signature)
	if !ok || group.Count != 1 {
		t.Fatalf("state lost across restart: %+v", group)
	}
}
