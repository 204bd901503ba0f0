package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/errwatch/errwatch/internal/metrics"
	"github.com/errwatch/errwatch/internal/models"
	"github.com/errwatch/errwatch/internal/utils"
)

// RunTrendAnalysis appends one data point per category (plus OVERALL) and
// reclassifies each trend. Like pattern analysis, an overlapping cycle is
// skipped rather than queued.
func (d *Detector) RunTrendAnalysis(ctx context.Context) {
	if !d.trendBusy.CompareAndSwap(false, true) {
		d.logger.Debug("trend analysis still running, skipping cycle")
		return
	}
	defer d.trendBusy.Store(false)

	start := time.Now()
	groups := d.source.Snapshot()

	interval := d.interval(d.cfg.TrendInterval, time.Hour)
	cutoff := start.Add(-interval)
	minutes := utils.DurationMinutes(cutoff, start)

	counts := make(map[models.Category]int64)
	var overall int64
	for _, group := range groups {
		for _, occ := range group.Occurrences {
			if occ.Timestamp.Before(cutoff) {
				continue
			}
			counts[group.Category]++
			overall++
		}
	}
	counts[models.CategoryOverall] = overall

	maxPoints := d.cfg.TrendMaxPoints
	if maxPoints <= 0 {
		maxPoints = 30
	}

	var notifications []models.ActiveAlert
	d.mu.Lock()
	for _, category := range append(models.Categories(), models.CategoryOverall) {
		count := counts[category]
		trend, exists := d.trends[category]
		if !exists {
			if count == 0 {
				continue
			}
			trend = &models.ErrorTrend{Category: category, Direction: models.TrendStable}
			d.trends[category] = trend
		}

		trend.Points = append(trend.Points, models.TrendPoint{
			Timestamp:     start,
			Count:         count,
			RatePerMinute: float64(count) / minutes,
		})
		if len(trend.Points) > maxPoints {
			trend.Points = trend.Points[len(trend.Points)-maxPoints:]
		}
		trend.GrowthRate = trendGrowth(trend.Points)
		trend.Direction = classifyTrend(trend.GrowthRate)
		trend.UpdatedAt = start

		notifications = append(notifications, d.evaluateTrendAlertsLocked(trend, start)...)
	}
	activeCount := d.activeAlertCountLocked()
	d.mu.Unlock()

	d.deliver(ctx, notifications)
	metrics.SetActiveAlerts(activeCount)

	if err := d.persistTrends(); err != nil {
		metrics.IncFlushError()
		d.logger.Error("trend persistence failed", slog.Any("error", err))
	}

	metrics.ObserveAnalysis("trend", time.Since(start))
	d.logger.Debug("trend analysis complete",
		slog.Int64("events", overall), slog.Duration("elapsed", time.Since(start)))
}

// Trends returns copies of every tracked trend.
func (d *Detector) Trends() []models.ErrorTrend {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]models.ErrorTrend, 0, len(d.trends))
	for _, trend := range d.trends {
		copied := *trend
		copied.Points = append([]models.TrendPoint(nil), trend.Points...)
		result = append(result, copied)
	}
	return result
}

// evaluateTrendAlertsLocked fires rapid-growth and high-rate alerts for one
// trend. Both are deduplicated by a stable key so a persistent condition
// alerts once, independent of the INCREASING label.
func (d *Detector) evaluateTrendAlertsLocked(trend *models.ErrorTrend, now time.Time) []models.ActiveAlert {
	var notifications []models.ActiveAlert

	if d.cfg.RapidGrowth > 0 && trend.GrowthRate >= d.cfg.RapidGrowth {
		reason := fmt.Sprintf("%s error rate grew %.0f%% between recent samples",
			trend.Category, trend.GrowthRate*100)
		if alert := d.upsertAlertLocked("trend-growth-"+string(trend.Category), models.AlertTrend,
			models.SeverityHigh, reason, now, map[string]string{
				"category": string(trend.Category),
				"kind":     "growth",
			}); alert != nil {
			notifications = append(notifications, *alert)
		}
	}

	latestRate := 0.0
	if len(trend.Points) > 0 {
		latestRate = trend.Points[len(trend.Points)-1].RatePerMinute
	}
	if d.cfg.HighRatePerMinute > 0 && latestRate >= d.cfg.HighRatePerMinute {
		reason := fmt.Sprintf("%s error rate at %.1f/min exceeds threshold %.1f/min",
			trend.Category, latestRate, d.cfg.HighRatePerMinute)
		if alert := d.upsertAlertLocked("trend-rate-"+string(trend.Category), models.AlertTrend,
			models.SeverityHigh, reason, now, map[string]string{
				"category": string(trend.Category),
				"kind":     "rate",
			}); alert != nil {
			notifications = append(notifications, *alert)
		}
	}
	return notifications
}

// trendGrowth computes the relative change between the mean of the most
// recent three points and the mean of the points preceding them.
func trendGrowth(points []models.TrendPoint) float64 {
	n := len(points)
	if n < 2 {
		return 0
	}

	recentStart := n - 3
	if recentStart < 0 {
		recentStart = 0
	}
	recent := points[recentStart:]

	var prev []models.TrendPoint
	switch {
	case recentStart >= 3:
		prev = points[recentStart-3 : recentStart]
	case recentStart > 0:
		prev = points[:recentStart]
	default:
		// Too few points for disjoint windows; compare against everything
		// before the latest sample.
		prev = points[:n-1]
	}

	recentMean := meanCount(recent)
	prevMean := meanCount(prev)
	if prevMean == 0 {
		if recentMean == 0 {
			return 0
		}
		return 1
	}
	return (recentMean - prevMean) / prevMean
}

func classifyTrend(growth float64) models.TrendDirection {
	switch {
	case growth > 0.5:
		return models.TrendIncreasing
	case growth < -0.3:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

func meanCount(points []models.TrendPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum int64
	for _, point := range points {
		sum += point.Count
	}
	return float64(sum) / float64(len(points))
}
