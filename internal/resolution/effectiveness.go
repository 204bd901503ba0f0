package resolution

import (
	"fmt"
	"sort"
	"time"

	"github.com/errwatch/errwatch/internal/models"
	"github.com/errwatch/errwatch/internal/utils"
)

// effectiveScoreFloor is the score at or above which a resolution counts as
// effective in reports.
const effectiveScoreFloor = 0.7

// ineffectiveScore is the forced score for fixes that clearly did not hold.
const ineffectiveScore = 0.1

// scoreLocked recomputes the effectiveness score after a recurrence. Fixes
// that recur too often or too soon are pinned to the ineffective floor; the
// MARKED_INEFFECTIVE history entry is appended once per resolution cycle.
func (t *Tracker) scoreLocked(res *models.Resolution, rec *models.EffectivenessRecord, now time.Time) float64 {
	tooMany := t.cfg.IneffectiveRecurrences > 0 && res.RecurrenceCount >= t.cfg.IneffectiveRecurrences
	tooSoon := t.cfg.IneffectiveWindow > 0 && rec.TimeToFirstRecur > 0 && rec.TimeToFirstRecur <= t.cfg.IneffectiveWindow

	if tooMany || tooSoon {
		if !markedIneffective(res.History) {
			reason := "recurred too quickly"
			if tooMany {
				reason = fmt.Sprintf("recurred %d times", res.RecurrenceCount)
			}
			res.History = append(res.History, models.ResolutionHistoryEntry{
				Action:    models.ActionMarkedIneffective,
				Timestamp: now,
				Note:      reason,
			})
		}
		return ineffectiveScore
	}

	score := 1.0 - 0.2*float64(res.RecurrenceCount)
	if rec.TimeToFirstRecur > 30*24*time.Hour {
		score += 0.1
	} else if rec.TimeToFirstRecur > 0 && rec.TimeToFirstRecur < 24*time.Hour {
		score -= 0.3
	}
	if res.EstimatedEffortHours > t.cfg.EffortPenaltyHours && res.RecurrenceCount >= 1 {
		score -= 0.2
	}
	return utils.Clamp(score, 0, 1)
}

// markedIneffective reports whether the current resolution cycle already
// carries a MARKED_INEFFECTIVE entry. A RE_RESOLVED entry starts a new cycle.
func markedIneffective(history []models.ResolutionHistoryEntry) bool {
	for i := len(history) - 1; i >= 0; i-- {
		switch history[i].Action {
		case models.ActionMarkedIneffective:
			return true
		case models.ActionReResolved, models.ActionResolved:
			return false
		}
	}
	return false
}

// FixEffectiveness summarises how well fixes held across the filtered set of
// resolutions, broken down per fix type with the best performers on top.
func (t *Tracker) FixEffectiveness(filter models.EffectivenessFilter) models.EffectivenessReport {
	t.mu.RLock()
	records := make([]models.EffectivenessRecord, 0, len(t.effectiveness))
	for _, rec := range t.effectiveness {
		records = append(records, *rec)
	}
	t.mu.RUnlock()

	report := models.EffectivenessReport{
		ByFixType: make(map[models.FixType]models.FixTypeBreakdown),
	}
	sums := make(map[models.FixType]float64)

	for _, rec := range records {
		if filter.FixType != "" && rec.FixType != filter.FixType {
			continue
		}
		if filter.DeveloperID != "" && rec.DeveloperID != filter.DeveloperID {
			continue
		}
		if !filter.Since.IsZero() && rec.ResolvedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && rec.ResolvedAt.After(filter.Until) {
			continue
		}

		report.Total++
		breakdown := report.ByFixType[rec.FixType]
		breakdown.Total++
		sums[rec.FixType] += rec.Score
		if rec.Score >= effectiveScoreFloor {
			report.Effective++
			breakdown.Effective++
		}
		report.ByFixType[rec.FixType] = breakdown
		report.Top = append(report.Top, rec)
	}

	for fixType, breakdown := range report.ByFixType {
		breakdown.AverageScore = sums[fixType] / float64(breakdown.Total)
		report.ByFixType[fixType] = breakdown
	}
	if report.Total > 0 {
		report.EffectivenessRate = float64(report.Effective) / float64(report.Total)
	}

	sort.Slice(report.Top, func(i, j int) bool {
		if report.Top[i].Score != report.Top[j].Score {
			return report.Top[i].Score > report.Top[j].Score
		}
		return report.Top[i].ResolvedAt.After(report.Top[j].ResolvedAt)
	})
	if len(report.Top) > 10 {
		report.Top = report.Top[:10]
	}
	return report
}
