package resolution

import (
	"sort"
	"strings"
	"time"

	"github.com/errwatch/errwatch/internal/aggregation"
	"github.com/errwatch/errwatch/internal/models"
)

// fixPatternFor derives the coarse pattern key for a known group: category,
// the leading token of the normalized message, and the service. Signatures
// differing only in variable detail land on the same key.
func fixPatternFor(group models.ErrorGroup) string {
	token := ""
	if fields := strings.Fields(aggregation.NormalizeMessage(group.ErrorMessage)); len(fields) > 0 {
		token = fields[0]
	}
	return string(group.Category) + "|" + token + "|" + group.Service
}

// recordFixLocked registers one application of a fix under a pattern. A
// sufficiently similar existing option of the same type absorbs the
// application; otherwise a new option starts at 1/1.
func (t *Tracker) recordFixLocked(pattern string, fixType models.FixType, description string, now time.Time) {
	if description == "" {
		return
	}

	suggested, ok := t.fixes[pattern]
	if !ok {
		suggested = &models.SuggestedFix{Pattern: pattern}
		t.fixes[pattern] = suggested
	}
	suggested.UpdatedAt = now

	if option := t.matchOptionLocked(suggested, fixType, description); option != nil {
		option.Applications++
		option.Successes++
		option.SuccessRate = float64(option.Successes) / float64(option.Applications)
		option.LastApplied = now
		return
	}

	suggested.Fixes = append(suggested.Fixes, models.FixOption{
		Description:  description,
		FixType:      fixType,
		Applications: 1,
		Successes:    1,
		SuccessRate:  1,
		LastApplied:  now,
	})
}

// revokeFixSuccessLocked withdraws the provisional success credited when the
// fix was recorded. Called on the first recurrence only, so repeat
// recurrences cannot drive the count negative.
func (t *Tracker) revokeFixSuccessLocked(res *models.Resolution) {
	suggested, ok := t.fixes[res.FixPattern]
	if !ok {
		return
	}
	option := t.matchOptionLocked(suggested, res.FixType, res.FixDescription)
	if option == nil || option.Successes == 0 {
		return
	}
	option.Successes--
	option.SuccessRate = float64(option.Successes) / float64(option.Applications)
}

// matchOptionLocked finds the best existing option of the same fix type whose
// description overlaps the given one beyond the configured similarity.
func (t *Tracker) matchOptionLocked(suggested *models.SuggestedFix, fixType models.FixType, description string) *models.FixOption {
	threshold := t.cfg.FixSimilarity
	if threshold <= 0 {
		threshold = 0.6
	}

	var best *models.FixOption
	bestOverlap := 0.0
	for i := range suggested.Fixes {
		option := &suggested.Fixes[i]
		if option.FixType != fixType {
			continue
		}
		overlap := wordOverlap(option.Description, description)
		if overlap >= threshold && overlap > bestOverlap {
			best = option
			bestOverlap = overlap
		}
	}
	return best
}

// wordOverlap measures the shared distinct words between two descriptions
// relative to the larger vocabulary.
func wordOverlap(a, b string) float64 {
	aWords := wordSet(a)
	bWords := wordSet(b)
	if len(aWords) == 0 || len(bWords) == 0 {
		return 0
	}

	shared := 0
	for word := range aWords {
		if _, ok := bWords[word]; ok {
			shared++
		}
	}
	denom := len(aWords)
	if len(bWords) > denom {
		denom = len(bWords)
	}
	return float64(shared) / float64(denom)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(word, ".,;:!?\"'()")] = struct{}{}
	}
	delete(set, "")
	return set
}

// SuggestedFixes returns ranked fix options for the pattern the signature
// maps to, ordered by success rate then by how often the fix was applied.
func (t *Tracker) SuggestedFixes(signature string, query models.SuggestedFixQuery) []models.RankedFix {
	pattern := t.extractPattern(signature)

	t.mu.RLock()
	defer t.mu.RUnlock()

	suggested, ok := t.fixes[pattern]
	if !ok {
		return nil
	}

	ranked := make([]models.RankedFix, 0, len(suggested.Fixes))
	for _, option := range suggested.Fixes {
		if option.SuccessRate < query.MinSuccessRate {
			continue
		}
		confidence := option.SuccessRate + minFloat(0.2, float64(option.Applications)*0.02)
		if confidence > 1 {
			confidence = 1
		}
		ranked = append(ranked, models.RankedFix{FixOption: option, Confidence: confidence})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].SuccessRate != ranked[j].SuccessRate {
			return ranked[i].SuccessRate > ranked[j].SuccessRate
		}
		return ranked[i].Applications > ranked[j].Applications
	})

	limit := query.MaxResults
	if limit <= 0 {
		limit = 5
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
