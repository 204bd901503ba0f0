package models

import "time"

// FixType enumerates the kind of remedy applied to an error class.
type FixType string

const (
	FixCode           FixType = "CODE_FIX"
	FixConfig         FixType = "CONFIG_CHANGE"
	FixInfrastructure FixType = "INFRASTRUCTURE"
	FixValidation     FixType = "VALIDATION_FIX"
	FixDocumentation  FixType = "DOCUMENTATION"
	FixUnknown        FixType = "UNKNOWN"
)

// HistoryAction labels one resolution lifecycle transition.
type HistoryAction string

const (
	ActionResolved          HistoryAction = "RESOLVED"
	ActionRecurred          HistoryAction = "RECURRED"
	ActionReResolved        HistoryAction = "RE_RESOLVED"
	ActionMarkedIneffective HistoryAction = "MARKED_INEFFECTIVE"
)

// ResolutionHistoryEntry records one lifecycle transition; entries are only
// ever appended.
type ResolutionHistoryEntry struct {
	Action    HistoryAction `json:"action"`
	Timestamp time.Time     `json:"timestamp"`
	Note      string        `json:"note,omitempty"`
}

// Resolution tracks the fix applied to one error signature and whether it
// held. The same signature may cycle RESOLVED -> RECURRED -> RESOLVED
// indefinitely.
type Resolution struct {
	ID                   string                   `json:"id"`
	Signature            string                   `json:"signature"`
	Status               ResolutionStatus         `json:"status"`
	ResolvedAt           time.Time                `json:"resolvedAt"`
	Notes                string                   `json:"notes,omitempty"`
	FixDescription       string                   `json:"fixDescription,omitempty"`
	FixType              FixType                  `json:"fixType"`
	DeveloperID          string                   `json:"developerId,omitempty"`
	EstimatedEffortHours float64                  `json:"estimatedEffortHours,omitempty"`
	RootCause            string                   `json:"rootCause,omitempty"`
	PreventionMeasures   string                   `json:"preventionMeasures,omitempty"`
	RelatedIssues        []string                 `json:"relatedIssues,omitempty"`
	Tags                 []string                 `json:"tags,omitempty"`
	FixPattern           string                   `json:"fixPattern"`
	RecurrenceCount      int                      `json:"recurrenceCount"`
	LastRecurrence       *time.Time               `json:"lastRecurrence,omitempty"`
	EffectivenessScore   *float64                 `json:"effectivenessScore,omitempty"`
	History              []ResolutionHistoryEntry `json:"history"`
}

// FixOption is one historical fix description under a suggested-fix pattern.
type FixOption struct {
	Description  string    `json:"description"`
	FixType      FixType   `json:"fixType"`
	Applications int       `json:"applications"`
	Successes    int       `json:"successes"`
	SuccessRate  float64   `json:"successRate"`
	LastApplied  time.Time `json:"lastApplied"`
}

// SuggestedFix groups ranked fix options under one coarse error pattern. It
// persists as institutional knowledge and is never deleted.
type SuggestedFix struct {
	Pattern   string      `json:"pattern"`
	Fixes     []FixOption `json:"fixes"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// RankedFix is a fix option annotated with a recommendation confidence.
type RankedFix struct {
	FixOption
	Confidence float64 `json:"confidence"`
}

// EffectivenessRecord derives a 0-1 score for one resolution from its
// recurrence behaviour.
type EffectivenessRecord struct {
	ResolutionID     string        `json:"resolutionId"`
	Signature        string        `json:"signature"`
	FixType          FixType       `json:"fixType"`
	DeveloperID      string        `json:"developerId,omitempty"`
	ResolvedAt       time.Time     `json:"resolvedAt"`
	RecurrenceCount  int           `json:"recurrenceCount"`
	TimeToFirstRecur time.Duration `json:"timeToFirstRecurrence,omitempty"`
	AvgRecurrenceGap time.Duration `json:"avgRecurrenceGap,omitempty"`
	Score            float64       `json:"score"`
	LastRecurrence   time.Time     `json:"lastRecurrence,omitempty"`
}

// FixTypeBreakdown aggregates effectiveness per fix type.
type FixTypeBreakdown struct {
	Total        int     `json:"total"`
	Effective    int     `json:"effective"`
	AverageScore float64 `json:"averageScore"`
}

// EffectivenessReport summarises fix effectiveness over a filtered set of
// resolutions.
type EffectivenessReport struct {
	Total             int                          `json:"total"`
	Effective         int                          `json:"effective"`
	EffectivenessRate float64                      `json:"effectivenessRate"`
	ByFixType         map[FixType]FixTypeBreakdown `json:"byFixType"`
	Top               []EffectivenessRecord        `json:"top"`
}
