package models

import "time"

// GroupSortKey orders filtered group listings.
type GroupSortKey string

const (
	SortByCount GroupSortKey = "count"
	SortByUsers GroupSortKey = "users"
)

// GroupFilter narrows and pages a group listing. Zero values mean "no
// constraint"; the default sort is descending by count.
type GroupFilter struct {
	Category    Category
	MinSeverity Severity
	Since       time.Time
	Until       time.Time
	SortBy      GroupSortKey
	Limit       int
	Offset      int
}

// TopError is one entry in the statistics top list.
type TopError struct {
	Signature    string   `json:"signature"`
	Category     Category `json:"category"`
	Severity     Severity `json:"severity"`
	Count        int64    `json:"count"`
	ErrorMessage string   `json:"errorMessage"`
}

// ErrorStats aggregates the in-memory group store over an optional window.
type ErrorStats struct {
	TotalGroups   int                `json:"totalGroups"`
	TotalErrors   int64              `json:"totalErrors"`
	CriticalCount int                `json:"criticalCount"`
	ByCategory    map[Category]int64 `json:"byCategory"`
	BySeverity    map[string]int64   `json:"bySeverity"`
	Top           []TopError         `json:"top"`
}

// EffectivenessFilter narrows an effectiveness report.
type EffectivenessFilter struct {
	FixType     FixType
	DeveloperID string
	Since       time.Time
	Until       time.Time
}

// SuggestedFixQuery bounds a suggested-fix lookup.
type SuggestedFixQuery struct {
	MinSuccessRate float64
	MaxResults     int
}
