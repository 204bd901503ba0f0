package models

import "time"

// Category enumerates error classification buckets.
type Category string

const (
	CategoryAuth       Category = "AUTH_ERROR"
	CategoryDatabase   Category = "DATABASE_ERROR"
	CategoryServer     Category = "SERVER_ERROR"
	CategoryClient     Category = "CLIENT_ERROR"
	CategoryNetwork    Category = "NETWORK_ERROR"
	CategoryValidation Category = "VALIDATION_ERROR"
	CategorySystem     Category = "SYSTEM_ERROR"
	CategoryBusiness   Category = "BUSINESS_LOGIC_ERROR"
	CategoryUnknown    Category = "UNKNOWN_ERROR"

	// CategoryOverall is the synthetic bucket used for cross-category trends.
	CategoryOverall Category = "OVERALL"
)

// Categories lists every real classification bucket (OVERALL excluded).
func Categories() []Category {
	return []Category{
		CategoryAuth, CategoryDatabase, CategoryServer, CategoryClient,
		CategoryNetwork, CategoryValidation, CategorySystem,
		CategoryBusiness, CategoryUnknown,
	}
}

// Severity is an ordinal impact level; higher is worse.
type Severity int

const (
	SeverityLow      Severity = 1
	SeverityMedium   Severity = 2
	SeverityHigh     Severity = 3
	SeverityCritical Severity = 4
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ResolutionStatus tracks the fix lifecycle of a signature.
type ResolutionStatus string

const (
	StatusUnresolved ResolutionStatus = "UNRESOLVED"
	StatusResolved   ResolutionStatus = "RESOLVED"
	StatusRecurred   ResolutionStatus = "RECURRED"
)

// Occurrence is the bounded per-event summary retained on a group.
type Occurrence struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Context   string    `json:"context,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Origin    string    `json:"origin,omitempty"`
}

// ErrorGroup aggregates every event sharing one signature. Count covers the
// full history while Occurrences holds only the most recent tail, so
// Count >= len(Occurrences) always.
type ErrorGroup struct {
	Signature        string           `json:"signature"`
	Category         Category         `json:"category"`
	Severity         Severity         `json:"severity"`
	Count            int64            `json:"count"`
	FirstOccurrence  time.Time        `json:"firstOccurrence"`
	LastOccurrence   time.Time        `json:"lastOccurrence"`
	ErrorName        string           `json:"errorName"`
	ErrorMessage     string           `json:"errorMessage"`
	StackTrace       string           `json:"stackTrace,omitempty"`
	Service          string           `json:"service"`
	Occurrences      []Occurrence     `json:"occurrences"`
	Contexts         []string         `json:"contexts,omitempty"`
	AffectedUsers    []string         `json:"affectedUsers,omitempty"`
	ResolutionStatus ResolutionStatus `json:"resolutionStatus"`
	Tags             []string         `json:"tags,omitempty"`
}

// CriticalStatus marks whether a critical record still needs attention.
type CriticalStatus string

const (
	CriticalActive   CriticalStatus = "ACTIVE"
	CriticalResolved CriticalStatus = "RESOLVED"
)

// CriticalErrorRecord flags a group that crossed the critical threshold.
type CriticalErrorRecord struct {
	Signature          string         `json:"signature"`
	Category           Category       `json:"category"`
	Severity           Severity       `json:"severity"`
	Count              int64          `json:"count"`
	RecentCount        int            `json:"recentCount"`
	FlaggedAt          time.Time      `json:"flaggedAt"`
	Status             CriticalStatus `json:"status"`
	AffectedUsersCount int            `json:"affectedUsersCount"`
	AlertsSent         int            `json:"alertsSent"`
}
