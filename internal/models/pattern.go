package models

import "time"

// PatternKind discriminates the three detected pattern shapes.
type PatternKind string

const (
	PatternRecurring   PatternKind = "RECURRING"
	PatternTemporal    PatternKind = "TEMPORAL"
	PatternCorrelation PatternKind = "CORRELATION"
)

// DetectedPattern is one statistically significant structure found across
// error groups. Entries persist across analysis cycles keyed by Signature so
// growth in counts and confidence stays visible.
type DetectedPattern struct {
	Signature  string      `json:"signature"`
	Kind       PatternKind `json:"kind"`
	Confidence float64     `json:"confidence"`
	FirstSeen  time.Time   `json:"firstSeen"`
	LastSeen   time.Time   `json:"lastSeen"`

	// Recurring fields.
	Category        Category `json:"category,omitempty"`
	MessagePattern  string   `json:"messagePattern,omitempty"`
	StackPattern    string   `json:"stackPattern,omitempty"`
	Service         string   `json:"service,omitempty"`
	GroupSignatures []string `json:"groupSignatures,omitempty"`
	Occurrences     int64    `json:"occurrences,omitempty"`
	AffectedUsers   int      `json:"affectedUsers,omitempty"`

	// Temporal fields. BucketKind is "hour" (0-23) or "weekday" (0-6).
	BucketKind   string  `json:"bucketKind,omitempty"`
	Bucket       int     `json:"bucket,omitempty"`
	BucketCount  int64   `json:"bucketCount,omitempty"`
	AverageCount float64 `json:"averageCount,omitempty"`
	Multiplier   float64 `json:"multiplier,omitempty"`

	// Correlation fields.
	CategoryA     Category `json:"categoryA,omitempty"`
	CategoryB     Category `json:"categoryB,omitempty"`
	CoOccurrences int      `json:"coOccurrences,omitempty"`
	Correlation   float64  `json:"correlation,omitempty"`
}

// TrendDirection labels the shape of a category's recent error rate.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "INCREASING"
	TrendDecreasing TrendDirection = "DECREASING"
	TrendStable     TrendDirection = "STABLE"
)

// TrendPoint is one sampled data point in a category trend.
type TrendPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	Count         int64     `json:"count"`
	RatePerMinute float64   `json:"ratePerMinute"`
}

// ErrorTrend holds the recent rate history for one category.
type ErrorTrend struct {
	Category   Category       `json:"category"`
	Points     []TrendPoint   `json:"points"`
	Direction  TrendDirection `json:"direction"`
	GrowthRate float64        `json:"growthRate"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// PatternReport is the on-demand analysis summary.
type PatternReport struct {
	GeneratedAt      time.Time         `json:"generatedAt"`
	TopPatterns      []DetectedPattern `json:"topPatterns"`
	IncreasingTrends []ErrorTrend      `json:"increasingTrends"`
	ActiveAlerts     []ActiveAlert     `json:"activeAlerts"`
}
