package models

import "time"

// RawErrorEvent is the loosely structured record the host hands to Ingest.
// Every field is optional; missing values are defaulted during preprocessing.
// Error detail may arrive flat or nested under Error.
type RawErrorEvent struct {
	Name      string         `json:"name,omitempty"`
	Message   string         `json:"message,omitempty"`
	Stack     string         `json:"stack,omitempty"`
	Status    int            `json:"status,omitempty"`
	Code      string         `json:"code,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Origin    string         `json:"origin,omitempty"`
	Service   string         `json:"service,omitempty"`
	Operation string         `json:"operation,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`

	// Error carries nested detail for hosts that wrap the failure
	// under an "error" key instead of flattening it.
	Error *RawErrorDetail `json:"error,omitempty"`
}

// RawErrorDetail is the nested form of the failure description.
type RawErrorDetail struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
	Stack   string `json:"stack,omitempty"`
	Status  int    `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ErrorEvent is the fixed shape produced by preprocessing a RawErrorEvent.
type ErrorEvent struct {
	Name      string
	Message   string
	Stack     string
	Status    int
	Code      string
	UserID    string
	SessionID string
	Context   map[string]any
	UserAgent string
	Origin    string
	Service   string
	Operation string
	Timestamp time.Time
}

// IngestResult summarises the outcome of ingesting one error event.
type IngestResult struct {
	Signature  string   `json:"signature"`
	Category   Category `json:"category"`
	Severity   Severity `json:"severity"`
	Count      int64    `json:"count"`
	IsCritical bool     `json:"isCritical"`
}
