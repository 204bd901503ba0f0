package models

import "time"

// AlertType tells which detector raised an alert.
type AlertType string

const (
	AlertPattern AlertType = "PATTERN"
	AlertTrend   AlertType = "TREND"

	// AlertCritical marks sink notifications raised by critical flagging.
	// It never appears in the persisted active-alert index.
	AlertCritical AlertType = "CRITICAL"
)

// AlertStatus tracks whether the triggering condition is still live.
type AlertStatus string

const (
	AlertActive   AlertStatus = "ACTIVE"
	AlertResolved AlertStatus = "RESOLVED"
)

// ActiveAlert is one deduplicated alerting condition. ID is derived from the
// trigger (pattern signature or trend category) so a still-active condition
// updates the existing alert instead of firing again.
type ActiveAlert struct {
	ID            string            `json:"id"`
	Type          AlertType         `json:"type"`
	Severity      Severity          `json:"severity"`
	Reason        string            `json:"reason"`
	CreatedAt     time.Time         `json:"createdAt"`
	LastTriggered time.Time         `json:"lastTriggered"`
	TriggerCount  int               `json:"triggerCount"`
	Status        AlertStatus       `json:"status"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
