package aggregation

import (
	"strings"

	"github.com/errwatch/errwatch/internal/models"
)

var (
	authKeywords     = []string{"auth", "unauthorized", "forbidden", "permission", "token", "credential"}
	databaseKeywords = []string{"database", "sql", "query", "deadlock", "connection pool", "db error", "mongo", "postgres"}
	networkKeywords  = []string{"network", "timeout", "econnrefused", "econnreset", "socket", "dns", "fetch failed"}
	validationKeys   = []string{"validation", "invalid", "required field", "schema", "malformed"}
	systemKeywords   = []string{"out of memory", "segfault", "panic", "system failure", "disk full", "resource exhausted"}
	errorishKeywords = []string{"error", "fail", "exception", "fatal", "critical", "panic", "crash"}
)

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Categorize buckets an event by ordered heuristics over its name, message,
// and status code. Auth and database checks run before the generic status
// buckets because their keyword sets overlap with generic "error"/"failed"
// wording.
func Categorize(ev models.ErrorEvent) models.Category {
	text := strings.ToLower(ev.Name + " " + ev.Message)

	switch {
	case containsAny(text, authKeywords) || ev.Status == 401 || ev.Status == 403:
		return models.CategoryAuth
	case containsAny(text, databaseKeywords):
		return models.CategoryDatabase
	case ev.Status >= 500:
		return models.CategoryServer
	case ev.Status >= 400:
		return models.CategoryClient
	case containsAny(text, networkKeywords):
		return models.CategoryNetwork
	case containsAny(text, validationKeys):
		return models.CategoryValidation
	case containsAny(text, systemKeywords):
		return models.CategorySystem
	case ev.Service != "unknown" && ev.Service != "" || ev.Operation != "":
		return models.CategoryBusiness
	default:
		return models.CategoryUnknown
	}
}

// ClassifySeverity assigns the ordinal severity for one event.
func ClassifySeverity(ev models.ErrorEvent, category models.Category) models.Severity {
	text := strings.ToLower(ev.Name + " " + ev.Message)

	switch {
	case ev.Status >= 500,
		strings.Contains(text, "fatal"),
		strings.Contains(text, "critical"),
		category == models.CategorySystem:
		return models.SeverityCritical
	case ev.Status >= 400,
		category == models.CategoryDatabase,
		category == models.CategoryAuth,
		strings.Contains(ev.Name, "Error") && !strings.Contains(ev.Name, "Validation"):
		return models.SeverityHigh
	case category == models.CategoryValidation,
		category == models.CategoryClient,
		strings.Contains(ev.Name, "Warning"):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// looksInformational reports whether a record carries no error signal at all:
// no error-ish wording, no stack, no code, and a non-error status. Such
// events still ingest, but as UnknownError so they collapse into one noise
// bucket instead of polluting real groups.
func looksInformational(ev models.ErrorEvent) bool {
	if ev.Status >= 400 || ev.Stack != "" || ev.Code != "" {
		return false
	}
	text := strings.ToLower(ev.Name + " " + ev.Message)
	return !containsAny(text, errorishKeywords) &&
		!containsAny(text, authKeywords) &&
		!containsAny(text, databaseKeywords) &&
		!containsAny(text, validationKeys) &&
		!containsAny(text, systemKeywords)
}
