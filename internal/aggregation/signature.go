package aggregation

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// stackPatternLines bounds how much of a stack trace participates in the
// grouping identity. Frames below the top few vary with call depth, not with
// the failure itself.
const stackPatternLines = 5

// signatureLength is the retained hex prefix of the digest.
const signatureLength = 16

var (
	reURL     = regexp.MustCompile(`https?://[^\s"']+`)
	reUUID    = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	reISOTime = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	rePath    = regexp.MustCompile(`(?:/[\w.\-]+){2,}/?`)
	reNumber  = regexp.MustCompile(`\d+`)
	reLineCol = regexp.MustCompile(`:\d+(?::\d+)?`)
)

// NormalizeMessage collapses variable payloads (URLs, UUIDs, timestamps,
// paths, numbers) into placeholder tokens and case-folds the result, so
// semantically identical messages differing only in payload values compare
// equal. Replacement order matters: URLs and UUIDs contain digits and must
// collapse before the number pass.
func NormalizeMessage(message string) string {
	m := reURL.ReplaceAllString(message, "{url}")
	m = reUUID.ReplaceAllString(m, "{uuid}")
	m = reISOTime.ReplaceAllString(m, "{timestamp}")
	m = rePath.ReplaceAllString(m, "{path}")
	m = reNumber.ReplaceAllString(m, "{number}")
	return strings.ToLower(strings.TrimSpace(m))
}

// NormalizeStackPattern reduces a stack trace to its first few frames with
// line:column coordinates stripped.
func NormalizeStackPattern(stack string) string {
	if stack == "" {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(stack), "\n")
	if len(lines) > stackPatternLines {
		lines = lines[:stackPatternLines]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSpace(reLineCol.ReplaceAllString(line, ""))
	}
	return strings.Join(lines, "\n")
}

// Signature derives the stable grouping key for an error event. Two events
// share a signature iff they agree on name, normalized message, normalized
// stack pattern, code, and service.
func Signature(name, message, stack, code, service string) string {
	payload := strings.Join([]string{
		name,
		NormalizeMessage(message),
		NormalizeStackPattern(stack),
		code,
		service,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:signatureLength]
}

// PatternSignature derives the coarser key used by pattern detection, built
// from already-normalized message and stack patterns plus category and
// service.
func PatternSignature(category, messagePattern, stackPattern, service string) string {
	payload := strings.Join([]string{category, messagePattern, stackPattern, service}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:signatureLength]
}
