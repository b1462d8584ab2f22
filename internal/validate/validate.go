// Package validate implements the append pipeline's parameter
// normalization. Per the "exception tunneling"
// redesign note, self-healing is restricted to well-defined
// canonicalizations — whitespace and case — and to nearest-match
// recovery against a closed enum. It deliberately does NOT port
// original_source/utils/estimator.py's ParameterTypeEstimator /
// heal_comparison_operator_bug, which aggressively coerces malformed
// input (e.g. turning comparison-operator strings into numeric bounds);
// anything that isn't a whitespace/case/enum-nearest-match fix surfaces
// as a typed error instead of a silent substitution.
package validate

import (
	"regexp"
	"strings"
	"time"

	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
)

// Statuses is the closed enum of valid append statuses.
var Statuses = []string{"info", "success", "warn", "error", "bug", "plan"}

// StatusEmoji maps a status to its emoji.
var StatusEmoji = map[string]string{
	"info":    "ℹ️",
	"success": "✅",
	"warn":    "⚠️",
	"error":   "❌",
	"bug":     "🐞",
	"plan":    "🧭",
}

var metaKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// NormalizeWhitespaceCase trims surrounding whitespace and lowercases s.
// This is the only "healing" this module performs on free-form text.
func NormalizeWhitespaceCase(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeStatus validates status against the closed enum, recovering
// via nearest-match (case/whitespace-insensitive exact match only — not
// fuzzy spelling correction) before failing with MessageInvalid.
func NormalizeStatus(status string) (string, error) {
	if status == "" {
		return "info", nil
	}
	normalized := NormalizeWhitespaceCase(status)
	for _, s := range Statuses {
		if s == normalized {
			return s, nil
		}
	}
	return "", scribeerr.New(scribeerr.KindMessageInvalid, "unknown status: "+status).
		WithDetails(map[string]any{"valid_statuses": Statuses})
}

// SanitizeMetaKey replaces spaces with underscores and strips pipe
// characters so the key matches [A-Za-z0-9_.:-]+.
func SanitizeMetaKey(key string) string {
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "|", "")
	return key
}

// NormalizeMeta sanitizes every key in meta and reports which keys were
// changed, so the caller can emit an in-band meta_error warning rather than silently dropping unusual keys.
func NormalizeMeta(meta map[string]string) (normalized map[string]string, changedKeys []string) {
	normalized = make(map[string]string, len(meta))
	for k, v := range meta {
		sanitized := SanitizeMetaKey(k)
		if sanitized != k {
			changedKeys = append(changedKeys, k)
		}
		if !metaKeyPattern.MatchString(sanitized) {
			// still invalid after sanitization (e.g. empty key); drop
			// rather than write an entry that would break the line
			// format's "k1=v1; k2=v2" grammar.
			changedKeys = append(changedKeys, k)
			continue
		}
		// Newlines and pipes in values are replaced with spaces here so callers never need to
		// repeat it.
		v = strings.ReplaceAll(v, "\n", " ")
		v = strings.ReplaceAll(v, "|", " ")
		normalized[sanitized] = v
	}
	return normalized, changedKeys
}

// NormalizeTimestamp parses a caller-provided timestamp into canonical
// UTC, second resolution, or returns now() when ts is empty.
func NormalizeTimestamp(ts string, now func() time.Time) (time.Time, error) {
	if ts == "" {
		return now().UTC().Truncate(time.Second), nil
	}
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02 15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, scribeerr.New(scribeerr.KindMessageInvalid, "invalid timestamp: "+ts)
}

// ValidateMessage rejects empty content, embedded newlines (unless
// autoSplit is set), and oversized payloads.
func ValidateMessage(message string, autoSplit bool, maxLen int) error {
	if strings.TrimSpace(message) == "" {
		return scribeerr.New(scribeerr.KindMessageInvalid, "message is empty")
	}
	if !autoSplit && strings.Contains(message, "\n") {
		return scribeerr.New(scribeerr.KindMessageInvalid, "message contains embedded newline")
	}
	if maxLen > 0 && len(message) > maxLen {
		return scribeerr.New(scribeerr.KindMessageInvalid, "message exceeds maximum length").
			WithDetails(map[string]any{"max_length": maxLen, "actual_length": len(message)})
	}
	return nil
}
