// Package guardrails validates and sanitizes every tool invocation before
// any stage runs. All checks fail closed.
package guardrails

import (
	"html"
	"regexp"
	"strings"
)

// MaxTextLen is the hard cap applied to user text before any stage sees it.
const MaxTextLen = 12000

// MaxRecordIDLen caps sanitized record ids.
const MaxRecordIDLen = 128

var (
	dangerousTagRE = regexp.MustCompile(`(?is)<\s*/?\s*(script|iframe|object|embed|form)\b[^>]*>`)
	eventHandlerRE = regexp.MustCompile(`(?i)\bon\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	jsSchemeRE     = regexp.MustCompile(`(?i)javascript\s*:`)
	recordIDRE     = regexp.MustCompile(`[^A-Za-z0-9_\-:]`)
)

// injectionSignatures flag likely prompt-injection attempts. Content is not
// rewritten; the warning travels with the turn.
var injectionSignatures = []string{
	"ignore instructions",
	"ignore previous instructions",
	"ignore all previous",
	"you are now",
	"disregard the above",
	"system prompt",
	"忽略之前的指令",
	"忽略上述指令",
	"你现在是",
}

// SanitizeText strips active HTML, escapes the remainder, flags injection
// signatures, and enforces the length cap. Idempotent: running the result
// through SanitizeText again returns it unchanged.
func SanitizeText(text string) (string, []string) {
	var warnings []string

	// Unescape first so repeated sanitization does not double-escape.
	text = html.UnescapeString(text)

	if dangerousTagRE.MatchString(text) {
		text = dangerousTagRE.ReplaceAllString(text, "")
		warnings = append(warnings, "removed potentially dangerous HTML tags")
	}
	if eventHandlerRE.MatchString(text) {
		text = eventHandlerRE.ReplaceAllString(text, "")
		warnings = append(warnings, "removed inline event handlers")
	}
	if jsSchemeRE.MatchString(text) {
		text = jsSchemeRE.ReplaceAllString(text, "")
		warnings = append(warnings, "removed javascript: scheme")
	}

	lower := strings.ToLower(text)
	for _, sig := range injectionSignatures {
		if strings.Contains(lower, sig) {
			warnings = append(warnings, "possible prompt-injection signature detected")
			break
		}
	}

	runes := []rune(text)
	if len(runes) > MaxTextLen {
		text = string(runes[:MaxTextLen])
		warnings = append(warnings, "input truncated to maximum length")
	}

	return html.EscapeString(text), warnings
}

// SanitizeRecordID keeps only [A-Za-z0-9_-:] and truncates to 128 chars.
func SanitizeRecordID(id string) string {
	id = recordIDRE.ReplaceAllString(id, "")
	if len(id) > MaxRecordIDLen {
		id = id[:MaxRecordIDLen]
	}
	return id
}

// validStyles is the closed style set for content generation.
var validStyles = map[string]bool{
	"short":    true,
	"neutral":  true,
	"friendly": true,
	"formal":   true,
	"casual":   true,
}

// NormalizeStyle maps a style string into the closed style set, defaulting
// to "short" on mismatch.
func NormalizeStyle(style string) string {
	s := strings.ToLower(strings.TrimSpace(style))
	if validStyles[s] {
		return s
	}
	return "short"
}

// ClampLimit clamps a list limit into [1, 50].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 50 {
		return 50
	}
	return limit
}
