package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Parse tiers, recorded in traces.
const (
	TierDirect = "direct"
	TierRepair = "repair"
	TierManual = "manual"
	TierFailed = "failed"
)

var (
	trailingCommaRE = regexp.MustCompile(`,\s*([}\]])`)
	controlCharRE   = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f]")
)

// fullwidthQuotes maps Chinese quotation marks to ASCII quotes. Only applied
// in the repair tier; legitimate quoted prose inside values survives the
// direct tier untouched.
var fullwidthQuotes = strings.NewReplacer(
	"“", `"`, "”", `"`, // “ ”
	"‘", `'`, "’", `'`, // ‘ ’
	"＂", `"`, // ＂
)

// ParseStrictJSON parses LM output into a JSON object using three tiers:
// direct parse, automatic repair, heuristic manual clean. Returns the
// parsed object and the tier that succeeded, or (nil, TierFailed).
func ParseStrictJSON(content string) (map[string]any, string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, TierFailed
	}

	if obj := tryParse(content); obj != nil {
		return obj, TierDirect
	}

	if obj := tryParse(repairJSON(content)); obj != nil {
		return obj, TierRepair
	}

	if obj := tryParse(manualClean(content)); obj != nil {
		return obj, TierManual
	}

	return nil, TierFailed
}

func tryParse(s string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil
	}
	return obj
}

// repairJSON fixes the common LM JSON defects: trailing commas, fullwidth
// quotes, stray control characters, and prose around the object (by
// extracting the first balanced {…} block).
func repairJSON(s string) string {
	s = fullwidthQuotes.Replace(s)
	s = controlCharRE.ReplaceAllString(s, "")
	s = trailingCommaRE.ReplaceAllString(s, "$1")
	return extractFirstObject(s)
}

// manualClean strips markdown fences and anything before the first brace or
// after the last, then applies the same mechanical repairs.
func manualClean(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	s = s[start : end+1]
	s = fullwidthQuotes.Replace(s)
	s = controlCharRE.ReplaceAllString(s, "")
	return trailingCommaRE.ReplaceAllString(s, "$1")
}

// extractFirstObject returns the first balanced top-level {…} block,
// respecting string literals and escapes. Falls back to the input when no
// balanced block exists.
func extractFirstObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return s
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return s[start:]
}
