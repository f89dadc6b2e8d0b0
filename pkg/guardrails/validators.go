package guardrails

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/veracitylab/factgate/pkg/models"
)

// ValidationResult is the outcome of validating one tool invocation.
// Warnings are advisory and prepended to the token stream; errors abort
// the dispatch.
type ValidationResult struct {
	IsValid  bool
	Args     map[string]any
	Errors   []string
	Warnings []string
}

// validatorFunc validates and sanitizes the arguments of a single tool.
type validatorFunc func(args map[string]any) ValidationResult

// toolValidators registers one validator per whitelisted tool. A tool in
// the whitelist without a validator here is rejected (fail-closed).
var toolValidators = map[string]validatorFunc{
	models.ToolAnalyze:      textValidator("text", true),
	models.ToolClaimsOnly:   textValidator("text", true),
	models.ToolEvidenceOnly: textValidator("text", true),
	models.ToolAlignOnly:    textValidator("text", true),
	models.ToolReportOnly:   textValidator("text", true),
	models.ToolLoadHistory:  recordValidator("用法：/load_history <记录ID>"),
	models.ToolWhy:          recordValidator("用法：/why [记录ID]（或先执行 /analyze 绑定记录）"),
	models.ToolDeepDive:     recordValidator("用法：/deep_dive <记录ID> [主张ID]"),
	models.ToolExport:       recordValidator("用法：/export <记录ID>"),
	models.ToolMoreEvidence: recordValidator("用法：/more_evidence <记录ID> [主张ID]"),
	models.ToolList:         validateList,
	models.ToolHelp:         validateHelp,
	models.ToolCompare:      textValidator("text", true),
	models.ToolRewrite:      validateStyled,
	models.ToolSimulate:     validateSimulate,
	models.ToolContentGen:   validateStyled,
}

// Whitelist reports whether the tool is in the closed tool set.
func Whitelist(tool string) bool {
	switch tool {
	case models.ToolAnalyze, models.ToolLoadHistory, models.ToolWhy, models.ToolList,
		models.ToolMoreEvidence, models.ToolRewrite, models.ToolHelp, models.ToolCompare,
		models.ToolDeepDive, models.ToolExport, models.ToolClaimsOnly, models.ToolEvidenceOnly,
		models.ToolAlignOnly, models.ToolReportOnly, models.ToolSimulate, models.ToolContentGen:
		return true
	}
	return false
}

// ValidateToolCall applies the whitelist and the per-tool validator.
func ValidateToolCall(call models.ToolCall) ValidationResult {
	if !Whitelist(call.ToolName) {
		return ValidationResult{Errors: []string{"tool not whitelisted"}}
	}
	validator, ok := toolValidators[call.ToolName]
	if !ok {
		// Whitelisted but no registered validator: reject rather than allow.
		return ValidationResult{Errors: []string{fmt.Sprintf("no validator registered for tool %q", call.ToolName)}}
	}
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	return validator(args)
}

func textValidator(field string, required bool) validatorFunc {
	return func(args map[string]any) ValidationResult {
		res := ValidationResult{Args: map[string]any{}}
		text := stringArg(args, field)
		if strings.TrimSpace(text) == "" {
			if required {
				res.Errors = append(res.Errors, fmt.Sprintf("missing required field %q", field))
				return res
			}
		}
		clean, warnings := SanitizeText(text)
		res.Args[field] = clean
		res.Warnings = append(res.Warnings, warnings...)
		copyOptionalRecord(args, res.Args)
		res.IsValid = true
		return res
	}
}

func recordValidator(usage string) validatorFunc {
	return func(args map[string]any) ValidationResult {
		res := ValidationResult{Args: map[string]any{}}
		id := SanitizeRecordID(stringArg(args, "record_id"))
		if id == "" {
			res.Errors = append(res.Errors, usage)
			return res
		}
		res.Args["record_id"] = id
		if claimID := SanitizeRecordID(stringArg(args, "claim_id")); claimID != "" {
			res.Args["claim_id"] = claimID
		}
		res.IsValid = true
		return res
	}
}

func validateList(args map[string]any) ValidationResult {
	res := ValidationResult{Args: map[string]any{}, IsValid: true}
	limit := intArg(args, "limit", 10)
	clamped := ClampLimit(limit)
	if clamped != limit {
		res.Warnings = append(res.Warnings, fmt.Sprintf("limit clamped to %d", clamped))
	}
	res.Args["limit"] = clamped
	return res
}

func validateHelp(args map[string]any) ValidationResult {
	res := ValidationResult{Args: map[string]any{}, IsValid: true}
	if clarify, ok := args["clarify"].(bool); ok {
		res.Args["clarify"] = clarify
	}
	return res
}

// validateStyled covers rewrite and content_generate: record binding plus a
// normalized style.
func validateStyled(args map[string]any) ValidationResult {
	res := ValidationResult{Args: map[string]any{}}
	id := SanitizeRecordID(stringArg(args, "record_id"))
	if id == "" {
		res.Errors = append(res.Errors, "missing required field \"record_id\"")
		return res
	}
	res.Args["record_id"] = id
	raw := stringArg(args, "style")
	style := NormalizeStyle(raw)
	if raw != "" && style != strings.ToLower(strings.TrimSpace(raw)) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("style %q normalized to %q", raw, style))
	}
	res.Args["style"] = style
	res.IsValid = true
	return res
}

func validateSimulate(args map[string]any) ValidationResult {
	res := ValidationResult{Args: map[string]any{}}
	id := SanitizeRecordID(stringArg(args, "record_id"))
	if id == "" {
		res.Errors = append(res.Errors, "missing required field \"record_id\"")
		return res
	}
	res.Args["record_id"] = id
	if platform := stringArg(args, "platform"); platform != "" {
		res.Args["platform"] = platform
	}
	hours := intArg(args, "time_window_hours", 24)
	if hours < 1 || hours > 168 {
		res.Warnings = append(res.Warnings, "time_window_hours clamped to [1,168]")
		if hours < 1 {
			hours = 1
		} else {
			hours = 168
		}
	}
	res.Args["time_window_hours"] = hours
	res.IsValid = true
	return res
}

func copyOptionalRecord(src, dst map[string]any) {
	if id := SanitizeRecordID(stringArg(src, "record_id")); id != "" {
		dst["record_id"] = id
	}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
