// Package config loads orchestrator configuration from environment
// variables. A .env file is loaded by the entrypoint before Load runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LMConfig holds LM Gateway defaults.
type LMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	Temperature float64

	// MaxConcurrent bounds process-wide concurrent outbound LM calls.
	MaxConcurrent int
}

// StageToggles enables or disables the LM path per stage. A disabled stage
// runs its rule fallback directly.
type StageToggles struct {
	Risk            bool
	Alignment       bool
	Report          bool
	Simulation      bool
	EvidenceSummary bool
	Complexity      bool
}

// ClaimConfig controls the claims stage.
type ClaimConfig struct {
	Method   string // default | claimify
	MaxItems int    // 2..20
	MinScore float64
}

// SearchConfig controls web evidence retrieval.
type SearchConfig struct {
	Enabled        bool
	Provider       string // baidu | tavily | serpapi | searxng | bocha
	TopK           int
	AllowedDomains []string
	Timeout        time.Duration
	APIKey         string
	Endpoint       string
}

// BudgetConfig holds per-session call ceilings.
type BudgetConfig struct {
	ToolMaxCalls int
	LLMMaxCalls  int
}

// WorkerConfig bounds stage fan-out.
type WorkerConfig struct {
	ClaimWorkers int
	AlignWorkers int
}

// RetentionConfig controls the background data retention sweep.
type RetentionConfig struct {
	Enabled     bool
	SessionDays int
	HistoryDays int
	TaskDays    int
	Interval    time.Duration
}

// DebugConfig enables per-stage trace file emission.
type DebugConfig struct {
	TraceDir      string
	TracedStages  map[string]bool
}

// Config is the root configuration.
type Config struct {
	HTTPPort      string
	DBPath        string
	MaxInputChars int

	LM        LMConfig
	Toggles   StageToggles
	Claims    ClaimConfig
	Search    SearchConfig
	Budgets   BudgetConfig
	Workers   WorkerConfig
	Retention RetentionConfig
	Debug     DebugConfig
}

// Load reads configuration from the environment, applying defaults and
// validating ranges.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:      getEnv("HTTP_PORT", "8000"),
		DBPath:        getEnv("DB_PATH", "./data/factgate.db"),
		MaxInputChars: getEnvInt("MAX_INPUT_CHARS", 8000),
		LM: LMConfig{
			BaseURL:       getEnv("LM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:        os.Getenv("LM_API_KEY"),
			Model:         getEnv("LM_MODEL", "gpt-4o-mini"),
			Timeout:       getEnvDuration("LM_TIMEOUT", 60*time.Second),
			MaxRetries:    getEnvInt("LM_MAX_RETRIES", 2),
			RetryDelay:    getEnvDuration("LM_RETRY_DELAY", 2*time.Second),
			Temperature:   getEnvFloat("LM_TEMPERATURE", 0.2),
			MaxConcurrent: getEnvInt("LM_MAX_CONCURRENT", 3),
		},
		Toggles: StageToggles{
			Risk:            getEnvBool("RISK_LLM_ENABLED", true),
			Alignment:       getEnvBool("ALIGNMENT_LLM_ENABLED", true),
			Report:          getEnvBool("REPORT_LLM_ENABLED", true),
			Simulation:      getEnvBool("SIMULATION_LLM_ENABLED", true),
			EvidenceSummary: getEnvBool("EVIDENCE_SUMMARY_ENABLED", true),
			Complexity:      getEnvBool("COMPLEXITY_LLM_ENABLED", true),
		},
		Claims: ClaimConfig{
			Method:   getEnv("CLAIM_METHOD", "default"),
			MaxItems: getEnvInt("CLAIM_MAX_ITEMS", 6),
			MinScore: getEnvFloat("CLAIM_MIN_SCORE", 0.25),
		},
		Search: SearchConfig{
			Enabled:        getEnvBool("WEB_RETRIEVAL_ENABLED", true),
			Provider:       getEnv("WEB_SEARCH_PROVIDER", "baidu"),
			TopK:           getEnvInt("WEB_RETRIEVAL_TOPK", 5),
			AllowedDomains: splitCSV(os.Getenv("WEB_ALLOWED_DOMAINS")),
			Timeout:        getEnvDuration("WEB_SEARCH_TIMEOUT", 15*time.Second),
			APIKey:         os.Getenv("WEB_SEARCH_API_KEY"),
			Endpoint:       os.Getenv("WEB_SEARCH_ENDPOINT"),
		},
		Budgets: BudgetConfig{
			ToolMaxCalls: getEnvInt("SESSION_TOOL_MAX_CALLS", 40),
			LLMMaxCalls:  getEnvInt("SESSION_LLM_MAX_CALLS", 120),
		},
		Workers: WorkerConfig{
			ClaimWorkers: getEnvInt("CLAIM_PARALLEL_WORKERS", 3),
			AlignWorkers: getEnvInt("ALIGN_PARALLEL_WORKERS", 4),
		},
		Retention: RetentionConfig{
			Enabled:     getEnvBool("RETENTION_ENABLED", true),
			SessionDays: getEnvInt("SESSION_RETENTION_DAYS", 30),
			HistoryDays: getEnvInt("HISTORY_RETENTION_DAYS", 90),
			TaskDays:    getEnvInt("TASK_RETENTION_DAYS", 14),
			Interval:    getEnvDuration("CLEANUP_INTERVAL", 6*time.Hour),
		},
		Debug: DebugConfig{
			TraceDir:     getEnv("TRACE_DIR", "./traces"),
			TracedStages: tracedStages(),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Claims.Method != "default" && c.Claims.Method != "claimify" {
		return fmt.Errorf("CLAIM_METHOD must be 'default' or 'claimify', got %q", c.Claims.Method)
	}
	if c.Claims.MaxItems < 2 || c.Claims.MaxItems > 20 {
		return fmt.Errorf("CLAIM_MAX_ITEMS must be in [2,20], got %d", c.Claims.MaxItems)
	}
	if c.Claims.MinScore < 0 || c.Claims.MinScore > 1 {
		return fmt.Errorf("CLAIM_MIN_SCORE must be in [0,1], got %v", c.Claims.MinScore)
	}
	if c.LM.MaxConcurrent < 1 {
		return fmt.Errorf("LM_MAX_CONCURRENT must be >= 1, got %d", c.LM.MaxConcurrent)
	}
	if c.Workers.ClaimWorkers < 1 || c.Workers.AlignWorkers < 1 {
		return fmt.Errorf("parallel worker counts must be >= 1")
	}
	switch c.Search.Provider {
	case "baidu", "tavily", "serpapi", "searxng", "bocha":
	default:
		return fmt.Errorf("unknown WEB_SEARCH_PROVIDER %q", c.Search.Provider)
	}
	return nil
}

// tracedStages parses per-stage debug flags of the form DEBUG_TRACE_<STAGE>.
func tracedStages() map[string]bool {
	stages := map[string]bool{}
	for _, name := range []string{"risk", "claims", "evidence", "summarize", "align", "report", "simulate", "content"} {
		if getEnvBool("DEBUG_TRACE_"+strings.ToUpper(name), false) {
			stages[name] = true
		}
	}
	return stages
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare numbers are seconds.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
