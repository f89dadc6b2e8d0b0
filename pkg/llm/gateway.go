// Package llm is the single outbound path to the language model. Every
// stage calls through the Gateway, which owns the HTTP transport, the
// strict-JSON parse ladder, per-stage tracing, and the process-wide
// concurrency slot semaphore.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/veracitylab/factgate/pkg/config"
)

// Caller is the stage-facing interface. Stages depend on this so tests can
// substitute a scripted caller.
type Caller interface {
	CallJSON(ctx context.Context, req Request) map[string]any
}

// Request describes one strict-JSON LM call.
type Request struct {
	System      string
	User        string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	TraceLabel  string
}

// CounterFunc is invoked once per attempted LM call, letting the dispatcher
// enforce per-session LM budgets.
type CounterFunc func(traceLabel string)

// Gateway issues OpenAI-compatible chat-completions requests with a
// json_object response format.
type Gateway struct {
	cfg        config.LMConfig
	httpClient *http.Client
	slots      *semaphore.Weighted
	tracer     *Tracer
	counter    CounterFunc
}

// NewGateway builds a gateway from config. The slot semaphore bounds
// concurrent outbound calls process-wide.
func NewGateway(cfg config.LMConfig, tracer *Tracer) *Gateway {
	return &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		slots:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		tracer:     tracer,
	}
}

// SetCounter installs the per-call budget counter hook.
func (g *Gateway) SetCounter(fn CounterFunc) {
	g.counter = fn
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CallJSON performs one strict-JSON LM call. It returns the parsed object,
// or nil after the parse ladder and all retries are exhausted. No error
// crosses this boundary; callers fall back to their rule path on nil.
func (g *Gateway) CallJSON(ctx context.Context, req Request) map[string]any {
	if req.Model == "" {
		req.Model = g.cfg.Model
	}
	if req.Timeout <= 0 {
		req.Timeout = g.cfg.Timeout
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = g.cfg.MaxRetries
	}
	if req.RetryDelay <= 0 {
		req.RetryDelay = g.cfg.RetryDelay
	}
	if req.Temperature == 0 {
		req.Temperature = g.cfg.Temperature
	}

	if err := g.slots.Acquire(ctx, 1); err != nil {
		slog.Warn("LM slot acquisition cancelled", "trace_label", req.TraceLabel, "error", err)
		return nil
	}
	defer g.slots.Release(1)

	var lastErr error
	for attempt := 0; attempt <= req.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(req.RetryDelay):
			case <-ctx.Done():
				return nil
			}
		}

		if g.counter != nil {
			g.counter(req.TraceLabel)
		}

		content, err := g.doRequest(ctx, req)
		if err != nil {
			lastErr = err
			g.tracer.Trace(req.TraceLabel, map[string]any{
				"event": "request_failed", "attempt": attempt, "error": err.Error(),
			})
			continue
		}

		parsed, tier := ParseStrictJSON(content)
		g.tracer.Trace(req.TraceLabel, map[string]any{
			"event":      "response",
			"attempt":    attempt,
			"raw":        content,
			"parse_tier": tier,
			"parsed_ok":  parsed != nil,
		})
		if parsed != nil {
			return parsed
		}
		lastErr = fmt.Errorf("strict-JSON parse failed at all tiers")
	}

	slog.Warn("LM call exhausted retries",
		"trace_label", req.TraceLabel, "error", lastErr)
	return nil
}

func (g *Gateway) doRequest(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	body := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature:    req.Temperature,
		ResponseFormat: &respFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	g.tracer.Trace(req.TraceLabel, map[string]any{
		"event":   "request",
		"model":   req.Model,
		"headers": map[string]string{"Authorization": "Bearer ***"},
		"body":    json.RawMessage(payload),
	})

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		strings.TrimRight(g.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("non-2xx status %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
