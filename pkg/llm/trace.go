package llm

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Tracer appends JSON-line trace records to per-stage files. Tracing is
// enabled per stage by debug flags; untraced stages pay only a map lookup.
type Tracer struct {
	dir     string
	enabled map[string]bool

	mu    sync.Mutex
	files map[string]*os.File
}

// NewTracer creates a tracer writing trace_<stage>.jsonl files under dir.
func NewTracer(dir string, enabled map[string]bool) *Tracer {
	return &Tracer{
		dir:     dir,
		enabled: enabled,
		files:   make(map[string]*os.File),
	}
}

// Trace appends one record to the stage's trace file if tracing is enabled
// for that stage. The stage is derived from the trace label prefix
// ("claims.decompose" → "claims").
func (t *Tracer) Trace(traceLabel string, payload map[string]any) {
	if t == nil {
		return
	}
	stage := traceLabel
	if idx := strings.IndexByte(traceLabel, '.'); idx > 0 {
		stage = traceLabel[:idx]
	}
	if !t.enabled[stage] {
		return
	}

	record := map[string]any{
		"ts":    time.Now().Format(time.RFC3339Nano),
		"label": traceLabel,
	}
	for k, v := range payload {
		record[k] = v
	}

	line, err := json.Marshal(record)
	if err != nil {
		slog.Warn("Failed to marshal trace record", "label", traceLabel, "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := t.file(stage)
	if err != nil {
		slog.Warn("Failed to open trace file", "stage", stage, "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Warn("Failed to write trace record", "stage", stage, "error", err)
	}
}

func (t *Tracer) file(stage string) (*os.File, error) {
	if f, ok := t.files[stage]; ok {
		return f, nil
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(t.dir, "trace_"+stage+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	t.files[stage] = f
	return f, nil
}

// Close closes all open trace files.
func (t *Tracer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for stage, f := range t.files {
		if err := f.Close(); err != nil {
			slog.Warn("Failed to close trace file", "stage", stage, "error", err)
		}
	}
	t.files = make(map[string]*os.File)
}
