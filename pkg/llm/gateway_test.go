package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veracitylab/factgate/pkg/config"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewGateway(config.LMConfig{
		BaseURL:       server.URL,
		APIKey:        "test-key",
		Model:         "test-model",
		Timeout:       5 * time.Second,
		MaxRetries:    2,
		RetryDelay:    10 * time.Millisecond,
		MaxConcurrent: 2,
	}, NewTracer(t.TempDir(), nil))
}

func completionBody(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return body
}

func TestCallJSON_Success(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])
		w.Write(completionBody(`{"risk_score": 30}`))
	})

	obj := gw.CallJSON(context.Background(), Request{
		System: "sys", User: "user", TraceLabel: "risk.snapshot",
	})
	require.NotNil(t, obj)
	assert.Equal(t, float64(30), obj["risk_score"])
}

func TestCallJSON_RepairsMalformedContent(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(completionBody("Here you go: {\"stance\": \"support\",}"))
	})

	obj := gw.CallJSON(context.Background(), Request{User: "u", TraceLabel: "align.stance"})
	require.NotNil(t, obj)
	assert.Equal(t, "support", obj["stance"])
}

func TestCallJSON_RetriesThenNil(t *testing.T) {
	var calls atomic.Int32
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	obj := gw.CallJSON(context.Background(), Request{User: "u", TraceLabel: "report.compose"})
	assert.Nil(t, obj)
	assert.Equal(t, int32(3), calls.Load()) // initial + 2 retries
}

func TestCallJSON_CountsEveryAttempt(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	var counted atomic.Int32
	gw.SetCounter(func(string) { counted.Add(1) })

	gw.CallJSON(context.Background(), Request{User: "u", TraceLabel: "claims.default"})
	assert.Equal(t, int32(3), counted.Load())
}

func TestCallJSON_ContextCancelled(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.Write(completionBody(`{}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	obj := gw.CallJSON(ctx, Request{User: "u", TraceLabel: "claims.default"})
	assert.Nil(t, obj)
}
