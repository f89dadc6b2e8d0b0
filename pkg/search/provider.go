// Package search is the web-retrieval adapter boundary. Each provider is a
// pure function (query, topK, timeout) → normalized results; the specific
// HTTP shape of each provider stays behind the adapter.
package search

import (
	"context"
	"fmt"
	"net/http"

	"github.com/veracitylab/factgate/pkg/config"
)

// Result is one normalized search hit.
type Result struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Summary     string  `json:"summary"`
	Score       float64 `json:"score"` // provider-reported, [0,1] best-effort
	PublishedAt string  `json:"published_at,omitempty"`
	RawSnippet  string  `json:"raw_snippet,omitempty"`
}

// Provider executes one search query.
type Provider interface {
	Search(ctx context.Context, query string, topK int) ([]Result, error)
	Name() string
}

// NewProvider builds the configured provider adapter.
func NewProvider(cfg config.SearchConfig) (Provider, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Provider {
	case "baidu":
		return &baiduProvider{client: client, endpoint: cfg.Endpoint, apiKey: cfg.APIKey}, nil
	case "tavily":
		return &tavilyProvider{client: client, apiKey: cfg.APIKey}, nil
	case "serpapi":
		return &serpAPIProvider{client: client, apiKey: cfg.APIKey}, nil
	case "searxng":
		return &searxngProvider{client: client, endpoint: cfg.Endpoint}, nil
	case "bocha":
		return &bochaProvider{client: client, apiKey: cfg.APIKey}, nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
}
