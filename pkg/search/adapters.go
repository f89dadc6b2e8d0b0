package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// baiduProvider talks to a Baidu-compatible search endpoint.
type baiduProvider struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

func (p *baiduProvider) Name() string { return "baidu" }

func (p *baiduProvider) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	body, err := postJSON(ctx, p.client, p.endpoint, p.apiKey, map[string]any{
		"query": query,
		"num":   topK,
	})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Results []struct {
			Title       string  `json:"title"`
			URL         string  `json:"url"`
			Abstract    string  `json:"abstract"`
			Score       float64 `json:"score"`
			PublishDate string  `json:"publish_date"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode baidu response: %w", err)
	}
	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, Result{
			Title:       r.Title,
			URL:         r.URL,
			Summary:     r.Abstract,
			Score:       r.Score,
			PublishedAt: r.PublishDate,
			RawSnippet:  r.Abstract,
		})
	}
	return results, nil
}

// tavilyProvider talks to the Tavily REST API.
type tavilyProvider struct {
	client *http.Client
	apiKey string
}

func (p *tavilyProvider) Name() string { return "tavily" }

func (p *tavilyProvider) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	body, err := postJSON(ctx, p.client, "https://api.tavily.com/search", p.apiKey, map[string]any{
		"query":       query,
		"max_results": topK,
	})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Results []struct {
			Title         string  `json:"title"`
			URL           string  `json:"url"`
			Content       string  `json:"content"`
			Score         float64 `json:"score"`
			PublishedDate string  `json:"published_date"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode tavily response: %w", err)
	}
	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, Result{
			Title:       r.Title,
			URL:         r.URL,
			Summary:     r.Content,
			Score:       r.Score,
			PublishedAt: r.PublishedDate,
			RawSnippet:  r.Content,
		})
	}
	return results, nil
}

// serpAPIProvider talks to SerpAPI's Google engine.
type serpAPIProvider struct {
	client *http.Client
	apiKey string
}

func (p *serpAPIProvider) Name() string { return "serpapi" }

func (p *serpAPIProvider) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("num", strconv.Itoa(topK))
	params.Set("api_key", p.apiKey)

	body, err := getJSON(ctx, p.client, "https://serpapi.com/search.json?"+params.Encode())
	if err != nil {
		return nil, err
	}
	var parsed struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic_results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode serpapi response: %w", err)
	}
	results := make([]Result, 0, len(parsed.OrganicResults))
	for i, r := range parsed.OrganicResults {
		results = append(results, Result{
			Title:       r.Title,
			URL:         r.Link,
			Summary:     r.Snippet,
			Score:       1 - float64(i)*0.05, // rank-derived, SerpAPI has no score
			PublishedAt: r.Date,
			RawSnippet:  r.Snippet,
		})
	}
	return results, nil
}

// searxngProvider talks to a self-hosted SearXNG instance.
type searxngProvider struct {
	client   *http.Client
	endpoint string
}

func (p *searxngProvider) Name() string { return "searxng" }

func (p *searxngProvider) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	body, err := getJSON(ctx, p.client, p.endpoint+"/search?"+params.Encode())
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Results []struct {
			Title         string  `json:"title"`
			URL           string  `json:"url"`
			Content       string  `json:"content"`
			Score         float64 `json:"score"`
			PublishedDate string  `json:"publishedDate"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode searxng response: %w", err)
	}
	if len(parsed.Results) > topK {
		parsed.Results = parsed.Results[:topK]
	}
	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, Result{
			Title:       r.Title,
			URL:         r.URL,
			Summary:     r.Content,
			Score:       r.Score,
			PublishedAt: r.PublishedDate,
			RawSnippet:  r.Content,
		})
	}
	return results, nil
}

// bochaProvider talks to the Bocha web search API.
type bochaProvider struct {
	client *http.Client
	apiKey string
}

func (p *bochaProvider) Name() string { return "bocha" }

func (p *bochaProvider) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	body, err := postJSON(ctx, p.client, "https://api.bochaai.com/v1/web-search", p.apiKey, map[string]any{
		"query": query,
		"count": topK,
	})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Data struct {
			WebPages struct {
				Value []struct {
					Name          string `json:"name"`
					URL           string `json:"url"`
					Snippet       string `json:"snippet"`
					DatePublished string `json:"datePublished"`
				} `json:"value"`
			} `json:"webPages"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode bocha response: %w", err)
	}
	values := parsed.Data.WebPages.Value
	results := make([]Result, 0, len(values))
	for i, r := range values {
		results = append(results, Result{
			Title:       r.Name,
			URL:         r.URL,
			Summary:     r.Snippet,
			Score:       1 - float64(i)*0.05,
			PublishedAt: r.DatePublished,
			RawSnippet:  r.Snippet,
		})
	}
	return results, nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint, apiKey string, payload map[string]any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return doRequest(client, req)
}

func getJSON(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	return doRequest(client, req)
}

func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search provider returned status %d", resp.StatusCode)
	}
	return body, nil
}
