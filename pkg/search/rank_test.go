package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDomainWeight(t *testing.T) {
	tests := []struct {
		url    string
		weight float64
	}{
		{"https://www.cdc.gov/page", 0.93}, // specific domain beats the .gov suffix
		{"https://who.int/news", 0.94},
		{"https://www.whitehouse.gov/x", 0.96},
		{"https://www.reuters.com/article", 0.88},
		{"http://city.gov.cn/notice", 0.96},
		{"https://example.com/blog", 0.72},
		{"not a url", 0.72},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.weight, DomainWeight(tt.url), 1e-9, "url %s", tt.url)
	}
}

func TestFreshnessWeight(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		date   string
		weight float64
	}{
		{"2026-05-20", 1.0},
		{"2026-01-01", 0.9},
		{"2025-07-01", 0.8},
		{"2020-01-01", 0.65},
		{"not-a-date", 0.8},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.weight, FreshnessWeight(tt.date, now), 1e-9, "date %s", tt.date)
	}
}

func TestRank_OrdersByRelevance(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	results := []Result{
		{Title: "unrelated cooking recipe", URL: "https://blog.example.com", Score: 0.9, PublishedAt: "2026-05-30"},
		{Title: "疫苗 接种 官方 通报", URL: "https://www.cdc.gov/x", Score: 0.8, PublishedAt: "2026-05-30"},
	}
	ranked := Rank("疫苗 接种 通报", results, nil, now)
	assert.Len(t, ranked, 2)
	assert.Equal(t, "https://www.cdc.gov/x", ranked[0].URL)
	assert.Greater(t, ranked[0].Relevance, ranked[1].Relevance)
}

func TestRank_AllowedDomainsFilter(t *testing.T) {
	now := time.Now()
	results := []Result{
		{Title: "a", URL: "https://who.int/a"},
		{Title: "b", URL: "https://spam.example.com/b"},
	}
	ranked := Rank("a", results, []string{"who.int"}, now)
	assert.Len(t, ranked, 1)
	assert.Equal(t, "https://who.int/a", ranked[0].URL)
}
