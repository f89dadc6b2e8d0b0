package search

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/veracitylab/factgate/pkg/textutil"
)

// Ranked pairs a result with its computed relevance.
type Ranked struct {
	Result
	Relevance float64
}

// authoritative domain weights, most specific first; everything else gets
// the base weight.
var domainWeights = []struct {
	suffix string
	weight float64
}{
	{"who.int", 0.94},
	{"cdc.gov", 0.93},
	{"reuters.com", 0.88},
	{".gov.cn", 0.96},
	{".gov", 0.96},
}

const baseDomainWeight = 0.72

// DomainWeight scores a URL's host by authority.
func DomainWeight(rawURL string) float64 {
	host := Domain(rawURL)
	if host == "" {
		return baseDomainWeight
	}
	for _, dw := range domainWeights {
		if host == strings.TrimPrefix(dw.suffix, ".") || strings.HasSuffix(host, dw.suffix) {
			return dw.weight
		}
	}
	return baseDomainWeight
}

// Domain extracts the lowercased host of a URL, without port.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsAuthoritative reports whether the URL's domain carries an elevated
// authority weight.
func IsAuthoritative(rawURL string) bool {
	return DomainWeight(rawURL) > baseDomainWeight
}

// FreshnessWeight buckets recency: 1.0 within 30 days, 0.9 within 180,
// 0.8 within 365, 0.65 older. Unparsable dates get the oldest bucket's
// neighbor treatment (0.8) to avoid over-rewarding missing metadata.
func FreshnessWeight(publishedAt string, now time.Time) float64 {
	t, err := time.Parse("2006-01-02", publishedAt)
	if err != nil {
		return 0.8
	}
	age := now.Sub(t)
	switch {
	case age <= 30*24*time.Hour:
		return 1.0
	case age <= 180*24*time.Hour:
		return 0.9
	case age <= 365*24*time.Hour:
		return 0.8
	default:
		return 0.65
	}
}

// Rank filters by allowed domains, scores each result, and sorts by
// relevance descending:
//
//	relevance = 0.55·token_overlap + 0.20·provider_score
//	          + 0.15·domain_weight + 0.10·freshness_weight
func Rank(query string, results []Result, allowedDomains []string, now time.Time) []Ranked {
	ranked := make([]Ranked, 0, len(results))
	for _, r := range results {
		if !domainAllowed(r.URL, allowedDomains) {
			continue
		}
		overlap := textutil.Overlap(query, r.Title+" "+r.Summary)
		score := clamp01(r.Score)
		relevance := 0.55*overlap + 0.20*score + 0.15*DomainWeight(r.URL) + 0.10*FreshnessWeight(r.PublishedAt, now)
		ranked = append(ranked, Ranked{Result: r, Relevance: relevance})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Relevance > ranked[j].Relevance
	})
	return ranked
}

func domainAllowed(rawURL string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host := Domain(rawURL)
	for _, d := range allowed {
		d = strings.ToLower(strings.TrimSpace(d))
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
