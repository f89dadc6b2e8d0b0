package models

// SourceType distinguishes where an evidence row came from.
type SourceType string

const (
	SourceLocalKB    SourceType = "local_kb"
	SourceWebLive    SourceType = "web_live"
	SourceWebSummary SourceType = "web_summary"
)

// Evidence is one retrieved or merged evidence row for a claim. Evidence IDs
// are "e1..eN" out of search and "s1..sN" after summarization.
type Evidence struct {
	EvidenceID          string     `json:"evidence_id"`
	ClaimID             string     `json:"claim_id"`
	Title               string     `json:"title"`
	Source              string     `json:"source"`
	URL                 string     `json:"url"`
	PublishedAt         string     `json:"published_at,omitempty"` // YYYY-MM-DD
	Summary             string     `json:"summary"`
	Stance              Stance     `json:"stance"`
	SourceWeight        float64    `json:"source_weight"`
	SourceType          SourceType `json:"source_type"`
	RetrievedAt         string     `json:"retrieved_at,omitempty"`
	Domain              string     `json:"domain,omitempty"`
	IsAuthoritative     bool       `json:"is_authoritative,omitempty"`
	RawSnippet          string     `json:"raw_snippet,omitempty"`
	AlignmentRationale  string     `json:"alignment_rationale,omitempty"`
	AlignmentConfidence float64    `json:"alignment_confidence,omitempty"`
	SourceURLs          []string   `json:"source_urls,omitempty"`
	Relevance           float64    `json:"relevance,omitempty"`
}
