package stages

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/models"
	"github.com/veracitylab/factgate/pkg/search"
)

// EvidenceEngine retrieves and ranks web evidence per claim.
type EvidenceEngine struct {
	provider search.Provider
	cfg      *config.Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewEvidenceEngine creates an EvidenceEngine. A nil provider behaves like
// disabled retrieval: every claim gets the placeholder row.
func NewEvidenceEngine(provider search.Provider, cfg *config.Config, logger *slog.Logger) *EvidenceEngine {
	return &EvidenceEngine{provider: provider, cfg: cfg, logger: logger, now: time.Now}
}

// Retrieve searches evidence for one claim and returns ranked rows with
// heuristic stances. Search failure degrades to the placeholder row, never
// an error: downstream stages need a per-claim row regardless.
func (e *EvidenceEngine) Retrieve(ctx context.Context, claim models.Claim, strat models.Strategy) []models.Evidence {
	topK := strat.EvidencePerClaim
	if topK <= 0 {
		topK = e.cfg.Search.TopK
	}

	if !e.cfg.Search.Enabled || e.provider == nil {
		return []models.Evidence{placeholderEvidence(claim)}
	}

	results, err := e.provider.Search(ctx, claim.ClaimText, topK)
	if err != nil {
		e.logger.Warn("evidence search failed, inserting placeholder",
			"claim_id", claim.ClaimID, "provider", e.provider.Name(), "error", err)
		return []models.Evidence{placeholderEvidence(claim)}
	}

	ranked := search.Rank(claim.ClaimText, results, e.cfg.Search.AllowedDomains, e.now())
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	if len(ranked) == 0 {
		return []models.Evidence{placeholderEvidence(claim)}
	}

	retrievedAt := e.now().UTC().Format("2006-01-02")
	evidences := make([]models.Evidence, 0, len(ranked))
	for i, r := range ranked {
		ev := models.Evidence{
			EvidenceID:      fmt.Sprintf("e%d", i+1),
			ClaimID:         claim.ClaimID,
			Title:           r.Title,
			Source:          search.Domain(r.URL),
			URL:             r.URL,
			PublishedAt:     r.PublishedAt,
			Summary:         r.Summary,
			SourceWeight:    models.Clamp01(search.DomainWeight(r.URL)),
			SourceType:      models.SourceWebLive,
			RetrievedAt:     retrievedAt,
			Domain:          search.Domain(r.URL),
			IsAuthoritative: search.IsAuthoritative(r.URL),
			RawSnippet:      r.RawSnippet,
			Relevance:       r.Relevance,
		}
		ev.Stance = heuristicStance(claim, ev)
		evidences = append(evidences, ev)
	}
	return evidences
}

// heuristicStance is the pre-alignment guess, later overridden by the align
// stage: rumor-control wording refutes, relevant official wording supports,
// everything else is insufficient.
func heuristicStance(claim models.Claim, ev models.Evidence) models.Stance {
	text := ev.Title + " " + ev.Summary
	if containsAny(text, refuteTerms) {
		return models.StanceRefute
	}
	if ev.Relevance >= 0.5 && containsAny(text, officialTerms) {
		return models.StanceSupport
	}
	return models.StanceInsufficient
}

func placeholderEvidence(claim models.Claim) models.Evidence {
	return models.Evidence{
		EvidenceID:   "e1",
		ClaimID:      claim.ClaimID,
		Title:        "暂无检索结果",
		Source:       "none",
		Summary:      "未检索到相关证据，无法判断。",
		Stance:       models.StanceInsufficient,
		SourceWeight: 0.3,
		SourceType:   models.SourceWebLive,
	}
}
