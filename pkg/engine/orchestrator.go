// Package engine exposes the pipeline as a facade over the stage engines.
// The dispatcher and the REST handlers both run stages only through here.
package engine

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/llm"
	"github.com/veracitylab/factgate/pkg/models"
	"github.com/veracitylab/factgate/pkg/search"
	"github.com/veracitylab/factgate/pkg/stages"
)

// Orchestrator wires the stage engines together and owns the per-claim
// fan-out worker limits.
type Orchestrator struct {
	risk      *stages.RiskEngine
	claims    *stages.ClaimEngine
	evidence  *stages.EvidenceEngine
	summarize *stages.SummarizeEngine
	align     *stages.AlignEngine
	report    *stages.ReportEngine
	simulate  *stages.SimulationEngine
	content   *stages.ContentEngine

	cfg    *config.Config
	logger *slog.Logger
}

// New builds an Orchestrator. The search provider may be nil when web
// retrieval is disabled.
func New(lm llm.Caller, provider search.Provider, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		risk:      stages.NewRiskEngine(lm, cfg),
		claims:    stages.NewClaimEngine(lm, cfg),
		evidence:  stages.NewEvidenceEngine(provider, cfg, logger),
		summarize: stages.NewSummarizeEngine(lm, cfg),
		align:     stages.NewAlignEngine(lm, cfg),
		report:    stages.NewReportEngine(lm, cfg),
		simulate:  stages.NewSimulationEngine(lm, cfg),
		content:   stages.NewContentEngine(lm, cfg),
		cfg:       cfg,
		logger:    logger,
	}
}

// RunRisk computes the risk snapshot and turn strategy.
func (o *Orchestrator) RunRisk(ctx context.Context, text string) *models.RiskSnapshot {
	return o.risk.Snapshot(ctx, text)
}

// RunClaims extracts claims under the given strategy.
func (o *Orchestrator) RunClaims(ctx context.Context, text string, strat models.Strategy) []models.Claim {
	return o.claims.Extract(ctx, text, strat)
}

// RunEvidence retrieves, summarizes, and aligns evidence for every claim.
func (o *Orchestrator) RunEvidence(ctx context.Context, claims []models.Claim, strat models.Strategy) map[string][]models.Evidence {
	return o.AlignEvidence(ctx, claims, o.RetrieveEvidence(ctx, claims, strat))
}

// RetrieveEvidence searches and summarizes evidence for every claim without
// stance alignment. Claims fan out across a bounded worker group; results
// are keyed by claim ID so the output is independent of completion order.
func (o *Orchestrator) RetrieveEvidence(ctx context.Context, claims []models.Claim, strat models.Strategy) map[string][]models.Evidence {
	results := make([][]models.Evidence, len(claims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers.ClaimWorkers)
	for i, claim := range claims {
		g.Go(func() error {
			evidences := o.evidence.Retrieve(gctx, claim, strat)
			results[i] = o.summarize.Merge(gctx, claim, evidences, strat)
			return nil
		})
	}
	// Stage engines never return errors; the group is used for its limit
	// and context plumbing.
	_ = g.Wait()

	byClaim := make(map[string][]models.Evidence, len(claims))
	for i, claim := range claims {
		byClaim[claim.ClaimID] = results[i]
	}
	return byClaim
}

// AlignEvidence re-runs stance alignment for an existing evidence set.
func (o *Orchestrator) AlignEvidence(ctx context.Context, claims []models.Claim, byClaim map[string][]models.Evidence) map[string][]models.Evidence {
	out := make(map[string][]models.Evidence, len(byClaim))
	for _, claim := range claims {
		out[claim.ClaimID] = o.alignAll(ctx, claim, byClaim[claim.ClaimID])
	}
	return out
}

func (o *Orchestrator) alignAll(ctx context.Context, claim models.Claim, evidences []models.Evidence) []models.Evidence {
	aligned := make([]models.Evidence, len(evidences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers.AlignWorkers)
	for i, ev := range evidences {
		g.Go(func() error {
			aligned[i] = o.align.Align(gctx, claim, ev)
			return nil
		})
	}
	_ = g.Wait()
	return aligned
}

// RunReport builds the final report from claims and aligned evidence.
func (o *Orchestrator) RunReport(ctx context.Context, claims []models.Claim, byClaim map[string][]models.Evidence) *models.Report {
	return o.report.Build(ctx, claims, byClaim)
}

// RunSimulation runs the four opinion-simulation sub-stages.
func (o *Orchestrator) RunSimulation(ctx context.Context, in stages.SimulationInput, emit stages.EmitFunc) map[string]any {
	return o.simulate.Run(ctx, in, emit)
}

// RunContent generates response content for a finished report.
func (o *Orchestrator) RunContent(ctx context.Context, in stages.ContentInput) map[string]any {
	return o.content.Generate(ctx, in)
}
