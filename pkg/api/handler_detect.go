package api

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/veracitylab/factgate/pkg/guardrails"
	"github.com/veracitylab/factgate/pkg/models"
)

type detectRequest struct {
	Text string `json:"text" binding:"required"`
}

// checkText sanitizes and length-checks detect input. Returns "" after
// writing the 422 response when the input is unusable.
func (s *Server) checkText(c *gin.Context, text string) string {
	if utf8.RuneCountInString(text) > s.cfg.MaxInputChars {
		abortSchema(c, fmt.Sprintf("text exceeds %d characters", s.cfg.MaxInputChars))
		return ""
	}
	clean, _ := guardrails.SanitizeText(text)
	if strings.TrimSpace(clean) == "" {
		abortSchema(c, "text must not be empty")
		return ""
	}
	return clean
}

// detect handles POST /detect: the full pipeline on raw text, persisted as
// a history record like a chat analyze turn.
func (s *Server) detect(c *gin.Context) {
	var req detectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortSchema(c, "text is required")
		return
	}
	text := s.checkText(c, req.Text)
	if text == "" {
		return
	}

	ctx := c.Request.Context()
	snapshot := s.orch.RunRisk(ctx, text)
	claims := s.orch.RunClaims(ctx, text, snapshot.Strategy)
	evidence := s.orch.RunEvidence(ctx, claims, snapshot.Strategy)
	report := s.orch.RunReport(ctx, claims, evidence)

	resp := gin.H{
		"risk":     snapshot,
		"claims":   claims,
		"evidence": evidence,
		"report":   report,
	}

	rec, err := s.history.Insert(ctx, &models.HistoryRecord{
		InputText:        text,
		RiskLabel:        report.RiskLabel,
		RiskScore:        report.RiskScore,
		DetectedScenario: report.DetectedScenario,
		EvidenceDomains:  report.EvidenceDomains,
		Report:           report,
	})
	if err != nil {
		s.logger.Warn("failed to insert history record", "error", err)
	} else {
		resp["record_id"] = rec.ID
	}

	c.JSON(http.StatusOK, resp)
}

// detectClaims handles POST /detect/claims: risk snapshot plus extraction.
func (s *Server) detectClaims(c *gin.Context) {
	var req detectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortSchema(c, "text is required")
		return
	}
	text := s.checkText(c, req.Text)
	if text == "" {
		return
	}

	ctx := c.Request.Context()
	snapshot := s.orch.RunRisk(ctx, text)
	claims := s.orch.RunClaims(ctx, text, snapshot.Strategy)
	c.JSON(http.StatusOK, gin.H{"risk": snapshot, "claims": claims, "strategy": snapshot.Strategy})
}

// detectEvidence handles POST /detect/evidence: retrieval and summarization
// without stance alignment.
func (s *Server) detectEvidence(c *gin.Context) {
	var req detectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortSchema(c, "text is required")
		return
	}
	text := s.checkText(c, req.Text)
	if text == "" {
		return
	}

	ctx := c.Request.Context()
	snapshot := s.orch.RunRisk(ctx, text)
	claims := s.orch.RunClaims(ctx, text, snapshot.Strategy)
	evidence := s.orch.RetrieveEvidence(ctx, claims, snapshot.Strategy)
	c.JSON(http.StatusOK, gin.H{"claims": claims, "evidence": evidence})
}

type alignRequest struct {
	Claims   []models.Claim               `json:"claims" binding:"required"`
	Evidence map[string][]models.Evidence `json:"evidence" binding:"required"`
}

// detectAlign handles POST /detect/evidence/align: re-runs stance alignment
// over a caller-supplied evidence set.
func (s *Server) detectAlign(c *gin.Context) {
	var req alignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortSchema(c, "claims and evidence are required")
		return
	}
	aligned := s.orch.AlignEvidence(c.Request.Context(), req.Claims, req.Evidence)
	c.JSON(http.StatusOK, gin.H{"evidence": aligned})
}

// detectReport handles POST /detect/report: builds a report from
// caller-supplied claims and aligned evidence.
func (s *Server) detectReport(c *gin.Context) {
	var req alignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortSchema(c, "claims and evidence are required")
		return
	}
	report := s.orch.RunReport(c.Request.Context(), req.Claims, req.Evidence)
	c.JSON(http.StatusOK, gin.H{"report": report})
}

type detectURLRequest struct {
	URL string `json:"url" binding:"required"`
}

// detectURL handles POST /detect/url: fetches a page, extracts its text,
// and runs the full pipeline on it.
func (s *Server) detectURL(c *gin.Context) {
	var req detectURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortSchema(c, "url is required")
		return
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		abortSchema(c, "url must be an absolute http(s) URL")
		return
	}

	text, err := fetchPageText(c, parsed.String())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, detail{Detail: "failed to fetch url: " + err.Error()})
		return
	}
	if runes := []rune(text); len(runes) > s.cfg.MaxInputChars {
		text = string(runes[:s.cfg.MaxInputChars])
	}
	text = s.checkText(c, text)
	if text == "" {
		return
	}

	ctx := c.Request.Context()
	snapshot := s.orch.RunRisk(ctx, text)
	claims := s.orch.RunClaims(ctx, text, snapshot.Strategy)
	evidence := s.orch.RunEvidence(ctx, claims, snapshot.Strategy)
	report := s.orch.RunReport(ctx, claims, evidence)
	c.JSON(http.StatusOK, gin.H{
		"url":    parsed.String(),
		"risk":   snapshot,
		"claims": claims,
		"report": report,
	})
}

var (
	scriptRE = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRE    = regexp.MustCompile(`(?s)<[^>]+>`)
)

const maxFetchBytes = 512 << 10

// fetchPageText downloads a page and strips markup. The extraction is
// intentionally crude: detect/url targets article-like pages.
func fetchPageText(c *gin.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", err
	}
	text := scriptRE.ReplaceAllString(string(body), " ")
	text = tagRE.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " "), nil
}
