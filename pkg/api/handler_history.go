package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/veracitylab/factgate/pkg/models"
)

func (s *Server) listHistory(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			abortSchema(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.history.List(c.Request.Context(), limit)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": list})
}

func (s *Server) getHistory(c *gin.Context) {
	rec, err := s.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type feedbackRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

func (s *Server) attachFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortSchema(c, "status is required")
		return
	}

	status := models.FeedbackStatus(req.Status)
	switch status {
	case models.FeedbackAccurate, models.FeedbackInaccurate, models.FeedbackEvidenceIrrelevant:
	default:
		abortSchema(c, "status must be accurate, inaccurate, or evidence_irrelevant")
		return
	}

	if err := s.history.AttachFeedback(c.Request.Context(), c.Param("id"), status, req.Note); err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type attachSimulationRequest struct {
	Simulation map[string]any `json:"simulation" binding:"required"`
}

func (s *Server) attachSimulation(c *gin.Context) {
	var req attachSimulationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortSchema(c, "simulation is required")
		return
	}
	if err := s.history.AttachSimulation(c.Request.Context(), c.Param("id"), req.Simulation); err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
