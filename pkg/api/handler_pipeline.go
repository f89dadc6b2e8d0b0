package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veracitylab/factgate/pkg/models"
)

// savePhase handles POST /pipeline/save-phase: an UPSERT of one
// (task, phase) snapshot. Schema checks live in the task store.
func (s *Server) savePhase(c *gin.Context) {
	var snap models.PhaseSnapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		abortSchema(c, "invalid phase snapshot")
		return
	}
	if err := s.tasks.SavePhase(c.Request.Context(), snap); err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// loadLatest handles GET /pipeline/load-latest?task_id=…: the task plus its
// latest snapshot per phase, with stale running phases marked failed.
func (s *Server) loadLatest(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		abortSchema(c, "task_id is required")
		return
	}

	task, snaps, err := s.tasks.LoadLatest(c.Request.Context(), taskID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task, "phases": snaps})
}
