package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veracitylab/factgate/pkg/models"
	"github.com/veracitylab/factgate/pkg/sse"
	"github.com/veracitylab/factgate/pkg/stages"
)

type simulateRequest struct {
	RecordID        string         `json:"record_id"`
	Report          *models.Report `json:"report"`
	InputText       string         `json:"input_text"`
	Platform        string         `json:"platform"`
	TimeWindowHours int            `json:"time_window_hours"`
}

// resolveSimulationInput builds the engine input from a record or an inline
// report. Returns nil after writing the error response.
func (s *Server) resolveSimulationInput(c *gin.Context, req *simulateRequest) *stages.SimulationInput {
	in := &stages.SimulationInput{
		Report:          req.Report,
		InputText:       req.InputText,
		Platform:        req.Platform,
		TimeWindowHours: req.TimeWindowHours,
	}
	if req.RecordID != "" {
		rec, err := s.history.Get(c.Request.Context(), req.RecordID)
		if err != nil {
			abortError(c, err)
			return nil
		}
		in.Report = rec.Report
		if in.InputText == "" {
			in.InputText = rec.InputText
		}
	}
	if in.Report == nil {
		abortSchema(c, "record_id or report is required")
		return nil
	}
	return in
}

// simulate handles POST /simulate.
func (s *Server) simulate(c *gin.Context) {
	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortSchema(c, "invalid request body")
		return
	}
	in := s.resolveSimulationInput(c, &req)
	if in == nil {
		return
	}

	result := s.orch.RunSimulation(c.Request.Context(), *in, nil)
	s.attachSimulationResult(c, req.RecordID, result)
	c.JSON(http.StatusOK, gin.H{"simulation": result})
}

// simulateStream handles POST /simulate/stream: one stage event per
// completed sub-stage, then a terminal message, then done.
func (s *Server) simulateStream(c *gin.Context) {
	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortSchema(c, "invalid request body")
		return
	}
	in := s.resolveSimulationInput(c, &req)
	if in == nil {
		return
	}

	stream, err := sse.New(c.Writer)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, detail{Detail: "streaming unsupported"})
		return
	}

	result := s.orch.RunSimulation(c.Request.Context(), *in, func(subStage string, payload map[string]any) {
		sse.Stage(stream, "simulate."+subStage, models.PhaseDone, payload)
	})
	s.attachSimulationResult(c, req.RecordID, result)

	sse.Message(stream, &models.Message{
		Role:    models.RoleAssistant,
		Content: "舆情推演完成。",
		Meta:    map[string]any{"simulation": result},
	})
	sse.Done(stream)
}

func (s *Server) attachSimulationResult(c *gin.Context, recordID string, result map[string]any) {
	if recordID == "" {
		return
	}
	if err := s.history.AttachSimulation(c.Request.Context(), recordID, result); err != nil {
		s.logger.Warn("failed to attach simulation", "record_id", recordID, "error", err)
	}
}
