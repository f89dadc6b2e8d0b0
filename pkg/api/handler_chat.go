package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/veracitylab/factgate/pkg/sse"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}

// chat handles POST /chat: one synchronous turn. Stream events are drained
// internally; only the terminal assistant message is returned.
func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortSchema(c, "message is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sess, err := s.sessions.CreateSession(c.Request.Context(), "")
		if err != nil {
			abortError(c, err)
			return
		}
		sessionID = sess.SessionID
	}

	rec := &sse.Recorder{}
	msg := s.dispatcher.Dispatch(c.Request.Context(), sessionID, req.Message, rec)
	c.JSON(http.StatusOK, gin.H{
		"session_id":        sessionID,
		"assistant_message": msg,
	})
}

// chatStream handles POST /chat/stream: one turn streamed as SSE.
func (s *Server) chatStream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortSchema(c, "message is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sess, err := s.sessions.CreateSession(c.Request.Context(), "")
		if err != nil {
			abortError(c, err)
			return
		}
		sessionID = sess.SessionID
	}

	stream, err := sse.New(c.Writer)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, detail{Detail: "streaming unsupported"})
		return
	}
	s.dispatcher.Dispatch(c.Request.Context(), sessionID, req.Message, stream)
}

type createSessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	_ = c.ShouldBindJSON(&req)

	sess, err := s.sessions.CreateSession(c.Request.Context(), req.Title)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) listSessions(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			abortSchema(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.sessions.ListSessions(c.Request.Context(), limit)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	messages, err := s.sessions.GetMessages(c.Request.Context(), sess.SessionID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "messages": messages})
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.sessions.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sessionMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// sessionMessageStream handles POST /chat/sessions/:id/messages/stream.
func (s *Server) sessionMessageStream(c *gin.Context) {
	var req sessionMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortSchema(c, "message is required")
		return
	}

	sess, err := s.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}

	stream, err := sse.New(c.Writer)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, detail{Detail: "streaming unsupported"})
		return
	}
	s.dispatcher.Dispatch(c.Request.Context(), sess.SessionID, req.Message, stream)
}
