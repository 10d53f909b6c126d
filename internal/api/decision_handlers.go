package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"courseadmin/internal/models"
)

type resolveRequest struct {
	Action string `json:"action" binding:"required"`
	Notes  string `json:"notes"`
}

type revertRequest struct {
	Note string `json:"note"`
}

func (s *Server) registerDecisionRoutes(group *gin.RouterGroup) {
	if s.Decisions == nil {
		group.GET("/decisions", func(c *gin.Context) { c.Status(http.StatusNotImplemented) })
		return
	}

	group.GET("/decisions", s.handleListDecisions)
	group.GET("/decisions/:id", s.handleGetDecision)
	group.POST("/decisions/:id/resolve", s.handleResolveDecision)
	group.POST("/decisions/:id/revert", s.handleRevertDecision)
}

func (s *Server) handleListDecisions(c *gin.Context) {
	processed := false
	if p := c.Query("processed"); p != "" {
		if v, err := strconv.ParseBool(p); err == nil {
			processed = v
		}
	}
	limit := 100
	if l := c.Query("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	decisions, err := s.Decisions.List(c.Request.Context(), processed, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

func (s *Server) handleGetDecision(c *gin.Context) {
	decision, err := s.Decisions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "decision_not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": decision})
}

func (s *Server) handleResolveDecision(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}
	err := s.Decisions.Resolve(c.Request.Context(), c.Param("id"), req.Action, req.Notes)
	switch {
	case errors.Is(err, models.ErrDecisionNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "decision_not_found"})
	case errors.Is(err, models.ErrDecisionAlreadyProcessed):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "decision_already_processed"})
	case errors.Is(err, models.ErrInvalidDecisionAction):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_decision_action"})
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "processed"})
	}
}

func (s *Server) handleRevertDecision(c *gin.Context) {
	var req revertRequest
	_ = c.ShouldBindJSON(&req)
	err := s.Decisions.Revert(c.Request.Context(), c.Param("id"), req.Note)
	switch {
	case errors.Is(err, models.ErrDecisionNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "decision_not_found"})
	case errors.Is(err, models.ErrDecisionNotProcessed):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "decision_not_processed"})
	case errors.Is(err, models.ErrDecisionNotRevertible):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "decision_not_revertible"})
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "reverted"})
	}
}
