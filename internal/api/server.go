package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"courseadmin/internal/db"
	"courseadmin/internal/services"
)

// Server wires HTTP handlers to the import services.
type Server struct {
	Database  *db.Database
	Import    *services.ImportService
	Decisions *services.DecisionService
}

// RegisterRoutes attaches handlers to the gin engine.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		s.registerImportRoutes(api)
		s.registerDecisionRoutes(api)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	payload := gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)}
	if s.Database != nil {
		if err := s.Database.PingContext(c.Request.Context()); err != nil {
			payload["database"] = gin.H{"status": "unavailable", "error": err.Error()}
		} else {
			payload["database"] = gin.H{"status": "ok"}
		}
	}
	c.JSON(http.StatusOK, payload)
}
