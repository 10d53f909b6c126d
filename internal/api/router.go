package api

import (
	"github.com/gin-gonic/gin"
)

// NewRouter configures HTTP routes for the application.
func NewRouter(server *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), gin.Logger())

	server.RegisterRoutes(r)
	return r
}
