package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// GET /api/v1/pipelines
func (s *Server) listPipelines(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pipelines": s.lm.Orchestrator().Pipelines(),
	})
}
