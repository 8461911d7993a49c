package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenPadCore/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/statistics/hourly-growth
func (s *Server) hourlyGrowth(c *gin.Context) {
	g, err := s.lm.Statistics().HourlyGrowth(c.Request.Context())
	if err != nil {
		c.JSON(types.Fail(types.AreaStats, http.StatusInternalServerError, "Failed to compute growth", err.Error()))
		return
	}
	c.JSON(http.StatusOK, g)
}

// GET /api/v1/statistics/overall-summary
func (s *Server) overallSummary(c *gin.Context) {
	sum, err := s.lm.Statistics().Summary(c.Request.Context())
	if err != nil {
		c.JSON(types.Fail(types.AreaStats, http.StatusInternalServerError, "Failed to compute summary", err.Error()))
		return
	}
	c.JSON(http.StatusOK, sum)
}
