package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"github.com/KevinKickass/OpenPadCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SetProxyRequest struct {
	PadCode     string `json:"pad_code" binding:"required"`
	CountryCode string `json:"country_code" binding:"required"`
}

// GET /api/v1/proxy/countries
func (s *Server) listProxyCountries(c *gin.Context) {
	entries := s.lm.Catalog().All()
	c.JSON(http.StatusOK, gin.H{
		"countries": entries,
		"count":     len(entries),
		"default":   s.lm.Catalog().Default(),
	})
}

// POST /api/v1/proxy/set assigns a catalog locale to a pad. The locale is
// applied to the device at its next post-reboot stage.
func (s *Server) setPadProxy(c *gin.Context) {
	var req SetProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("PROXY_400", "Invalid request body", err.Error()))
		return
	}

	locale, ok := s.lm.Catalog().ByCode(req.CountryCode)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("PROXY_404", "Unknown country code", req.CountryCode))
		return
	}

	if !s.lm.Orchestrator().Managed(req.PadCode) {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("PAD_404", "Unknown pad", req.PadCode))
		return
	}

	rec, err := s.lm.Recorder().Apply(c.Request.Context(), req.PadCode, storage.StatusUpdate{Locale: &locale})
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("PROXY_500", "Failed to assign proxy", err.Error()))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// POST /api/v1/proxy/reload
func (s *Server) reloadProxyCatalog(c *gin.Context) {
	path := s.lm.Config().Fleet.ProxyCatalog
	if path == "" {
		c.JSON(http.StatusConflict, types.NewErrorResponse("PROXY_409", "No proxy catalog configured", nil))
		return
	}
	catalog := s.lm.Catalog()
	if err := catalog.LoadFile(path); err != nil {
		s.logger.Error("proxy catalog reload failed", zap.String("path", path), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("PROXY_422", "Failed to reload proxy catalog", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "proxy catalog reloaded", "count": len(catalog.All())})
}
