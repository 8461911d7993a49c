package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenPadCore/internal/auth"
	"github.com/KevinKickass/OpenPadCore/internal/orchestrator"
	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"github.com/KevinKickass/OpenPadCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/pads
func (s *Server) listPads(c *gin.Context) {
	records, err := s.lm.Recorder().List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("PAD_500", "Failed to list pads", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pads":  records,
		"count": len(records),
	})
}

// GET /api/v1/pads/:code
func (s *Server) getPad(c *gin.Context) {
	rec, ok := s.loadPad(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GET /api/v1/pads/:code/proxy
func (s *Server) getPadProxy(c *gin.Context) {
	rec, ok := s.loadPad(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec.Locale)
}

// POST /api/v1/pads/:code/reset
func (s *Server) resetPad(c *gin.Context) {
	code := c.Param("code")
	err := s.lm.Orchestrator().Recover(c.Request.Context(), code, orchestrator.ReasonManual)
	switch {
	case errors.Is(err, orchestrator.ErrUnmanagedPad):
		c.JSON(http.StatusNotFound, types.NewErrorResponse("PAD_404", "Unknown pad", code))
	case err != nil:
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("PAD_502", "Reset request failed", err.Error()))
	default:
		s.logger.Info("manual reset requested",
			zap.String("pad_code", code),
			zap.String("user", c.GetString(auth.ContextUsername)))
		c.JSON(http.StatusAccepted, gin.H{"message": "reset requested", "pad_code": code})
	}
}

// DELETE /api/v1/pads/:code
func (s *Server) deletePad(c *gin.Context) {
	code := c.Param("code")
	err := s.lm.Orchestrator().Retire(c.Request.Context(), code)
	switch {
	case errors.Is(err, storage.ErrStatusNotFound):
		c.JSON(http.StatusNotFound, types.NewErrorResponse("PAD_404", "Pad status not found", code))
	case err != nil:
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("PAD_500", "Failed to delete pad", err.Error()))
	default:
		c.JSON(http.StatusOK, gin.H{"message": "pad retired", "pad_code": code})
	}
}

func (s *Server) loadPad(c *gin.Context) (*storage.PadStatus, bool) {
	code := c.Param("code")
	rec, err := s.lm.Recorder().Get(c.Request.Context(), code)
	if errors.Is(err, storage.ErrStatusNotFound) {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("PAD_404", "Pad status not found", code))
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("PAD_500", "Failed to load pad", err.Error()))
		return nil, false
	}
	return rec, true
}
