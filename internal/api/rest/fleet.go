package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenPadCore/internal/auth"
	"github.com/KevinKickass/OpenPadCore/internal/fleet"
	"github.com/KevinKickass/OpenPadCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PadCodesRequest struct {
	PadCodes []string `json:"pad_codes"`
}

// GET /api/v1/fleet/available
func (s *Server) fleetAvailable(c *gin.Context) {
	av, err := s.lm.Fleet().Available(c.Request.Context())
	if err != nil {
		c.JSON(types.Fail(types.AreaFleet, http.StatusBadGateway, "Failed to list cloud pads", err.Error()))
		return
	}
	c.JSON(http.StatusOK, av)
}

// GET /api/v1/fleet/current
func (s *Server) fleetCurrent(c *gin.Context) {
	codes := s.lm.Fleet().Current()
	c.JSON(http.StatusOK, gin.H{"pad_codes": codes, "count": len(codes)})
}

// GET /api/v1/fleet/compare
func (s *Server) fleetCompare(c *gin.Context) {
	cmp, err := s.lm.Fleet().Compare(c.Request.Context())
	if err != nil {
		c.JSON(types.Fail(types.AreaFleet, http.StatusBadGateway, "Failed to list cloud pads", err.Error()))
		return
	}
	c.JSON(http.StatusOK, cmp)
}

// POST /api/v1/fleet/sync adds the given cloud pads, or all of them when
// pad_codes is empty.
func (s *Server) fleetSync(c *gin.Context) {
	s.changeFleet(c, "sync", func(c *gin.Context, codes []string) (*fleet.Change, error) {
		return s.lm.Fleet().Sync(c.Request.Context(), codes)
	})
}

// POST /api/v1/fleet/add
func (s *Server) fleetAdd(c *gin.Context) {
	s.changeFleet(c, "add", func(c *gin.Context, codes []string) (*fleet.Change, error) {
		return s.lm.Fleet().Add(c.Request.Context(), codes)
	})
}

// POST /api/v1/fleet/remove
func (s *Server) fleetRemove(c *gin.Context) {
	s.changeFleet(c, "remove", func(c *gin.Context, codes []string) (*fleet.Change, error) {
		return s.lm.Fleet().Remove(codes)
	})
}

// POST /api/v1/fleet/replace
func (s *Server) fleetReplace(c *gin.Context) {
	s.changeFleet(c, "replace", func(c *gin.Context, codes []string) (*fleet.Change, error) {
		return s.lm.Fleet().Replace(c.Request.Context(), codes)
	})
}

func (s *Server) changeFleet(c *gin.Context, op string, apply func(*gin.Context, []string) (*fleet.Change, error)) {
	var req PadCodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(types.Fail(types.AreaFleet, http.StatusBadRequest, "Invalid request body", err.Error()))
		return
	}
	change, err := apply(c, req.PadCodes)
	switch {
	case errors.Is(err, fleet.ErrNoPadCodes), errors.Is(err, fleet.ErrUnknownPads):
		c.JSON(types.Fail(types.AreaFleet, http.StatusBadRequest, "Invalid pad codes", err.Error()))
	case err != nil:
		c.JSON(types.Fail(types.AreaFleet, http.StatusBadGateway, "Failed to list cloud pads", err.Error()))
	default:
		s.logger.Info("managed pads changed",
			zap.String("op", op),
			zap.Strings("added", change.Added),
			zap.Strings("removed", change.Removed),
			zap.String("user", c.GetString(auth.ContextUsername)))
		c.JSON(http.StatusOK, change)
	}
}
