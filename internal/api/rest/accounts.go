package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"github.com/KevinKickass/OpenPadCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CreateAccountRequest struct {
	Account  string  `json:"account" binding:"required"`
	Password string  `json:"password" binding:"required"`
	Type     int     `json:"type"`
	Code     *string `json:"code"`
}

type UpdateAccountRequest struct {
	Account  *string `json:"account"`
	Password *string `json:"password"`
	Type     *int    `json:"type"`
	Status   *int    `json:"status" binding:"omitempty,oneof=0 1"`
	Code     *string `json:"code"`
}

// POST /api/v1/accounts
func (s *Server) createAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(types.Fail(types.AreaAccount, http.StatusBadRequest, "Invalid request body", err.Error()))
		return
	}
	acc, err := s.lm.Accounts().CreateAccount(c.Request.Context(), storage.Account{
		Account:  req.Account,
		Password: req.Password,
		Type:     req.Type,
		Code:     req.Code,
	})
	switch {
	case errors.Is(err, storage.ErrAccountExists):
		c.JSON(types.Fail(types.AreaAccount, http.StatusConflict, "Account already exists", req.Account))
	case err != nil:
		c.JSON(types.Fail(types.AreaAccount, http.StatusInternalServerError, "Failed to create account", err.Error()))
	default:
		s.logger.Info("account added", zap.String("account_id", acc.ID))
		c.JSON(http.StatusCreated, acc)
	}
}

// GET /api/v1/accounts[?status=0]
func (s *Server) listAccounts(c *gin.Context) {
	var status *int
	if raw, ok := c.GetQuery("status"); ok {
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(types.Fail(types.AreaAccount, http.StatusBadRequest, "Invalid status filter", raw))
			return
		}
		status = &v
	}
	accounts, err := s.lm.Accounts().ListAccounts(c.Request.Context(), status)
	if err != nil {
		c.JSON(types.Fail(types.AreaAccount, http.StatusInternalServerError, "Failed to list accounts", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// GET /api/v1/accounts/:id
func (s *Server) getAccount(c *gin.Context) {
	acc, err := s.lm.Accounts().GetAccount(c.Request.Context(), c.Param("id"))
	if s.accountError(c, err, "Failed to get account") {
		return
	}
	c.JSON(http.StatusOK, acc)
}

// PUT /api/v1/accounts/:id
func (s *Server) updateAccount(c *gin.Context) {
	var req UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(types.Fail(types.AreaAccount, http.StatusBadRequest, "Invalid request body", err.Error()))
		return
	}
	acc, err := s.lm.Accounts().UpdateAccount(c.Request.Context(), c.Param("id"), storage.AccountUpdate{
		Account:  req.Account,
		Password: req.Password,
		Type:     req.Type,
		Status:   req.Status,
		Code:     req.Code,
	})
	if s.accountError(c, err, "Failed to update account") {
		return
	}
	c.JSON(http.StatusOK, acc)
}

// DELETE /api/v1/accounts/:id
func (s *Server) deleteAccount(c *gin.Context) {
	id := c.Param("id")
	if s.accountError(c, s.lm.Accounts().DeleteAccount(c.Request.Context(), id), "Failed to delete account") {
		return
	}
	s.logger.Info("account deleted", zap.String("account_id", id))
	c.JSON(http.StatusOK, gin.H{"message": "account deleted", "id": id})
}

// GET /account/unique hands one available account to the on-device script
// and marks it as claimed.
func (s *Server) claimAccount(c *gin.Context) {
	acc, err := s.lm.Accounts().ClaimAccount(c.Request.Context())
	switch {
	case errors.Is(err, storage.ErrNoAccountAvailable):
		c.JSON(types.Fail(types.AreaAccount, http.StatusNotFound, "No account available", nil))
	case err != nil:
		c.JSON(types.Fail(types.AreaAccount, http.StatusInternalServerError, "Failed to claim account", err.Error()))
	default:
		s.logger.Info("account claimed", zap.String("account_id", acc.ID), zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusOK, acc)
	}
}

// accountError writes the response for a failed account operation and
// reports whether there was one.
func (s *Server) accountError(c *gin.Context, err error, message string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, storage.ErrAccountNotFound):
		c.JSON(types.Fail(types.AreaAccount, http.StatusNotFound, "Account not found", c.Param("id")))
	case errors.Is(err, storage.ErrAccountExists):
		c.JSON(types.Fail(types.AreaAccount, http.StatusConflict, "Account already exists", nil))
	default:
		c.JSON(types.Fail(types.AreaAccount, http.StatusInternalServerError, message, err.Error()))
	}
	return true
}
