package rest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/KevinKickass/OpenPadCore/internal/orchestrator"
	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"github.com/KevinKickass/OpenPadCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

//go:embed schema/callback-v1.json
var callbackSchemaJSON string

// CallbackValidator checks webhook payloads against the embedded schema.
type CallbackValidator struct {
	schema *jsonschema.Schema
}

func NewCallbackValidator() (*CallbackValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("callback-v1.json", bytes.NewReader([]byte(callbackSchemaJSON))); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("callback-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &CallbackValidator{schema: schema}, nil
}

func (v *CallbackValidator) Validate(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

type callbackPayload struct {
	TaskBusinessType int    `json:"taskBusinessType"`
	TaskStatus       int    `json:"taskStatus"`
	TaskID           int64  `json:"taskId"`
	PadCode          string `json:"padCode"`
	ErrorMsg         string `json:"errorMsg"`
	Apps             *struct {
		PadCode string `json:"padCode"`
	} `json:"apps"`
}

func (p callbackPayload) padCode() string {
	if p.PadCode == "" && p.Apps != nil {
		return p.Apps.PadCode
	}
	return p.PadCode
}

type ConfirmRequest struct {
	PadCode string `json:"pad_code" binding:"required"`
	// NextCycle re-provisions the pad right after the confirmation.
	NextCycle bool `json:"next_cycle"`
}

type StatusUpdateRequest struct {
	PadCode           string  `json:"pad_code" binding:"required"`
	CurrentStatus     *string `json:"current_status"`
	PhoneNumberCounts *int    `json:"phone_number_counts" binding:"omitempty,min=0"`
	ForwardNum        *int    `json:"forward_num" binding:"omitempty,min=0"`
	SecondaryEmailNum *int    `json:"secondary_email_num" binding:"omitempty,min=0"`
}

// POST /callback
func (s *Server) callback(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("CALLBACK_400", "Failed to read body", err.Error()))
		return
	}
	if err := s.callbacks.Validate(body); err != nil {
		s.logger.Warn("rejected callback", zap.Error(err), zap.ByteString("body", body))
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("CALLBACK_400", "Invalid callback payload", err.Error()))
		return
	}

	var payload callbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("CALLBACK_400", "Invalid callback payload", err.Error()))
		return
	}
	taskStatus, err := types.ParseTaskStatus(payload.TaskStatus)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("CALLBACK_400", "Unknown task status", err.Error()))
		return
	}

	ev := orchestrator.Event{
		Business: types.BusinessType(payload.TaskBusinessType),
		PadCode:  payload.padCode(),
		TaskID:   payload.TaskID,
		Status:   taskStatus,
		ErrorMsg: payload.ErrorMsg,
		Source:   orchestrator.SourceCallback,
	}

	err = s.lm.Orchestrator().HandleEvent(c.Request.Context(), ev)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, types.NewErrorResponse("PIPELINE_409", "Pipeline already running", err.Error()))
	case errors.Is(err, orchestrator.ErrUnmanagedPad), errors.Is(err, orchestrator.ErrNotRunning):
		c.JSON(http.StatusOK, gin.H{"message": "ignored", "reason": err.Error()})
	default:
		s.logger.Error("callback handling failed", zap.String("pad_code", ev.PadCode), zap.Error(err))
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("CALLBACK_502", "Callback handling failed", err.Error()))
	}
}

// POST /status
func (s *Server) confirm(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("STATUS_400", "Invalid request body", err.Error()))
		return
	}

	orch := s.lm.Orchestrator()
	err := orch.Confirm(c.Request.Context(), req.PadCode)
	switch {
	case errors.Is(err, orchestrator.ErrUnmanagedPad):
		c.JSON(http.StatusNotFound, types.NewErrorResponse("STATUS_404", "Unknown pad", err.Error()))
		return
	case errors.Is(err, orchestrator.ErrNotRunning):
		if !req.NextCycle {
			c.JSON(http.StatusConflict, types.NewErrorResponse("STATUS_409", "No pending timeout", err.Error()))
			return
		}
	case err != nil:
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("STATUS_500", "Confirmation failed", err.Error()))
		return
	}

	if req.NextCycle {
		if err := orch.Recover(c.Request.Context(), req.PadCode, orchestrator.ReasonManual); err != nil {
			c.JSON(http.StatusBadGateway, types.NewErrorResponse("STATUS_502", "Failed to start next cycle", err.Error()))
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "timeout cancelled, next cycle started"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "timeout cancelled"})
}

// PUT /status_update
func (s *Server) statusUpdate(c *gin.Context) {
	var req StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("STATUS_400", "Invalid request body", err.Error()))
		return
	}

	ctx := c.Request.Context()
	rec := s.lm.Recorder()
	if _, err := rec.Get(ctx, req.PadCode); err != nil {
		if errors.Is(err, storage.ErrStatusNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("STATUS_404", "Pad status not found", req.PadCode))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("STATUS_500", "Failed to load status", err.Error()))
		return
	}

	updated, err := rec.Apply(ctx, req.PadCode, storage.StatusUpdate{
		Status:            req.CurrentStatus,
		PhoneNumberCounts: req.PhoneNumberCounts,
		ForwardNum:        req.ForwardNum,
		SecondaryEmailNum: req.SecondaryEmailNum,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("STATUS_500", "Failed to update status", err.Error()))
		return
	}
	c.JSON(http.StatusOK, updated)
}
