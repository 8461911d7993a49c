package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"go.uber.org/zap"
)

// Reason says why a pad is reset.
type Reason string

const (
	ReasonBootstrap   Reason = "bootstrap"
	ReasonManual      Reason = "manual"
	ReasonResetFailed Reason = "reset failed"
	ReasonWatchdog    Reason = "watchdog timeout"
	ReasonStageFailed Reason = "stage failed"
)

func (r Reason) failure() bool {
	switch r {
	case ReasonResetFailed, ReasonWatchdog, ReasonStageFailed:
		return true
	}
	return false
}

// Recover abandons whatever the pad is doing and re-provisions it on a random
// template and locale. Calling it repeatedly is safe: every call replaces the
// previous attempt.
func (o *Orchestrator) Recover(ctx context.Context, padCode string, reason Reason) error {
	if !o.Managed(padCode) {
		return fmt.Errorf("%s: %w", padCode, ErrUnmanagedPad)
	}
	if len(o.settings.TemplateIDs) == 0 {
		return errors.New("no templates configured")
	}

	o.registry.Remove(padCode)

	templateID := o.settings.TemplateIDs[o.rand(len(o.settings.TemplateIDs))]
	locale := o.locales.Random()

	upd := storage.StatusUpdate{
		Status:     ptr(fmt.Sprintf("recovering (%s): template %d, %s", reason, templateID, locale.Code)),
		TemplateID: &templateID,
		Locale:     &locale,
		RunDelta:   1,
	}
	if reason.failure() {
		upd.ErrorDelta = 1
	}
	// the locale must be stored before the reset callback can ask for it
	o.status.Record(ctx, padCode, upd)

	o.logger.Info("resetting pad",
		zap.String("pad_code", padCode),
		zap.String("reason", string(reason)),
		zap.Int("template_id", templateID),
		zap.String("locale", locale.Code))

	// armed before the request so a fast reset callback replaces it
	o.guard(padCode, o.settings.ResetTimeout)

	if err := o.call(ctx, padCode, "replacePad", func(ctx context.Context) error {
		return o.api.ReplacePad(ctx, []string{padCode}, templateID)
	}); err != nil {
		o.status.Label(ctx, padCode, "reset request failed: "+err.Error())
		o.guard(padCode, o.settings.ResetRetryDelay)
		return err
	}
	return nil
}

// guard arms the reset watchdog of padCode. When it fires the pad is
// recovered again.
func (o *Orchestrator) guard(padCode string, after time.Duration) {
	err := o.registry.Arm(padCode, after)
	switch {
	case err == nil, errors.Is(err, ErrRegistryClosed):
	case errors.Is(err, ErrAlreadyRunning):
		// the reset callback already started the next attempt
	default:
		o.logger.Warn("failed to arm reset guard", zap.String("pad_code", padCode), zap.Error(err))
	}
}

// Provision resets every managed pad, as done once at startup.
func (o *Orchestrator) Provision(ctx context.Context) error {
	var errs []error
	for _, pad := range o.PadCodes() {
		if err := o.Recover(ctx, pad, ReasonBootstrap); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pad, err))
		}
	}
	return errors.Join(errs...)
}
