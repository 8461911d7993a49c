package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenPadCore/internal/types"
	"go.uber.org/zap"
)

var (
	ErrAppStartFailed    = errors.New("app start failed")
	ErrAppStartExhausted = errors.New("app start attempts exhausted")
)

type appStartOutcome int

const (
	appStartPending appStartOutcome = iota
	appStartFailed
	appStartConfirmed
)

func outcomeOf(s types.TaskStatus) appStartOutcome {
	switch s {
	case types.TaskCompleted:
		return appStartConfirmed
	case types.TaskAllFailed:
		return appStartFailed
	default:
		return appStartPending
	}
}

// startApp launches pkg and walks through its first-run screens. A hard
// failure or running out of attempts returns an error, which sends the pad to
// recovery.
func (o *Orchestrator) startApp(ctx context.Context, pad, pkg string) error {
	log := o.logger.With(zap.String("pad_code", pad), zap.String("package", pkg))

	for attempt := 1; attempt <= o.settings.AppStartAttempts; attempt++ {
		if !o.registry.HasMain(pad) {
			return ErrAttemptInvalidated
		}

		outcome := appStartPending
		refs, err := o.api.StartApp(ctx, []string{pad}, pkg)
		if err == nil && len(refs) == 0 {
			err = errors.New("no task returned")
		}
		if err != nil {
			log.Warn("start app request failed", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			if err := sleep(ctx, o.settings.PollInterval); err != nil {
				return err
			}
			outcome = o.pollAppStart(ctx, pad, refs[0].TaskID)
		}

		switch outcome {
		case appStartConfirmed:
			o.status.Label(ctx, pad, fmt.Sprintf("app running after %d attempt(s), completing first-run setup", attempt))
			return o.runTaps(ctx, pad)
		case appStartFailed:
			return fmt.Errorf("%w: %s", ErrAppStartFailed, pkg)
		}

		o.status.Label(ctx, pad, fmt.Sprintf("app not running yet (attempt %d/%d)", attempt, o.settings.AppStartAttempts))
		if err := sleep(ctx, o.settings.AppStartRetryDelay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s after %d", ErrAppStartExhausted, pkg, o.settings.AppStartAttempts)
}

// pollAppStart reads the start task once.
func (o *Orchestrator) pollAppStart(ctx context.Context, pad string, taskID int64) appStartOutcome {
	detail, err := o.taskDetail(ctx, taskID)
	if err != nil {
		o.logger.Warn("start app detail failed", zap.String("pad_code", pad), zap.Int64("task_id", taskID), zap.Error(err))
		return appStartPending
	}
	o.recordEvent(ctx, eventFromDetail(detail, types.BusinessAppStart), "")
	return outcomeOf(detail.Status)
}

// runTaps plays the configured tap sequence that dismisses the first-run
// dialog and opens the menu.
func (o *Orchestrator) runTaps(ctx context.Context, pad string) error {
	pads := []string{pad}
	for i, step := range o.settings.Taps {
		if err := o.call(ctx, pad, "simulateTouch", func(ctx context.Context) error {
			return o.api.SimulateTouch(ctx, pads, step.Points(), o.settings.ScreenWidth, o.settings.ScreenHeight)
		}); err != nil {
			return fmt.Errorf("tap %d: %w", i+1, err)
		}
		if err := sleep(ctx, step.Delay); err != nil {
			return err
		}
	}
	return nil
}
