package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenPadCore/internal/cloud"
	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"github.com/KevinKickass/OpenPadCore/internal/types"
	"go.uber.org/zap"
)

type Source string

const (
	SourceCallback Source = "callback"
	SourcePoll     Source = "poll"
)

// Event is a task status report, delivered by the cloud callback or read by
// polling the task detail.
type Event struct {
	Business types.BusinessType
	PadCode  string
	TaskID   int64
	Status   types.TaskStatus
	ErrorMsg string
	Source   Source
}

func (e Event) Kind() types.TaskKind {
	return e.Business.Kind()
}

func eventFromDetail(d cloud.TaskDetail, business types.BusinessType) Event {
	return Event{
		Business: business,
		PadCode:  d.PadCode,
		TaskID:   d.TaskID,
		Status:   d.Status,
		ErrorMsg: d.ErrorMsg,
		Source:   SourcePoll,
	}
}

// HandleEvent advances the pipeline of ev.PadCode. A repeated reset
// completion for a pad whose pipeline is already running yields
// ErrAlreadyRunning; a reboot completion outside of a pipeline yields
// ErrNotRunning.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev Event) error {
	if !o.Managed(ev.PadCode) {
		return fmt.Errorf("%s: %w", ev.PadCode, ErrUnmanagedPad)
	}

	o.logger.Info("task event",
		zap.String("pad_code", ev.PadCode),
		zap.String("kind", string(ev.Kind())),
		zap.Int64("task_id", ev.TaskID),
		zap.Stringer("status", ev.Status),
		zap.String("source", string(ev.Source)))

	switch ev.Kind() {
	case types.KindReset:
		return o.onReset(ctx, ev)
	case types.KindReboot:
		return o.onReboot(ctx, ev)
	default:
		// app start, adb call (root grant) and install reports are
		// informational, the pipeline polls for them itself
		o.recordEvent(ctx, ev, "")
		return nil
	}
}

func (o *Orchestrator) onReset(ctx context.Context, ev Event) error {
	pad := ev.PadCode
	switch ev.Status {
	case types.TaskCompleted:
		return o.registry.Start(pad, func(ctx context.Context) error {
			return o.installStage(ctx, pad)
		}, o.settings.GlobalTimeout)
	case types.TaskAllFailed, types.TaskTimeout:
		o.recordEvent(ctx, ev, "")
		return o.Recover(ctx, pad, ReasonResetFailed)
	default:
		o.recordEvent(ctx, ev, "")
		return nil
	}
}

func (o *Orchestrator) onReboot(ctx context.Context, ev Event) error {
	pad := ev.PadCode
	if ev.Status != types.TaskCompleted {
		o.recordEvent(ctx, ev, "")
		return nil
	}
	err := o.registry.Spawn(pad, func(ctx context.Context) error {
		return o.postRebootStage(ctx, pad)
	})
	if errors.Is(err, ErrNotRunning) {
		o.recordEvent(ctx, ev, "outside pipeline")
	}
	return err
}

// recordEvent writes the status label for ev.
func (o *Orchestrator) recordEvent(ctx context.Context, ev Event, note string) {
	label := fmt.Sprintf("%s %s", ev.Kind(), ev.Status)
	if ev.ErrorMsg != "" {
		label += ": " + ev.ErrorMsg
	}
	if note != "" {
		label += " (" + note + ")"
	}
	o.status.Label(ctx, ev.PadCode, label)
}

// postRebootStage configures the pad for its assigned locale and brings up
// the app.
func (o *Orchestrator) postRebootStage(ctx context.Context, pad string) error {
	o.status.Label(ctx, pad, "rebooted, waiting to settle")
	if err := sleep(ctx, o.settings.RebootSettle); err != nil {
		return err
	}

	locale := o.assignedLocale(ctx, pad)
	o.status.Label(ctx, pad, fmt.Sprintf("configuring locale %s (%s)", locale.Country, locale.Code))
	if err := o.configureLocale(ctx, pad, locale); err != nil {
		return err
	}
	if err := sleep(ctx, o.settings.LocaleSettle); err != nil {
		return err
	}

	o.status.Label(ctx, pad, "starting app")
	if err := o.startApp(ctx, pad, o.settings.PrimaryPackage); err != nil {
		return err
	}

	o.status.Record(ctx, pad, storage.StatusUpdate{
		Status:       ptr("app started, waiting for confirmation"),
		SuccessDelta: 1,
	})
	o.registry.CompleteMain(pad)
	return nil
}

// assignedLocale reads the locale the last reset assigned to pad.
func (o *Orchestrator) assignedLocale(ctx context.Context, pad string) types.Locale {
	rec, err := o.status.Get(ctx, pad)
	if err != nil || rec.Locale.Code == "" {
		fallback := o.locales.Default()
		o.logger.Warn("no locale assigned, using default",
			zap.String("pad_code", pad),
			zap.String("code", fallback.Code),
			zap.Error(err))
		return fallback
	}
	return rec.Locale
}

func (o *Orchestrator) configureLocale(ctx context.Context, pad string, locale types.Locale) error {
	pads := []string{pad}
	language := locale.Language
	if language == "" {
		language = "en"
	}
	if err := o.call(ctx, pad, "updateLanguage", func(ctx context.Context) error {
		return o.api.UpdateLanguage(ctx, pads, language, locale.Code)
	}); err != nil {
		return err
	}
	if err := o.call(ctx, pad, "updateTimeZone", func(ctx context.Context) error {
		return o.api.UpdateTimeZone(ctx, pads, locale.TimeZone)
	}); err != nil {
		return err
	}
	return o.call(ctx, pad, "gpsInjectInfo", func(ctx context.Context) error {
		return o.api.InjectGPS(ctx, pads, locale.Latitude, locale.Longitude)
	})
}

func ptr[T any](v T) *T {
	return &v
}
