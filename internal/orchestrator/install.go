package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/cloud"
	"github.com/KevinKickass/OpenPadCore/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInstallFailed    = errors.New("app install failed")
	ErrReconcileTimeout = errors.New("app install did not finish in time")
	ErrPadOffline       = errors.New("pad went offline")
	errMissingPadCode   = errors.New("task detail without pad code")
)

// installStage installs the whole catalog, then grants root and requests the
// reboot. The reboot callback continues the pipeline.
func (o *Orchestrator) installStage(ctx context.Context, pad string) error {
	o.status.Label(ctx, pad, "reset completed, installing apps")

	paired := o.newPairedCheck(pad)
	g, gctx := errgroup.WithContext(ctx)
	for _, app := range o.settings.Apps {
		g.Go(func() error {
			ref, err := o.requestInstall(gctx, pad, app)
			if err != nil {
				return err
			}
			return o.reconcile(gctx, pad, ref.TaskID, app, paired)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("install stage: %w", err)
	}

	pads := []string{pad}
	o.status.Label(ctx, pad, "apps installed, granting root")
	if err := o.call(ctx, pad, "switchRoot", func(ctx context.Context) error {
		return o.api.SwitchRoot(ctx, pads, o.settings.PrimaryPackage)
	}); err != nil {
		return err
	}

	o.status.Label(ctx, pad, "rebooting")
	return o.call(ctx, pad, "restart", func(ctx context.Context) error {
		return o.api.Restart(ctx, pads)
	})
}

func (o *Orchestrator) requestInstall(ctx context.Context, pad string, app types.InstallEntry) (types.TaskRef, error) {
	var refs []types.TaskRef
	err := o.call(ctx, pad, "install "+app.Name, func(ctx context.Context) error {
		var err error
		refs, err = o.api.InstallApp(ctx, []string{pad}, app.URL, app.Checksum)
		return err
	})
	if err != nil {
		return types.TaskRef{}, err
	}
	for _, ref := range refs {
		if ref.PadCode == pad || ref.PadCode == "" {
			return ref, nil
		}
	}
	return refs[0], nil
}

// reconcile polls one install task until the app is verifiably installed.
// The cloud sometimes reports COMPLETED for installs that never landed, so
// for paired apps the installed app listing is the source of truth.
func (o *Orchestrator) reconcile(ctx context.Context, pad string, taskID int64, app types.InstallEntry, paired *pairedCheck) error {
	ctx, cancel := context.WithTimeout(ctx, o.settings.CheckTaskTimeout)
	defer cancel()

	log := o.logger.With(zap.String("pad_code", pad), zap.String("app", app.Name))
	ticker := time.NewTicker(o.settings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s after %s", ErrReconcileTimeout, app.Name, o.settings.CheckTaskTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}

		if !o.registry.HasMain(pad) {
			return ErrAttemptInvalidated
		}

		detail, err := o.taskDetail(ctx, taskID)
		if errors.Is(err, errMissingPadCode) {
			return err
		}
		if err != nil {
			log.Warn("task detail failed", zap.Int64("task_id", taskID), zap.Error(err))
			continue
		}
		ev := eventFromDetail(detail, types.BusinessInstallApp)

		if detail.DeviceOffline() {
			o.recordEvent(ctx, ev, app.Name+", pad offline")
			return fmt.Errorf("%w: %s install %s", ErrPadOffline, app.Name, ev.Status)
		}

		switch ev.Status {
		case types.TaskPending, types.TaskRunning:
			o.status.Label(ctx, pad, fmt.Sprintf("installing %s: %s", app.Name, ev.Status))

		case types.TaskSomeFailed:
			o.recordEvent(ctx, ev, app.Name)
			taskID = o.reissue(ctx, pad, app, taskID)

		case types.TaskAllFailed:
			if detail.DownloadInterrupted() {
				o.recordEvent(ctx, ev, app.Name+", retrying download")
				taskID = o.reissue(ctx, pad, app, taskID)
				continue
			}
			o.recordEvent(ctx, ev, app.Name)
			return fmt.Errorf("%w: %s: %s", ErrInstallFailed, app.Name, detail.ErrorMsg)

		case types.TaskCancelled, types.TaskTimeout:
			o.recordEvent(ctx, ev, app.Name)
			return fmt.Errorf("%w: %s %s: %s", ErrInstallFailed, app.Name, ev.Status, detail.ErrorMsg)

		case types.TaskCompleted:
			if !app.Paired {
				o.status.Label(ctx, pad, fmt.Sprintf("%s installed", app.Name))
				return nil
			}
			if paired.installed(ctx) {
				o.status.Label(ctx, pad, fmt.Sprintf("%s installed and verified", app.Name))
				return nil
			}
			if err := sleep(ctx, o.settings.ReinstallSettle); err != nil {
				continue // reported by the select above
			}
		}
	}
}

// reissue requests the install again and returns the task to follow.
func (o *Orchestrator) reissue(ctx context.Context, pad string, app types.InstallEntry, taskID int64) int64 {
	ref, err := o.requestInstall(ctx, pad, app)
	if err != nil {
		o.logger.Warn("reinstall request failed", zap.String("pad_code", pad), zap.String("app", app.Name), zap.Error(err))
		return taskID
	}
	return ref.TaskID
}

func (o *Orchestrator) taskDetail(ctx context.Context, taskID int64) (cloud.TaskDetail, error) {
	details, err := o.api.PadTaskDetail(ctx, []int64{taskID})
	if err != nil {
		return cloud.TaskDetail{}, err
	}
	for _, d := range details {
		if d.TaskID != taskID && d.TaskID != 0 {
			continue
		}
		if d.PadCode == "" {
			return cloud.TaskDetail{}, fmt.Errorf("%w: task %d", errMissingPadCode, taskID)
		}
		return d, nil
	}
	return cloud.TaskDetail{}, fmt.Errorf("%w: task %d not in detail response", cloud.ErrMalformedResponse, taskID)
}

// pairedCheck is the installed app check of one install stage. Both paired
// reconcile loops share it: a listing taken within ReinstallSettle of the
// previous one is not repeated, so one listing leads to at most one
// reinstall per missing app.
type pairedCheck struct {
	o   *Orchestrator
	pad string

	mu       sync.Mutex
	verified bool
	last     bool
	listedAt time.Time
}

func (o *Orchestrator) newPairedCheck(pad string) *pairedCheck {
	return &pairedCheck{o: o, pad: pad}
}

// installed reports whether all paired apps are present and reinstalls the
// missing ones.
func (p *pairedCheck) installed(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verified {
		return true
	}
	if !p.listedAt.IsZero() && time.Since(p.listedAt) < p.o.settings.ReinstallSettle {
		return p.last
	}
	p.listedAt = time.Now()
	p.last = p.o.checkPaired(ctx, p.pad)
	p.verified = p.last
	return p.last
}

// checkPaired checks the installed app listing for the paired apps and
// reinstalls the missing ones. It reports whether all were present.
func (o *Orchestrator) checkPaired(ctx context.Context, pad string) bool {
	installed, err := o.api.ListInstalledApps(ctx, pad, "")
	if err != nil {
		o.logger.Warn("installed app listing failed", zap.String("pad_code", pad), zap.Error(err))
		return false
	}

	var missing []types.InstallEntry
	for _, app := range o.settings.Apps {
		if !app.Paired {
			continue
		}
		if !containsApp(installed, app) {
			missing = append(missing, app)
		}
	}
	if len(missing) == 0 {
		return true
	}

	names := make([]string, 0, len(missing))
	for _, app := range missing {
		names = append(names, app.Name)
	}
	o.status.Label(ctx, pad, "reported installed but missing: "+strings.Join(names, ", ")+", reinstalling")
	for _, app := range missing {
		if _, err := o.requestInstall(ctx, pad, app); err != nil {
			o.logger.Warn("reinstall request failed", zap.String("pad_code", pad), zap.String("app", app.Name), zap.Error(err))
		}
	}
	return false
}

func containsApp(installed []cloud.InstalledApp, app types.InstallEntry) bool {
	for _, a := range installed {
		if app.Matches(a.AppName, a.PackageName) {
			return true
		}
	}
	return false
}
