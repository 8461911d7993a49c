package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/cloud"
	"github.com/KevinKickass/OpenPadCore/internal/config"
	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"github.com/KevinKickass/OpenPadCore/internal/types"
	"go.uber.org/zap"
)

var (
	ErrUnmanagedPad       = errors.New("pad is not managed by this instance")
	ErrAttemptInvalidated = errors.New("pipeline attempt no longer live")
)

// CloudAPI is the part of the cloud client the pipeline drives.
type CloudAPI interface {
	ReplacePad(ctx context.Context, padCodes []string, templateID int) error
	InstallApp(ctx context.Context, padCodes []string, url, md5 string) ([]types.TaskRef, error)
	StartApp(ctx context.Context, padCodes []string, pkgName string) ([]types.TaskRef, error)
	SwitchRoot(ctx context.Context, padCodes []string, pkgName string) error
	Restart(ctx context.Context, padCodes []string) error
	UpdateLanguage(ctx context.Context, padCodes []string, language, country string) error
	UpdateTimeZone(ctx context.Context, padCodes []string, timeZone string) error
	InjectGPS(ctx context.Context, padCodes []string, latitude, longitude float64) error
	PadTaskDetail(ctx context.Context, taskIDs []int64) ([]cloud.TaskDetail, error)
	ListInstalledApps(ctx context.Context, padCode, appName string) ([]cloud.InstalledApp, error)
	SimulateTouch(ctx context.Context, padCodes []string, points []types.TouchPoint, width, height int) error
}

// StatusRecorder persists status labels and counters. Record and Label never
// fail from the pipeline's point of view.
type StatusRecorder interface {
	Record(ctx context.Context, padCode string, upd storage.StatusUpdate)
	Label(ctx context.Context, padCode, label string)
	Get(ctx context.Context, padCode string) (*storage.PadStatus, error)
	Delete(ctx context.Context, padCode string) error
}

// LocaleSource hands out proxy locales.
type LocaleSource interface {
	Random() types.Locale
	Default() types.Locale
}

type Settings struct {
	PadCodes       []string
	TemplateIDs    []int
	Apps           []types.InstallEntry
	PrimaryPackage string

	GlobalTimeout      time.Duration
	CheckTaskTimeout   time.Duration
	PollInterval       time.Duration
	ReinstallSettle    time.Duration
	RebootSettle       time.Duration
	LocaleSettle       time.Duration
	AppStartRetryDelay time.Duration
	// how long a reset may take until its callback arrives, and the pause
	// before a failed reset request is retried
	ResetTimeout    time.Duration
	ResetRetryDelay time.Duration

	AppStartAttempts int
	ScreenWidth      int
	ScreenHeight     int
	Taps             []types.TapStep

	// attempts for single cloud calls that fail at the transport level
	CallAttempts int
}

func SettingsFromConfig(cfg *config.Config) Settings {
	apps := make([]types.InstallEntry, 0, len(cfg.Fleet.Apps))
	for _, a := range cfg.Fleet.Apps {
		apps = append(apps, types.InstallEntry{
			Name:     a.Name,
			URL:      a.URL,
			Checksum: a.ResolvedChecksum(),
			Package:  a.Package,
			AppName:  a.AppName,
			Paired:   a.Paired,
		})
	}
	taps := make([]types.TapStep, 0, len(cfg.AppStart.Taps))
	for _, t := range cfg.AppStart.Taps {
		taps = append(taps, types.TapStep{X: t.X, Y: t.Y, Hold: t.Hold, Delay: t.Delay})
	}
	return Settings{
		PadCodes:           cfg.Fleet.PadCodes,
		TemplateIDs:        cfg.Fleet.TemplateIDs,
		Apps:               apps,
		PrimaryPackage:     cfg.Fleet.Packages.Primary,
		GlobalTimeout:      cfg.Timeouts.Global,
		CheckTaskTimeout:   cfg.Timeouts.CheckTask,
		PollInterval:       cfg.Timeouts.PollInterval,
		ReinstallSettle:    cfg.Timeouts.ReinstallSettle,
		RebootSettle:       cfg.Timeouts.RebootSettle,
		LocaleSettle:       cfg.Timeouts.LocaleSettle,
		AppStartRetryDelay: cfg.Timeouts.AppStartRetryDelay,
		ResetTimeout:       cfg.Timeouts.Reset,
		ResetRetryDelay:    cfg.Timeouts.ResetRetry,
		AppStartAttempts:   cfg.AppStart.MaxAttempts,
		ScreenWidth:        cfg.AppStart.ScreenWidth,
		ScreenHeight:       cfg.AppStart.ScreenHeight,
		Taps:               taps,
		CallAttempts:       3,
	}
}

// Orchestrator drives every managed pad through reset, install, root, reboot,
// locale setup and app start.
type Orchestrator struct {
	api      CloudAPI
	status   StatusRecorder
	locales  LocaleSource
	registry *Registry
	settings Settings
	rand     func(n int) int
	logger   *zap.Logger

	managedMu sync.RWMutex
	managed   map[string]struct{}

	// parent of work triggered by the registry hooks
	baseCtx context.Context
	stop    context.CancelFunc
}

func New(api CloudAPI, status StatusRecorder, locales LocaleSource, settings Settings, logger *zap.Logger) *Orchestrator {
	if settings.CallAttempts <= 0 {
		settings.CallAttempts = 1
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = settings.GlobalTimeout
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = 10 * time.Minute
	}
	if settings.ResetRetryDelay <= 0 {
		settings.ResetRetryDelay = settings.ResetTimeout
	}
	managed := make(map[string]struct{}, len(settings.PadCodes))
	for _, code := range settings.PadCodes {
		managed[code] = struct{}{}
	}

	baseCtx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		api:      api,
		status:   status,
		locales:  locales,
		settings: settings,
		managed:  managed,
		rand:     rand.IntN,
		logger:   logger.With(zap.String("component", "orchestrator")),
		baseCtx:  baseCtx,
		stop:     stop,
	}
	o.registry = NewRegistry(Hooks{
		OnTimeout: o.onTimeout,
		OnFailure: o.onFailure,
	}, logger)
	return o
}

func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

func (o *Orchestrator) Managed(padCode string) bool {
	o.managedMu.RLock()
	defer o.managedMu.RUnlock()
	_, ok := o.managed[padCode]
	return ok
}

// PadCodes lists the managed pads in order.
func (o *Orchestrator) PadCodes() []string {
	o.managedMu.RLock()
	defer o.managedMu.RUnlock()
	codes := make([]string, 0, len(o.managed))
	for code := range o.managed {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

// AddPads puts codes under management and returns the ones that were new.
// New pads stay idle until they are reset.
func (o *Orchestrator) AddPads(codes []string) []string {
	o.managedMu.Lock()
	defer o.managedMu.Unlock()
	var added []string
	for _, code := range codes {
		if _, ok := o.managed[code]; ok || code == "" {
			continue
		}
		o.managed[code] = struct{}{}
		added = append(added, code)
	}
	if len(added) > 0 {
		o.logger.Info("pads added", zap.Strings("pad_codes", added))
	}
	return added
}

// RemovePads stops managing codes. Their running work is cancelled; status
// records are kept. It returns the codes that were managed.
func (o *Orchestrator) RemovePads(codes []string) []string {
	o.managedMu.Lock()
	var removed []string
	for _, code := range codes {
		if _, ok := o.managed[code]; !ok {
			continue
		}
		delete(o.managed, code)
		removed = append(removed, code)
	}
	o.managedMu.Unlock()

	for _, code := range removed {
		o.registry.Remove(code)
	}
	if len(removed) > 0 {
		o.logger.Info("pads removed", zap.Strings("pad_codes", removed))
	}
	return removed
}

// ReplacePads makes codes the managed set. Pads that drop out are removed
// as by RemovePads.
func (o *Orchestrator) ReplacePads(codes []string) (added, removed []string) {
	keep := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		keep[code] = struct{}{}
	}
	var drop []string
	for _, code := range o.PadCodes() {
		if _, ok := keep[code]; !ok {
			drop = append(drop, code)
		}
	}
	removed = o.RemovePads(drop)
	added = o.AddPads(codes)
	return added, removed
}

func (o *Orchestrator) Pipelines() []PipelineInfo {
	return o.registry.Snapshot()
}

// Confirm handles the out-of-band signal that the pad made progress: the
// watchdog is cancelled, the main task keeps running.
func (o *Orchestrator) Confirm(ctx context.Context, padCode string) error {
	if !o.Managed(padCode) {
		return fmt.Errorf("%s: %w", padCode, ErrUnmanagedPad)
	}
	if !o.registry.CancelTimeoutOnly(padCode) {
		return fmt.Errorf("%s: no pending timeout: %w", padCode, ErrNotRunning)
	}
	o.status.Label(ctx, padCode, "confirmed by device")
	return nil
}

// Retire stops all work for padCode and deletes its status record.
func (o *Orchestrator) Retire(ctx context.Context, padCode string) error {
	o.registry.Remove(padCode)
	if err := o.status.Delete(ctx, padCode); err != nil {
		return fmt.Errorf("failed to delete status of %s: %w", padCode, err)
	}
	return nil
}

// Shutdown cancels every attempt and waits for its goroutines.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()
	done := make(chan struct{})
	go func() {
		o.registry.RemoveAll()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipelines did not stop: %w", ctx.Err())
	}
}

func (o *Orchestrator) onTimeout(padCode string) {
	if !o.Managed(padCode) {
		// removed while its reset was pending
		return
	}
	o.status.Label(o.baseCtx, padCode, "timed out")
	if err := o.Recover(o.baseCtx, padCode, ReasonWatchdog); err != nil {
		o.logger.Error("recovery after timeout failed", zap.String("pad_code", padCode), zap.Error(err))
	}
}

func (o *Orchestrator) onFailure(padCode string, err error) {
	o.logger.Warn("pipeline stage failed", zap.String("pad_code", padCode), zap.Error(err))
	o.status.Label(o.baseCtx, padCode, "failed: "+err.Error())
	if err := o.Recover(o.baseCtx, padCode, ReasonStageFailed); err != nil {
		o.logger.Error("recovery after failure failed", zap.String("pad_code", padCode), zap.Error(err))
	}
}

// call runs fn up to CallAttempts times, pausing PollInterval between tries.
// API errors that carry a provider response are not retried.
func (o *Orchestrator) call(ctx context.Context, padCode, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= o.settings.CallAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		var apiErr *cloud.APIError
		if errors.As(err, &apiErr) || ctx.Err() != nil {
			break
		}
		o.logger.Warn("cloud call failed",
			zap.String("pad_code", padCode),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < o.settings.CallAttempts {
			if serr := sleep(ctx, o.settings.PollInterval); serr != nil {
				return serr
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
