package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("pipeline already running")
	ErrNotRunning     = errors.New("no pipeline running")
	ErrRegistryClosed = errors.New("registry closed")
)

// Work is a unit of pipeline work. It must return promptly once ctx is done.
type Work func(ctx context.Context) error

// Hooks are invoked by the registry outside of its lock, from the goroutine
// that observed the event.
type Hooks struct {
	// OnTimeout runs when a watchdog fired before being cancelled.
	OnTimeout func(padCode string)
	// OnFailure runs when main work returned an error while its attempt
	// was still live.
	OnFailure func(padCode string, err error)
}

type mainTask struct {
	id      uuid.UUID
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time

	// set under Registry.mu by the first hook to fire for this attempt
	ended bool
}

type watchdog struct {
	id       uuid.UUID
	cancel   context.CancelFunc
	done     chan struct{}
	deadline time.Time

	// nil for a guard armed without main work
	attempt *mainTask
}

func (w *watchdog) stop() {
	w.cancel()
	<-w.done
}

type entry struct {
	main    *mainTask
	timeout *watchdog
}

// PipelineInfo is a point-in-time view of one registry entry.
type PipelineInfo struct {
	PadCode         string     `json:"pad_code"`
	AttemptID       string     `json:"attempt_id,omitempty"`
	MainRunning     bool       `json:"main_running"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	TimeoutPending  bool       `json:"timeout_pending"`
	TimeoutDeadline *time.Time `json:"timeout_deadline,omitempty"`
}

// Registry tracks, per pad, the main task of the live pipeline attempt and its
// timeout watchdog. The mutex only guards map edits; cancellation is awaited
// after it is released.
//
// Remove and RemoveAll wait for main work to return, so they must not be
// called from inside Work. Hooks run after the calling task has been
// accounted for and may call them.
type Registry struct {
	hooks  Hooks
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

func NewRegistry(hooks Hooks, logger *zap.Logger) *Registry {
	return &Registry{
		hooks:   hooks,
		logger:  logger.With(zap.String("component", "registry")),
		entries: make(map[string]*entry),
	}
}

// Start launches work as the main task for padCode together with a watchdog
// that fires after timeoutAfter. It fails with ErrAlreadyRunning while a main
// task is registered. A watchdog left over from a completed attempt, or a
// guard set by Arm, is cancelled and awaited first.
func (r *Registry) Start(padCode string, work Work, timeoutAfter time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	m := &mainTask{id: uuid.New(), ctx: ctx, cancel: cancel, started: time.Now()}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return ErrRegistryClosed
	}
	e := r.entries[padCode]
	if e != nil && e.main != nil {
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("%s: %w", padCode, ErrAlreadyRunning)
	}
	if e == nil {
		e = &entry{}
		r.entries[padCode] = e
	}
	stale := e.timeout
	e.timeout = nil
	e.main = m
	r.mu.Unlock()

	if stale != nil {
		stale.stop()
	}

	wdCtx, wdCancel := context.WithCancel(context.Background())
	wd := &watchdog{id: m.id, cancel: wdCancel, done: make(chan struct{}), deadline: time.Now().Add(timeoutAfter), attempt: m}

	r.mu.Lock()
	cur := r.entries[padCode]
	if cur == nil || cur.main != m {
		// removed while the stale watchdog was being stopped
		r.mu.Unlock()
		wdCancel()
		cancel()
		return fmt.Errorf("%s: attempt removed while starting: %w", padCode, ErrNotRunning)
	}
	cur.timeout = wd
	m.wg.Add(1)
	r.mu.Unlock()

	go r.runWatchdog(wdCtx, padCode, wd, timeoutAfter)
	go r.runMain(padCode, m, work)

	r.logger.Info("pipeline started",
		zap.String("pad_code", padCode),
		zap.String("attempt_id", m.id.String()),
		zap.Duration("timeout", timeoutAfter))
	return nil
}

// Arm sets a watchdog for padCode without main work. It guards the gap
// between a reset request and its completion callback: if no attempt is
// started within after, OnTimeout fires. A pending watchdog is replaced.
// It fails with ErrAlreadyRunning while a main task is registered.
func (r *Registry) Arm(padCode string, after time.Duration) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	e := r.entries[padCode]
	if e != nil && e.main != nil {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", padCode, ErrAlreadyRunning)
	}
	if e == nil {
		e = &entry{}
		r.entries[padCode] = e
	}
	stale := e.timeout
	wdCtx, wdCancel := context.WithCancel(context.Background())
	wd := &watchdog{id: uuid.New(), cancel: wdCancel, done: make(chan struct{}), deadline: time.Now().Add(after)}
	e.timeout = wd
	r.mu.Unlock()

	if stale != nil {
		stale.stop()
	}
	go r.runWatchdog(wdCtx, padCode, wd, after)

	r.logger.Debug("reset guard armed", zap.String("pad_code", padCode), zap.Duration("after", after))
	return nil
}

// Spawn runs work inside the live attempt of padCode, so that Remove cancels
// and awaits it like the main task.
func (r *Registry) Spawn(padCode string, work Work) error {
	r.mu.Lock()
	e := r.entries[padCode]
	if e == nil || e.main == nil {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", padCode, ErrNotRunning)
	}
	m := e.main
	m.wg.Add(1)
	r.mu.Unlock()

	go r.runMain(padCode, m, work)
	return nil
}

func (r *Registry) runMain(padCode string, m *mainTask, work Work) {
	err := work(m.ctx)
	m.wg.Done()

	if err == nil {
		return
	}
	if m.ctx.Err() != nil || !r.claim(padCode, m) {
		r.logger.Debug("pipeline work stopped", zap.String("pad_code", padCode), zap.Error(err))
		return
	}
	if r.hooks.OnFailure != nil {
		r.hooks.OnFailure(padCode, err)
	}
}

func (r *Registry) runWatchdog(ctx context.Context, padCode string, wd *watchdog, after time.Duration) {
	timer := time.NewTimer(after)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		close(wd.done)
		return
	case <-timer.C:
	}

	r.mu.Lock()
	e := r.entries[padCode]
	fire := e != nil && e.timeout == wd
	if fire {
		e.timeout = nil
		r.pruneLocked(padCode, e)
		if wd.attempt != nil {
			// skipped when the attempt already went to OnFailure
			fire = !wd.attempt.ended
			wd.attempt.ended = true
		}
	}
	r.mu.Unlock()
	close(wd.done)

	if !fire {
		return
	}
	r.logger.Warn("pipeline timed out", zap.String("pad_code", padCode), zap.Duration("after", after))
	if r.hooks.OnTimeout != nil {
		r.hooks.OnTimeout(padCode)
	}
}

// CancelTimeoutOnly stops the watchdog of padCode and leaves the main task
// running. It reports whether a watchdog was pending.
func (r *Registry) CancelTimeoutOnly(padCode string) bool {
	r.mu.Lock()
	e := r.entries[padCode]
	if e == nil || e.timeout == nil {
		r.mu.Unlock()
		return false
	}
	wd := e.timeout
	e.timeout = nil
	r.pruneLocked(padCode, e)
	r.mu.Unlock()

	wd.stop()
	return true
}

// CompleteMain forgets the main task of padCode. A pending watchdog stays in
// place. Its context is released once all of its work has returned.
func (r *Registry) CompleteMain(padCode string) bool {
	r.mu.Lock()
	e := r.entries[padCode]
	if e == nil || e.main == nil {
		r.mu.Unlock()
		return false
	}
	m := e.main
	e.main = nil
	r.pruneLocked(padCode, e)
	r.mu.Unlock()

	go func() {
		m.wg.Wait()
		m.cancel()
	}()
	return true
}

// Remove cancels main task and watchdog of padCode and waits until both have
// returned.
func (r *Registry) Remove(padCode string) {
	r.mu.Lock()
	e := r.entries[padCode]
	delete(r.entries, padCode)
	r.mu.Unlock()

	if e == nil {
		return
	}
	r.stopEntry(e)
	r.logger.Info("pipeline removed", zap.String("pad_code", padCode))
}

// RemoveAll is Remove for every pad. Afterwards the registry refuses new
// work with ErrRegistryClosed.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.closed = true
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			r.stopEntry(e)
		}(e)
	}
	wg.Wait()
}

func (r *Registry) stopEntry(e *entry) {
	if e.main != nil {
		e.main.cancel()
		e.main.wg.Wait()
	}
	if e.timeout != nil {
		e.timeout.stop()
	}
}

// claim reports whether m is still the main task registered for padCode and
// no hook has fired for it yet. A true result marks the attempt as ended.
func (r *Registry) claim(padCode string, m *mainTask) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[padCode]
	if e == nil || e.main != m || m.ended {
		return false
	}
	m.ended = true
	return true
}

func (r *Registry) HasMain(padCode string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[padCode]
	return e != nil && e.main != nil
}

func (r *Registry) HasTimeout(padCode string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[padCode]
	return e != nil && e.timeout != nil
}

// Snapshot lists all entries ordered by pad code.
func (r *Registry) Snapshot() []PipelineInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]PipelineInfo, 0, len(r.entries))
	for code, e := range r.entries {
		info := PipelineInfo{PadCode: code}
		if e.main != nil {
			started := e.main.started
			info.MainRunning = true
			info.AttemptID = e.main.id.String()
			info.StartedAt = &started
		}
		if e.timeout != nil {
			deadline := e.timeout.deadline
			info.TimeoutPending = true
			info.TimeoutDeadline = &deadline
			if info.AttemptID == "" {
				info.AttemptID = e.timeout.id.String()
			}
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].PadCode < infos[j].PadCode })
	return infos
}

func (r *Registry) pruneLocked(padCode string, e *entry) {
	if e.main == nil && e.timeout == nil {
		delete(r.entries, padCode)
	}
}
