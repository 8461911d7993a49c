package status

import (
	"context"
	"fmt"
	"sync"

	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"go.uber.org/zap"
)

// Observer receives every status record after it was written. Implementations
// must not block.
type Observer interface {
	PublishStatus(rec storage.PadStatus)
}

// Recorder writes pad status through the store and fans the result out to
// observers.
type Recorder struct {
	store  storage.StatusStore
	logger *zap.Logger

	mu        sync.RWMutex
	observers []Observer
}

func NewRecorder(store storage.StatusStore, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With(zap.String("component", "status")),
	}
}

func (r *Recorder) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Apply upserts upd and publishes the resulting record.
func (r *Recorder) Apply(ctx context.Context, padCode string, upd storage.StatusUpdate) (*storage.PadStatus, error) {
	if err := r.store.UpsertStatus(ctx, padCode, upd); err != nil {
		return nil, fmt.Errorf("failed to write status of %s: %w", padCode, err)
	}
	rec, err := r.store.GetStatus(ctx, padCode)
	if err != nil {
		return nil, fmt.Errorf("failed to read back status of %s: %w", padCode, err)
	}
	r.publish(*rec)
	return rec, nil
}

// Record is Apply for callers that carry on regardless of the outcome.
func (r *Recorder) Record(ctx context.Context, padCode string, upd storage.StatusUpdate) {
	if _, err := r.Apply(ctx, padCode, upd); err != nil {
		r.logger.Warn("status write failed", zap.String("pad_code", padCode), zap.Error(err))
	}
}

// Label sets the human readable status of a pad.
func (r *Recorder) Label(ctx context.Context, padCode, label string) {
	r.logger.Info(label, zap.String("pad_code", padCode))
	r.Record(ctx, padCode, storage.Label(label))
}

func (r *Recorder) Get(ctx context.Context, padCode string) (*storage.PadStatus, error) {
	return r.store.GetStatus(ctx, padCode)
}

func (r *Recorder) List(ctx context.Context) ([]storage.PadStatus, error) {
	return r.store.ListStatuses(ctx)
}

func (r *Recorder) Delete(ctx context.Context, padCode string) error {
	return r.store.DeleteStatus(ctx, padCode)
}

func (r *Recorder) publish(rec storage.PadStatus) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.observers {
		o.PublishStatus(rec)
	}
}
