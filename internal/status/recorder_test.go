package status

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureObserver struct {
	mu   sync.Mutex
	recs []storage.PadStatus
}

func (c *captureObserver) PublishStatus(rec storage.PadStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func newRecorder(t *testing.T) *Recorder {
	t.Helper()
	store, err := storage.NewSQLiteClient(filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return NewRecorder(store, zap.NewNop())
}

func TestRecorder_PublishesWrittenRecord(t *testing.T) {
	ctx := context.Background()
	r := newRecorder(t)
	obs := &captureObserver{}
	r.AddObserver(obs)

	r.Label(ctx, "D1", "installing")
	rec, err := r.Apply(ctx, "D1", storage.StatusUpdate{RunDelta: 1})
	require.NoError(t, err)

	assert.Equal(t, "installing", rec.CurrentStatus)
	assert.Equal(t, 1, rec.RunCount)
	require.Len(t, obs.recs, 2)
	assert.Equal(t, "installing", obs.recs[0].CurrentStatus)
	assert.Equal(t, 1, obs.recs[1].RunCount)
}

func TestRecorder_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	r := newRecorder(t)

	r.Label(ctx, "D1", "a")
	r.Label(ctx, "D2", "b")
	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, r.Delete(ctx, "D1"))
	_, err = r.Get(ctx, "D1")
	assert.ErrorIs(t, err, storage.ErrStatusNotFound)
}
