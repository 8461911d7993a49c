package fleet

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/KevinKickass/OpenPadCore/internal/cloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticLister struct {
	pads []cloud.PadInfo
	err  error
}

func (l staticLister) ListPads(ctx context.Context) ([]cloud.PadInfo, error) {
	return l.pads, l.err
}

func cloudPads(codes ...string) staticLister {
	pads := make([]cloud.PadInfo, 0, len(codes))
	for _, c := range codes {
		pads = append(pads, cloud.PadInfo{PadCode: c, PadName: "pad " + c})
	}
	return staticLister{pads: pads}
}

// memSet has the same semantics as the orchestrator's managed set.
type memSet struct {
	mu    sync.Mutex
	codes map[string]struct{}
}

func newMemSet(codes ...string) *memSet {
	return &memSet{codes: toSet(codes)}
}

func (s *memSet) PadCodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.codes)
}

func (s *memSet) AddPads(codes []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []string
	for _, c := range codes {
		if _, ok := s.codes[c]; !ok && c != "" {
			s.codes[c] = struct{}{}
			added = append(added, c)
		}
	}
	return added
}

func (s *memSet) RemovePads(codes []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for _, c := range codes {
		if _, ok := s.codes[c]; ok {
			delete(s.codes, c)
			removed = append(removed, c)
		}
	}
	return removed
}

func (s *memSet) ReplacePads(codes []string) (added, removed []string) {
	var drop []string
	for _, c := range s.PadCodes() {
		if !slices.Contains(codes, c) {
			drop = append(drop, c)
		}
	}
	removed = s.RemovePads(drop)
	return s.AddPads(codes), removed
}

type savedCodes struct {
	calls [][]string
	err   error
}

func (s *savedCodes) persist(codes []string) error {
	s.calls = append(s.calls, codes)
	return s.err
}

func TestAvailable(t *testing.T) {
	m := NewManager(cloudPads("D1", "D2", "D3"), newMemSet("D1", "X9"), nil, zap.NewNop())

	av, err := m.Available(context.Background())
	require.NoError(t, err)
	require.Len(t, av.Pads, 3)
	assert.True(t, av.Pads[0].InConfig)
	assert.False(t, av.Pads[1].InConfig)
	assert.Equal(t, "pad D2", av.Pads[1].PadName)
	assert.Equal(t, AvailableSummary{TotalAvailable: 3, TotalInConfig: 2, NotInConfig: 2, ConfigNotAvailable: 1}, av.Summary)
}

func TestSync_AllAndSelected(t *testing.T) {
	ctx := context.Background()
	saved := &savedCodes{}
	m := NewManager(cloudPads("D1", "D2", "D3"), newMemSet("D1"), saved.persist, zap.NewNop())

	c, err := m.Sync(ctx, []string{"D2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"D2"}, c.Added)
	assert.Equal(t, []string{"D1", "D2"}, c.Managed)

	c, err = m.Sync(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"D3"}, c.Added)
	assert.Equal(t, []string{"D1", "D2"}, c.Unchanged)
	assert.True(t, c.Saved)
	assert.Equal(t, [][]string{{"D1", "D2"}, {"D1", "D2", "D3"}}, saved.calls)

	_, err = m.Sync(ctx, []string{"D2", "ZZ"})
	assert.ErrorIs(t, err, ErrUnknownPads)
	assert.ErrorContains(t, err, "ZZ")
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	saved := &savedCodes{}
	m := NewManager(cloudPads("D1", "D2"), newMemSet("D1"), saved.persist, zap.NewNop())

	_, err := m.Add(ctx, nil)
	assert.ErrorIs(t, err, ErrNoPadCodes)

	_, err = m.Add(ctx, []string{"D9"})
	assert.ErrorIs(t, err, ErrUnknownPads)
	assert.Equal(t, []string{"D1"}, m.Current())

	// nothing new, nothing saved
	c, err := m.Add(ctx, []string{"D1"})
	require.NoError(t, err)
	assert.Empty(t, c.Added)
	assert.Equal(t, []string{"D1"}, c.Unchanged)
	assert.Empty(t, saved.calls)
}

func TestRemove(t *testing.T) {
	saved := &savedCodes{}
	m := NewManager(cloudPads(), newMemSet("D1", "D2"), saved.persist, zap.NewNop())

	c, err := m.Remove([]string{"D2", "X9"})
	require.NoError(t, err)
	assert.Equal(t, []string{"D2"}, c.Removed)
	assert.Equal(t, []string{"X9"}, c.Unchanged)
	assert.Equal(t, []string{"D1"}, c.Managed)
	assert.Equal(t, [][]string{{"D1"}}, saved.calls)

	_, err = m.Remove(nil)
	assert.ErrorIs(t, err, ErrNoPadCodes)
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	saved := &savedCodes{err: errors.New("read-only file system")}
	m := NewManager(cloudPads("D1", "D2", "D3"), newMemSet("D1", "D2"), saved.persist, zap.NewNop())

	c, err := m.Replace(ctx, []string{"D2", "D3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"D3"}, c.Added)
	assert.Equal(t, []string{"D1"}, c.Removed)
	assert.Equal(t, []string{"D2"}, c.Unchanged)
	assert.Equal(t, []string{"D2", "D3"}, m.Current())
	assert.False(t, c.Saved, "change applies even when it cannot be saved")

	_, err = m.Replace(ctx, []string{"D4"})
	assert.ErrorIs(t, err, ErrUnknownPads)
	assert.Equal(t, []string{"D2", "D3"}, m.Current())
}

func TestCompare(t *testing.T) {
	m := NewManager(cloudPads("D1", "D2", "D3"), newMemSet("D2", "X9"), nil, zap.NewNop())

	cmp, err := m.Compare(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, cmp.CloudTotal)
	assert.Equal(t, 2, cmp.LocalTotal)
	assert.Equal(t, 1, cmp.InBoth)
	assert.Equal(t, []string{"D1", "D3"}, cmp.OnlyInCloud)
	assert.Equal(t, []string{"X9"}, cmp.OnlyInLocal)
}

func TestCloudFailure(t *testing.T) {
	m := NewManager(staticLister{err: errors.New("signature rejected")}, newMemSet("D1"), nil, zap.NewNop())

	_, err := m.Compare(context.Background())
	assert.ErrorContains(t, err, "signature rejected")
	_, err = m.Add(context.Background(), []string{"D2"})
	assert.ErrorContains(t, err, "failed to list cloud pads")
}
