package statistics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) AccountCreatedSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	args := m.Called(since)
	return args.Get(0).([]time.Time), args.Error(1)
}

func (m *mockSource) AccountCounts(ctx context.Context, now time.Time) (storage.AccountCounts, error) {
	args := m.Called(now)
	return args.Get(0).(storage.AccountCounts), args.Error(1)
}

func (m *mockSource) ListStatuses(ctx context.Context) ([]storage.PadStatus, error) {
	args := m.Called()
	return args.Get(0).([]storage.PadStatus), args.Error(1)
}

var now = time.Date(2026, 10, 19, 12, 40, 0, 0, time.UTC)

func newTestService(src Source) *Service {
	s := NewService(src)
	s.now = func() time.Time { return now }
	return s
}

func TestHourlyGrowth(t *testing.T) {
	src := &mockSource{}
	src.On("AccountCreatedSince", now.Add(-24*time.Hour)).Return([]time.Time{
		now.Add(-23 * time.Hour),
		now.Add(-2 * time.Hour),
		now.Add(-2*time.Hour + 10*time.Minute),
		now.Add(-time.Minute),
	}, nil)
	src.On("ListStatuses").Return([]storage.PadStatus{{PadCode: "D1"}, {PadCode: "D2"}}, nil)

	g, err := newTestService(src).HourlyGrowth(context.Background())
	require.NoError(t, err)
	src.AssertExpectations(t)

	require.Len(t, g.TimePoints, 24)
	assert.Equal(t, "2026-10-18 13:00", g.TimePoints[0])
	assert.Equal(t, "2026-10-19 12:00", g.TimePoints[23])
	assert.Equal(t, 1, g.TotalAccounts[0])
	assert.Equal(t, 2, g.TotalAccounts[21])
	assert.Equal(t, 1, g.TotalAccounts[23])
	assert.Equal(t, 1.0, g.AvgPerDevice[21])
	assert.Equal(t, 0.5, g.AvgPerDevice[23])

	assert.Equal(t, 2, g.Summary.TotalDevices)
	assert.Equal(t, 4, g.Summary.TotalAccounts24h)
	assert.Equal(t, 2.0, g.Summary.AvgPerDevice24h)
	assert.Equal(t, 0.08, g.Summary.AvgPerDevicePerHour)
	assert.Equal(t, "2026-10-18 12:00 - 2026-10-19 12:00", g.Summary.TimeRange)
}

func TestHourlyGrowth_NoDevicesDividesByOne(t *testing.T) {
	src := &mockSource{}
	src.On("AccountCreatedSince", mock.Anything).Return([]time.Time{now}, nil)
	src.On("ListStatuses").Return([]storage.PadStatus{}, nil)

	g, err := newTestService(src).HourlyGrowth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, g.Summary.TotalDevices)
	assert.Equal(t, 1.0, g.AvgPerDevice[23])
}

func TestSummary(t *testing.T) {
	first := now.Add(-30 * 24 * time.Hour)
	src := &mockSource{}
	src.On("AccountCounts", now).Return(storage.AccountCounts{
		Total: 30, LastHour: 1, LastDay: 12, LastWeek: 20, First: &first, Last: &now,
	}, nil)
	src.On("ListStatuses").Return([]storage.PadStatus{{PadCode: "D1"}, {PadCode: "D2"}, {PadCode: "D3"}}, nil)

	sum, err := newTestService(src).Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalDevices)
	assert.Equal(t, int64(30), sum.TotalAccounts)
	assert.Equal(t, 10.0, sum.AvgTotalPerDevice)
	assert.Equal(t, 0.33, sum.Avg1hPerDevice)
	assert.Equal(t, 4.0, sum.Avg24hPerDevice)
	assert.Equal(t, 6.67, sum.Avg7dPerDevice)
	assert.Equal(t, 0.17, sum.AvgPerDevicePerHour24h)
	assert.Equal(t, &first, sum.FirstAccountTime)
}

func TestSummary_NoDevices(t *testing.T) {
	src := &mockSource{}
	src.On("AccountCounts", now).Return(storage.AccountCounts{Total: 5, LastDay: 5}, nil)
	src.On("ListStatuses").Return([]storage.PadStatus{}, nil)

	sum, err := newTestService(src).Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum.TotalAccounts)
	assert.Zero(t, sum.AvgTotalPerDevice)
	assert.Nil(t, sum.LastAccountTime)
}

func TestSummary_StoreError(t *testing.T) {
	src := &mockSource{}
	src.On("AccountCounts", now).Return(storage.AccountCounts{}, errors.New("db down"))

	_, err := newTestService(src).Summary(context.Background())
	assert.ErrorContains(t, err, "db down")
}
