// Package statistics reports account pool growth relative to the fleet size.
package statistics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/storage"
)

const hourLayout = "2006-01-02 15:00"

// Source is the part of the store the statistics read from.
type Source interface {
	AccountCreatedSince(ctx context.Context, since time.Time) ([]time.Time, error)
	AccountCounts(ctx context.Context, now time.Time) (storage.AccountCounts, error)
	ListStatuses(ctx context.Context) ([]storage.PadStatus, error)
}

type Service struct {
	src Source
	now func() time.Time
}

func NewService(src Source) *Service {
	return &Service{src: src, now: func() time.Time { return time.Now().UTC() }}
}

// HourlyGrowth is the account growth of the last 24 hours in hourly buckets,
// oldest first.
type HourlyGrowth struct {
	TimePoints    []string      `json:"time_points"`
	TotalAccounts []int         `json:"total_accounts_data"`
	AvgPerDevice  []float64     `json:"avg_per_device_data"`
	Summary       GrowthSummary `json:"summary"`
}

type GrowthSummary struct {
	TotalDevices        int     `json:"total_devices"`
	TimeRange           string  `json:"time_range"`
	TotalAccounts24h    int     `json:"total_accounts_24h"`
	AvgPerDevice24h     float64 `json:"avg_per_device_24h"`
	AvgPerDevicePerHour float64 `json:"avg_per_device_per_hour"`
}

// Summary is the overall account pool summary.
type Summary struct {
	TotalDevices     int        `json:"total_devices"`
	TotalAccounts    int64      `json:"total_accounts"`
	Accounts1h       int64      `json:"accounts_1h"`
	Accounts24h      int64      `json:"accounts_24h"`
	Accounts7d       int64      `json:"accounts_7d"`
	FirstAccountTime *time.Time `json:"first_account_time"`
	LastAccountTime  *time.Time `json:"last_account_time"`

	AvgTotalPerDevice      float64 `json:"avg_total_per_device"`
	Avg1hPerDevice         float64 `json:"avg_1h_per_device"`
	Avg24hPerDevice        float64 `json:"avg_24h_per_device"`
	Avg7dPerDevice         float64 `json:"avg_7d_per_device"`
	AvgPerDevicePerHour24h float64 `json:"avg_per_device_per_hour_24h"`
}

func (s *Service) devices(ctx context.Context) (int, error) {
	statuses, err := s.src.ListStatuses(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return len(statuses), nil
}

// HourlyGrowth buckets the accounts created in the last 24 hours by the hour
// they were created in. Averages divide by the number of pads with a status
// record, or by one when there are none.
func (s *Service) HourlyGrowth(ctx context.Context) (*HourlyGrowth, error) {
	now := s.now()
	start := now.Add(-24 * time.Hour)

	created, err := s.src.AccountCreatedSince(ctx, start)
	if err != nil {
		return nil, err
	}
	devices, err := s.devices(ctx)
	if err != nil {
		return nil, err
	}
	if devices == 0 {
		devices = 1
	}

	buckets := make(map[time.Time]int, 24)
	for _, t := range created {
		buckets[t.UTC().Truncate(time.Hour)]++
	}

	g := &HourlyGrowth{
		TimePoints:    make([]string, 0, 24),
		TotalAccounts: make([]int, 0, 24),
		AvgPerDevice:  make([]float64, 0, 24),
	}
	current := now.Truncate(time.Hour)
	total := 0
	for i := 23; i >= 0; i-- {
		hour := current.Add(-time.Duration(i) * time.Hour)
		n := buckets[hour]
		g.TimePoints = append(g.TimePoints, hour.Format(hourLayout))
		g.TotalAccounts = append(g.TotalAccounts, n)
		g.AvgPerDevice = append(g.AvgPerDevice, perDevice(float64(n), devices))
		total += n
	}
	g.Summary = GrowthSummary{
		TotalDevices:        devices,
		TimeRange:           start.Format(hourLayout) + " - " + now.Format(hourLayout),
		TotalAccounts24h:    total,
		AvgPerDevice24h:     perDevice(float64(total), devices),
		AvgPerDevicePerHour: perDevice(float64(total)/24, devices),
	}
	return g, nil
}

// Summary reports pool totals. Averages are zero while no pad has a status
// record.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	now := s.now()
	counts, err := s.src.AccountCounts(ctx, now)
	if err != nil {
		return nil, err
	}
	devices, err := s.devices(ctx)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		TotalDevices:     devices,
		TotalAccounts:    counts.Total,
		Accounts1h:       counts.LastHour,
		Accounts24h:      counts.LastDay,
		Accounts7d:       counts.LastWeek,
		FirstAccountTime: counts.First,
		LastAccountTime:  counts.Last,
	}
	if devices > 0 {
		sum.AvgTotalPerDevice = perDevice(float64(counts.Total), devices)
		sum.Avg1hPerDevice = perDevice(float64(counts.LastHour), devices)
		sum.Avg24hPerDevice = perDevice(float64(counts.LastDay), devices)
		sum.Avg7dPerDevice = perDevice(float64(counts.LastWeek), devices)
		sum.AvgPerDevicePerHour24h = perDevice(float64(counts.LastDay)/24, devices)
	}
	return sum, nil
}

// perDevice divides n by devices, rounded to two decimals.
func perDevice(n float64, devices int) float64 {
	return math.Round(n/float64(devices)*100) / 100
}
