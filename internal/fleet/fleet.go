// Package fleet changes the set of managed pads at runtime, checked against
// the pads the cloud account actually holds.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenPadCore/internal/cloud"
	"go.uber.org/zap"
)

var (
	ErrNoPadCodes  = errors.New("no pad codes given")
	ErrUnknownPads = errors.New("pads not available in the cloud account")
)

// PadLister lists the pads of the cloud account.
type PadLister interface {
	ListPads(ctx context.Context) ([]cloud.PadInfo, error)
}

// PadSet is the managed pad set of the orchestrator.
type PadSet interface {
	PadCodes() []string
	AddPads(codes []string) []string
	RemovePads(codes []string) []string
	ReplacePads(codes []string) (added, removed []string)
}

// Persist stores the managed set so that it survives a restart.
type Persist func(codes []string) error

type Manager struct {
	lister  PadLister
	pads    PadSet
	persist Persist
	logger  *zap.Logger

	// serializes changes together with their persistence
	mu sync.Mutex
}

// NewManager returns a Manager. persist may be nil, changes then only live in
// memory.
func NewManager(lister PadLister, pads PadSet, persist Persist, logger *zap.Logger) *Manager {
	return &Manager{
		lister:  lister,
		pads:    pads,
		persist: persist,
		logger:  logger.With(zap.String("component", "fleet")),
	}
}

type AvailablePad struct {
	cloud.PadInfo
	InConfig bool `json:"in_config"`
}

type AvailableSummary struct {
	TotalAvailable     int `json:"total_available"`
	TotalInConfig      int `json:"total_in_config"`
	NotInConfig        int `json:"not_in_config"`
	ConfigNotAvailable int `json:"config_not_available"`
}

type Available struct {
	Pads    []AvailablePad   `json:"pads"`
	Summary AvailableSummary `json:"summary"`
}

// Change is the outcome of a change of the managed set. Saved is false when
// the change is in effect but could not be persisted.
type Change struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Unchanged []string `json:"unchanged"`
	Managed   []string `json:"managed"`
	Saved     bool     `json:"saved"`
}

type Comparison struct {
	CloudTotal  int      `json:"cloud_total"`
	LocalTotal  int      `json:"local_total"`
	InBoth      int      `json:"in_both"`
	OnlyInCloud []string `json:"only_in_cloud"`
	OnlyInLocal []string `json:"only_in_local"`
}

// Available lists the cloud pads and marks the managed ones.
func (m *Manager) Available(ctx context.Context) (*Available, error) {
	pads, err := m.lister.ListPads(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cloud pads: %w", err)
	}
	managed := toSet(m.pads.PadCodes())
	cloudCodes := make(map[string]struct{}, len(pads))

	out := &Available{Pads: make([]AvailablePad, 0, len(pads))}
	for _, p := range pads {
		_, in := managed[p.PadCode]
		out.Pads = append(out.Pads, AvailablePad{PadInfo: p, InConfig: in})
		cloudCodes[p.PadCode] = struct{}{}
	}
	out.Summary = AvailableSummary{
		TotalAvailable:     len(pads),
		TotalInConfig:      len(managed),
		NotInConfig:        len(minus(cloudCodes, managed)),
		ConfigNotAvailable: len(minus(managed, cloudCodes)),
	}
	return out, nil
}

// Current lists the managed pads.
func (m *Manager) Current() []string {
	return m.pads.PadCodes()
}

// Sync adds the selected cloud pads to the managed set, or every cloud pad
// when selected is empty.
func (m *Manager) Sync(ctx context.Context, selected []string) (*Change, error) {
	cloudCodes, err := m.cloudCodes(ctx)
	if err != nil {
		return nil, err
	}
	codes := selected
	if len(codes) == 0 {
		codes = sortedKeys(cloudCodes)
	} else if err := checkAvailable(codes, cloudCodes); err != nil {
		return nil, err
	}
	return m.add(codes), nil
}

// Add adds codes to the managed set. Every code must be a cloud pad.
func (m *Manager) Add(ctx context.Context, codes []string) (*Change, error) {
	if len(codes) == 0 {
		return nil, ErrNoPadCodes
	}
	cloudCodes, err := m.cloudCodes(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkAvailable(codes, cloudCodes); err != nil {
		return nil, err
	}
	return m.add(codes), nil
}

func (m *Manager) add(codes []string) *Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	added := m.pads.AddPads(codes)
	return m.commit(added, nil, minus(toSet(codes), toSet(added)))
}

// Remove takes codes out of the managed set. Codes that are not managed are
// reported as unchanged.
func (m *Manager) Remove(codes []string) (*Change, error) {
	if len(codes) == 0 {
		return nil, ErrNoPadCodes
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := m.pads.RemovePads(codes)
	return m.commit(nil, removed, minus(toSet(codes), toSet(removed))), nil
}

// Replace makes codes the managed set. Every code must be a cloud pad.
func (m *Manager) Replace(ctx context.Context, codes []string) (*Change, error) {
	if len(codes) == 0 {
		return nil, ErrNoPadCodes
	}
	cloudCodes, err := m.cloudCodes(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkAvailable(codes, cloudCodes); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Warn("replacing managed pads", zap.Strings("pad_codes", codes))
	added, removed := m.pads.ReplacePads(codes)
	return m.commit(added, removed, minus(toSet(codes), toSet(added))), nil
}

// Compare reports how the managed set differs from the cloud pads.
func (m *Manager) Compare(ctx context.Context) (*Comparison, error) {
	cloudCodes, err := m.cloudCodes(ctx)
	if err != nil {
		return nil, err
	}
	local := toSet(m.pads.PadCodes())
	onlyCloud := minus(cloudCodes, local)
	return &Comparison{
		CloudTotal:  len(cloudCodes),
		LocalTotal:  len(local),
		InBoth:      len(cloudCodes) - len(onlyCloud),
		OnlyInCloud: onlyCloud,
		OnlyInLocal: minus(local, cloudCodes),
	}, nil
}

// commit persists the managed set when it changed. Callers hold m.mu.
func (m *Manager) commit(added, removed, unchanged []string) *Change {
	c := &Change{
		Added:     nonNil(added),
		Removed:   nonNil(removed),
		Unchanged: nonNil(unchanged),
		Managed:   m.pads.PadCodes(),
		Saved:     true,
	}
	if (len(added) == 0 && len(removed) == 0) || m.persist == nil {
		return c
	}
	if err := m.persist(c.Managed); err != nil {
		m.logger.Error("failed to persist managed pads", zap.Error(err))
		c.Saved = false
		return c
	}
	m.logger.Info("managed pads saved", zap.Int("count", len(c.Managed)))
	return c
}

func (m *Manager) cloudCodes(ctx context.Context) (map[string]struct{}, error) {
	pads, err := m.lister.ListPads(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cloud pads: %w", err)
	}
	codes := make(map[string]struct{}, len(pads))
	for _, p := range pads {
		codes[p.PadCode] = struct{}{}
	}
	return codes, nil
}

func checkAvailable(codes []string, cloudCodes map[string]struct{}) error {
	if unknown := minus(toSet(codes), cloudCodes); len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPads, strings.Join(unknown, ", "))
	}
	return nil
}

func toSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// minus returns the sorted members of a that are not in b.
func minus(a, b map[string]struct{}) []string {
	out := make([]string, 0)
	for c := range a {
		if _, ok := b[c]; !ok {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	return minus(set, nil)
}

func nonNil(codes []string) []string {
	if codes == nil {
		return []string{}
	}
	slices.Sort(codes)
	return codes
}
