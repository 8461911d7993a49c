package proxy

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenPadCore/internal/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// availableMark is the value of the availability column for usable proxies.
const availableMark = "是"

// Catalog holds the proxy countries pads can be assigned to.
type Catalog struct {
	mu       sync.RWMutex
	entries  []types.Locale
	fallback types.Locale
	rand     func(n int) int
	logger   *zap.Logger
}

func NewCatalog(fallback types.Locale, logger *zap.Logger) *Catalog {
	return &Catalog{
		fallback: fallback,
		rand:     rand.IntN,
		logger:   logger.With(zap.String("component", "proxy_catalog")),
	}
}

// LoadFile replaces the catalog with the entries of a .csv or .yaml file.
// On error the catalog keeps its previous entries.
func (c *Catalog) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open proxy catalog: %w", err)
	}
	defer f.Close()

	var entries []types.Locale
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		entries, err = ParseCSV(f)
	case ".yaml", ".yml":
		entries, err = ParseYAML(f)
	default:
		err = fmt.Errorf("unsupported proxy catalog format %q", filepath.Ext(path))
	}
	if err != nil {
		return err
	}

	c.Set(entries)
	c.logger.Info("proxy catalog loaded", zap.String("path", path), zap.Int("countries", len(entries)))
	return nil
}

// ParseCSV reads rows of country, code, proxy, time_zone, language, latitude,
// longitude, available and at least one trailing column. Rows that are not
// marked available, or are too short, are skipped.
func ParseCSV(r io.Reader) ([]types.Locale, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var entries []types.Locale
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read proxy csv: %w", err)
		}
		if len(row) < 9 || strings.TrimSpace(row[7]) != availableMark {
			continue
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(row[5]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude for %s: %w", row[1], err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(row[6]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude for %s: %w", row[1], err)
		}
		entries = append(entries, types.Locale{
			Country:   strings.TrimSpace(row[0]),
			Code:      strings.TrimSpace(row[1]),
			Proxy:     strings.TrimSpace(row[2]),
			TimeZone:  strings.TrimSpace(row[3]),
			Language:  strings.TrimSpace(row[4]),
			Latitude:  lat,
			Longitude: lon,
		})
	}
	return entries, nil
}

// ParseYAML reads a list of locales under a top-level "countries" key.
func ParseYAML(r io.Reader) ([]types.Locale, error) {
	var doc struct {
		Countries []types.Locale `yaml:"countries"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse proxy yaml: %w", err)
	}
	return doc.Countries, nil
}

func (c *Catalog) Set(entries []types.Locale) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append([]types.Locale(nil), entries...)
}

// All returns a copy of the catalog.
func (c *Catalog) All() []types.Locale {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.Locale(nil), c.entries...)
}

func (c *Catalog) ByCode(code string) (types.Locale, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if strings.EqualFold(e.Code, code) {
			return e, true
		}
	}
	return types.Locale{}, false
}

// Random picks a catalog entry uniformly, or the default when empty.
func (c *Catalog) Random() types.Locale {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return c.fallback
	}
	return c.entries[c.rand(len(c.entries))]
}

func (c *Catalog) Default() types.Locale {
	return c.fallback
}
