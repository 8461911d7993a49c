package proxy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KevinKickass/OpenPadCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleCSV = `country,code,proxy,time_zone,language,latitude,longitude,available,provider
Singapore,sg,socks5://sg:1080,Asia/Singapore,en,1.3521,103.8198,是,a
Japan,jp,socks5://jp:1080,Asia/Tokyo,ja,35.6762,139.6503,是,a
Germany,de,socks5://de:1080,Europe/Berlin,de,52.52,13.405,否,b
Short,xx,socks5://xx:1080,UTC,en,0,0,是
`

var fallback = types.Locale{Country: "Singapore", Code: "sg", TimeZone: "Asia/Singapore", Language: "en"}

func TestParseCSV_SkipsUnavailableAndShortRows(t *testing.T) {
	entries, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "jp", entries[1].Code)
	assert.Equal(t, "Asia/Tokyo", entries[1].TimeZone)
	assert.InDelta(t, 139.6503, entries[1].Longitude, 1e-9)
}

func TestParseCSV_BadCoordinate(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("A,aa,p,tz,en,north,1,是,x\n"))
	assert.Error(t, err)
}

func TestCatalog_LoadFile(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "proxies.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(sampleCSV), 0o600))
	yamlPath := filepath.Join(dir, "proxies.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
countries:
  - country: Brazil
    code: br
    proxy: socks5://br:1080
    time_zone: America/Sao_Paulo
    language: pt
    latitude: -23.55
    longitude: -46.63
`), 0o600))

	c := NewCatalog(fallback, zap.NewNop())
	require.NoError(t, c.LoadFile(csvPath))
	assert.Len(t, c.All(), 2)

	require.NoError(t, c.LoadFile(yamlPath))
	br, ok := c.ByCode("BR")
	require.True(t, ok)
	assert.Equal(t, "pt", br.Language)

	assert.Error(t, c.LoadFile(filepath.Join(dir, "proxies.txt")))
	assert.Len(t, c.All(), 1, "failed load keeps previous entries")
}

func TestCatalog_RandomFallsBackWhenEmpty(t *testing.T) {
	c := NewCatalog(fallback, zap.NewNop())
	assert.Equal(t, fallback, c.Random())

	c.Set([]types.Locale{{Code: "jp"}, {Code: "us"}})
	c.rand = func(n int) int { return n - 1 }
	assert.Equal(t, "us", c.Random().Code)
}

func TestCatalog_AllReturnsCopy(t *testing.T) {
	c := NewCatalog(fallback, zap.NewNop())
	c.Set([]types.Locale{{Code: "jp"}})

	all := c.All()
	all[0].Code = "mutated"
	got, ok := c.ByCode("jp")
	assert.True(t, ok)
	assert.Equal(t, "jp", got.Code)
}
