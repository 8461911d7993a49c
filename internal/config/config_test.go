package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
fleet:
  pad_codes: [D1, D2]
  template_ids: [7, 8]
  packages:
    primary: com.example.script
  apps:
    - name: clash
      url: https://cdn.example.com/apk/abc123.apk
      paired: true
    - name: script
      url: https://cdn.example.com/apk/def456.apk?sig=1
      checksum: explicit
      paired: true
    - name: chrome
      url: https://cdn.example.com/apk/chrome.apk
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 12*time.Minute, cfg.Timeouts.Global)
	assert.Equal(t, 5*time.Minute, cfg.Timeouts.CheckTask)
	assert.Equal(t, time.Second, cfg.Timeouts.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.ReinstallSettle)
	assert.Equal(t, 10*time.Minute, cfg.Timeouts.Reset)
	assert.Equal(t, time.Minute, cfg.Timeouts.ResetRetry)
	assert.Equal(t, 6, cfg.AppStart.MaxAttempts)
	assert.Len(t, cfg.AppStart.Taps, 3)
	assert.Equal(t, "armcloud-paas", cfg.Cloud.Service)
	assert.Equal(t, []string{"D1", "D2"}, cfg.Fleet.PadCodes)
	assert.Equal(t, []int{7, 8}, cfg.Fleet.TemplateIDs)
	assert.Equal(t, "sg", cfg.Fleet.DefaultProxy.Code)
	assert.False(t, cfg.Notify.MQTT.Enabled())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("OPC_SERVER_HTTP_PORT", "9090")
	t.Setenv("OPC_TIMEOUTS_GLOBAL", "3m")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, 3*time.Minute, cfg.Timeouts.Global)
}

func TestSavePadCodes(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	require.NoError(t, SavePadCodes(path, []string{"D1", "D3"}))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, []string{"D1", "D3"}, cfg.Fleet.PadCodes)
	assert.Equal(t, []int{7, 8}, cfg.Fleet.TemplateIDs)
	assert.Len(t, cfg.Fleet.Apps, 3)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_RejectsIncompleteFleet(t *testing.T) {
	_, err := Load(writeConfig(t, `
fleet:
  apps:
    - name: clash
      url: https://cdn.example.com/apk/abc.apk
      paired: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fleet.pad_codes")
	assert.Contains(t, err.Error(), "fleet.template_ids")
	assert.Contains(t, err.Error(), "exactly two paired apps")
	assert.Contains(t, err.Error(), "fleet.packages.primary")
}

func TestAppConfig_ResolvedChecksum(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "abc123", cfg.Fleet.Apps[0].ResolvedChecksum())
	assert.Equal(t, "explicit", cfg.Fleet.Apps[1].ResolvedChecksum())

	app := AppConfig{URL: "https://cdn.example.com/apk/def456.apk?sig=1"}
	assert.Equal(t, "def456", app.ResolvedChecksum())
}

func TestAuthConfig_Secrets(t *testing.T) {
	a := AuthConfig{JWTSecretEnv: "TEST_OPC_JWT", AdminPasswordEnv: "TEST_OPC_ADMIN"}
	assert.False(t, a.IsProductionReady())

	t.Setenv("TEST_OPC_JWT", "0123456789abcdef0123456789abcdef")
	t.Setenv("TEST_OPC_ADMIN", "hunter2")
	assert.True(t, a.IsProductionReady())
	assert.Equal(t, "hunter2", a.AdminPassword())
}

func TestLoadDotEnv_SkippedUnderTest(t *testing.T) {
	path, err := LoadDotEnv()
	assert.NoError(t, err)
	assert.Empty(t, path)
}
