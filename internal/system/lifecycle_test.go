package system

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/cloud"
	"github.com/KevinKickass/OpenPadCore/internal/config"
	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"github.com/KevinKickass/OpenPadCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type resetRecorder struct {
	mu       sync.Mutex
	replaced map[string]int
	pads     []string
}

func (r *resetRecorder) ListPads(ctx context.Context) ([]cloud.PadInfo, error) {
	infos := make([]cloud.PadInfo, 0, len(r.pads))
	for _, code := range r.pads {
		infos = append(infos, cloud.PadInfo{PadCode: code})
	}
	return infos, nil
}

func (r *resetRecorder) ReplacePad(ctx context.Context, padCodes []string, templateID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pad := range padCodes {
		r.replaced[pad] = templateID
	}
	return nil
}

func (r *resetRecorder) InstallApp(ctx context.Context, padCodes []string, url, md5 string) ([]types.TaskRef, error) {
	return nil, nil
}

func (r *resetRecorder) StartApp(ctx context.Context, padCodes []string, pkgName string) ([]types.TaskRef, error) {
	return nil, nil
}

func (r *resetRecorder) SwitchRoot(ctx context.Context, padCodes []string, pkgName string) error {
	return nil
}

func (r *resetRecorder) Restart(ctx context.Context, padCodes []string) error { return nil }

func (r *resetRecorder) UpdateLanguage(ctx context.Context, padCodes []string, language, country string) error {
	return nil
}

func (r *resetRecorder) UpdateTimeZone(ctx context.Context, padCodes []string, timeZone string) error {
	return nil
}

func (r *resetRecorder) InjectGPS(ctx context.Context, padCodes []string, latitude, longitude float64) error {
	return nil
}

func (r *resetRecorder) PadTaskDetail(ctx context.Context, taskIDs []int64) ([]cloud.TaskDetail, error) {
	return nil, nil
}

func (r *resetRecorder) ListInstalledApps(ctx context.Context, padCode, appName string) ([]cloud.InstalledApp, error) {
	return nil, nil
}

func (r *resetRecorder) SimulateTouch(ctx context.Context, padCodes []string, points []types.TouchPoint, width, height int) error {
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("OPC_TEST_JWT", "0123456789abcdef0123456789abcdef")
	t.Setenv("OPC_TEST_ADMIN_PASSWORD", "hunter22")

	dir := t.TempDir()
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", SQLitePath: filepath.Join(dir, "status.db")},
		Auth: config.AuthConfig{
			JWTSecretEnv:     "OPC_TEST_JWT",
			AccessTokenTTL:   time.Minute,
			AdminUsername:    "admin",
			AdminPasswordEnv: "OPC_TEST_ADMIN_PASSWORD",
		},
		Fleet: config.FleetConfig{
			PadCodes:    []string{"D1", "D2"},
			TemplateIDs: []int{42},
			Packages:    config.PackagesConfig{Primary: "com.example.a"},
			DefaultProxy: config.ProxyConfig{
				Country: "Singapore", Code: "sg", TimeZone: "Asia/Singapore", Language: "en",
			},
		},
		Timeouts: config.TimeoutsConfig{
			Global:       time.Minute,
			CheckTask:    time.Second,
			PollInterval: time.Millisecond,
		},
		AppStart: config.AppStartConfig{MaxAttempts: 1},
	}
}

func TestOpenStore(t *testing.T) {
	_, err := OpenStore(config.DatabaseConfig{Driver: "mysql"})
	assert.ErrorContains(t, err, "unknown database driver")

	store, err := OpenStore(config.DatabaseConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "s.db")})
	require.NoError(t, err)
	store.Close()
}

func TestLifecycle_StartProvisionsAndShutsDown(t *testing.T) {
	cfg := testConfig(t)
	store, err := OpenStore(cfg.Database)
	require.NoError(t, err)

	api := &resetRecorder{replaced: map[string]int{}}
	lm, err := NewLifecycleManager(cfg, store, api, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, StateInitializing, lm.State())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, lm.Start(ctx, true))

	assert.Equal(t, StateRunning, lm.State())
	assert.NotNil(t, lm.GRPCAddr())
	assert.Equal(t, map[string]int{"D1": 42, "D2": 42}, api.replaced)

	rec, err := lm.Recorder().Get(ctx, "D2")
	require.NoError(t, err)
	assert.Equal(t, 42, rec.TemplateID)
	assert.Equal(t, "sg", rec.Locale.Code)
	assert.Equal(t, 1, rec.RunCount)
	assert.Equal(t, 0, rec.ErrorCount)

	st := lm.GetCurrentStatus()
	assert.Equal(t, "RUNNING", st.State)
	assert.Equal(t, 2, st.ManagedPads)
	assert.Equal(t, 0, st.ActivePipelines)
	assert.Equal(t, 2, st.PendingTimeouts, "every reset is guarded until its callback")

	require.NoError(t, lm.Shutdown(ctx))
	assert.Equal(t, StateStopped, lm.State())
	assert.NoError(t, lm.Shutdown(ctx))
}

func TestLifecycle_MissingProxyCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fleet.ProxyCatalog = filepath.Join(t.TempDir(), "missing.csv")

	_, err := NewLifecycleManager(cfg, nil, &resetRecorder{}, zap.NewNop())
	assert.ErrorContains(t, err, "proxy catalog")
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateInitializing, StateProvisioning))
	assert.NoError(t, ValidateTransition(StateRunning, StateStopping))
	assert.Error(t, ValidateTransition(StateStopped, StateRunning))
	assert.Error(t, ValidateTransition(SystemState(99), StateRunning))
}

func TestLifecycle_FleetChangesArePersisted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Path = filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfg.Path, []byte("fleet:\n  pad_codes: [D1, D2]\n  template_ids: [42]\n"), 0o600))

	store, err := OpenStore(cfg.Database)
	require.NoError(t, err)
	api := &resetRecorder{replaced: map[string]int{}, pads: []string{"D1", "D2", "D3"}}
	lm, err := NewLifecycleManager(cfg, store, api, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, lm.EnsureSchema(ctx))
	t.Cleanup(func() { _ = lm.Shutdown(ctx) })

	change, err := lm.Fleet().Add(ctx, []string{"D3"})
	require.NoError(t, err)
	assert.True(t, change.Saved)
	assert.True(t, lm.Orchestrator().Managed("D3"))

	raw, err := os.ReadFile(cfg.Path)
	require.NoError(t, err)
	var saved struct {
		Fleet struct {
			PadCodes    []string `yaml:"pad_codes"`
			TemplateIDs []int    `yaml:"template_ids"`
		} `yaml:"fleet"`
	}
	require.NoError(t, yaml.Unmarshal(raw, &saved))
	assert.Equal(t, []string{"D1", "D2", "D3"}, saved.Fleet.PadCodes)
	assert.Equal(t, []int{42}, saved.Fleet.TemplateIDs)

	_, err = lm.Accounts().CreateAccount(ctx, storage.Account{Account: "a@example.com", Password: "pw"})
	require.NoError(t, err)
	sum, err := lm.Statistics().Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.TotalAccounts)
}
