package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/cloud"
	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"github.com/KevinKickass/OpenPadCore/internal/types"
	"go.uber.org/zap"
)

const startTaskID int64 = 9000

type fakeCloud struct {
	mu sync.Mutex

	nextTask     int64
	replaced     []int
	installs     []string
	restarts     int
	switchRoots  int
	languages    []string
	timeZones    []string
	gps          [][2]float64
	touches      int
	detailCalls  int
	startCalls   int
	installedSeq [][]cloud.InstalledApp

	// installStatus and installErrMsg are reported for every install task.
	installStatus types.TaskStatus
	installErrMsg string
	startStatus   types.TaskStatus
	replaceErr    []error
	onRestart     func()
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		nextTask:      100,
		installStatus: types.TaskCompleted,
		startStatus:   types.TaskCompleted,
	}
}

func (f *fakeCloud) ReplacePad(ctx context.Context, padCodes []string, templateID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced = append(f.replaced, templateID)
	if len(f.replaceErr) > 0 {
		err := f.replaceErr[0]
		f.replaceErr = f.replaceErr[1:]
		return err
	}
	return nil
}

func (f *fakeCloud) InstallApp(ctx context.Context, padCodes []string, url, md5 string) ([]types.TaskRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTask++
	f.installs = append(f.installs, url)
	return []types.TaskRef{{TaskID: f.nextTask, PadCode: padCodes[0], Kind: types.KindInstallApp}}, nil
}

func (f *fakeCloud) StartApp(ctx context.Context, padCodes []string, pkgName string) ([]types.TaskRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return []types.TaskRef{{TaskID: startTaskID, PadCode: padCodes[0], Kind: types.KindStartApp}}, nil
}

func (f *fakeCloud) SwitchRoot(ctx context.Context, padCodes []string, pkgName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switchRoots++
	return nil
}

func (f *fakeCloud) Restart(ctx context.Context, padCodes []string) error {
	f.mu.Lock()
	f.restarts++
	hook := f.onRestart
	f.mu.Unlock()
	if hook != nil {
		go hook()
	}
	return nil
}

func (f *fakeCloud) UpdateLanguage(ctx context.Context, padCodes []string, language, country string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.languages = append(f.languages, language+"/"+country)
	return nil
}

func (f *fakeCloud) UpdateTimeZone(ctx context.Context, padCodes []string, timeZone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeZones = append(f.timeZones, timeZone)
	return nil
}

func (f *fakeCloud) InjectGPS(ctx context.Context, padCodes []string, latitude, longitude float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gps = append(f.gps, [2]float64{latitude, longitude})
	return nil
}

func (f *fakeCloud) PadTaskDetail(ctx context.Context, taskIDs []int64) ([]cloud.TaskDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	status, msg := f.installStatus, f.installErrMsg
	if taskIDs[0] == startTaskID {
		status, msg = f.startStatus, ""
	}
	return []cloud.TaskDetail{{TaskID: taskIDs[0], PadCode: "D1", Status: status, ErrorMsg: msg}}, nil
}

func (f *fakeCloud) ListInstalledApps(ctx context.Context, padCode, appName string) ([]cloud.InstalledApp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.installedSeq) == 0 {
		return nil, nil
	}
	apps := f.installedSeq[0]
	if len(f.installedSeq) > 1 {
		f.installedSeq = f.installedSeq[1:]
	}
	return apps, nil
}

func (f *fakeCloud) SimulateTouch(ctx context.Context, padCodes []string, points []types.TouchPoint, width, height int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	return nil
}

type cloudCalls struct {
	replaced    []int
	installs    []string
	restarts    int
	switchRoots int
	languages   []string
	timeZones   []string
	gps         [][2]float64
	touches     int
	detailCalls int
	startCalls  int
}

func (f *fakeCloud) snapshot() cloudCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloudCalls{
		replaced:    append([]int(nil), f.replaced...),
		installs:    append([]string(nil), f.installs...),
		restarts:    f.restarts,
		switchRoots: f.switchRoots,
		languages:   append([]string(nil), f.languages...),
		timeZones:   append([]string(nil), f.timeZones...),
		gps:         append([][2]float64(nil), f.gps...),
		touches:     f.touches,
		detailCalls: f.detailCalls,
		startCalls:  f.startCalls,
	}
}

func (f *fakeCloud) setInstallStatus(s types.TaskStatus) {
	f.setInstallResult(s, "")
}

func (f *fakeCloud) setInstallResult(s types.TaskStatus, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installStatus = s
	f.installErrMsg = msg
}

// setInstalled makes every following listing return apps.
func (f *fakeCloud) setInstalled(apps []cloud.InstalledApp) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installedSeq = [][]cloud.InstalledApp{apps}
}

// memRecorder keeps status records in memory with the same update rules as
// the stores.
type memRecorder struct {
	mu      sync.Mutex
	records map[string]*storage.PadStatus
	labels  []string
}

func newMemRecorder() *memRecorder {
	return &memRecorder{records: make(map[string]*storage.PadStatus)}
}

func (m *memRecorder) Record(ctx context.Context, padCode string, upd storage.StatusUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[padCode]
	if !ok {
		rec = &storage.PadStatus{PadCode: padCode}
		m.records[padCode] = rec
	}
	if upd.Status != nil {
		rec.CurrentStatus = *upd.Status
		m.labels = append(m.labels, *upd.Status)
	}
	if upd.TemplateID != nil {
		rec.TemplateID = *upd.TemplateID
	}
	if upd.Locale != nil {
		rec.Locale = *upd.Locale
	}
	rec.RunCount += upd.RunDelta
	rec.SuccessCount += upd.SuccessDelta
	rec.ErrorCount += upd.ErrorDelta
}

func (m *memRecorder) Label(ctx context.Context, padCode, label string) {
	m.Record(ctx, padCode, storage.Label(label))
}

func (m *memRecorder) Get(ctx context.Context, padCode string) (*storage.PadStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[padCode]
	if !ok {
		return nil, storage.ErrStatusNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memRecorder) Delete(ctx context.Context, padCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[padCode]; !ok {
		return storage.ErrStatusNotFound
	}
	delete(m.records, padCode)
	return nil
}

func (m *memRecorder) get(padCode string) storage.PadStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[padCode]; ok {
		return *rec
	}
	return storage.PadStatus{}
}

func (m *memRecorder) allLabels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.labels...)
}

type fixedLocales struct {
	random   types.Locale
	fallback types.Locale
}

func (l fixedLocales) Random() types.Locale  { return l.random }
func (l fixedLocales) Default() types.Locale { return l.fallback }

var (
	singapore = types.Locale{Country: "Singapore", Code: "sg", TimeZone: "Asia/Singapore", Language: "en", Latitude: 1.35, Longitude: 103.82}
	japan     = types.Locale{Country: "Japan", Code: "jp", TimeZone: "Asia/Tokyo", Language: "ja", Latitude: 35.68, Longitude: 139.69}
)

func testSettings() Settings {
	return Settings{
		PadCodes:    []string{"D1"},
		TemplateIDs: []int{101, 102},
		Apps: []types.InstallEntry{
			{Name: "a", URL: "https://cdn.example/a.apk", Checksum: "a", Package: "com.example.a", Paired: true},
			{Name: "b", URL: "https://cdn.example/b.apk", Checksum: "b", Package: "com.example.b", Paired: true},
		},
		PrimaryPackage:     "com.example.a",
		GlobalTimeout:      time.Minute,
		CheckTaskTimeout:   5 * time.Second,
		PollInterval:       5 * time.Millisecond,
		ReinstallSettle:    5 * time.Millisecond,
		RebootSettle:       time.Millisecond,
		LocaleSettle:       time.Millisecond,
		AppStartRetryDelay: time.Millisecond,
		ResetTimeout:       time.Minute,
		ResetRetryDelay:    time.Minute,
		AppStartAttempts:   3,
		ScreenWidth:        1080,
		ScreenHeight:       1920,
		Taps: []types.TapStep{
			{X: 540, Y: 1600, Hold: 10 * time.Millisecond, Delay: time.Millisecond},
			{X: 100, Y: 200, Delay: time.Millisecond},
		},
		CallAttempts: 2,
	}
}

func newTestOrchestrator(t *testing.T, api *fakeCloud, rec *memRecorder, settings Settings) *Orchestrator {
	t.Helper()
	o := New(api, rec, fixedLocales{random: japan, fallback: singapore}, settings, zap.NewNop())
	o.rand = func(n int) int { return n - 1 }
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

// holdMain registers a main task that only waits for cancellation, so that
// stage functions can be driven directly.
func holdMain(t *testing.T, o *Orchestrator, pad string) {
	t.Helper()
	err := o.registry.Start(pad, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, time.Minute)
	if err != nil {
		t.Fatalf("start placeholder main: %v", err)
	}
}

func installedApps(pkgs ...string) []cloud.InstalledApp {
	apps := make([]cloud.InstalledApp, 0, len(pkgs))
	for _, p := range pkgs {
		apps = append(apps, cloud.InstalledApp{PackageName: p})
	}
	return apps
}
