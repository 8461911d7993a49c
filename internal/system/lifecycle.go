package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/api/rest"
	"github.com/KevinKickass/OpenPadCore/internal/api/websocket"
	"github.com/KevinKickass/OpenPadCore/internal/auth"
	"github.com/KevinKickass/OpenPadCore/internal/config"
	"github.com/KevinKickass/OpenPadCore/internal/fleet"
	"github.com/KevinKickass/OpenPadCore/internal/interfaces"
	"github.com/KevinKickass/OpenPadCore/internal/notify"
	"github.com/KevinKickass/OpenPadCore/internal/orchestrator"
	"github.com/KevinKickass/OpenPadCore/internal/proxy"
	"github.com/KevinKickass/OpenPadCore/internal/statistics"
	"github.com/KevinKickass/OpenPadCore/internal/status"
	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"github.com/KevinKickass/OpenPadCore/internal/streaming"
	"github.com/KevinKickass/OpenPadCore/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// CloudAPI is everything the service needs from the cloud provider.
type CloudAPI interface {
	orchestrator.CloudAPI
	fleet.PadLister
}

// OpenStore connects the store selected by cfg.Driver.
func OpenStore(cfg config.DatabaseConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "", "postgres":
		db, err := storage.NewPostgresClient(cfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "sqlite":
		db, err := storage.NewSQLiteClient(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

type LifecycleManager struct {
	config       *config.Config
	store        storage.Store
	catalog      *proxy.Catalog
	recorder     *status.Recorder
	orchestrator *orchestrator.Orchestrator
	fleet        *fleet.Manager
	stats        *statistics.Service
	authService  *auth.AuthService
	wsHub        *websocket.Hub
	streamer     *streaming.EventStreamer
	notifier     *notify.MQTTNotifier
	logger       *zap.Logger

	restServer *rest.Server
	grpcServer *grpc.Server
	grpcAddr   net.Addr
	hubCancel  context.CancelFunc
	hubDone    chan struct{}

	stateMu      sync.RWMutex
	currentState SystemState
	lastErr      error

	shutdownOnce sync.Once
}

// NewLifecycleManager wires the store, proxy catalog, cloud API and
// orchestrator together. Nothing is started yet.
func NewLifecycleManager(cfg *config.Config, store storage.Store, api CloudAPI, logger *zap.Logger) (*LifecycleManager, error) {
	catalog := proxy.NewCatalog(defaultLocale(cfg.Fleet.DefaultProxy), logger)
	if path := cfg.Fleet.ProxyCatalog; path != "" {
		if err := catalog.LoadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load proxy catalog: %w", err)
		}
	}

	authService, err := auth.NewAuthService(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}

	recorder := status.NewRecorder(store, logger)
	streamer := streaming.NewEventStreamer()
	hub := websocket.NewHub(logger, authService, recorder.List)
	recorder.AddObserver(hub)
	recorder.AddObserver(streamer)

	orch := orchestrator.New(api, recorder, catalog, orchestrator.SettingsFromConfig(cfg), logger)
	lm := &LifecycleManager{
		config:       cfg,
		store:        store,
		catalog:      catalog,
		recorder:     recorder,
		orchestrator: orch,
		fleet:        fleet.NewManager(api, orch, persistPadCodes(cfg.Path), logger),
		stats:        statistics.NewService(store),
		authService:  authService,
		wsHub:        hub,
		streamer:     streamer,
		logger:       logger.With(zap.String("component", "lifecycle")),
		currentState: StateInitializing,
	}

	if cfg.Notify.MQTT.Enabled() {
		notifier, err := notify.NewMQTTNotifier(cfg.Notify.MQTT, logger)
		if err != nil {
			return nil, err
		}
		recorder.AddObserver(notifier)
		lm.notifier = notifier
	}
	return lm, nil
}

// persistPadCodes writes fleet changes back to the config file it was loaded
// from. Without one they only last until the restart.
func persistPadCodes(path string) fleet.Persist {
	if path == "" {
		return nil
	}
	return func(codes []string) error {
		return config.SavePadCodes(path, codes)
	}
}

func defaultLocale(p config.ProxyConfig) types.Locale {
	return types.Locale{
		Country:   p.Country,
		Code:      p.Code,
		Proxy:     p.Proxy,
		TimeZone:  p.TimeZone,
		Language:  p.Language,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
	}
}

// EnsureSchema creates the status and account tables if they are missing.
func (lm *LifecycleManager) EnsureSchema(ctx context.Context) error {
	if err := lm.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Start brings up the servers and, with provision set, resets every managed
// pad once.
func (lm *LifecycleManager) Start(ctx context.Context, provision bool) error {
	lm.logger.Info("starting OpenPadCore",
		zap.Int("managed_pads", len(lm.orchestrator.PadCodes())),
		zap.Int("proxy_countries", len(lm.catalog.All())))

	if err := lm.EnsureSchema(ctx); err != nil {
		lm.setError(err)
		return err
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	lm.hubDone = make(chan struct{})
	go func() {
		defer close(lm.hubDone)
		lm.wsHub.Run(hubCtx)
	}()

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return lm.err()
	}
	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return lm.err()
	}

	if provision {
		lm.setState(StateProvisioning)
		if err := lm.orchestrator.Provision(ctx); err != nil {
			// failed resets are retried by their reset guard
			lm.logger.Error("provisioning incomplete", zap.Error(err))
		}
	}

	lm.setState(StateRunning)
	lm.logger.Info("system started",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort))
	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcAddr = lis.Addr()

	lm.grpcServer = grpc.NewServer(streaming.ServerOptions(lm.authService)...)
	streaming.NewStatusService(lm.streamer, lm.recorder, lm.logger).Register(lm.grpcServer)

	go func() {
		lm.logger.Info("gRPC server listening", zap.String("address", lis.Addr().String()))
		if err := lm.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()
	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	srv, err := rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	if err != nil {
		return err
	}
	lm.restServer = srv
	return lm.restServer.Start()
}

// Shutdown stops the pipelines first, then the servers, then the store.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error
	lm.shutdownOnce.Do(func() {
		lm.logger.Info("shutting down system")
		lm.setState(StateStopping)
		shutdownErr = lm.gracefulShutdown(ctx)
		lm.setState(StateStopped)
	})
	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error
	if err := lm.orchestrator.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("orchestrator shutdown failed: %w", err))
	}

	// open status streams would hold GracefulStop forever
	lm.streamer.CloseAll()

	var g errgroup.Group
	if lm.restServer != nil {
		g.Go(func() error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("rest api shutdown failed: %w", err)
			}
			return nil
		})
	}
	if lm.grpcServer != nil {
		g.Go(func() error {
			stopped := make(chan struct{})
			go func() {
				lm.grpcServer.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
				return nil
			case <-ctx.Done():
				lm.grpcServer.Stop()
				return errors.New("grpc graceful stop timed out")
			}
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if lm.hubCancel != nil {
		lm.hubCancel()
		<-lm.hubDone
	}
	if lm.notifier != nil {
		lm.notifier.Close()
	}
	lm.store.Close()

	if err := errors.Join(errs...); err != nil {
		lm.logger.Warn("shutdown finished with errors", zap.Error(err))
		return err
	}
	lm.logger.Info("graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("unexpected state change", zap.Error(err))
	}
	lm.currentState = state
	lm.stateMu.Unlock()
	lm.broadcastStatus()
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("system error", zap.Error(err))
	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastErr = err
	lm.stateMu.Unlock()
	lm.broadcastStatus()
}

func (lm *LifecycleManager) err() error {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.lastErr
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.wsHub.Broadcast(websocket.NewSystemStatusMessage(lm.GetCurrentStatus()))
}

func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	st := interfaces.SystemStatus{
		State:            lm.State().String(),
		ManagedPads:      len(lm.orchestrator.PadCodes()),
		ConnectedClients: lm.wsHub.GetClientCount(),
		ProxyCountries:   len(lm.catalog.All()),
	}
	for _, p := range lm.orchestrator.Pipelines() {
		if p.MainRunning {
			st.ActivePipelines++
		}
		if p.TimeoutPending {
			st.PendingTimeouts++
		}
	}
	return st
}

// GRPCAddr is the bound gRPC listener address, nil before Start.
func (lm *LifecycleManager) GRPCAddr() net.Addr {
	return lm.grpcAddr
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Orchestrator() *orchestrator.Orchestrator {
	return lm.orchestrator
}

func (lm *LifecycleManager) Recorder() *status.Recorder {
	return lm.recorder
}

func (lm *LifecycleManager) Catalog() *proxy.Catalog {
	return lm.catalog
}

func (lm *LifecycleManager) Accounts() storage.AccountStore {
	return lm.store
}

func (lm *LifecycleManager) Fleet() *fleet.Manager {
	return lm.fleet
}

func (lm *LifecycleManager) Statistics() *statistics.Service {
	return lm.stats
}

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)
