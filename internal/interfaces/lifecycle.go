package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenPadCore/internal/config"
	"github.com/KevinKickass/OpenPadCore/internal/fleet"
	"github.com/KevinKickass/OpenPadCore/internal/orchestrator"
	"github.com/KevinKickass/OpenPadCore/internal/proxy"
	"github.com/KevinKickass/OpenPadCore/internal/statistics"
	"github.com/KevinKickass/OpenPadCore/internal/status"
	"github.com/KevinKickass/OpenPadCore/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string `json:"state"`
	ManagedPads      int    `json:"managed_pads"`
	ActivePipelines  int    `json:"active_pipelines"`
	PendingTimeouts  int    `json:"pending_timeouts"`
	ConnectedClients int    `json:"connected_clients"`
	ProxyCountries   int    `json:"proxy_countries"`
}

type LifecycleManager interface {
	Config() *config.Config
	Orchestrator() *orchestrator.Orchestrator
	Recorder() *status.Recorder
	Catalog() *proxy.Catalog
	Accounts() storage.AccountStore
	Fleet() *fleet.Manager
	Statistics() *statistics.Service
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
