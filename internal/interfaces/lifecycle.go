package interfaces

import (
	"context"
	"errors"

	"github.com/KevinKickass/OpenMediaCore/internal/config"
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"github.com/KevinKickass/OpenMediaCore/internal/types"
)

var ErrCompositeNotFound = errors.New("composite not found")

// SystemStatus represents the current system state
type SystemStatus struct {
	State             string   `json:"state"`
	CompositeCount    int      `json:"composite_count"`
	PlayingComposites int      `json:"playing_composites"`
	FailedComposites  []string `json:"failed_composites,omitempty"`
	Definitions       []string `json:"definitions"`
}

// LifecycleManager is the control surface the API layer drives.
type LifecycleManager interface {
	Config() *config.Config
	GetCurrentStatus() SystemStatus
	ListComposites() []types.CompositeSummary
	GetComposite(name string) (types.CompositeSummary, error)
	SetCompositeState(ctx context.Context, name string, state pipeline.State) error
	CompositeProperties(name string) ([]types.PropertyInfo, error)
	SetCompositeProperty(name, property string, value any) error
	EndOfStream(name string) error
	Shutdown(ctx context.Context) error
}
