package ports

import (
	"context"
	"time"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

// Registry is the shared source of truth for worker state, locks,
// heartbeats and commands. Implementations must provide a single-holder
// lock with TTL and per-key compare-and-set; everything else is free.
type Registry interface {
	GetState(ctx context.Context, bindingID string) (*domain.StateRecord, error)

	// SetState writes the new state guarded by ownership. An empty
	// expectedOwner means a control-plane write that bypasses the
	// ownership check. Returns false when the guard rejects the write.
	SetState(ctx context.Context, bindingID, expectedOwner string, state domain.WorkerState, reason string) (bool, error)

	GetConfig(ctx context.Context, bindingID string) (*domain.WorkerConfig, error)
	SetConfig(ctx context.Context, bindingID string, cfg domain.WorkerConfig) error

	AcquireLock(ctx context.Context, bindingID, owner string, ttl time.Duration) (bool, error)
	RefreshLock(ctx context.Context, bindingID, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, bindingID, owner string) (bool, error)
	GetLockOwner(ctx context.Context, bindingID string) (string, error)

	Heartbeat(ctx context.Context, hb domain.Heartbeat) error
	GetHeartbeat(ctx context.Context, bindingID string) (*domain.Heartbeat, error)

	EnqueueCommand(ctx context.Context, bindingID string, cmd domain.Command) (int64, error)
	DrainCommands(ctx context.Context, bindingID string) ([]domain.Command, error)

	SnapshotAll(ctx context.Context) ([]domain.Snapshot, error)

	Ping(ctx context.Context) error
}
