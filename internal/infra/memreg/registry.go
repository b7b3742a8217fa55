package memreg

import (
	"context"
	"sync"
	"time"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/ports"
)

var _ ports.Registry = (*Registry)(nil)

type lockEntry struct {
	owner     string
	expiresAt time.Time
}

// Registry is an in-process map-backed registry honoring the same
// invariants as the Redis implementation: single-holder TTL lock and
// owner-guarded state writes. Intended for tests and single-process
// runs.
type Registry struct {
	mu     sync.Mutex
	states map[string]domain.StateRecord
	cfgs   map[string]domain.WorkerConfig
	locks  map[string]lockEntry
	hbs    map[string]domain.Heartbeat
	cmds   map[string][]domain.Command
	seqs   map[string]int64
}

func New() *Registry {
	return &Registry{
		states: make(map[string]domain.StateRecord),
		cfgs:   make(map[string]domain.WorkerConfig),
		locks:  make(map[string]lockEntry),
		hbs:    make(map[string]domain.Heartbeat),
		cmds:   make(map[string][]domain.Command),
		seqs:   make(map[string]int64),
	}
}

func (r *Registry) Ping(ctx context.Context) error { return nil }

func (r *Registry) GetState(ctx context.Context, bindingID string) (*domain.StateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.states[bindingID]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (r *Registry) SetState(ctx context.Context, bindingID, expectedOwner string, state domain.WorkerState, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.states[bindingID]
	owner := expectedOwner
	if expectedOwner != "" {
		lock, ok := r.locks[bindingID]
		if !ok || lock.owner != expectedOwner || time.Now().After(lock.expiresAt) {
			return false, nil
		}
		if state == domain.StateStopped {
			owner = ""
		}
	} else {
		owner = ""
		if state == domain.StateRunning || state == domain.StatePaused {
			owner = cur.Owner
		}
	}
	r.states[bindingID] = domain.StateRecord{
		BindingID: bindingID,
		State:     state,
		Reason:    reason,
		Owner:     owner,
		UpdatedAt: time.Now().UTC(),
	}
	return true, nil
}

func (r *Registry) GetConfig(ctx context.Context, bindingID string) (*domain.WorkerConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.cfgs[bindingID]
	if !ok {
		return nil, nil
	}
	out := cfg
	return &out, nil
}

func (r *Registry) SetConfig(ctx context.Context, bindingID string, cfg domain.WorkerConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfgs[bindingID] = cfg
	return nil
}

func (r *Registry) AcquireLock(ctx context.Context, bindingID, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.locks[bindingID]
	if ok && time.Now().Before(cur.expiresAt) {
		return false, nil
	}
	r.locks[bindingID] = lockEntry{owner: owner, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (r *Registry) RefreshLock(ctx context.Context, bindingID, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.locks[bindingID]
	if !ok || cur.owner != owner || time.Now().After(cur.expiresAt) {
		return false, nil
	}
	r.locks[bindingID] = lockEntry{owner: owner, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (r *Registry) ReleaseLock(ctx context.Context, bindingID, owner string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.locks[bindingID]
	if !ok || cur.owner != owner {
		return false, nil
	}
	delete(r.locks, bindingID)
	return true, nil
}

func (r *Registry) GetLockOwner(ctx context.Context, bindingID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.locks[bindingID]
	if !ok || time.Now().After(cur.expiresAt) {
		return "", nil
	}
	return cur.owner, nil
}

func (r *Registry) Heartbeat(ctx context.Context, hb domain.Heartbeat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.hbs[hb.BindingID]
	if ok && cur.Owner != hb.Owner {
		lock, locked := r.locks[hb.BindingID]
		if locked && lock.owner != hb.Owner && time.Now().Before(lock.expiresAt) {
			return nil
		}
	}
	r.hbs[hb.BindingID] = hb
	return nil
}

func (r *Registry) GetHeartbeat(ctx context.Context, bindingID string) (*domain.Heartbeat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hb, ok := r.hbs[bindingID]
	if !ok {
		return nil, nil
	}
	out := hb
	return &out, nil
}

func (r *Registry) EnqueueCommand(ctx context.Context, bindingID string, cmd domain.Command) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs[bindingID]++
	cmd.Seq = r.seqs[bindingID]
	r.cmds[bindingID] = append(r.cmds[bindingID], cmd)
	return cmd.Seq, nil
}

func (r *Registry) DrainCommands(ctx context.Context, bindingID string) ([]domain.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmds := r.cmds[bindingID]
	r.cmds[bindingID] = nil
	return cmds, nil
}

func (r *Registry) SnapshotAll(ctx context.Context) ([]domain.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snaps := make([]domain.Snapshot, 0, len(r.states))
	for id, rec := range r.states {
		snap := domain.Snapshot{BindingID: id, State: rec}
		if lock, ok := r.locks[id]; ok && time.Now().Before(lock.expiresAt) {
			snap.LockOwner = lock.owner
		}
		if hb, ok := r.hbs[id]; ok {
			out := hb
			snap.Heartbeat = &out
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
