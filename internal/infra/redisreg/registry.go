package redisreg

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/ports"
)

var _ ports.Registry = (*Registry)(nil)

// setStateGuarded rejects the write unless the caller currently holds
// the binding's lock. Holding the lock plus this CAS makes the caller
// the unique mutator for the binding.
var setStateGuarded = redis.NewScript(`
local lock = redis.call('GET', KEYS[2])
if not lock or lock ~= ARGV[1] then
  return 0
end
local owner = ARGV[1]
if ARGV[3] == 'stopped' then
  owner = ''
end
redis.call('HSET', KEYS[1],
  'binding_id', ARGV[2],
  'state', ARGV[3],
  'reason', ARGV[4],
  'owner', owner,
  'updated_at', ARGV[5])
return 1
`)

var refreshLock = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
else
  return 0
end
`)

var releaseLock = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
else
  return 0
end
`)

func (r *Registry) GetState(ctx context.Context, bindingID string) (*domain.StateRecord, error) {
	raw, err := r.Rdb.HGetAll(ctx, stateKey(bindingID)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return parseStateRecord(bindingID, raw), nil
}

func (r *Registry) SetState(ctx context.Context, bindingID, expectedOwner string, state domain.WorkerState, reason string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if expectedOwner == "" {
		// Control-plane write: unconditional, clears ownership for
		// terminal states so the next start can take over.
		owner := ""
		if state == domain.StateRunning || state == domain.StatePaused {
			cur, err := r.Rdb.HGet(ctx, stateKey(bindingID), "owner").Result()
			if err == nil {
				owner = cur
			}
		}
		err := r.Rdb.HSet(ctx, stateKey(bindingID), map[string]any{
			"binding_id": bindingID,
			"state":      string(state),
			"reason":     reason,
			"owner":      owner,
			"updated_at": now,
		}).Err()
		return err == nil, err
	}

	ok, err := setStateGuarded.Run(ctx, r.Rdb, []string{stateKey(bindingID), lockKey(bindingID)},
		expectedOwner, bindingID, string(state), reason, now).Int()
	if err != nil {
		return false, err
	}
	return ok == 1, nil
}

func (r *Registry) GetConfig(ctx context.Context, bindingID string) (*domain.WorkerConfig, error) {
	raw, err := r.Rdb.HGetAll(ctx, configKey(bindingID)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	cfg := &domain.WorkerConfig{
		IntervalMs:        atoiOr(raw["interval_ms"], 800),
		MaxRetryStatus:    atoiOr(raw["max_retry_status"], 2),
		CooldownOnErrorMs: atoiOr(raw["cooldown_on_error_ms"], 1500),
		ProductID:         raw["product_id"],
		Email:             raw["email"],
		LimitHarga:        atoiOr(raw["limit_harga"], 0),
	}
	return cfg, nil
}

func (r *Registry) SetConfig(ctx context.Context, bindingID string, cfg domain.WorkerConfig) error {
	return r.Rdb.HSet(ctx, configKey(bindingID), map[string]any{
		"interval_ms":          strconv.Itoa(cfg.IntervalMs),
		"max_retry_status":     strconv.Itoa(cfg.MaxRetryStatus),
		"cooldown_on_error_ms": strconv.Itoa(cfg.CooldownOnErrorMs),
		"product_id":           cfg.ProductID,
		"email":                cfg.Email,
		"limit_harga":          strconv.Itoa(cfg.LimitHarga),
	}).Err()
}

func (r *Registry) AcquireLock(ctx context.Context, bindingID, owner string, ttl time.Duration) (bool, error) {
	return r.Rdb.SetNX(ctx, lockKey(bindingID), owner, ttl).Result()
}

func (r *Registry) RefreshLock(ctx context.Context, bindingID, owner string, ttl time.Duration) (bool, error) {
	ok, err := refreshLock.Run(ctx, r.Rdb, []string{lockKey(bindingID)},
		owner, strconv.FormatInt(ttl.Milliseconds(), 10)).Int()
	if err != nil {
		return false, err
	}
	return ok == 1, nil
}

func (r *Registry) ReleaseLock(ctx context.Context, bindingID, owner string) (bool, error) {
	ok, err := releaseLock.Run(ctx, r.Rdb, []string{lockKey(bindingID)}, owner).Int()
	if err != nil {
		return false, err
	}
	return ok == 1, nil
}

func (r *Registry) GetLockOwner(ctx context.Context, bindingID string) (string, error) {
	owner, err := r.Rdb.Get(ctx, lockKey(bindingID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

func (r *Registry) Heartbeat(ctx context.Context, hb domain.Heartbeat) error {
	key := hbKey(hb.BindingID)
	// Best-effort ownership guard: a stale owner must not clobber the
	// live worker's heartbeat.
	cur, err := r.Rdb.HGet(ctx, key, "owner").Result()
	if err == nil && cur != "" && cur != hb.Owner {
		lock, lockErr := r.GetLockOwner(ctx, hb.BindingID)
		if lockErr == nil && lock != "" && lock != hb.Owner {
			return nil
		}
	}
	if err := r.Rdb.HSet(ctx, key, map[string]any{
		"binding_id":  hb.BindingID,
		"owner":       hb.Owner,
		"cycle":       strconv.FormatInt(hb.Cycle, 10),
		"last_action": hb.LastAction,
		"updated_at":  hb.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}).Err(); err != nil {
		return err
	}
	return r.Rdb.PExpire(ctx, key, r.heartbeatTTL).Err()
}

func (r *Registry) GetHeartbeat(ctx context.Context, bindingID string) (*domain.Heartbeat, error) {
	raw, err := r.Rdb.HGetAll(ctx, hbKey(bindingID)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	cycle, _ := strconv.ParseInt(raw["cycle"], 10, 64)
	return &domain.Heartbeat{
		BindingID:  bindingID,
		Owner:      raw["owner"],
		Cycle:      cycle,
		LastAction: raw["last_action"],
		UpdatedAt:  parseTime(raw["updated_at"]),
	}, nil
}

func (r *Registry) EnqueueCommand(ctx context.Context, bindingID string, cmd domain.Command) (int64, error) {
	seq, err := r.Rdb.Incr(ctx, cmdSeqKey(bindingID)).Result()
	if err != nil {
		return 0, err
	}
	cmd.Seq = seq
	b, err := json.Marshal(cmd)
	if err != nil {
		return 0, err
	}
	if err := r.Rdb.RPush(ctx, cmdKey(bindingID), b).Err(); err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *Registry) DrainCommands(ctx context.Context, bindingID string) ([]domain.Command, error) {
	raw, err := r.Rdb.LPopCount(ctx, cmdKey(bindingID), 64).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cmds := make([]domain.Command, 0, len(raw))
	for _, item := range raw {
		var cmd domain.Command
		if err := json.Unmarshal([]byte(item), &cmd); err != nil {
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func (r *Registry) SnapshotAll(ctx context.Context) ([]domain.Snapshot, error) {
	var snaps []domain.Snapshot
	iter := r.Rdb.Scan(ctx, 0, "wrk:state:*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.Rdb.HGetAll(ctx, key).Result()
		if err != nil || len(raw) == 0 {
			continue
		}
		bindingID := raw["binding_id"]
		if bindingID == "" {
			bindingID = key[len("wrk:state:"):]
		}
		state := parseStateRecord(bindingID, raw)
		lockOwner, _ := r.GetLockOwner(ctx, bindingID)
		hb, _ := r.GetHeartbeat(ctx, bindingID)
		snaps = append(snaps, domain.Snapshot{
			BindingID: bindingID,
			State:     *state,
			LockOwner: lockOwner,
			Heartbeat: hb,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return snaps, nil
}

func parseStateRecord(bindingID string, raw map[string]string) *domain.StateRecord {
	state := domain.WorkerState(raw["state"])
	if state == "" {
		state = domain.StateIdle
	}
	return &domain.StateRecord{
		BindingID: bindingID,
		State:     state,
		Reason:    raw["reason"],
		Owner:     raw["owner"],
		UpdatedAt: parseTime(raw["updated_at"]),
	}
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

func atoiOr(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
