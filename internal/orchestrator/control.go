package orchestrator

import (
	"context"
	"time"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/ports"
)

// ItemResult is the per-binding outcome of a control action.
type ItemResult struct {
	BindingID string `json:"binding_id"`
	OK        bool   `json:"ok"`
	Message   string `json:"message"`
}

// MonitorItem is one binding's runtime view for the monitor endpoint.
type MonitorItem struct {
	BindingID        string             `json:"binding_id"`
	State            domain.WorkerState `json:"state"`
	Reason           string             `json:"reason,omitempty"`
	LockOwner        string             `json:"lock_owner,omitempty"`
	HeartbeatCycle   int64              `json:"heartbeat_cycle"`
	HeartbeatLastAct string             `json:"heartbeat_last_action,omitempty"`
	HeartbeatAgeMs   int64              `json:"heartbeat_age_ms"`
	StateUpdatedAt   string             `json:"state_updated_at"`
}

type MonitorResult struct {
	TotalWorkers  int           `json:"total_workers"`
	ActiveWorkers int           `json:"active_workers"`
	Items         []MonitorItem `json:"items"`
}

type StatusItem struct {
	BindingID string             `json:"binding_id"`
	State     domain.WorkerState `json:"state"`
	Reason    string             `json:"reason,omitempty"`
	Owner     string             `json:"owner,omitempty"`
	UpdatedAt string             `json:"updated_at,omitempty"`
}

// Control implements the idempotent start/pause/resume/stop command
// plane over the registry. Workers observe the written desired state
// at their next loop boundary.
type Control struct {
	Registry ports.Registry
}

func NewControl(registry ports.Registry) *Control {
	return &Control{Registry: registry}
}

// Start writes running state plus config for each startable binding
// and publishes a start command. A binding already running keeps its
// worker; the new config still replaces the old one so the latest
// start wins.
func (c *Control) Start(ctx context.Context, ids []string, cfg domain.WorkerConfig) []ItemResult {
	items := make([]ItemResult, 0, len(ids))
	for _, id := range ids {
		if err := cfg.Validate(); err != nil {
			items = append(items, ItemResult{BindingID: id, OK: false, Message: err.Error()})
			continue
		}
		if err := c.Registry.SetConfig(ctx, id, cfg); err != nil {
			items = append(items, ItemResult{BindingID: id, OK: false, Message: "config_write_failed"})
			continue
		}

		state, err := c.Registry.GetState(ctx, id)
		if err != nil {
			items = append(items, ItemResult{BindingID: id, OK: false, Message: "state_read_failed"})
			continue
		}
		alreadyRunning := state != nil && state.State == domain.StateRunning

		if _, err := c.Registry.SetState(ctx, id, "", domain.StateRunning, ""); err != nil {
			items = append(items, ItemResult{BindingID: id, OK: false, Message: "state_write_failed"})
			continue
		}
		if _, err := c.Registry.EnqueueCommand(ctx, id, domain.Command{Kind: domain.CmdStart, Config: &cfg}); err != nil {
			items = append(items, ItemResult{BindingID: id, OK: false, Message: "command_write_failed"})
			continue
		}

		msg := "start_requested"
		if alreadyRunning {
			msg = "config_replaced"
		}
		items = append(items, ItemResult{BindingID: id, OK: true, Message: msg})
	}
	return items
}

// Pause moves running bindings to paused; everything else is a no-op.
func (c *Control) Pause(ctx context.Context, ids []string, reason string) []ItemResult {
	if reason == "" {
		reason = "manual_pause"
	}
	items := make([]ItemResult, 0, len(ids))
	for _, id := range ids {
		state, err := c.Registry.GetState(ctx, id)
		if err != nil {
			items = append(items, ItemResult{BindingID: id, OK: false, Message: "state_read_failed"})
			continue
		}
		if state == nil || state.State != domain.StateRunning {
			items = append(items, ItemResult{BindingID: id, OK: false, Message: "not_running"})
			continue
		}
		if _, err := c.Registry.SetState(ctx, id, "", domain.StatePaused, reason); err != nil {
			items = append(items, ItemResult{BindingID: id, OK: false, Message: "state_write_failed"})
			continue
		}
		_, _ = c.Registry.EnqueueCommand(ctx, id, domain.Command{Kind: domain.CmdPause, Reason: reason})
		items = append(items, ItemResult{BindingID: id, OK: true, Message: "pause_requested"})
	}
	return items
}

// Resume moves paused bindings back to running.
func (c *Control) Resume(ctx context.Context, ids []string) []ItemResult {
	items := make([]ItemResult, 0, len(ids))
	for _, id := range ids {
		state, err := c.Registry.GetState(ctx, id)
		if err != nil {
			items = append(items, ItemResult{BindingID: id, OK: false, Message: "state_read_failed"})
			continue
		}
		if state == nil || state.State != domain.StatePaused {
			items = append(items, ItemResult{BindingID: id, OK: false, Message: "not_paused"})
			continue
		}
		if _, err := c.Registry.SetState(ctx, id, "", domain.StateRunning, ""); err != nil {
			items = append(items, ItemResult{BindingID: id, OK: false, Message: "state_write_failed"})
			continue
		}
		_, _ = c.Registry.EnqueueCommand(ctx, id, domain.Command{Kind: domain.CmdResume})
		items = append(items, ItemResult{BindingID: id, OK: true, Message: "resume_requested"})
	}
	return items
}

// Stop writes stopped unconditionally. Workers honor it at their next
// boundary; stopping a binding with no worker still records stopped.
func (c *Control) Stop(ctx context.Context, ids []string, reason string) []ItemResult {
	if reason == "" {
		reason = "manual_stop"
	}
	items := make([]ItemResult, 0, len(ids))
	for _, id := range ids {
		if _, err := c.Registry.SetState(ctx, id, "", domain.StateStopped, reason); err != nil {
			items = append(items, ItemResult{BindingID: id, OK: false, Message: "state_write_failed"})
			continue
		}
		_, _ = c.Registry.EnqueueCommand(ctx, id, domain.Command{Kind: domain.CmdStop, Reason: reason})
		items = append(items, ItemResult{BindingID: id, OK: true, Message: "stop_requested"})
	}
	return items
}

func (c *Control) Status(ctx context.Context, ids []string) []StatusItem {
	items := make([]StatusItem, 0, len(ids))
	for _, id := range ids {
		state, err := c.Registry.GetState(ctx, id)
		if err != nil || state == nil {
			items = append(items, StatusItem{BindingID: id, State: domain.StateIdle, Reason: "not_found"})
			continue
		}
		items = append(items, StatusItem{
			BindingID: id,
			State:     state.State,
			Reason:    state.Reason,
			Owner:     state.Owner,
			UpdatedAt: state.UpdatedAt.Format(time.RFC3339Nano),
		})
	}
	return items
}

// Monitor aggregates the registry snapshot. Active means a live lock
// plus running state; totals count every known binding.
func (c *Control) Monitor(ctx context.Context) (*MonitorResult, error) {
	snaps, err := c.Registry.SnapshotAll(ctx)
	if err != nil {
		return nil, err
	}
	res := &MonitorResult{Items: make([]MonitorItem, 0, len(snaps))}
	now := time.Now().UTC()
	for _, snap := range snaps {
		item := MonitorItem{
			BindingID:      snap.BindingID,
			State:          snap.State.State,
			Reason:         snap.State.Reason,
			LockOwner:      snap.LockOwner,
			StateUpdatedAt: snap.State.UpdatedAt.Format(time.RFC3339Nano),
		}
		if snap.Heartbeat != nil {
			item.HeartbeatCycle = snap.Heartbeat.Cycle
			item.HeartbeatLastAct = snap.Heartbeat.LastAction
			item.HeartbeatAgeMs = now.Sub(snap.Heartbeat.UpdatedAt).Milliseconds()
		}
		if snap.LockOwner != "" && snap.State.State == domain.StateRunning {
			res.ActiveWorkers++
		}
		res.Items = append(res.Items, item)
	}
	res.TotalWorkers = len(snaps)
	return res, nil
}
