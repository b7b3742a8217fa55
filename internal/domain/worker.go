package domain

import (
	"fmt"
	"time"
)

type WorkerState string

const (
	StateIdle    WorkerState = "idle"
	StateRunning WorkerState = "running"
	StatePaused  WorkerState = "paused"
	StateStopped WorkerState = "stopped"
)

// StateRecord is the persisted worker state for one binding.
type StateRecord struct {
	BindingID string      `json:"binding_id"`
	State     WorkerState `json:"state"`
	Reason    string      `json:"reason"`
	Owner     string      `json:"owner"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// WorkerConfig is replaced wholesale only by a start command; pause and
// resume leave it untouched. A running worker re-reads it at every
// iteration, so a start on a running binding takes effect at the next
// iteration.
type WorkerConfig struct {
	IntervalMs        int    `json:"interval_ms"`
	MaxRetryStatus    int    `json:"max_retry_status"`
	CooldownOnErrorMs int    `json:"cooldown_on_error_ms"`
	ProductID         string `json:"product_id"`
	Email             string `json:"email"`
	LimitHarga        int    `json:"limit_harga"`
}

func (c WorkerConfig) Validate() error {
	if c.IntervalMs < 100 || c.IntervalMs > 10000 {
		return fmt.Errorf("interval_ms %d out of range [100,10000]", c.IntervalMs)
	}
	if c.MaxRetryStatus < 0 || c.MaxRetryStatus > 10 {
		return fmt.Errorf("max_retry_status %d out of range [0,10]", c.MaxRetryStatus)
	}
	if c.CooldownOnErrorMs < 0 || c.CooldownOnErrorMs > 30000 {
		return fmt.Errorf("cooldown_on_error_ms %d out of range [0,30000]", c.CooldownOnErrorMs)
	}
	if c.ProductID == "" {
		return fmt.Errorf("product_id is required")
	}
	if c.LimitHarga <= 0 {
		return fmt.Errorf("limit_harga must be positive")
	}
	return nil
}

func (c WorkerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

func (c WorkerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownOnErrorMs) * time.Millisecond
}

// Heartbeat is overwritten once per completed iteration. Cycle is
// strictly monotonic per owner.
type Heartbeat struct {
	BindingID  string    `json:"binding_id"`
	Owner      string    `json:"owner"`
	Cycle      int64     `json:"cycle"`
	LastAction string    `json:"last_action"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Lock mirrors the single-holder lease stored in the registry.
type Lock struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Snapshot is one monitor entry; consistency is per-entry.
type Snapshot struct {
	BindingID string      `json:"binding_id"`
	State     StateRecord `json:"state"`
	LockOwner string      `json:"lock_owner"`
	Heartbeat *Heartbeat  `json:"heartbeat,omitempty"`
}
