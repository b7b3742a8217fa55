package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/engine"
	"github.com/hasanmaki/mkit-idv-next/internal/metrics"
	"github.com/hasanmaki/mkit-idv-next/internal/ports"
)

const pausedSpin = 500 * time.Millisecond

// Worker drives the per-binding loop: read state, run one engine
// cycle, heartbeat, apply commands, sleep. Stop requests take effect
// only at iteration boundaries; an in-flight cycle always completes.
type Worker struct {
	BindingID string
	Owner     string
	Registry  ports.Registry
	Engine    *engine.Engine
	Metrics   *metrics.Collector

	LockTTL      time.Duration
	CycleTimeout time.Duration

	lastSeq int64
}

// Run acquires the binding lock and loops until a stop boundary.
// Returns without touching registry state when the lock is contested:
// another replica already owns the binding.
func (w *Worker) Run(ctx context.Context) {
	logger := log.With().Str("binding_id", w.BindingID).Str("owner", w.Owner).Logger()

	acquired, err := w.Registry.AcquireLock(ctx, w.BindingID, w.Owner, w.LockTTL)
	if err != nil {
		logger.Error().Err(err).Msg("lock acquire failed")
		return
	}
	if !acquired {
		logger.Debug().Msg("binding already locked elsewhere, not spawning")
		return
	}

	w.Metrics.WorkerStarted()
	defer w.Metrics.WorkerExited()

	var (
		cycle        int64
		lastCfg      *domain.WorkerConfig
		lockHeld     = true
		exitReason   = ""
		registryDown time.Time
	)

	defer func() {
		if exitReason != "" && lockHeld {
			if _, err := w.Registry.SetState(context.Background(), w.BindingID, w.Owner, domain.StateStopped, exitReason); err != nil {
				logger.Error().Err(err).Msg("final state write failed")
			}
		}
		if lockHeld {
			if _, err := w.Registry.ReleaseLock(context.Background(), w.BindingID, w.Owner); err != nil {
				logger.Error().Err(err).Msg("lock release failed")
			}
		}
		logger.Info().Str("reason", exitReason).Msg("worker exited")
	}()

	for {
		select {
		case <-ctx.Done():
			exitReason = "shutdown"
			return
		default:
		}

		state, err := w.Registry.GetState(ctx, w.BindingID)
		if err != nil {
			// Registry outage: keep last-known config, treat the
			// binding as running, give up after one lock TTL.
			if registryDown.IsZero() {
				registryDown = time.Now()
			}
			if time.Since(registryDown) > w.LockTTL {
				logger.Error().Err(err).Msg("registry unavailable beyond lock ttl")
				lockHeld = false
				return
			}
			logger.Warn().Err(err).Msg("state read failed, assuming running")
			state = &domain.StateRecord{BindingID: w.BindingID, State: domain.StateRunning}
		} else {
			registryDown = time.Time{}
		}

		if state == nil || state.State == domain.StateStopped || state.State == domain.StateIdle {
			return
		}

		if state.State == domain.StatePaused {
			refreshed, err := w.Registry.RefreshLock(ctx, w.BindingID, w.Owner, w.LockTTL)
			if err == nil && !refreshed {
				logger.Warn().Msg("lock lost while paused, exiting")
				lockHeld = false
				return
			}
			w.applyCommands(ctx, &logger)
			select {
			case <-ctx.Done():
				exitReason = "shutdown"
				return
			case <-time.After(pausedSpin):
			}
			continue
		}

		refreshed, err := w.Registry.RefreshLock(ctx, w.BindingID, w.Owner, w.LockTTL)
		if err == nil && !refreshed {
			// Another process took over after a TTL expiry. Exit
			// without releasing: the lock is not ours anymore.
			logger.Warn().Msg("lock lost, exiting")
			lockHeld = false
			return
		}

		cfg, err := w.Registry.GetConfig(ctx, w.BindingID)
		if err == nil && cfg != nil {
			lastCfg = cfg
		}
		if lastCfg == nil {
			exitReason = "missing_worker_config"
			return
		}

		cycleStart := time.Now()
		cycleCtx, cancel := context.WithTimeout(ctx, w.cycleDeadline(*lastCfg))
		result, cycleErr := w.Engine.Cycle(cycleCtx, w.BindingID, *lastCfg)
		cancel()

		cycle++
		w.Metrics.RecordCycle(time.Since(cycleStart).Seconds())

		if cycleErr != nil {
			logger.Warn().Err(cycleErr).Int64("cycle", cycle).Msg("cycle failed")
			w.heartbeat(ctx, cycle, fmt.Sprintf("cycle_error:%v", shortErr(cycleErr)))
			select {
			case <-ctx.Done():
				exitReason = "shutdown"
				return
			case <-time.After(lastCfg.Cooldown()):
			}
			continue
		}

		w.Metrics.RecordTransaction(string(result.Status))
		w.heartbeat(ctx, cycle, "cycle:"+string(result.Status))

		if result.HardStop() {
			exitReason = result.StopReason
			return
		}

		w.applyCommands(ctx, &logger)

		sleep := lastCfg.Interval() - time.Since(cycleStart)
		if sleep > 0 {
			select {
			case <-ctx.Done():
				exitReason = "shutdown"
				return
			case <-time.After(sleep):
			}
		}
	}
}

// applyCommands drains the per-binding queue and applies commands in
// FIFO order. Delivery is at-least-once: the sequence number detects
// replays, and anything enqueued before the latest start belongs to a
// previous run and is dropped.
func (w *Worker) applyCommands(ctx context.Context, logger *zerolog.Logger) {
	cmds, err := w.Registry.DrainCommands(ctx, w.BindingID)
	if err != nil {
		logger.Warn().Err(err).Msg("command drain failed")
		return
	}
	lastStart := -1
	for i, cmd := range cmds {
		if cmd.Kind == domain.CmdStart {
			lastStart = i
		}
	}
	for i, cmd := range cmds {
		if i < lastStart || cmd.Seq <= w.lastSeq {
			continue
		}
		w.lastSeq = cmd.Seq
		w.Metrics.RecordCommand(string(cmd.Kind))
		switch cmd.Kind {
		case domain.CmdPause:
			reason := cmd.Reason
			if reason == "" {
				reason = "manual_pause"
			}
			if _, err := w.Registry.SetState(ctx, w.BindingID, w.Owner, domain.StatePaused, reason); err != nil {
				logger.Warn().Err(err).Msg("pause write failed")
			}
		case domain.CmdResume:
			if _, err := w.Registry.SetState(ctx, w.BindingID, w.Owner, domain.StateRunning, ""); err != nil {
				logger.Warn().Err(err).Msg("resume write failed")
			}
		case domain.CmdStop:
			reason := cmd.Reason
			if reason == "" {
				reason = "manual_stop"
			}
			if _, err := w.Registry.SetState(ctx, w.BindingID, w.Owner, domain.StateStopped, reason); err != nil {
				logger.Warn().Err(err).Msg("stop write failed")
			}
		case domain.CmdStart:
			// Replayed start: already running, nothing to do.
		}
	}
}

func (w *Worker) heartbeat(ctx context.Context, cycle int64, lastAction string) {
	err := w.Registry.Heartbeat(ctx, domain.Heartbeat{
		BindingID:  w.BindingID,
		Owner:      w.Owner,
		Cycle:      cycle,
		LastAction: lastAction,
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		log.Warn().Err(err).Str("binding_id", w.BindingID).Msg("heartbeat failed")
	}
}

// cycleDeadline bounds one engine cycle at twice the worst expected
// cycle time: the OTP window plus 10s for each of four fixed provider
// calls and each status retry. The two extra calls of the OTP path are
// not counted.
func (w *Worker) cycleDeadline(cfg domain.WorkerConfig) time.Duration {
	if w.CycleTimeout > 0 {
		return w.CycleTimeout
	}
	worst := w.Engine.OtpTimeout + time.Duration(4+cfg.MaxRetryStatus)*10*time.Second
	return 2 * worst
}

func shortErr(err error) string {
	msg := err.Error()
	if len(msg) > 120 {
		msg = msg[:120]
	}
	return msg
}
