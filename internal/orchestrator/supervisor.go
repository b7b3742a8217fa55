package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hasanmaki/mkit-idv-next/internal/config"
	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/engine"
	"github.com/hasanmaki/mkit-idv-next/internal/metrics"
	"github.com/hasanmaki/mkit-idv-next/internal/ports"
	"github.com/hasanmaki/mkit-idv-next/internal/worker"
)

const reconcileInterval = 1 * time.Second

// Supervisor observes desired state in the registry and keeps one
// local worker per binding that should run. Lock contention decides
// ownership across replicas: losers simply do not spawn.
type Supervisor struct {
	Registry ports.Registry
	Engine   *engine.Engine
	Metrics  *metrics.Collector
	Orch     config.Orchestration

	instance string

	mu     sync.Mutex
	active map[string]bool
	wg     sync.WaitGroup
}

func NewSupervisor(registry ports.Registry, eng *engine.Engine, collector *metrics.Collector, orch config.Orchestration) *Supervisor {
	host, _ := os.Hostname()
	return &Supervisor{
		Registry: registry,
		Engine:   eng,
		Metrics:  collector,
		Orch:     orch,
		instance: fmt.Sprintf("%s:%d", host, os.Getpid()),
		active:   make(map[string]bool),
	}
}

// Run reconciles until the context is cancelled, then waits for all
// local workers to reach their next boundary and exit.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	log.Info().Str("instance", s.instance).Msg("supervisor started")

	for {
		s.reconcile(ctx)
		select {
		case <-ctx.Done():
			log.Info().Msg("supervisor draining workers")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// reconcile spawns workers for bindings whose desired state is running
// or paused and which no process currently owns.
func (s *Supervisor) reconcile(ctx context.Context) {
	snaps, err := s.Registry.SnapshotAll(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("snapshot failed")
		return
	}
	for _, snap := range snaps {
		if snap.State.State != domain.StateRunning && snap.State.State != domain.StatePaused {
			continue
		}
		if snap.LockOwner != "" {
			continue
		}
		s.spawn(ctx, snap.BindingID)
	}
}

func (s *Supervisor) spawn(ctx context.Context, bindingID string) {
	s.mu.Lock()
	if s.active[bindingID] {
		s.mu.Unlock()
		return
	}
	s.active[bindingID] = true
	s.mu.Unlock()

	owner := fmt.Sprintf("%s:%s", s.instance, uuid.NewString()[:8])
	w := &worker.Worker{
		BindingID: bindingID,
		Owner:     owner,
		Registry:  s.Registry,
		Engine:    s.Engine,
		Metrics:   s.Metrics,
		LockTTL:   s.Orch.LockTTL(),
	}

	log.Info().Str("binding_id", bindingID).Str("owner", owner).Msg("spawning worker")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, bindingID)
			s.mu.Unlock()
		}()
		w.Run(ctx)
	}()
}

// ActiveWorkers returns the count of workers owned by this process.
func (s *Supervisor) ActiveWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
