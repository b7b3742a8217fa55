package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasanmaki/mkit-idv-next/internal/config"
	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/engine"
	"github.com/hasanmaki/mkit-idv-next/internal/infra/memreg"
	"github.com/hasanmaki/mkit-idv-next/internal/infra/memstore"
	"github.com/hasanmaki/mkit-idv-next/internal/otp"
	"github.com/hasanmaki/mkit-idv-next/internal/ports"
)

type successProvider struct {
	startCalls atomic.Int32
}

func (p *successProvider) GetBalance(ctx context.Context, binding string) (int, error) {
	return 200000, nil
}

func (p *successProvider) StartTransaction(ctx context.Context, binding, productID, email string, limitHarga int) (*ports.StartResult, error) {
	p.startCalls.Add(1)
	return &ports.StartResult{TrxID: "trx-s"}, nil
}

func (p *successProvider) CheckStatus(ctx context.Context, binding, trxID string) (*ports.StatusResult, error) {
	two := 2
	return &ports.StatusResult{IsSuccess: &two, VoucherCode: "VCHR"}, nil
}

func (p *successProvider) SubmitOTP(ctx context.Context, binding, code string) (*ports.OtpResult, error) {
	return &ports.OtpResult{OK: true}, nil
}

func TestSupervisorSpawnsAndReapsWorker(t *testing.T) {
	registry := memreg.New()
	store := memstore.New()
	provider := &successProvider{}
	eng := engine.New(provider, store, otp.NewMemMailbox(), time.Second)
	eng.StatusRetryDelay = 10 * time.Millisecond

	orch := config.Orchestration{LockTTLMs: 2000, HeartbeatMs: 100}
	sup := NewSupervisor(registry, eng, nil, orch)
	control := NewControl(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		_ = sup.Run(ctx)
	}()

	items := control.Start(ctx, []string{"b1"}, validConfig())
	require.True(t, items[0].OK)

	require.Eventually(t, func() bool {
		hb, _ := registry.GetHeartbeat(context.Background(), "b1")
		return hb != nil && hb.Cycle >= 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, sup.ActiveWorkers())

	control.Stop(ctx, []string{"b1"}, "test_done")

	require.Eventually(t, func() bool {
		return sup.ActiveWorkers() == 0
	}, 5*time.Second, 20*time.Millisecond)

	owner, err := registry.GetLockOwner(context.Background(), "b1")
	require.NoError(t, err)
	assert.Empty(t, owner)

	state, _ := registry.GetState(context.Background(), "b1")
	assert.Equal(t, domain.StateStopped, state.State)

	cancel()
	select {
	case <-supDone:
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not drain")
	}
}

func TestSupervisorDoesNotSpawnForLockedBinding(t *testing.T) {
	registry := memreg.New()
	provider := &successProvider{}
	eng := engine.New(provider, memstore.New(), otp.NewMemMailbox(), time.Second)

	sup := NewSupervisor(registry, eng, nil, config.Orchestration{LockTTLMs: 2000})
	control := NewControl(registry)
	ctx := context.Background()

	control.Start(ctx, []string{"b1"}, validConfig())
	acquired, err := registry.AcquireLock(ctx, "b1", "remote-replica", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	sup.reconcile(ctx)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 0, sup.ActiveWorkers())
	assert.Equal(t, int32(0), provider.startCalls.Load())
}
