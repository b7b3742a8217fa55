package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/infra/memstore"
	"github.com/hasanmaki/mkit-idv-next/internal/otp"
	"github.com/hasanmaki/mkit-idv-next/internal/ports"
)

func intPtr(n int) *int { return &n }

// fakeProvider scripts provider behavior per test.
type fakeProvider struct {
	mu sync.Mutex

	balance    int
	balanceErr error

	startResult *ports.StartResult
	startErr    error
	startCalls  int

	statusResults []*ports.StatusResult
	statusErr     error
	statusCalls   int

	otpResult *ports.OtpResult
	otpCalls  int
}

func (f *fakeProvider) GetBalance(ctx context.Context, binding string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeProvider) StartTransaction(ctx context.Context, binding, productID, email string, limitHarga int) (*ports.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.startResult, nil
}

func (f *fakeProvider) CheckStatus(ctx context.Context, binding, trxID string) (*ports.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	idx := f.statusCalls
	f.statusCalls++
	if idx >= len(f.statusResults) {
		idx = len(f.statusResults) - 1
	}
	return f.statusResults[idx], nil
}

func (f *fakeProvider) SubmitOTP(ctx context.Context, binding, code string) (*ports.OtpResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.otpCalls++
	if f.otpResult != nil {
		return f.otpResult, nil
	}
	return &ports.OtpResult{OK: true}, nil
}

func (f *fakeProvider) calls() (start, status, otpN int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.statusCalls, f.otpCalls
}

func testConfig() domain.WorkerConfig {
	return domain.WorkerConfig{
		IntervalMs:        100,
		MaxRetryStatus:    2,
		CooldownOnErrorMs: 100,
		ProductID:         "650",
		Email:             "user@example.com",
		LimitHarga:        100000,
	}
}

func newTestEngine(p ports.Provider, store ports.TransactionStore, mailbox ports.OtpMailbox) *Engine {
	e := New(p, store, mailbox, 2*time.Second)
	e.StatusRetryDelay = 10 * time.Millisecond
	return e
}

func TestCycleHappyPath(t *testing.T) {
	provider := &fakeProvider{
		balance:     200000,
		startResult: &ports.StartResult{TrxID: "trx-1"},
		statusResults: []*ports.StatusResult{
			{IsSuccess: intPtr(2), VoucherCode: "VCHR-123"},
		},
	}
	store := memstore.New()
	eng := newTestEngine(provider, store, otp.NewMemMailbox())

	result, err := eng.Cycle(context.Background(), "b1", testConfig())
	require.NoError(t, err)
	assert.Equal(t, domain.TrxSukses, result.Status)
	assert.False(t, result.HardStop())

	trxs := store.All()
	require.Len(t, trxs, 1)
	trx := trxs[0]
	assert.Equal(t, "trx-1", trx.TrxID)
	assert.Equal(t, domain.TrxSukses, trx.Status)
	assert.Equal(t, "VCHR-123", trx.VoucherCode)
	require.NotNil(t, trx.BalanceStart)
	require.NotNil(t, trx.BalanceEnd)
	assert.LessOrEqual(t, *trx.BalanceEnd, *trx.BalanceStart)
}

func TestCycleInsufficientBalance(t *testing.T) {
	provider := &fakeProvider{balance: 50000}
	store := memstore.New()
	eng := newTestEngine(provider, store, otp.NewMemMailbox())

	result, err := eng.Cycle(context.Background(), "b1", testConfig())
	require.NoError(t, err)
	assert.True(t, result.HardStop())
	assert.Equal(t, StopInsufficientBalance, result.StopReason)
	assert.Equal(t, domain.TrxGagal, result.Status)

	start, status, _ := provider.calls()
	assert.Equal(t, 0, start, "no purchase call below the balance limit")
	assert.Equal(t, 0, status)

	trxs := store.All()
	require.Len(t, trxs, 1)
	trx := trxs[0]
	assert.True(t, strings.HasPrefix(trx.ErrorMessage, "insufficient_balance_before_start:"))
	require.NotNil(t, trx.BalanceStart)
	require.NotNil(t, trx.BalanceEnd)
	assert.Equal(t, *trx.BalanceStart, *trx.BalanceEnd)
}

func TestCycleSuspectWithoutVoucher(t *testing.T) {
	provider := &fakeProvider{
		balance:     200000,
		startResult: &ports.StartResult{TrxID: "trx-2"},
		statusResults: []*ports.StatusResult{
			{IsSuccess: intPtr(2)},
		},
	}
	store := memstore.New()
	eng := newTestEngine(provider, store, otp.NewMemMailbox())

	result, err := eng.Cycle(context.Background(), "b1", testConfig())
	require.NoError(t, err)
	assert.Equal(t, domain.TrxSuspect, result.Status)
	assert.False(t, result.HardStop(), "suspect is terminal for the cycle, not a hard stop")
}

func TestCycleOtpFlow(t *testing.T) {
	provider := &fakeProvider{
		balance:     200000,
		startResult: &ports.StartResult{TrxID: "trx-3", OtpRequired: true},
		statusResults: []*ports.StatusResult{
			{IsSuccess: intPtr(1)},
			{IsSuccess: intPtr(2), VoucherCode: "VCHR-9"},
		},
	}
	store := memstore.New()
	mailbox := otp.NewMemMailbox()
	eng := newTestEngine(provider, store, mailbox)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = mailbox.Offer(context.Background(), "b1", "123456")
	}()

	result, err := eng.Cycle(context.Background(), "b1", testConfig())
	require.NoError(t, err)
	assert.Equal(t, domain.TrxSukses, result.Status)

	_, _, otpCalls := provider.calls()
	assert.Equal(t, 1, otpCalls)

	trxs := store.All()
	require.Len(t, trxs, 1)
	assert.Equal(t, domain.OtpSuccess, trxs[0].OtpStatus)
}

func TestCycleOtpTimeout(t *testing.T) {
	provider := &fakeProvider{
		balance:     200000,
		startResult: &ports.StartResult{TrxID: "trx-4", OtpRequired: true},
		statusResults: []*ports.StatusResult{
			{IsSuccess: intPtr(1)},
		},
	}
	store := memstore.New()
	eng := newTestEngine(provider, store, otp.NewMemMailbox())
	eng.OtpTimeout = 50 * time.Millisecond

	result, err := eng.Cycle(context.Background(), "b1", testConfig())
	require.NoError(t, err)
	assert.Equal(t, domain.TrxGagal, result.Status)
	assert.False(t, result.HardStop(), "otp timeout does not stop the worker")

	trxs := store.All()
	require.Len(t, trxs, 1)
	assert.Equal(t, domain.OtpFailed, trxs[0].OtpStatus)
	assert.Equal(t, "otp_timeout", trxs[0].ErrorMessage)
}

func TestCycleStatusRetryLoop(t *testing.T) {
	provider := &fakeProvider{
		balance:     200000,
		startResult: &ports.StartResult{TrxID: "trx-5"},
		statusResults: []*ports.StatusResult{
			{IsSuccess: intPtr(1)},
			{IsSuccess: intPtr(1)},
			{IsSuccess: intPtr(2), VoucherCode: "VCHR-5"},
		},
	}
	store := memstore.New()
	eng := newTestEngine(provider, store, otp.NewMemMailbox())

	result, err := eng.Cycle(context.Background(), "b1", testConfig())
	require.NoError(t, err)
	assert.Equal(t, domain.TrxSukses, result.Status)

	_, statusCalls, _ := provider.calls()
	assert.Equal(t, 3, statusCalls, "initial poll plus two retries")
}

func TestCycleStatusStaysProcessing(t *testing.T) {
	provider := &fakeProvider{
		balance:     200000,
		startResult: &ports.StartResult{TrxID: "trx-6"},
		statusResults: []*ports.StatusResult{
			{IsSuccess: intPtr(1)},
		},
	}
	store := memstore.New()
	eng := newTestEngine(provider, store, otp.NewMemMailbox())

	result, err := eng.Cycle(context.Background(), "b1", testConfig())
	require.NoError(t, err)
	assert.Equal(t, domain.TrxProcessing, result.Status)

	_, statusCalls, _ := provider.calls()
	assert.Equal(t, 1+testConfig().MaxRetryStatus, statusCalls)
}

func TestCycleTransportFailureOnStart(t *testing.T) {
	provider := &fakeProvider{
		balance:  200000,
		startErr: errors.New("transport: connection refused"),
	}
	store := memstore.New()
	eng := newTestEngine(provider, store, otp.NewMemMailbox())

	_, err := eng.Cycle(context.Background(), "b1", testConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start transaction")
	assert.Empty(t, store.All(), "no record when the purchase never started")
}

func TestCycleTransportFailureOnPrecheck(t *testing.T) {
	provider := &fakeProvider{balanceErr: errors.New("transport: timeout")}
	eng := newTestEngine(provider, memstore.New(), otp.NewMemMailbox())

	_, err := eng.Cycle(context.Background(), "b1", testConfig())
	require.Error(t, err)
	start, _, _ := provider.calls()
	assert.Equal(t, 0, start)
}
