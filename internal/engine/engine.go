package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/otp"
	"github.com/hasanmaki/mkit-idv-next/internal/ports"
)

// StopInsufficientBalance is the hard-stop reason reported when the
// precheck fails. The worker turns it into WorkerState stopped.
const StopInsufficientBalance = "insufficient_balance_before_start"

const defaultStatusRetryDelay = 500 * time.Millisecond

// Engine runs one transaction cycle against the provider and writes
// the outcome through the persistence port. It never touches worker
// state; control decisions stay with the caller.
type Engine struct {
	Provider ports.Provider
	Store    ports.TransactionStore
	Mailbox  ports.OtpMailbox

	OtpTimeout       time.Duration
	StatusRetryDelay time.Duration
}

func New(provider ports.Provider, store ports.TransactionStore, mailbox ports.OtpMailbox, otpTimeout time.Duration) *Engine {
	return &Engine{
		Provider:         provider,
		Store:            store,
		Mailbox:          mailbox,
		OtpTimeout:       otpTimeout,
		StatusRetryDelay: defaultStatusRetryDelay,
	}
}

// Cycle executes precheck -> start -> status -> otp -> retry -> snapshot.
// A returned error means the cycle did not finish (transport exhaustion,
// cancellation); the caller applies cooldown. When the failure comes
// after the purchase call, the record already persisted for that trx
// is left as last written.
func (e *Engine) Cycle(ctx context.Context, bindingID string, cfg domain.WorkerConfig) (domain.CycleResult, error) {
	balanceStart, err := e.Provider.GetBalance(ctx, bindingID)
	if err != nil {
		return domain.CycleResult{}, fmt.Errorf("precheck balance: %w", err)
	}

	if balanceStart < cfg.LimitHarga {
		trx := e.syntheticInsufficient(bindingID, cfg, balanceStart)
		e.persist(ctx, trx)
		return domain.CycleResult{
			Status:     domain.TrxGagal,
			TrxID:      trx.TrxID,
			StopReason: StopInsufficientBalance,
		}, nil
	}

	start, err := e.Provider.StartTransaction(ctx, bindingID, cfg.ProductID, cfg.Email, cfg.LimitHarga)
	if err != nil {
		return domain.CycleResult{}, fmt.Errorf("start transaction: %w", err)
	}

	now := time.Now().UTC()
	trx := domain.Transaction{
		BindingID:    bindingID,
		TrxID:        start.TrxID,
		TID:          start.TID,
		ProductID:    cfg.ProductID,
		Email:        cfg.Email,
		LimitHarga:   cfg.LimitHarga,
		Status:       domain.TrxProcessing,
		IsSuccess:    start.IsSuccess,
		OtpRequired:  start.OtpRequired,
		BalanceStart: &balanceStart,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	e.persist(ctx, trx)

	status, err := e.Provider.CheckStatus(ctx, bindingID, trx.TrxID)
	if err != nil {
		// The purchase may have gone through; leave the PROCESSING
		// record for audit and surface the cycle error.
		return domain.CycleResult{TrxID: trx.TrxID}, fmt.Errorf("initial status: %w", err)
	}
	applyStatus(&trx, status, classifyStatus)

	if trx.Status == domain.TrxProcessing && (trx.OtpRequired || status.OtpRequired) {
		if err := e.handleOtp(ctx, bindingID, &trx); err != nil {
			return domain.CycleResult{TrxID: trx.TrxID}, err
		}
	}

	if err := e.retryStatus(ctx, bindingID, &trx, cfg.MaxRetryStatus); err != nil {
		return domain.CycleResult{TrxID: trx.TrxID}, err
	}

	if balanceEnd, err := e.Provider.GetBalance(ctx, bindingID); err == nil {
		trx.BalanceEnd = &balanceEnd
	} else {
		log.Warn().Err(err).Str("binding_id", bindingID).Msg("balance_end fetch failed")
	}
	trx.UpdatedAt = time.Now().UTC()
	e.persist(ctx, trx)

	return domain.CycleResult{Status: trx.Status, TrxID: trx.TrxID}, nil
}

// handleOtp publishes PENDING, blocks on the rendezvous, submits the
// OTP and re-polls. A rendezvous timeout fails the transaction but is
// not a cycle error.
func (e *Engine) handleOtp(ctx context.Context, bindingID string, trx *domain.Transaction) error {
	trx.OtpStatus = domain.OtpPending
	trx.UpdatedAt = time.Now().UTC()
	e.persist(ctx, *trx)

	code, err := e.Mailbox.Wait(ctx, bindingID, e.OtpTimeout)
	if err != nil {
		if errors.Is(err, otp.ErrTimeout) {
			trx.Status = domain.TrxGagal
			trx.OtpStatus = domain.OtpFailed
			trx.ErrorMessage = "otp_timeout"
			return nil
		}
		return fmt.Errorf("otp wait: %w", err)
	}

	res, err := e.Provider.SubmitOTP(ctx, bindingID, code)
	if err != nil {
		return fmt.Errorf("submit otp: %w", err)
	}

	status, err := e.Provider.CheckStatus(ctx, bindingID, trx.TrxID)
	if err != nil {
		return fmt.Errorf("status after otp: %w", err)
	}
	applyStatus(trx, status, classifyAfterOtp)

	if trx.Status == domain.TrxSukses || trx.Status == domain.TrxSuspect {
		trx.OtpStatus = domain.OtpSuccess
	} else {
		trx.OtpStatus = domain.OtpFailed
		if !res.OK && res.Message != "" {
			trx.ErrorMessage = res.Message
		}
	}
	return nil
}

// retryStatus re-polls a PROCESSING transaction up to maxRetry times
// with a small fixed delay.
func (e *Engine) retryStatus(ctx context.Context, bindingID string, trx *domain.Transaction, maxRetry int) error {
	for i := 0; i < maxRetry && trx.Status == domain.TrxProcessing; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.StatusRetryDelay):
		}
		status, err := e.Provider.CheckStatus(ctx, bindingID, trx.TrxID)
		if err != nil {
			return fmt.Errorf("status retry: %w", err)
		}
		applyStatus(trx, status, classifyStatus)
	}
	return nil
}

func (e *Engine) syntheticInsufficient(bindingID string, cfg domain.WorkerConfig, balance int) domain.Transaction {
	now := time.Now().UTC()
	return domain.Transaction{
		BindingID:    bindingID,
		TrxID:        "precheck-" + uuid.NewString(),
		ProductID:    cfg.ProductID,
		Email:        cfg.Email,
		LimitHarga:   cfg.LimitHarga,
		Status:       domain.TrxGagal,
		ErrorMessage: fmt.Sprintf("%s:%d<%d", StopInsufficientBalance, balance, cfg.LimitHarga),
		BalanceStart: &balance,
		BalanceEnd:   &balance,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// persist is best-effort: the provider stays authoritative and a later
// cycle re-snapshots.
func (e *Engine) persist(ctx context.Context, trx domain.Transaction) {
	if err := e.Store.UpsertTransaction(ctx, trx); err != nil {
		log.Error().Err(err).Str("binding_id", trx.BindingID).Str("trx_id", trx.TrxID).Msg("persist transaction failed")
		return
	}
	if err := e.Store.UpsertSnapshot(ctx, trx); err != nil {
		log.Error().Err(err).Str("binding_id", trx.BindingID).Str("trx_id", trx.TrxID).Msg("persist snapshot failed")
	}
}

func applyStatus(trx *domain.Transaction, status *ports.StatusResult, classify func(*int, string) domain.TransactionStatus) {
	trx.Status = classify(status.IsSuccess, status.VoucherCode)
	trx.IsSuccess = status.IsSuccess
	if status.VoucherCode != "" {
		trx.VoucherCode = status.VoucherCode
	}
	if status.OtpRequired {
		trx.OtpRequired = true
	}
	trx.UpdatedAt = time.Now().UTC()
}

// classifyStatus maps provider status fields mid-flight: is_success=2
// with voucher is settled, 2 without voucher is suspect, anything else
// keeps processing.
func classifyStatus(isSuccess *int, voucher string) domain.TransactionStatus {
	if isSuccess != nil && *isSuccess == 2 {
		if voucher != "" {
			return domain.TrxSukses
		}
		return domain.TrxSuspect
	}
	return domain.TrxProcessing
}

// classifyAfterOtp is stricter: after OTP submission a non-settled
// status is a failure, not processing.
func classifyAfterOtp(isSuccess *int, voucher string) domain.TransactionStatus {
	if isSuccess != nil && *isSuccess == 2 {
		if voucher != "" {
			return domain.TrxSukses
		}
		return domain.TrxSuspect
	}
	return domain.TrxGagal
}
