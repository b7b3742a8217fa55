package domain

import "time"

type TransactionStatus string

const (
	TrxProcessing TransactionStatus = "PROCESSING"
	TrxPaused     TransactionStatus = "PAUSED"
	TrxResumed    TransactionStatus = "RESUMED"
	TrxSukses     TransactionStatus = "SUKSES"
	TrxSuspect    TransactionStatus = "SUSPECT"
	TrxGagal      TransactionStatus = "GAGAL"
)

type OtpStatus string

const (
	OtpPending OtpStatus = "PENDING"
	OtpSuccess OtpStatus = "SUCCESS"
	OtpFailed  OtpStatus = "FAILED"
)

// Transaction is the audit record written through the persistence
// port. The orchestration core never reads it back to decide future
// behavior; the provider stays authoritative.
type Transaction struct {
	BindingID    string            `json:"binding_id"`
	TrxID        string            `json:"trx_id"`
	TID          string            `json:"t_id,omitempty"`
	ProductID    string            `json:"product_id"`
	Email        string            `json:"email"`
	LimitHarga   int               `json:"limit_harga"`
	Status       TransactionStatus `json:"status"`
	IsSuccess    *int              `json:"is_success,omitempty"`
	VoucherCode  string            `json:"voucher_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	OtpRequired  bool              `json:"otp_required"`
	OtpStatus    OtpStatus         `json:"otp_status,omitempty"`
	BalanceStart *int              `json:"balance_start,omitempty"`
	BalanceEnd   *int              `json:"balance_end,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// CycleResult is what the engine reports back to the worker after one
// cycle. StopReason is non-empty only for hard-stop conditions.
type CycleResult struct {
	Status     TransactionStatus
	TrxID      string
	StopReason string
}

func (r CycleResult) HardStop() bool { return r.StopReason != "" }
