package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/ports"
)

var _ ports.TransactionStore = (*Store)(nil)

// Store persists the transaction audit trail in Postgres. Upserts are
// idempotent on (binding_id, trx_id); a later cycle simply re-writes.
type Store struct {
	pool *pgxpool.Pool
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the audit tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS transactions (
			binding_id    TEXT NOT NULL,
			trx_id        TEXT NOT NULL,
			t_id          TEXT,
			product_id    TEXT NOT NULL,
			email         TEXT NOT NULL DEFAULT '',
			limit_harga   BIGINT NOT NULL,
			status        TEXT NOT NULL,
			is_success    INT,
			voucher_code  TEXT,
			error_message TEXT,
			otp_required  BOOLEAN NOT NULL DEFAULT FALSE,
			otp_status    TEXT,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (binding_id, trx_id)
		);
		CREATE TABLE IF NOT EXISTS transaction_snapshots (
			binding_id    TEXT NOT NULL,
			trx_id        TEXT NOT NULL,
			balance_start BIGINT,
			balance_end   BIGINT,
			updated_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (binding_id, trx_id)
		);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) UpsertTransaction(ctx context.Context, trx domain.Transaction) error {
	query := `
		INSERT INTO transactions (binding_id, trx_id, t_id, product_id, email, limit_harga,
			status, is_success, voucher_code, error_message, otp_required, otp_status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (binding_id, trx_id) DO UPDATE SET
			status = EXCLUDED.status,
			is_success = EXCLUDED.is_success,
			voucher_code = EXCLUDED.voucher_code,
			error_message = EXCLUDED.error_message,
			otp_required = EXCLUDED.otp_required,
			otp_status = EXCLUDED.otp_status,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, query,
		trx.BindingID,
		trx.TrxID,
		nullString(trx.TID),
		trx.ProductID,
		trx.Email,
		trx.LimitHarga,
		string(trx.Status),
		trx.IsSuccess,
		nullString(trx.VoucherCode),
		nullString(trx.ErrorMessage),
		trx.OtpRequired,
		nullString(string(trx.OtpStatus)),
		trx.CreatedAt,
		trx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert transaction: %w", err)
	}
	return nil
}

func (s *Store) UpsertSnapshot(ctx context.Context, trx domain.Transaction) error {
	query := `
		INSERT INTO transaction_snapshots (binding_id, trx_id, balance_start, balance_end, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (binding_id, trx_id) DO UPDATE SET
			balance_start = COALESCE(EXCLUDED.balance_start, transaction_snapshots.balance_start),
			balance_end = COALESCE(EXCLUDED.balance_end, transaction_snapshots.balance_end),
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, query,
		trx.BindingID,
		trx.TrxID,
		trx.BalanceStart,
		trx.BalanceEnd,
		trx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, filter ports.TransactionFilter) ([]domain.Transaction, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	query := `
		SELECT t.binding_id, t.trx_id, t.t_id, t.product_id, t.email, t.limit_harga,
		       t.status, t.is_success, t.voucher_code, t.error_message, t.otp_required,
		       t.otp_status, s.balance_start, s.balance_end, t.created_at, t.updated_at
		FROM transactions t
		LEFT JOIN transaction_snapshots s
		  ON s.binding_id = t.binding_id AND s.trx_id = t.trx_id
		WHERE ($1::text IS NULL OR t.binding_id = $1)
		  AND ($2::text IS NULL OR t.status = $2)
		ORDER BY t.created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.pool.Query(ctx, query,
		nullString(filter.BindingID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		trx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *trx)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		trx       domain.Transaction
		tID       *string
		voucher   *string
		errMsg    *string
		otpStatus *string
	)
	err := row.Scan(
		&trx.BindingID,
		&trx.TrxID,
		&tID,
		&trx.ProductID,
		&trx.Email,
		&trx.LimitHarga,
		&trx.Status,
		&trx.IsSuccess,
		&voucher,
		&errMsg,
		&trx.OtpRequired,
		&otpStatus,
		&trx.BalanceStart,
		&trx.BalanceEnd,
		&trx.CreatedAt,
		&trx.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	if tID != nil {
		trx.TID = *tID
	}
	if voucher != nil {
		trx.VoucherCode = *voucher
	}
	if errMsg != nil {
		trx.ErrorMessage = *errMsg
	}
	if otpStatus != nil {
		trx.OtpStatus = domain.OtpStatus(*otpStatus)
	}
	return &trx, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
