package ports

import (
	"context"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

// TransactionFilter narrows the audit list query.
type TransactionFilter struct {
	BindingID string
	Status    domain.TransactionStatus
	Limit     int
	Offset    int
}

// TransactionStore is the outbound persistence port. Both writes must
// be idempotent on (binding_id, trx_id); the core treats the store as
// an audit trail only.
type TransactionStore interface {
	UpsertTransaction(ctx context.Context, trx domain.Transaction) error
	UpsertSnapshot(ctx context.Context, trx domain.Transaction) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error)
}
