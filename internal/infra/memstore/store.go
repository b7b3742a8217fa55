package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/ports"
)

var _ ports.TransactionStore = (*Store)(nil)

type key struct {
	bindingID string
	trxID     string
}

// Store keeps the audit trail in memory, keyed by (binding_id, trx_id)
// like the Postgres store. Used in tests.
type Store struct {
	mu   sync.Mutex
	trxs map[key]domain.Transaction
}

func New() *Store {
	return &Store{trxs: make(map[key]domain.Transaction)}
}

func (s *Store) UpsertTransaction(ctx context.Context, trx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{trx.BindingID, trx.TrxID}
	if existing, ok := s.trxs[k]; ok {
		trx.BalanceStart = coalesce(trx.BalanceStart, existing.BalanceStart)
		trx.BalanceEnd = coalesce(trx.BalanceEnd, existing.BalanceEnd)
		trx.CreatedAt = existing.CreatedAt
	}
	s.trxs[k] = trx
	return nil
}

func (s *Store) UpsertSnapshot(ctx context.Context, trx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{trx.BindingID, trx.TrxID}
	existing, ok := s.trxs[k]
	if !ok {
		s.trxs[k] = trx
		return nil
	}
	existing.BalanceStart = coalesce(trx.BalanceStart, existing.BalanceStart)
	existing.BalanceEnd = coalesce(trx.BalanceEnd, existing.BalanceEnd)
	existing.UpdatedAt = trx.UpdatedAt
	s.trxs[k] = existing
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, filter ports.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, trx := range s.trxs {
		if filter.BindingID != "" && trx.BindingID != filter.BindingID {
			continue
		}
		if filter.Status != "" && trx.Status != filter.Status {
			continue
		}
		out = append(out, trx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else if filter.Offset >= len(out) {
		return nil, nil
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// All returns every stored transaction, for assertions in tests.
func (s *Store) All() []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transaction, 0, len(s.trxs))
	for _, trx := range s.trxs {
		out = append(out, trx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func coalesce(a, b *int) *int {
	if a != nil {
		return a
	}
	return b
}
