package shared

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/stay-revenue/internal/platform/db"
)

// ErrIdempotencyConflict reports a key that was already claimed.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore claims request keys per module in idempotency_keys.
type IdempotencyStore struct {
	q   db.Querier
	now func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(q db.Querier) *IdempotencyStore {
	return &IdempotencyStore{q: q, now: time.Now}
}

// CheckAndInsert claims key for module, returning ErrIdempotencyConflict when
// it is already held.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil || s.q == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" || module == "" {
		return Invalid("idempotency_key", "key and module are required")
	}
	_, err := s.q.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, s.now())
	if db.IsUniqueViolation(err) {
		return ErrIdempotencyConflict
	}
	return err
}

// Cleanup drops keys older than retention and returns how many were removed.
func (s *IdempotencyStore) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if s == nil || s.q == nil {
		return 0, nil
	}
	tag, err := s.q.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
