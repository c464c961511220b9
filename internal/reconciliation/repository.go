package reconciliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stay-revenue/internal/platform/db"
	"github.com/odyssey-erp/stay-revenue/internal/revenue"
	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

// Repository persists bank transactions and reconciliation records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const transactionColumns = `id, external_id, amount, txn_date, vendor, description, status, imported_at`

// unpaidClause selects reservations that can still be settled.
const unpaidClause = `r.status NOT IN ('CANCELLED', 'FAILED')
AND NOT EXISTS (SELECT 1 FROM reconciliation_reservations rr WHERE rr.reservation_id = r.id)`

// ListPending returns transactions awaiting a match, oldest first.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM plaid_transactions
WHERE status = 'PENDING' ORDER BY txn_date, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// ListUnpaid returns reservations with no reconciliation record.
func (r *Repository) ListUnpaid(ctx context.Context, limit int) ([]ReservationRef, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.id, r.listing_id, COALESCE(r.confirmation_code, ''), r.guest_name, r.check_in
FROM reservations r
JOIN revenues rv ON rv.reservation_id = r.id
WHERE `+unpaidClause+`
ORDER BY r.check_in, r.id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectRefs(rows)
}

// GetTransactions loads transactions by id without locking.
func (r *Repository) GetTransactions(ctx context.Context, ids []int64) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM plaid_transactions
WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// GetReservations loads unpaid reservations by id without locking.
func (r *Repository) GetReservations(ctx context.Context, ids []int64) ([]ReservationRef, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.id, r.listing_id, COALESCE(r.confirmation_code, ''), r.guest_name, r.check_in
FROM reservations r
WHERE r.id = ANY($1) AND `+unpaidClause+`
ORDER BY r.id`, ids)
	if err != nil {
		return nil, err
	}
	return collectRefs(rows)
}

// FindRecordByKey loads the record committed under an idempotency key.
func (r *Repository) FindRecordByKey(ctx context.Context, key string) (Record, bool, error) {
	var rec Record
	var amount pgtype.Numeric
	var createdBy pgtype.Text
	err := r.pool.QueryRow(ctx, `SELECT id, public_id, amount, idempotency_key, created_by, created_at
FROM reconciliation_records WHERE idempotency_key = $1`, key).
		Scan(&rec.ID, &rec.PublicID, &amount, &rec.IdempotencyKey, &createdBy, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec.Amount = db.Decimal(amount)
	rec.CreatedBy = createdBy.String

	if rec.TransactionIDs, err = collectIDs(ctx, r.pool,
		`SELECT transaction_id FROM reconciliation_transactions WHERE record_id = $1 ORDER BY transaction_id`, rec.ID); err != nil {
		return Record{}, false, err
	}
	if rec.ReservationIDs, err = collectIDs(ctx, r.pool,
		`SELECT reservation_id FROM reconciliation_reservations WHERE record_id = $1 ORDER BY reservation_id`, rec.ID); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// ClaimKey inserts the key into idempotency_keys inside the commit
// transaction, so a rollback releases it.
func (r *txRepo) ClaimKey(ctx context.Context, key string) error {
	return shared.NewIdempotencyStore(r.tx).CheckAndInsert(ctx, key, IdempotencyModule)
}

// LockTransactions locks the given transactions in id order.
func (r *txRepo) LockTransactions(ctx context.Context, ids []int64) ([]Transaction, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+transactionColumns+` FROM plaid_transactions
WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// LockReservations locks the given reservations in id order. Cancelled and
// failed reservations are not returned.
func (r *txRepo) LockReservations(ctx context.Context, ids []int64) ([]ReservationRef, error) {
	rows, err := r.tx.Query(ctx, `SELECT r.id, r.listing_id, COALESCE(r.confirmation_code, ''), r.guest_name, r.check_in
FROM reservations r
WHERE r.id = ANY($1) AND r.status NOT IN ('CANCELLED', 'FAILED')
ORDER BY r.id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	return collectRefs(rows)
}

// ReconciledAmong returns the ids already linked to a record.
func (r *txRepo) ReconciledAmong(ctx context.Context, reservationIDs []int64) ([]int64, error) {
	return collectIDs(ctx, r.tx, `SELECT reservation_id FROM reconciliation_reservations
WHERE reservation_id = ANY($1) ORDER BY reservation_id`, reservationIDs)
}

// LoadRevenues reads revenue rows within the commit transaction.
func (r *txRepo) LoadRevenues(ctx context.Context, reservationIDs []int64) (map[int64]revenue.Revenue, error) {
	return revenue.Load(ctx, r.tx, reservationIDs)
}

// InsertRecord stores the record header.
func (r *txRepo) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO reconciliation_records (public_id, amount, idempotency_key, created_by, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NOW()) RETURNING id, created_at`,
		rec.PublicID, db.Numeric(rec.Amount), rec.IdempotencyKey, rec.CreatedBy).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Record{}, ErrAlreadyReconciled
		}
		return Record{}, err
	}
	return rec, nil
}

// LinkTransactions attaches transactions to a record.
func (r *txRepo) LinkTransactions(ctx context.Context, recordID int64, ids []int64) error {
	for _, id := range ids {
		if _, err := r.tx.Exec(ctx, `INSERT INTO reconciliation_transactions (record_id, transaction_id) VALUES ($1, $2)`, recordID, id); err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("transaction %d: %w", id, ErrAlreadyReconciled)
			}
			return err
		}
	}
	return nil
}

// LinkReservations attaches reservations to a record. A reservation belongs
// to at most one record.
func (r *txRepo) LinkReservations(ctx context.Context, recordID int64, ids []int64) error {
	for _, id := range ids {
		if _, err := r.tx.Exec(ctx, `INSERT INTO reconciliation_reservations (record_id, reservation_id) VALUES ($1, $2)`, recordID, id); err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("reservation %d: %w", id, ErrAlreadyReconciled)
			}
			return err
		}
	}
	return nil
}

// SetTransactionStatus updates one transaction.
func (r *txRepo) SetTransactionStatus(ctx context.Context, id int64, status TransactionStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE plaid_transactions SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// InsertTransaction imports a transaction; false means the external id was
// already present.
func (r *txRepo) InsertTransaction(ctx context.Context, t Transaction) (bool, error) {
	tag, err := r.tx.Exec(ctx, `INSERT INTO plaid_transactions (external_id, amount, txn_date, vendor, description, status, imported_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NOW())
ON CONFLICT (external_id) DO NOTHING`,
		t.ExternalID, db.Numeric(t.Amount), t.Date, t.Vendor, t.Description, string(t.Status))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var t Transaction
		var amount pgtype.Numeric
		var description pgtype.Text
		var status string
		if err := rows.Scan(&t.ID, &t.ExternalID, &amount, &t.Date, &t.Vendor, &description, &status, &t.ImportedAt); err != nil {
			return nil, err
		}
		t.Amount = db.Decimal(amount)
		t.Description = description.String
		t.Status = TransactionStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func collectRefs(rows pgx.Rows) ([]ReservationRef, error) {
	defer rows.Close()
	var out []ReservationRef
	for rows.Next() {
		var ref ReservationRef
		if err := rows.Scan(&ref.ID, &ref.ListingID, &ref.ConfirmationCode, &ref.GuestName, &ref.CheckIn); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func collectIDs(ctx context.Context, q db.Querier, sql string, arg any) ([]int64, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
