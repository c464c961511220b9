package revenue

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stay-revenue/internal/platform/db"
	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
)

// ErrNotFound indicates the reservation has no revenue yet.
var ErrNotFound = fmt.Errorf("revenue: %w", httpx.ErrNotFound)

// Repository persists revenue rows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Replace(ctx context.Context, rev Revenue) (Revenue, error)
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

// Get loads the revenue of one reservation.
func (r *Repository) Get(ctx context.Context, reservationID int64) (Revenue, error) {
	revs, err := Load(ctx, r.pool, []int64{reservationID})
	if err != nil {
		return Revenue{}, err
	}
	rev, ok := revs[reservationID]
	if !ok {
		return Revenue{}, ErrNotFound
	}
	return rev, nil
}

// ListByReservationIDs loads revenues keyed by reservation id. Reservations
// without revenue are absent from the map.
func (r *Repository) ListByReservationIDs(ctx context.Context, ids []int64) (map[int64]Revenue, error) {
	return Load(ctx, r.pool, ids)
}

// Replace overwrites the revenue of a reservation with rev, fees included.
func (r *txRepo) Replace(ctx context.Context, rev Revenue) (Revenue, error) {
	if rev.ReservationID == 0 {
		return Revenue{}, errors.New("revenue: reservation id required")
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO revenues (reservation_id, accommodation_revenue, pmc_share, channel_commission, discount, currency, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (reservation_id) DO UPDATE SET
	accommodation_revenue = EXCLUDED.accommodation_revenue,
	pmc_share = EXCLUDED.pmc_share,
	channel_commission = EXCLUDED.channel_commission,
	discount = EXCLUDED.discount,
	currency = EXCLUDED.currency,
	updated_at = NOW()
RETURNING id, updated_at`,
		rev.ReservationID,
		db.Numeric(rev.AccommodationRevenue),
		db.Numeric(rev.PmcShare),
		db.NullNumeric(rev.ChannelCommission),
		db.NullNumeric(rev.Discount),
		rev.Currency,
	).Scan(&rev.ID, &rev.UpdatedAt)
	if err != nil {
		return Revenue{}, fmt.Errorf("revenue: upsert: %w", err)
	}

	// Deductions cascade with their fee.
	if _, err := r.tx.Exec(ctx, `DELETE FROM revenue_fees WHERE revenue_id = $1`, rev.ID); err != nil {
		return Revenue{}, fmt.Errorf("revenue: clear fees: %w", err)
	}

	fees := make([]RevenueFee, len(rev.Fees))
	for i, fee := range rev.Fees {
		err := r.tx.QueryRow(ctx, `INSERT INTO revenue_fees (revenue_id, position, name, value, unit, taxable, pmc_share, fee_type)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			rev.ID, i, fee.Name, db.Numeric(fee.Value), string(fee.Unit), fee.Taxable, db.NullNumeric(fee.PmcShare), string(fee.Type),
		).Scan(&fee.ID)
		if err != nil {
			return Revenue{}, fmt.Errorf("revenue: insert fee %q: %w", fee.Name, err)
		}
		deductions := make([]Deduction, len(fee.Deductions))
		for j, ded := range fee.Deductions {
			err := r.tx.QueryRow(ctx, `INSERT INTO revenue_deductions (revenue_fee_id, deduction_type, description, value)
VALUES ($1, $2, $3, $4) RETURNING id`,
				fee.ID, string(ded.Type), ded.Description, db.Numeric(ded.Value),
			).Scan(&ded.ID)
			if err != nil {
				return Revenue{}, fmt.Errorf("revenue: insert deduction %q: %w", ded.Description, err)
			}
			deductions[j] = ded
		}
		fee.Deductions = deductions
		fees[i] = fee
	}
	rev.Fees = fees
	return rev, nil
}

// Load reads revenues for the given reservations through q, which may be a
// pool or an open transaction.
func Load(ctx context.Context, q db.Querier, reservationIDs []int64) (map[int64]Revenue, error) {
	out := make(map[int64]Revenue, len(reservationIDs))
	if len(reservationIDs) == 0 {
		return out, nil
	}

	rows, err := q.Query(ctx, `SELECT id, reservation_id, accommodation_revenue, pmc_share, channel_commission, discount, currency, updated_at
FROM revenues WHERE reservation_id = ANY($1)`, reservationIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]int64)
	for rows.Next() {
		var rev Revenue
		var accommodation, share, commission, discount pgtype.Numeric
		if err := rows.Scan(&rev.ID, &rev.ReservationID, &accommodation, &share, &commission, &discount, &rev.Currency, &rev.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		rev.AccommodationRevenue = db.Decimal(accommodation)
		rev.PmcShare = db.Decimal(share)
		rev.ChannelCommission = db.NullDecimal(commission)
		rev.Discount = db.NullDecimal(discount)
		out[rev.ReservationID] = rev
		byID[rev.ID] = rev.ReservationID
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(byID) == 0 {
		return out, nil
	}

	revenueIDs := make([]int64, 0, len(byID))
	for id := range byID {
		revenueIDs = append(revenueIDs, id)
	}

	feeRows, err := q.Query(ctx, `SELECT id, revenue_id, name, value, unit, taxable, pmc_share, fee_type
FROM revenue_fees WHERE revenue_id = ANY($1) ORDER BY revenue_id, position`, revenueIDs)
	if err != nil {
		return nil, err
	}
	type feeRef struct {
		reservationID int64
		index         int
	}
	feeIndex := make(map[int64]feeRef)
	for feeRows.Next() {
		var fee RevenueFee
		var revenueID int64
		var value, share pgtype.Numeric
		var unit, kind string
		if err := feeRows.Scan(&fee.ID, &revenueID, &fee.Name, &value, &unit, &fee.Taxable, &share, &kind); err != nil {
			feeRows.Close()
			return nil, err
		}
		fee.Value = db.Decimal(value)
		fee.PmcShare = db.NullDecimal(share)
		fee.Unit = FeeUnit(unit)
		fee.Type = FeeType(kind)
		reservationID := byID[revenueID]
		rev := out[reservationID]
		feeIndex[fee.ID] = feeRef{reservationID: reservationID, index: len(rev.Fees)}
		rev.Fees = append(rev.Fees, fee)
		out[reservationID] = rev
	}
	feeRows.Close()
	if err := feeRows.Err(); err != nil {
		return nil, err
	}
	if len(feeIndex) == 0 {
		return out, nil
	}

	feeIDs := make([]int64, 0, len(feeIndex))
	for id := range feeIndex {
		feeIDs = append(feeIDs, id)
	}
	dedRows, err := q.Query(ctx, `SELECT id, revenue_fee_id, deduction_type, description, value
FROM revenue_deductions WHERE revenue_fee_id = ANY($1) ORDER BY id`, feeIDs)
	if err != nil {
		return nil, err
	}
	defer dedRows.Close()
	for dedRows.Next() {
		var ded Deduction
		var feeID int64
		var kind string
		var value pgtype.Numeric
		if err := dedRows.Scan(&ded.ID, &feeID, &kind, &ded.Description, &value); err != nil {
			return nil, err
		}
		ded.Type = DeductionType(kind)
		ded.Value = db.Decimal(value)
		ref := feeIndex[feeID]
		rev := out[ref.reservationID]
		rev.Fees[ref.index].Deductions = append(rev.Fees[ref.index].Deductions, ded)
	}
	return out, dedRows.Err()
}
