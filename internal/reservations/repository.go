package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stay-revenue/internal/channels"
	"github.com/odyssey-erp/stay-revenue/internal/platform/db"
)

// TxRepository exposes the operations an ingestion event performs inside one
// transaction.
type TxRepository interface {
	Finder
	LockKey(ctx context.Context, key Key) error
	Insert(ctx context.Context, res Reservation) (Reservation, error)
	Update(ctx context.Context, res Reservation) (Reservation, error)
	SetExternalID(ctx context.Context, id int64, externalID string) error
	SetStatus(ctx context.Context, id int64, status Status) error
	InsertCalendarEvent(ctx context.Context, ev CalendarEvent) (CalendarEvent, error)
	UpdateCalendarEvent(ctx context.Context, reservationID int64, start, end time.Time) error
	InsertAvailabilityRelease(ctx context.Context, rel AvailabilityRelease) (AvailabilityRelease, error)
}

// ListFilter narrows List.
type ListFilter struct {
	ListingID int64
	Status    Status
	Limit     int
}

// Repository persists reservations in PostgreSQL.
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

var _ TxRepository = (*txRepo)(nil)

// lockingTxOptions runs ingestion at READ COMMITTED. Each statement takes a
// fresh snapshot, so reads issued after LockKey returns see whatever the
// previous lock holder committed.
var lockingTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, lockingTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const reservationColumns = `id, listing_id, channel, bp_reservation_id, confirmation_code, status,
	check_in, check_out, adults, children, guest_name, email, phone, channel_payload, created_at, updated_at`

// Get loads a reservation by id.
func (r *Repository) Get(ctx context.Context, id int64) (Reservation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	res, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	return res, err
}

// List returns reservations newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Reservation, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
WHERE ($1 = 0 OR listing_id = $1) AND ($2 = '' OR status = $2)
ORDER BY check_in DESC, id DESC LIMIT $3`, filter.ListingID, string(filter.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// LockKey serialises events for the same external id or confirmation code
// until the transaction ends. Locks are taken in LockNames order.
func (r *txRepo) LockKey(ctx context.Context, key Key) error {
	for _, name := range key.LockNames() {
		if _, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, name); err != nil {
			return fmt.Errorf("reservations: lock %s: %w", name, err)
		}
	}
	return nil
}

func (r *txRepo) FindByExternalID(ctx context.Context, channel channels.Channel, externalID string) (Reservation, bool, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations
WHERE channel = $1 AND bp_reservation_id = $2 FOR UPDATE`, string(channel), externalID)
	return found(scanReservation(row))
}

func (r *txRepo) FindByConfirmationCode(ctx context.Context, channel channels.Channel, code string) (Reservation, bool, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations
WHERE channel = $1 AND confirmation_code = $2 ORDER BY id LIMIT 1 FOR UPDATE`, string(channel), code)
	return found(scanReservation(row))
}

// Insert adds a reservation. A concurrent insert holding the same
// (channel, bp_reservation_id) yields ErrDuplicate.
func (r *txRepo) Insert(ctx context.Context, res Reservation) (Reservation, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO reservations (listing_id, channel, bp_reservation_id, confirmation_code, status,
	check_in, check_out, adults, children, guest_name, email, phone, channel_payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
ON CONFLICT (channel, bp_reservation_id) DO NOTHING
RETURNING id, created_at, updated_at`,
		res.ListingID, string(res.Channel), nullText(res.ExternalID), nullText(res.ConfirmationCode), string(res.Status),
		res.CheckIn, res.CheckOut, res.Adults, res.Children, res.GuestName, res.Email, res.Phone, []byte(res.Payload),
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) || db.IsUniqueViolation(err) {
		return Reservation{}, ErrDuplicate
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("reservations: insert: %w", err)
	}
	return res, nil
}

// Update overwrites the mutable fields. Last writer wins.
func (r *txRepo) Update(ctx context.Context, res Reservation) (Reservation, error) {
	err := r.tx.QueryRow(ctx, `UPDATE reservations SET listing_id = $2, confirmation_code = $3, status = $4,
	check_in = $5, check_out = $6, adults = $7, children = $8, guest_name = $9, email = $10, phone = $11,
	channel_payload = $12, updated_at = NOW()
WHERE id = $1 RETURNING updated_at`,
		res.ID, res.ListingID, nullText(res.ConfirmationCode), string(res.Status),
		res.CheckIn, res.CheckOut, res.Adults, res.Children, res.GuestName, res.Email, res.Phone, []byte(res.Payload),
	).Scan(&res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("reservations: update %d: %w", res.ID, err)
	}
	return res, nil
}

func (r *txRepo) SetExternalID(ctx context.Context, id int64, externalID string) error {
	_, err := r.tx.Exec(ctx, `UPDATE reservations SET bp_reservation_id = $2, updated_at = NOW() WHERE id = $1`, id, externalID)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *txRepo) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE reservations SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepo) InsertCalendarEvent(ctx context.Context, ev CalendarEvent) (CalendarEvent, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO calendar_events (reservation_id, listing_id, start_date, end_date)
VALUES ($1, $2, $3, $4) RETURNING id`, ev.ReservationID, ev.ListingID, ev.StartDate, ev.EndDate).Scan(&ev.ID)
	if err != nil {
		return CalendarEvent{}, fmt.Errorf("reservations: calendar event: %w", err)
	}
	return ev, nil
}

func (r *txRepo) UpdateCalendarEvent(ctx context.Context, reservationID int64, start, end time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE calendar_events SET start_date = $2, end_date = $3 WHERE reservation_id = $1`, reservationID, start, end)
	return err
}

func (r *txRepo) InsertAvailabilityRelease(ctx context.Context, rel AvailabilityRelease) (AvailabilityRelease, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO availability_releases (reservation_id, listing_id, start_date, end_date, reason, created_at)
VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING id, created_at`,
		rel.ReservationID, rel.ListingID, rel.StartDate, rel.EndDate, rel.Reason).Scan(&rel.ID, &rel.CreatedAt)
	if err != nil {
		return AvailabilityRelease{}, fmt.Errorf("reservations: availability release: %w", err)
	}
	return rel, nil
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var (
		res             Reservation
		channel, status string
		external, code  pgtype.Text
		payload         []byte
	)
	err := row.Scan(&res.ID, &res.ListingID, &channel, &external, &code, &status,
		&res.CheckIn, &res.CheckOut, &res.Adults, &res.Children, &res.GuestName, &res.Email, &res.Phone,
		&payload, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return Reservation{}, err
	}
	res.Channel = channels.Channel(channel)
	res.Status = Status(status)
	res.ExternalID = external.String
	res.ConfirmationCode = code.String
	res.Payload = payload
	return res, nil
}

func found(res Reservation, err error) (Reservation, bool, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, false, nil
	}
	if err != nil {
		return Reservation{}, false, err
	}
	return res, true, nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
