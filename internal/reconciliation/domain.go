// Package reconciliation links bank deposits to the reservation payouts they
// settle.
package reconciliation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
)

// TransactionStatus is the lifecycle of an imported bank transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusAccepted  TransactionStatus = "ACCEPTED"
	StatusDismissed TransactionStatus = "DISMISSED"
)

var (
	// ErrCannotReconcile is returned when the selected sums differ or a pool is empty.
	ErrCannotReconcile = fmt.Errorf("reconciliation: selection does not balance: %w", httpx.ErrValidation)
	// ErrAlreadyReconciled is returned when a selected row is already linked to a record.
	ErrAlreadyReconciled = fmt.Errorf("reconciliation: already reconciled: %w", httpx.ErrConflict)
	// ErrInvalidTransition is returned when a transaction is not in the expected status.
	ErrInvalidTransition = fmt.Errorf("reconciliation: invalid status transition: %w", httpx.ErrConflict)
	// ErrTransactionNotFound is returned for unknown transaction ids.
	ErrTransactionNotFound = fmt.Errorf("reconciliation: transaction: %w", httpx.ErrNotFound)
	// ErrReservationNotFound is returned for unknown or unpayable reservation ids.
	ErrReservationNotFound = fmt.Errorf("reconciliation: reservation: %w", httpx.ErrNotFound)
)

// Transaction is a bank ledger entry imported from the banking feed.
type Transaction struct {
	ID          int64             `json:"id"`
	ExternalID  string            `json:"externalId"`
	Amount      decimal.Decimal   `json:"amount"`
	Date        time.Time         `json:"date"`
	Vendor      string            `json:"vendor"`
	Description string            `json:"description,omitempty"`
	Status      TransactionStatus `json:"status"`
	ImportedAt  time.Time         `json:"importedAt"`
}

// ReservationRef is the reservation data shown next to a payout.
type ReservationRef struct {
	ID               int64     `json:"reservationId"`
	ListingID        int64     `json:"listingId"`
	ConfirmationCode string    `json:"confirmationCode,omitempty"`
	GuestName        string    `json:"guestName"`
	CheckIn          time.Time `json:"checkIn"`
}

// Payout is an unreconciled reservation with its expected deposit.
type Payout struct {
	ReservationRef
	Amount decimal.Decimal `json:"payoutAmount"`
}

// Selection is an operator's proposed match.
type Selection struct {
	TransactionIDs []int64 `json:"transactionIds" validate:"required,min=1,dive,gt=0"`
	ReservationIDs []int64 `json:"reservationIds" validate:"required,min=1,dive,gt=0"`
	IdempotencyKey string  `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
	Actor          string  `json:"-"`
}

// Summary is the running state of a selection.
type Summary struct {
	SumTransactions  decimal.Decimal `json:"sumTransactions"`
	SumReservations  decimal.Decimal `json:"sumReservations"`
	Gap              decimal.Decimal `json:"gapToReconcile"`
	CanReconcile     bool            `json:"canReconcile"`
	TransactionCount int             `json:"transactionCount"`
	ReservationCount int             `json:"reservationCount"`
}

// Record links a committed group of transactions to reservation payouts.
type Record struct {
	ID             int64           `json:"id"`
	PublicID       uuid.UUID       `json:"publicId"`
	Amount         decimal.Decimal `json:"amount"`
	TransactionIDs []int64         `json:"transactionIds"`
	ReservationIDs []int64         `json:"reservationIds"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	CreatedBy      string          `json:"createdBy,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// WorkingSet holds both unreconciled pools.
type WorkingSet struct {
	Transactions []Transaction `json:"transactions"`
	Payouts      []Payout      `json:"payouts"`
}

// ImportRow is one bank transaction from the banking feed.
type ImportRow struct {
	ExternalID  string          `json:"externalId" validate:"required,max=128"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date" validate:"required,datetime=2006-01-02"`
	Vendor      string          `json:"vendor" validate:"max=256"`
	Description string          `json:"description" validate:"max=1024"`
}

// ImportResult counts an import batch.
type ImportResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}
