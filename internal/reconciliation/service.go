package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stay-revenue/internal/revenue"
	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

// RepositoryPort abstracts reconciliation persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListPending(ctx context.Context, limit int) ([]Transaction, error)
	ListUnpaid(ctx context.Context, limit int) ([]ReservationRef, error)
	GetTransactions(ctx context.Context, ids []int64) ([]Transaction, error)
	GetReservations(ctx context.Context, ids []int64) ([]ReservationRef, error)
	FindRecordByKey(ctx context.Context, key string) (Record, bool, error)
}

// TxRepository holds the row-locking operations of a commit.
type TxRepository interface {
	// ClaimKey claims an idempotency key for the commit. The claim is
	// released when the transaction rolls back.
	ClaimKey(ctx context.Context, key string) error
	LockTransactions(ctx context.Context, ids []int64) ([]Transaction, error)
	LockReservations(ctx context.Context, ids []int64) ([]ReservationRef, error)
	ReconciledAmong(ctx context.Context, reservationIDs []int64) ([]int64, error)
	LoadRevenues(ctx context.Context, reservationIDs []int64) (map[int64]revenue.Revenue, error)
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	LinkTransactions(ctx context.Context, recordID int64, ids []int64) error
	LinkReservations(ctx context.Context, recordID int64, ids []int64) error
	SetTransactionStatus(ctx context.Context, id int64, status TransactionStatus) error
	InsertTransaction(ctx context.Context, t Transaction) (bool, error)
}

// PayoutSource computes payouts from persisted revenue.
type PayoutSource interface {
	Payouts(ctx context.Context, reservationIDs []int64) (map[int64]revenue.Breakdown, error)
}

// AuditPort records operator actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Observer counts commit outcomes.
type Observer interface {
	ReconciliationCommitted(result string)
}

// IdempotencyModule scopes commit keys in idempotency_keys.
const IdempotencyModule = "reconciliation.commit"

var keyNamespace = uuid.MustParse("6f1c7a52-3c0e-4d7b-9a51-0d6f2b8f4e21")

// Service runs the matcher.
type Service struct {
	repo     RepositoryPort
	payouts  PayoutSource
	audit    AuditPort
	observer Observer
	opts     Options
	logger   *slog.Logger
}

// Deps groups Service collaborators. Audit and Observer are optional.
type Deps struct {
	Repo     RepositoryPort
	Payouts  PayoutSource
	Audit    AuditPort
	Observer Observer
	Options  Options
	Logger   *slog.Logger
}

// NewService constructs the reconciliation service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     deps.Repo,
		payouts:  deps.Payouts,
		audit:    deps.Audit,
		observer: deps.Observer,
		opts:     deps.Options,
		logger:   logger,
	}
}

const workingSetLimit = 500

// WorkingSet returns pending transactions and unreconciled payouts.
// Reservations without revenue have no payout and are left out.
func (s *Service) WorkingSet(ctx context.Context) (WorkingSet, error) {
	txs, err := s.repo.ListPending(ctx, workingSetLimit)
	if err != nil {
		return WorkingSet{}, err
	}
	refs, err := s.repo.ListUnpaid(ctx, workingSetLimit)
	if err != nil {
		return WorkingSet{}, err
	}
	payouts, err := s.attachPayouts(ctx, refs)
	if err != nil {
		return WorkingSet{}, err
	}
	return WorkingSet{Transactions: txs, Payouts: payouts}, nil
}

// Preview summarises a selection without changing anything.
func (s *Service) Preview(ctx context.Context, sel Selection) (Summary, error) {
	txIDs, resIDs := dedupe(sel.TransactionIDs), dedupe(sel.ReservationIDs)
	txs, err := s.repo.GetTransactions(ctx, txIDs)
	if err != nil {
		return Summary{}, err
	}
	if len(txs) != len(txIDs) {
		return Summary{}, ErrTransactionNotFound
	}
	refs, err := s.repo.GetReservations(ctx, resIDs)
	if err != nil {
		return Summary{}, err
	}
	if len(refs) != len(resIDs) {
		return Summary{}, ErrReservationNotFound
	}
	payouts, err := s.attachPayouts(ctx, refs)
	if err != nil {
		return Summary{}, err
	}
	if len(payouts) != len(refs) {
		return Summary{}, fmt.Errorf("%w: a selected reservation has no revenue", ErrReservationNotFound)
	}
	return Summarize(txs, payouts), nil
}

// Commit persists one record linking the selection and accepts every
// selected transaction, all in a single transaction. Rows are locked and
// re-checked before anything is written, so a failure leaves every row as it
// was, including the idempotency key claim. Retrying with the same key
// returns the original record.
func (s *Service) Commit(ctx context.Context, sel Selection) (Record, error) {
	if err := shared.ValidateStruct(sel); err != nil {
		return Record{}, err
	}
	txIDs, resIDs := dedupe(sel.TransactionIDs), dedupe(sel.ReservationIDs)
	key := sel.IdempotencyKey
	if key == "" {
		key = selectionKey(txIDs, resIDs)
	}

	var committed Record
	var summary Summary
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.ClaimKey(ctx, key); err != nil {
			return err
		}
		txs, err := tx.LockTransactions(ctx, txIDs)
		if err != nil {
			return err
		}
		if len(txs) != len(txIDs) {
			return ErrTransactionNotFound
		}
		for _, t := range txs {
			switch t.Status {
			case StatusPending:
			case StatusAccepted:
				return fmt.Errorf("transaction %d: %w", t.ID, ErrAlreadyReconciled)
			default:
				return fmt.Errorf("transaction %d is %s: %w", t.ID, t.Status, ErrInvalidTransition)
			}
		}

		refs, err := tx.LockReservations(ctx, resIDs)
		if err != nil {
			return err
		}
		if len(refs) != len(resIDs) {
			return ErrReservationNotFound
		}
		linked, err := tx.ReconciledAmong(ctx, resIDs)
		if err != nil {
			return err
		}
		if len(linked) > 0 {
			return fmt.Errorf("reservations %v: %w", linked, ErrAlreadyReconciled)
		}

		revs, err := tx.LoadRevenues(ctx, resIDs)
		if err != nil {
			return err
		}
		breakdowns, err := revenue.ComputeAll(revs)
		if err != nil {
			return err
		}
		payouts := make([]Payout, 0, len(refs))
		for _, ref := range refs {
			b, ok := breakdowns[ref.ID]
			if !ok {
				return fmt.Errorf("reservation %d has no revenue: %w", ref.ID, ErrReservationNotFound)
			}
			payouts = append(payouts, Payout{ReservationRef: ref, Amount: b.PayoutAmount})
		}

		summary = Summarize(txs, payouts)
		if !summary.CanReconcile {
			return fmt.Errorf("gap %s: %w", summary.Gap.StringFixed(2), ErrCannotReconcile)
		}

		rec, err := tx.InsertRecord(ctx, Record{
			PublicID:       uuid.New(),
			Amount:         summary.SumTransactions,
			IdempotencyKey: key,
			CreatedBy:      sel.Actor,
		})
		if err != nil {
			return err
		}
		if err := tx.LinkTransactions(ctx, rec.ID, txIDs); err != nil {
			return err
		}
		if err := tx.LinkReservations(ctx, rec.ID, resIDs); err != nil {
			return err
		}
		for _, id := range txIDs {
			if err := tx.SetTransactionStatus(ctx, id, StatusAccepted); err != nil {
				return err
			}
		}
		rec.TransactionIDs = txIDs
		rec.ReservationIDs = resIDs
		committed = rec
		return nil
	})
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		rec, ok, ferr := s.repo.FindRecordByKey(ctx, key)
		if ferr != nil {
			return Record{}, ferr
		}
		if ok {
			s.observe("replayed")
			return rec, nil
		}
		s.observe("conflict")
		return Record{}, fmt.Errorf("idempotency key %q: %w", key, ErrAlreadyReconciled)
	}
	if err != nil {
		s.observe("rejected")
		s.logger.Warn("reconciliation commit rejected",
			slog.Any("transaction_ids", txIDs),
			slog.Any("reservation_ids", resIDs),
			slog.Any("error", err),
		)
		return Record{}, err
	}

	s.observe("committed")
	s.recordAudit(ctx, sel.Actor, "RECONCILIATION_COMMIT", committed.PublicID.String(), map[string]any{
		"amount":          committed.Amount.StringFixed(2),
		"transaction_ids": committed.TransactionIDs,
		"reservation_ids": committed.ReservationIDs,
	})
	s.logger.Info("reconciliation committed",
		slog.String("record", committed.PublicID.String()),
		slog.String("amount", committed.Amount.StringFixed(2)),
		slog.Int("transactions", len(txIDs)),
		slog.Int("reservations", len(resIDs)),
	)
	return committed, nil
}

// Dismiss moves a pending transaction out of the working set.
func (s *Service) Dismiss(ctx context.Context, id int64, actor string) (Transaction, error) {
	return s.transition(ctx, id, StatusPending, StatusDismissed, actor, "TRANSACTION_DISMISS")
}

// Restore returns a dismissed transaction to the working set.
func (s *Service) Restore(ctx context.Context, id int64, actor string) (Transaction, error) {
	return s.transition(ctx, id, StatusDismissed, StatusPending, actor, "TRANSACTION_RESTORE")
}

func (s *Service) transition(ctx context.Context, id int64, from, to TransactionStatus, actor, action string) (Transaction, error) {
	var updated Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rows, err := tx.LockTransactions(ctx, []int64{id})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return ErrTransactionNotFound
		}
		if rows[0].Status != from {
			return fmt.Errorf("transaction %d is %s, want %s: %w", id, rows[0].Status, from, ErrInvalidTransition)
		}
		if err := tx.SetTransactionStatus(ctx, id, to); err != nil {
			return err
		}
		updated = rows[0]
		updated.Status = to
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, actor, action, strconv.FormatInt(id, 10), map[string]any{"from": string(from), "to": string(to)})
	return updated, nil
}

// ImportTransactions adds bank transactions to the pending pool. Rows already
// imported under the same external id are skipped.
func (s *Service) ImportTransactions(ctx context.Context, rows []ImportRow) (ImportResult, error) {
	parsed := make([]Transaction, 0, len(rows))
	for i, row := range rows {
		if err := shared.ValidateStruct(row); err != nil {
			return ImportResult{}, fmt.Errorf("row %d: %w", i, err)
		}
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			return ImportResult{}, fmt.Errorf("row %d: %w", i, shared.Invalid("date", "must be YYYY-MM-DD"))
		}
		parsed = append(parsed, Transaction{
			ExternalID:  strings.TrimSpace(row.ExternalID),
			Amount:      row.Amount.Round(2),
			Date:        date,
			Vendor:      strings.TrimSpace(row.Vendor),
			Description: strings.TrimSpace(row.Description),
			Status:      StatusPending,
		})
	}

	var result ImportResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = ImportResult{}
		for _, t := range parsed {
			inserted, err := tx.InsertTransaction(ctx, t)
			if err != nil {
				return err
			}
			if inserted {
				result.Inserted++
			} else {
				result.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	s.logger.Info("bank transactions imported", slog.Int("inserted", result.Inserted), slog.Int("skipped", result.Skipped))
	return result, nil
}

// Suggest proposes payout groups for pending transactions.
func (s *Service) Suggest(ctx context.Context) ([]Candidate, error) {
	ws, err := s.WorkingSet(ctx)
	if err != nil {
		return nil, err
	}
	return FindCandidates(ws.Transactions, ws.Payouts, s.opts), nil
}

func (s *Service) attachPayouts(ctx context.Context, refs []ReservationRef) ([]Payout, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	breakdowns, err := s.payouts.Payouts(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Payout, 0, len(refs))
	for _, ref := range refs {
		b, ok := breakdowns[ref.ID]
		if !ok {
			continue
		}
		out = append(out, Payout{ReservationRef: ref, Amount: b.PayoutAmount})
	}
	return out, nil
}

func (s *Service) recordAudit(ctx context.Context, actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "reconciliation", EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) observe(result string) {
	if s.observer != nil {
		s.observer.ReconciliationCommitted(result)
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// selectionKey derives a stable key for a selection so a retried commit of
// the same group is recognised without a client-supplied key.
func selectionKey(txIDs, resIDs []int64) string {
	var b strings.Builder
	b.WriteString("tx:")
	for _, id := range txIDs {
		b.WriteString(strconv.FormatInt(id, 10))
		b.WriteByte(',')
	}
	b.WriteString("res:")
	for _, id := range resIDs {
		b.WriteString(strconv.FormatInt(id, 10))
		b.WriteByte(',')
	}
	return uuid.NewSHA1(keyNamespace, []byte(b.String())).String()
}
