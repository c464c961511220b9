package revenue

import (
	"context"
	"fmt"
	"log/slog"
)

// RepositoryPort abstracts revenue persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, reservationID int64) (Revenue, error)
	ListByReservationIDs(ctx context.Context, ids []int64) (map[int64]Revenue, error)
}

// Service validates, completes and persists revenue records.
type Service struct {
	repo      RepositoryPort
	processor ProcessorFee
	logger    *slog.Logger
}

// NewService constructs the revenue service.
func NewService(repo RepositoryPort, processor ProcessorFee, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, processor: processor, logger: logger}
}

// Recompute replaces the reservation's revenue with rev. The record is
// validated and run through the engine before anything is written, so a
// revenue that cannot be computed is never stored.
func (s *Service) Recompute(ctx context.Context, reservationID int64, rev Revenue) (Revenue, error) {
	rev.ReservationID = reservationID
	if err := rev.Validate(); err != nil {
		return Revenue{}, err
	}
	rev, applied := ApplyProcessorFee(rev, s.processor)
	if _, err := Compute(rev); err != nil {
		return Revenue{}, err
	}

	var saved Revenue
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		saved, err = tx.Replace(ctx, rev)
		return err
	})
	if err != nil {
		return Revenue{}, fmt.Errorf("revenue: replace reservation %d: %w", reservationID, err)
	}
	s.logger.Debug("revenue replaced",
		slog.Int64("reservation_id", reservationID),
		slog.Int("fees", len(saved.Fees)),
		slog.Bool("processor_fee", applied),
	)
	return saved, nil
}

// Breakdown loads and computes the revenue of one reservation.
func (s *Service) Breakdown(ctx context.Context, reservationID int64) (Breakdown, error) {
	rev, err := s.repo.Get(ctx, reservationID)
	if err != nil {
		return Breakdown{}, err
	}
	return Compute(rev)
}

// Payouts computes the payout amount of every reservation that has revenue.
func (s *Service) Payouts(ctx context.Context, reservationIDs []int64) (map[int64]Breakdown, error) {
	revs, err := s.repo.ListByReservationIDs(ctx, reservationIDs)
	if err != nil {
		return nil, err
	}
	return ComputeAll(revs)
}

// ComputeAll runs Compute over a set of revenues keyed by reservation id.
func ComputeAll(revs map[int64]Revenue) (map[int64]Breakdown, error) {
	out := make(map[int64]Breakdown, len(revs))
	for id, rev := range revs {
		b, err := Compute(rev)
		if err != nil {
			return nil, fmt.Errorf("revenue: reservation %d: %w", id, err)
		}
		out[id] = b
	}
	return out, nil
}
