package reconciliation

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Summarize computes sums and the gap for a selection. Amounts compare at
// cent precision and a match must be exact; both pools must be non-empty.
func Summarize(txs []Transaction, payouts []Payout) Summary {
	sumTx := decimal.Zero
	for _, t := range txs {
		sumTx = sumTx.Add(t.Amount)
	}
	sumRes := decimal.Zero
	for _, p := range payouts {
		sumRes = sumRes.Add(p.Amount)
	}
	sumTx = sumTx.Round(2)
	sumRes = sumRes.Round(2)
	gap := sumRes.Sub(sumTx)
	return Summary{
		SumTransactions:  sumTx,
		SumReservations:  sumRes,
		Gap:              gap,
		CanReconcile:     len(txs) > 0 && len(payouts) > 0 && gap.IsZero(),
		TransactionCount: len(txs),
		ReservationCount: len(payouts),
	}
}

// Options bound the candidate search.
type Options struct {
	MaxGroupSize int
	MaxResults   int
	// MaxSteps caps search nodes per transaction.
	MaxSteps int
}

// DefaultOptions returns the search bounds used when none are configured.
func DefaultOptions() Options {
	return Options{MaxGroupSize: 4, MaxResults: 20, MaxSteps: 200000}
}

// Candidate is a suggested match of one transaction to a payout group.
type Candidate struct {
	TransactionID  int64           `json:"transactionId"`
	ReservationIDs []int64         `json:"reservationIds"`
	Amount         decimal.Decimal `json:"amount"`
}

// FindCandidates searches, for every pending positive transaction, the
// payout groups of at most MaxGroupSize reservations whose payouts add up to
// the transaction amount to the cent. Smaller groups come first.
func FindCandidates(txs []Transaction, payouts []Payout, opts Options) []Candidate {
	def := DefaultOptions()
	if opts.MaxGroupSize <= 0 {
		opts.MaxGroupSize = def.MaxGroupSize
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = def.MaxResults
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = def.MaxSteps
	}

	type item struct {
		id    int64
		cents int64
	}
	pool := make([]item, 0, len(payouts))
	for _, p := range payouts {
		c := toCents(p.Amount)
		if c > 0 {
			pool = append(pool, item{id: p.ID, cents: c})
		}
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].cents != pool[j].cents {
			return pool[i].cents > pool[j].cents
		}
		return pool[i].id < pool[j].id
	})
	// suffix[i] is the sum of pool[i:], for pruning unreachable targets.
	suffix := make([]int64, len(pool)+1)
	for i := len(pool) - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1] + pool[i].cents
	}

	var out []Candidate
	for _, t := range txs {
		if t.Status != StatusPending {
			continue
		}
		target := toCents(t.Amount)
		if target <= 0 {
			continue
		}
		var groups [][]int64
		steps := 0
		var chosen []int64
		var search func(start int, remaining int64)
		search = func(start int, remaining int64) {
			if steps >= opts.MaxSteps || len(out)+len(groups) >= opts.MaxResults {
				return
			}
			steps++
			if remaining == 0 {
				groups = append(groups, append([]int64(nil), chosen...))
				return
			}
			if len(chosen) == opts.MaxGroupSize || suffix[start] < remaining {
				return
			}
			for i := start; i < len(pool); i++ {
				if pool[i].cents > remaining {
					continue
				}
				chosen = append(chosen, pool[i].id)
				search(i+1, remaining-pool[i].cents)
				chosen = chosen[:len(chosen)-1]
			}
		}
		search(0, target)
		sort.SliceStable(groups, func(i, j int) bool { return len(groups[i]) < len(groups[j]) })
		for _, g := range groups {
			sort.Slice(g, func(i, j int) bool { return g[i] < g[j] })
			out = append(out, Candidate{TransactionID: t.ID, ReservationIDs: g, Amount: t.Amount.Round(2)})
		}
		if len(out) >= opts.MaxResults {
			break
		}
	}
	return out
}

func toCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}
