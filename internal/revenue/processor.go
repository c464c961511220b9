package revenue

import (
	"github.com/shopspring/decimal"
)

const processorFeeDescription = "Card processing"

// ProcessorFee configures the reservation-level card processing cost applied
// when the channel reports none.
type ProcessorFee struct {
	Enabled bool
	Rate    decimal.Decimal
	Fixed   decimal.Decimal
}

// DefaultProcessorFee is GBV × 0.029 + 0.30, disabled.
func DefaultProcessorFee() ProcessorFee {
	return ProcessorFee{
		Rate:  decimal.RequireFromString("0.029"),
		Fixed: decimal.RequireFromString("0.30"),
	}
}

// Cost returns the processing cost for a gross booking value, in cents.
func (p ProcessorFee) Cost(gbv decimal.Decimal) decimal.Decimal {
	return gbv.Mul(p.Rate).Add(p.Fixed).Round(2)
}

// ApplyProcessorFee computes the card cost once against the gross booking
// value and allocates it back to each fee as a CREDIT_CARD deduction. The
// input is not modified. It reports whether deductions were added.
func ApplyProcessorFee(rev Revenue, cfg ProcessorFee) (Revenue, bool) {
	if !cfg.Enabled {
		return rev, false
	}
	gbv := rev.GrossValue()
	if !gbv.IsPositive() {
		return rev, false
	}
	for _, fee := range rev.Fees {
		if fee.HasDeduction(DeductionCreditCard) {
			return rev, false
		}
	}

	weights := make([]decimal.Decimal, len(rev.Fees))
	for i, fee := range rev.Fees {
		if fee.Value.IsPositive() {
			weights[i] = fee.Value
		} else {
			weights[i] = decimal.Zero
		}
	}
	parts := AllocateProportionally(cfg.Cost(gbv), weights)

	out := rev
	out.Fees = make([]RevenueFee, len(rev.Fees))
	for i, fee := range rev.Fees {
		fee.Deductions = append([]Deduction(nil), fee.Deductions...)
		if parts[i].IsPositive() {
			fee.Deductions = append(fee.Deductions, Deduction{
				Type:        DeductionCreditCard,
				Description: processorFeeDescription,
				Value:       parts[i],
			})
		}
		out.Fees[i] = fee
	}
	return out, true
}

// AllocateProportionally divides total across weights in whole cents. The
// rounding remainder goes to the largest weight so the parts always add up to
// total. Non-positive weights receive nothing.
func AllocateProportionally(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	parts := make([]decimal.Decimal, len(weights))
	for i := range parts {
		parts[i] = decimal.Zero
	}
	sum := decimal.Zero
	largest := -1
	for i, w := range weights {
		if !w.IsPositive() {
			continue
		}
		sum = sum.Add(w)
		if largest < 0 || w.GreaterThan(weights[largest]) {
			largest = i
		}
	}
	if largest < 0 {
		return parts
	}
	allocated := decimal.Zero
	for i, w := range weights {
		if !w.IsPositive() {
			continue
		}
		parts[i] = total.Mul(w).Div(sum).Round(2)
		allocated = allocated.Add(parts[i])
	}
	parts[largest] = parts[largest].Add(total.Sub(allocated))
	return parts
}
