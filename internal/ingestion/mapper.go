package ingestion

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stay-revenue/internal/listings"
	"github.com/odyssey-erp/stay-revenue/internal/revenue"
	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

const accommodationFeeName = "Accommodation"

// Mapper turns a channel payload into a revenue record.
type Mapper struct{}

// Build maps the rack rate to a taxable ACCOMMODATION fee and every reported
// fee to a GUEST_FEE, taking unit, taxability and share from the listing's
// rule of the same name. Mandatory listing fees the channel did not report
// are resolved from their unit. Taxes are spread over the taxable fees in
// proportion to their value.
func (Mapper) Build(p Payload, listing listings.Listing, stay revenue.Stay) (revenue.Revenue, error) {
	rev := revenue.Revenue{
		AccommodationRevenue: p.Rate.NewPublishedRackRate,
		PmcShare:             listing.PmcShare,
		Currency:             listing.Currency,
		ChannelCommission:    p.Commission.ChannelCommission,
	}
	rev.Fees = append(rev.Fees, revenue.RevenueFee{
		Name:    accommodationFeeName,
		Value:   p.Rate.NewPublishedRackRate,
		Unit:    revenue.UnitPerStay,
		Taxable: true,
		Type:    revenue.FeeTypeAccommodation,
	})

	reported := make(map[string]bool, len(p.Fees))
	for _, charge := range p.Fees {
		name := strings.TrimSpace(charge.Name)
		reported[strings.ToLower(name)] = true
		fee := revenue.RevenueFee{
			Name:  name,
			Value: charge.Value,
			Unit:  revenue.UnitPerStay,
			Type:  revenue.FeeTypeGuestFee,
		}
		if rule, ok := listing.Rule(name); ok {
			fee.Unit = rule.Unit
			fee.Taxable = rule.Taxable
			fee.PmcShare = rule.PmcShare
		}
		rev.Fees = append(rev.Fees, fee)
	}

	for _, rule := range listing.MandatoryRules() {
		if reported[strings.ToLower(strings.TrimSpace(rule.Name))] {
			continue
		}
		value, err := revenue.ResolveUnitValue(rule.Unit, rule.Amount, stay)
		if err != nil {
			return revenue.Revenue{}, fmt.Errorf("fee rule %q: %w", rule.Name, err)
		}
		if value.IsZero() {
			continue
		}
		rev.Fees = append(rev.Fees, revenue.RevenueFee{
			Name:     rule.Name,
			Value:    value,
			Unit:     rule.Unit,
			Taxable:  rule.Taxable,
			PmcShare: rule.PmcShare,
			Type:     revenue.FeeTypeGuestFee,
		})
	}

	if err := attachTaxes(&rev, p.Taxes); err != nil {
		return revenue.Revenue{}, err
	}
	return rev, nil
}

func attachTaxes(rev *revenue.Revenue, taxes []Charge) error {
	weights := make([]decimal.Decimal, len(rev.Fees))
	hasTaxable := false
	for i, fee := range rev.Fees {
		weights[i] = decimal.Zero
		if fee.Taxable && fee.Value.IsPositive() {
			weights[i] = fee.Value
			hasTaxable = true
		}
	}
	for _, tax := range taxes {
		if tax.Value.IsZero() {
			continue
		}
		if !hasTaxable {
			return shared.Invalid("taxes", fmt.Sprintf("%q has no taxable fee to apply to", tax.Name))
		}
		parts := revenue.AllocateProportionally(tax.Value, weights)
		for i, part := range parts {
			if !part.IsPositive() {
				continue
			}
			ded, err := revenue.NewDeduction(revenue.DeductionTax, strings.TrimSpace(tax.Name), part)
			if err != nil {
				return err
			}
			rev.Fees[i].Deductions = append(rev.Fees[i].Deductions, ded)
		}
	}
	return nil
}
