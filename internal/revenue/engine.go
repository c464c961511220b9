package revenue

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stay-revenue/internal/sharesplit"
)

// Summary aggregates the fees of one FeeType.
type Summary struct {
	Gross        sharesplit.Split `json:"gross"`
	TaxableGross sharesplit.Split `json:"taxableGross"`
	Net          sharesplit.Split `json:"net"`
	TotalTax     decimal.Decimal  `json:"totalTax"`
	CreditCard   decimal.Decimal  `json:"creditCard"`
}

// FeeBreakdown is the per-line view used by owner statements.
type FeeBreakdown struct {
	Name       string           `json:"name"`
	Type       FeeType          `json:"type"`
	Taxable    bool             `json:"taxable"`
	Gross      sharesplit.Split `json:"gross"`
	Tax        sharesplit.Split `json:"tax"`
	CreditCard sharesplit.Split `json:"creditCard"`
	Net        sharesplit.Split `json:"net"`
}

// TaxLine totals one tax description across fees.
type TaxLine struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Breakdown is the computed revenue of a reservation.
type Breakdown struct {
	Accommodation     Summary          `json:"accommodationRevenueSummary"`
	GuestFees         Summary          `json:"guestFeeRevenueSummary"`
	Fees              []FeeBreakdown   `json:"fees"`
	GrossBookingValue sharesplit.Split `json:"grossBookingValue"`
	Taxes             sharesplit.Split `json:"totalTaxes"`
	CreditCard        sharesplit.Split `json:"creditCardTotal"`
	Commission        sharesplit.Split `json:"channelCommission"`
	NetRevenue        sharesplit.Split `json:"netRevenue"`
	PayoutAmount      decimal.Decimal  `json:"payoutAmount"`
	TaxLines          []TaxLine        `json:"taxLines"`
	Discount          decimal.Decimal  `json:"discount"`
}

type summaryAcc struct {
	gross, taxable, net []sharesplit.Split
	tax, cc             decimal.Decimal
}

func (a *summaryAcc) summary() Summary {
	return Summary{
		Gross:        sharesplit.Sum(a.gross...),
		TaxableGross: sharesplit.Sum(a.taxable...),
		Net:          sharesplit.Sum(a.net...),
		TotalTax:     a.tax,
		CreditCard:   a.cc,
	}
}

// Compute derives the revenue breakdown. It is pure: the same Revenue always
// yields the same Breakdown.
func Compute(rev Revenue) (Breakdown, error) {
	if err := rev.Validate(); err != nil {
		return Breakdown{}, err
	}

	acc := map[FeeType]*summaryAcc{
		FeeTypeAccommodation: {tax: decimal.Zero, cc: decimal.Zero},
		FeeTypeGuestFee:      {tax: decimal.Zero, cc: decimal.Zero},
	}
	var (
		grossAll, taxAll, ccAll []sharesplit.Split
		fees                    = make([]FeeBreakdown, 0, len(rev.Fees))
		taxLines                []TaxLine
		taxIndex                = map[string]int{}
	)

	for _, fee := range rev.Fees {
		share := rev.ShareFor(fee)
		gross, err := sharesplit.FromManagerShare(fee.Value, share)
		if err != nil {
			return Breakdown{}, fmt.Errorf("revenue: fee %q: %w", fee.Name, err)
		}
		taxTotal := fee.DeductionTotal(DeductionTax)
		ccTotal := fee.DeductionTotal(DeductionCreditCard)
		taxSplit := sharesplit.MustFromManagerShare(taxTotal, share)
		ccSplit := sharesplit.MustFromManagerShare(ccTotal, share)
		net := sharesplit.Subtract(gross, sharesplit.MustFromManagerShare(taxTotal.Add(ccTotal), share))

		a := acc[fee.Type]
		a.gross = append(a.gross, gross)
		if fee.Taxable {
			a.taxable = append(a.taxable, gross)
		}
		a.net = append(a.net, net)
		a.tax = a.tax.Add(taxTotal)
		a.cc = a.cc.Add(ccTotal)

		grossAll = append(grossAll, gross)
		taxAll = append(taxAll, taxSplit)
		ccAll = append(ccAll, ccSplit)

		for _, d := range fee.Deductions {
			if d.Type != DeductionTax {
				continue
			}
			if i, ok := taxIndex[d.Description]; ok {
				taxLines[i].Amount = taxLines[i].Amount.Add(d.Value)
				continue
			}
			taxIndex[d.Description] = len(taxLines)
			taxLines = append(taxLines, TaxLine{Description: d.Description, Amount: d.Value})
		}

		fees = append(fees, FeeBreakdown{
			Name:       fee.Name,
			Type:       fee.Type,
			Taxable:    fee.Taxable,
			Gross:      gross,
			Tax:        taxSplit,
			CreditCard: ccSplit,
			Net:        net,
		})
	}

	accommodation := acc[FeeTypeAccommodation].summary()
	guest := acc[FeeTypeGuestFee].summary()

	commission := sharesplit.Zero()
	if rev.ChannelCommission != nil && !rev.ChannelCommission.IsZero() {
		// Commission is charged against guest-fee gross only.
		commission = sharesplit.Allocate(*rev.ChannelCommission, guest.Gross)
		guest.Net = sharesplit.Subtract(guest.Net, commission)
	}

	gbv := sharesplit.Sum(grossAll...)
	taxes := sharesplit.Sum(taxAll...)
	cc := sharesplit.Sum(ccAll...)
	net := sharesplit.Subtract(gbv, taxes, cc, commission)

	discount := decimal.Zero
	if rev.Discount != nil {
		discount = *rev.Discount
	}

	return Breakdown{
		Accommodation:     accommodation,
		GuestFees:         guest,
		Fees:              fees,
		GrossBookingValue: gbv,
		Taxes:             taxes,
		CreditCard:        cc,
		Commission:        commission,
		NetRevenue:        net,
		PayoutAmount:      net.Amount(),
		TaxLines:          taxLines,
		Discount:          discount,
	}, nil
}
