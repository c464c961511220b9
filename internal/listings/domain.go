// Package listings resolves channel product ids to listings and their
// pricing rules.
package listings

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stay-revenue/internal/revenue"
)

// Listing is a rentable unit as seen by revenue computation.
type Listing struct {
	ID             int64           `json:"id"`
	ProductID      string          `json:"productId"`
	OrganizationID int64           `json:"organizationId"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	PmcShare       decimal.Decimal `json:"pmcShare"`
	Active         bool            `json:"active"`
	FeeRules       []FeeRule       `json:"feeRules"`
}

// FeeRule is the listing's configuration of one guest fee.
type FeeRule struct {
	Name      string           `json:"name"`
	Unit      revenue.FeeUnit  `json:"unit"`
	Amount    decimal.Decimal  `json:"amount"`
	Taxable   bool             `json:"taxable"`
	PmcShare  *decimal.Decimal `json:"pmcShare,omitempty"`
	Mandatory bool             `json:"mandatory"`
}

// Rule finds a fee rule by name, ignoring case and surrounding spaces.
func (l Listing) Rule(name string) (FeeRule, bool) {
	name = strings.TrimSpace(name)
	for _, rule := range l.FeeRules {
		if strings.EqualFold(strings.TrimSpace(rule.Name), name) {
			return rule, true
		}
	}
	return FeeRule{}, false
}

// MandatoryRules returns the rules charged on every stay.
func (l Listing) MandatoryRules() []FeeRule {
	var out []FeeRule
	for _, rule := range l.FeeRules {
		if rule.Mandatory {
			out = append(out, rule)
		}
	}
	return out
}
