// Package ingestion applies booking-channel reservation events to the
// reservation store and derives revenue from them.
package ingestion

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stay-revenue/internal/channels"
	"github.com/odyssey-erp/stay-revenue/internal/reservations"
	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

// Action is the lifecycle event carried by a payload.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionCancel Action = "CANCEL"
)

const dateLayout = "2006-01-02"

// Payload is the reservation event sent by the channel manager.
type Payload struct {
	ReservationID  string     `json:"reservationId" validate:"required"`
	ProductID      string     `json:"productId" validate:"required"`
	UniqueKey      string     `json:"uniqueKey,omitempty"`
	Action         Action     `json:"action" validate:"required,oneof=CREATE UPDATE CANCEL"`
	ChannelName    string     `json:"channelName"`
	ConfirmationID string     `json:"confirmationId"`
	FromDate       string     `json:"fromDate" validate:"required,datetime=2006-01-02"`
	ToDate         string     `json:"toDate" validate:"required,datetime=2006-01-02"`
	Adult          int        `json:"adult" validate:"gte=0"`
	Child          int        `json:"child" validate:"gte=0"`
	CustomerName   string     `json:"customerName"`
	Email          string     `json:"email" validate:"omitempty,email"`
	Phone          string     `json:"phone"`
	Commission     Commission `json:"commission"`
	Fees           []Charge   `json:"fees" validate:"dive"`
	Taxes          []Charge   `json:"taxes" validate:"dive"`
	Rate           Rate       `json:"rate"`
}

// Commission is the channel's cut, deducted before payout.
type Commission struct {
	ChannelCommission *decimal.Decimal `json:"channelCommission,omitempty"`
}

// Charge is a fee or tax line reported by the channel.
type Charge struct {
	ID    string          `json:"id"`
	Name  string          `json:"name" validate:"required"`
	Value decimal.Decimal `json:"value"`
}

// Rate carries the accommodation price.
type Rate struct {
	NewPublishedRackRate decimal.Decimal `json:"newPublishedRackRate"`
}

// Response is the envelope returned to the channel manager.
type Response struct {
	AltID   string `json:"altId"`
	IsError bool   `json:"is_error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validate checks the payload shape and the semantic rules the tags cannot
// express.
func (p Payload) Validate() error {
	if err := shared.ValidateStruct(p); err != nil {
		return err
	}
	from, to, err := p.Dates()
	if err != nil {
		return err
	}
	if p.Action != ActionCancel && !to.After(from) {
		return shared.Invalid("toDate", "must be after fromDate")
	}
	if p.Rate.NewPublishedRackRate.IsNegative() {
		return shared.Invalid("rate.newPublishedRackRate", "must not be negative")
	}
	for i, fee := range p.Fees {
		if fee.Value.IsNegative() {
			return shared.Invalid(chargeField("fees", i), "must not be negative")
		}
	}
	for i, tax := range p.Taxes {
		if tax.Value.IsNegative() {
			return shared.Invalid(chargeField("taxes", i), "must not be negative")
		}
	}
	if c := p.Commission.ChannelCommission; c != nil && c.IsNegative() {
		return shared.Invalid("commission.channelCommission", "must not be negative")
	}
	return nil
}

// Dates parses the stay boundaries.
func (p Payload) Dates() (time.Time, time.Time, error) {
	from, err := time.Parse(dateLayout, strings.TrimSpace(p.FromDate))
	if err != nil {
		return time.Time{}, time.Time{}, shared.Invalid("fromDate", "must be YYYY-MM-DD")
	}
	to, err := time.Parse(dateLayout, strings.TrimSpace(p.ToDate))
	if err != nil {
		return time.Time{}, time.Time{}, shared.Invalid("toDate", "must be YYYY-MM-DD")
	}
	return from, to, nil
}

// Key derives the reservation identity for the canonical channel.
func (p Payload) Key(channel channels.Channel) reservations.Key {
	return reservations.Key{
		Channel:          channel,
		ExternalID:       strings.TrimSpace(p.ReservationID),
		ConfirmationCode: strings.TrimSpace(p.ConfirmationID),
	}
}

// Redacted returns the payload as stored on the reservation, without the
// shared secret.
func (p Payload) Redacted() json.RawMessage {
	p.UniqueKey = ""
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return raw
}

func chargeField(list string, i int) string {
	return list + "[" + strconv.Itoa(i) + "].value"
}
