// internal/domain/pricing/composer.go
package pricing

import (
	"github.com/shopspring/decimal"
)

// Line is the pricing view of a single cart line.
type Line struct {
	Price    Price
	Quantity int

	// ItemTotal is the server-computed line total, preferred when present.
	ItemTotal decimal.Decimal

	// LegacyAddOns is the per-unit sum of flat add-on choice prices carried by
	// legacy plain-number lines. Structured prices already fold these into
	// Attributes.
	LegacyAddOns decimal.Decimal
}

// ServiceCharge is a branch-level fee attached to the cart snapshot.
type ServiceCharge struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
	Optional bool            `json:"optional"`
}

// Discount is the backend-confirmed deduction folded into order totals.
type Discount struct {
	// Amount is the absolute currency amount the backend resolved. It is never
	// derived client-side from a percentage.
	Amount decimal.Decimal
}

// TotalsInput carries everything OrderTotals composition needs. Delivery fee,
// tax rate and service charges come from the authoritative cart snapshot, not
// from locally recomputed rates.
type TotalsInput struct {
	Lines                     []Line
	DeliveryFee               decimal.Decimal
	TaxRate                   decimal.Decimal // percentage of subtotal
	ServiceCharges            []ServiceCharge
	AcceptedOptionalChargeIDs []string
	Discount                  *Discount
}

// OrderTotals is the derived order-level breakdown. It is never persisted
// independently of its inputs.
type OrderTotals struct {
	Subtotal               decimal.Decimal `json:"subtotal"`
	AttributesTotal        decimal.Decimal `json:"attributesTotal"`
	DeliveryFee            decimal.Decimal `json:"deliveryFee"`
	ServiceCharges         decimal.Decimal `json:"serviceCharges"`
	OptionalServiceCharges decimal.Decimal `json:"optionalServiceCharges"`
	TaxAmount              decimal.Decimal `json:"taxAmount"`
	DiscountAmount         decimal.Decimal `json:"discountAmount"`
	Total                  decimal.Decimal `json:"total"`
}

var oneHundred = decimal.NewFromInt(100)

// ComputeItemTotal returns the total for one cart line. It prefers the
// server-computed item total, falls back to the normalized unit price times
// quantity, and degrades to zero for malformed lines so one bad line never
// blocks the rest of the order.
func ComputeItemTotal(line Line) decimal.Decimal {
	if line.Quantity <= 0 {
		return decimal.Zero
	}

	if !line.ItemTotal.IsZero() {
		return line.ItemTotal
	}

	quantity := decimal.NewFromInt(int64(line.Quantity))

	if line.Price.Flat {
		unit := line.Price.Total.Add(line.LegacyAddOns)
		return unit.Mul(quantity)
	}

	if !line.Price.IsZero() {
		return line.Price.Total.Mul(quantity)
	}

	return decimal.Zero
}

// ComputeOrderTotals composes the order-level breakdown from normalized lines
// and the authoritative snapshot fees. All arithmetic stays in decimal; values
// are rounded only at formatting time.
func ComputeOrderTotals(in TotalsInput) OrderTotals {
	totals := OrderTotals{}

	for _, line := range in.Lines {
		if line.Quantity <= 0 {
			continue
		}
		quantity := decimal.NewFromInt(int64(line.Quantity))

		effective := line.Price.CurrentEffectivePrice
		if line.Price.Flat {
			effective = effective.Add(line.LegacyAddOns)
		}
		totals.Subtotal = totals.Subtotal.Add(effective.Mul(quantity))
		totals.AttributesTotal = totals.AttributesTotal.Add(line.Price.Attributes.Mul(quantity))
	}

	totals.DeliveryFee = in.DeliveryFee

	accepted := make(map[string]bool, len(in.AcceptedOptionalChargeIDs))
	for _, id := range in.AcceptedOptionalChargeIDs {
		accepted[id] = true
	}
	for _, charge := range in.ServiceCharges {
		if charge.Optional {
			if accepted[charge.ID] {
				totals.OptionalServiceCharges = totals.OptionalServiceCharges.Add(charge.Amount)
			}
			continue
		}
		totals.ServiceCharges = totals.ServiceCharges.Add(charge.Amount)
	}

	if !in.TaxRate.IsZero() {
		totals.TaxAmount = totals.Subtotal.Mul(in.TaxRate).Div(oneHundred)
	}

	if in.Discount != nil {
		totals.DiscountAmount = in.Discount.Amount
	}

	totals.Total = totals.Subtotal.
		Add(totals.AttributesTotal).
		Add(totals.DeliveryFee).
		Add(totals.ServiceCharges).
		Add(totals.OptionalServiceCharges).
		Add(totals.TaxAmount).
		Sub(totals.DiscountAmount)

	return totals
}
