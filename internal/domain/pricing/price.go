// internal/domain/pricing/price.go
package pricing

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Price is the normalized per-unit price of a cart line. The backend has two
// historical wire representations: a plain number (legacy) and a structured
// breakdown. Both unmarshal into this one shape so downstream computation only
// ever sees normalized prices.
type Price struct {
	Base                  decimal.Decimal `json:"base"`
	CurrentEffectivePrice decimal.Decimal `json:"currentEffectivePrice"`
	Attributes            decimal.Decimal `json:"attributes"`
	Total                 decimal.Decimal `json:"total"`

	// Flat marks a price that arrived as a legacy plain number.
	Flat bool `json:"-"`
}

// structuredPrice mirrors the backend's structured price object.
type structuredPrice struct {
	Base                  decimal.Decimal `json:"base"`
	CurrentEffectivePrice decimal.Decimal `json:"currentEffectivePrice"`
	Attributes            decimal.Decimal `json:"attributes"`
	Total                 decimal.Decimal `json:"total"`
}

// FlatPrice builds a normalized price from a legacy plain amount.
func FlatPrice(amount decimal.Decimal) Price {
	return Price{
		Base:                  amount,
		CurrentEffectivePrice: amount,
		Total:                 amount,
		Flat:                  true,
	}
}

// StructuredPrice builds a normalized price from an explicit breakdown.
// A missing total is re-derived from effective price plus attributes.
func StructuredPrice(base, effective, attributes, total decimal.Decimal) Price {
	if effective.IsZero() && !base.IsZero() {
		effective = base
	}
	if total.IsZero() {
		total = effective.Add(attributes)
	}
	return Price{
		Base:                  base,
		CurrentEffectivePrice: effective,
		Attributes:            attributes,
		Total:                 total,
	}
}

// UnmarshalJSON accepts both price representations. Malformed payloads degrade
// to a zero price instead of failing the whole cart decode.
func (p *Price) UnmarshalJSON(data []byte) error {
	var amount decimal.Decimal
	if err := json.Unmarshal(data, &amount); err == nil {
		*p = FlatPrice(amount)
		return nil
	}

	var structured structuredPrice
	if err := json.Unmarshal(data, &structured); err == nil {
		*p = StructuredPrice(structured.Base, structured.CurrentEffectivePrice, structured.Attributes, structured.Total)
		return nil
	}

	*p = Price{}
	return nil
}

// MarshalJSON always emits the canonical structured form.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(structuredPrice{
		Base:                  p.Base,
		CurrentEffectivePrice: p.CurrentEffectivePrice,
		Attributes:            p.Attributes,
		Total:                 p.Total,
	})
}

// IsZero reports whether the price carries no usable amount.
func (p Price) IsZero() bool {
	return p.Total.IsZero() && p.Base.IsZero() && p.CurrentEffectivePrice.IsZero()
}
