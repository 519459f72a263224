// internal/domain/pricing/money.go
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount renders a decimal amount as a currency string with at least two
// decimal places and thousands grouping, e.g. 1234567.89 -> "£1,234,567.89".
// Sub-cent precision is preserved so parsing a formatted value returns the
// original amount; values are never rounded mid-calculation.
func FormatAmount(amount decimal.Decimal, symbol string) string {
	negative := amount.IsNegative()

	fixed := amount.Abs().StringFixed(2)
	if amount.Exponent() < -2 {
		fixed = amount.Abs().String()
	}

	parts := strings.SplitN(fixed, ".", 2)
	if len(parts) == 1 {
		parts = append(parts, "00")
	}
	grouped := groupThousands(parts[0])

	formatted := fmt.Sprintf("%s%s.%s", symbol, grouped, parts[1])
	if negative {
		formatted = "-" + formatted
	}
	return formatted
}

// ParseAmount parses a string produced by FormatAmount back into a decimal.
// FormatAmount followed by ParseAmount never changes the rendered value.
func ParseAmount(formatted string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(formatted)

	negative := strings.HasPrefix(cleaned, "-")
	cleaned = strings.TrimPrefix(cleaned, "-")

	// Strip the currency symbol: everything before the first digit.
	start := strings.IndexFunc(cleaned, func(r rune) bool { return r >= '0' && r <= '9' })
	if start < 0 {
		return decimal.Zero, fmt.Errorf("no numeric value in %q", formatted)
	}
	cleaned = strings.ReplaceAll(cleaned[start:], ",", "")

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount %q: %w", formatted, err)
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, nil
}

// FormattedTotals is the display rendering of composed order totals.
type FormattedTotals struct {
	Subtotal       string `json:"subtotal"`
	DeliveryFee    string `json:"deliveryFee"`
	ServiceCharges string `json:"serviceCharges"`
	TaxAmount      string `json:"taxAmount"`
	DiscountAmount string `json:"discountAmount"`
	Total          string `json:"total"`
}

// Formatted renders every composed amount with the configured currency symbol.
func (t OrderTotals) Formatted(symbol string) FormattedTotals {
	return FormattedTotals{
		Subtotal:       FormatAmount(t.Subtotal, symbol),
		DeliveryFee:    FormatAmount(t.DeliveryFee, symbol),
		ServiceCharges: FormatAmount(t.ServiceCharges.Add(t.OptionalServiceCharges), symbol),
		TaxAmount:      FormatAmount(t.TaxAmount, symbol),
		DiscountAmount: FormatAmount(t.DiscountAmount, symbol),
		Total:          FormatAmount(t.Total, symbol),
	}
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}

	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
