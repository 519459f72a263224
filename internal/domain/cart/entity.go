// internal/domain/cart/entity.go
package cart

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/storefront-gateway/internal/pkg/orderingapi"
)

// Guard failures. Each blocks the operation locally, before any backend call.
var (
	// ErrNoBranchSelected is returned when a cart operation runs without a
	// selected branch.
	ErrNoBranchSelected = errors.New("select a branch before ordering")

	// ErrAuthenticationRequired signals the caller should be redirected to
	// authentication instead of a cart being created.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrBranchConflict is returned when adding an item for a branch while a
	// different branch's cart is non-empty and the clear was not confirmed.
	ErrBranchConflict = errors.New("another branch already has items in the cart")

	// ErrStaleBranch marks a fetch whose branch no longer matches the
	// session's selection by the time it resolved.
	ErrStaleBranch = errors.New("branch selection changed while loading cart")
)

// BranchCart is the locally cached server snapshot for one branch.
type BranchCart struct {
	BranchID  string                   `json:"branchId"`
	Snapshot  orderingapi.CartSnapshot `json:"snapshot"`
	UpdatedAt time.Time                `json:"updatedAt"`
}

// OptionSelection is one chosen choice within a product attribute, as sent by
// the storefront UI. Quantity is used by multiple-with-quantity attributes.
type OptionSelection struct {
	ChoiceID string `json:"choiceId"`
	Quantity int    `json:"quantity,omitempty"`
}

// ChoiceDefinition is one selectable choice of a product attribute.
type ChoiceDefinition struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// AttributeDefinition is a product attribute as defined in the catalog.
type AttributeDefinition struct {
	ID      string             `json:"id"`
	Name    string             `json:"name"`
	Type    string             `json:"type"` // single, multiple, multiple-with-quantity
	Choices []ChoiceDefinition `json:"choices"`
}

// NormalizeSelections derives the canonical selectedAttributes form from raw
// option selections plus the product's attribute definitions. Selections that
// reference unknown attributes or choices are skipped rather than failing the
// whole line.
func NormalizeSelections(selections map[string][]OptionSelection, definitions []AttributeDefinition) []orderingapi.SelectedAttribute {
	if len(selections) == 0 || len(definitions) == 0 {
		return nil
	}

	defsByID := make(map[string]AttributeDefinition, len(definitions))
	for _, def := range definitions {
		defsByID[def.ID] = def
	}

	var normalized []orderingapi.SelectedAttribute
	for _, def := range definitions {
		chosen, ok := selections[def.ID]
		if !ok || len(chosen) == 0 {
			continue
		}

		choicesByID := make(map[string]ChoiceDefinition, len(def.Choices))
		for _, choice := range def.Choices {
			choicesByID[choice.ID] = choice
		}

		attribute := orderingapi.SelectedAttribute{
			AttributeID:   def.ID,
			AttributeName: def.Name,
			AttributeType: def.Type,
		}
		for _, selection := range chosen {
			choice, ok := choicesByID[selection.ChoiceID]
			if !ok {
				continue
			}
			quantity := selection.Quantity
			if quantity < 1 {
				quantity = 1
			}
			attribute.SelectedItems = append(attribute.SelectedItems, orderingapi.SelectedItem{
				ItemID:    choice.ID,
				ItemName:  choice.Name,
				ItemPrice: choice.Price,
				Quantity:  quantity,
			})
		}
		if len(attribute.SelectedItems) > 0 {
			normalized = append(normalized, attribute)
		}
	}
	return normalized
}
