// Package convo runs the per-customer shopping dialog.
package convo

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Dialog states.
const (
	StateIdle                 = "idle"
	StateMainMenu             = "main_menu"
	StateBrowsing             = "browsing"
	StateAwaitingVariant      = "awaiting_variant_selection"
	StateAwaitingQuantity     = "awaiting_quantity"
	StateCartActive           = "cart_active"
	StateAwaitingAddress      = "awaiting_address"
	StateAwaitingConfirmation = "awaiting_confirmation"
	StateRecoverySent         = "recovery_sent"
)

// Button and list selection ids.
const (
	ButtonBrowse         = "browse_products"
	ButtonTrackOrder     = "track_order"
	ButtonSupport        = "contact_support"
	ButtonConfirm        = "confirm_order"
	ButtonCancel         = "cancel_order"
	ButtonResumeCheckout = "resume_checkout"
)

// CartItem is one line of the pending purchase.
type CartItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	VariantID   string          `json:"variant_id,omitempty"`
	VariantName string          `json:"variant_name,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

// DialogContext is what the dialog remembers between messages.
type DialogContext struct {
	ProductID   string          `json:"product_id,omitempty"`
	ProductName string          `json:"product_name,omitempty"`
	VariantID   string          `json:"variant_id,omitempty"`
	VariantName string          `json:"variant_name,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity,omitempty"`
	Address     string          `json:"address,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Cart        []CartItem      `json:"cart,omitempty"`
}

// HasCart reports whether items are waiting for checkout.
func (d DialogContext) HasCart() bool {
	return len(d.Cart) > 0
}

// ItemLabel is the product name with the variant in brackets.
func (d DialogContext) ItemLabel() string {
	if d.VariantName == "" {
		return d.ProductName
	}
	return fmt.Sprintf("%s (%s)", d.ProductName, d.VariantName)
}

// DecodeContext parses a stored context. An empty payload yields the zero context.
func DecodeContext(raw json.RawMessage) (DialogContext, error) {
	var d DialogContext
	if len(raw) == 0 || string(raw) == "null" {
		return d, nil
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return DialogContext{}, fmt.Errorf("decode dialog context: %w", err)
	}
	return d, nil
}

// Encode serialises the context for storage.
func (d DialogContext) Encode() (json.RawMessage, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode dialog context: %w", err)
	}
	return raw, nil
}

func cartTotal(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}
