package convo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"chatshop/internal/catalog"
)

const (
	minAddressLength = 5
	maxAddressLength = 500
)

var (
	quantityRegex = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

	errNotWholeNumber = errors.New("quantity must be a whole number")
)

var greetings = map[string]bool{
	"hi":    true,
	"hii":   true,
	"hello": true,
	"hey":   true,
	"start": true,
	"shop":  true,
	"menu":  true,
}

func isGreeting(lower string) bool {
	return greetings[strings.Trim(lower, "!.?, ")]
}

func (e *Engine) onSelection(ctx context.Context, t *turn, id string) (result, error) {
	switch id {
	case ButtonBrowse:
		return e.sendCatalog(ctx, t)
	case ButtonTrackOrder:
		return e.sendOrders(ctx, t)
	case ButtonSupport:
		return stay(), e.out.Text(ctx, t.tc, t.to(), supportText(t.tc.StoreName), "Support")
	case ButtonConfirm:
		if t.state != StateAwaitingConfirmation {
			return stay(), e.out.Text(ctx, t.tc, t.to(), nothingToConfirmText, "Nothing to confirm")
		}
		return e.confirm(ctx, t)
	case ButtonCancel:
		return e.cancel(ctx, t)
	case ButtonResumeCheckout:
		return e.resumeCheckout(ctx, t)
	}

	switch {
	case strings.HasPrefix(id, catalog.ProductPrefix):
		return e.selectProduct(ctx, t, strings.TrimPrefix(id, catalog.ProductPrefix))
	case strings.HasPrefix(id, catalog.VariantPrefix):
		return e.selectVariant(ctx, t, strings.TrimPrefix(id, catalog.VariantPrefix))
	}
	return e.sendMainMenu(ctx, t)
}

func (e *Engine) onText(ctx context.Context, t *turn) (result, error) {
	text := strings.TrimSpace(t.evt.Text)
	lower := strings.ToLower(text)

	switch {
	case isGreeting(lower):
		return e.sendMainMenu(ctx, t)
	case lower == "cancel":
		return e.cancel(ctx, t)
	case (lower == "checkout" || lower == "resume") && t.dc.HasCart():
		return e.resumeCheckout(ctx, t)
	}

	switch t.state {
	case StateAwaitingQuantity:
		return e.acceptQuantity(ctx, t, text)
	case StateCartActive, StateAwaitingAddress:
		return e.acceptAddress(ctx, t, text)
	case StateRecoverySent:
		if t.dc.HasCart() {
			return e.acceptAddress(ctx, t, text)
		}
	case StateAwaitingConfirmation:
		if lower == "confirm" || lower == "yes" {
			return e.confirm(ctx, t)
		}
		return stay(), e.sendSummary(ctx, t, t.dc)
	case StateBrowsing:
		return e.search(ctx, t, text)
	}
	return e.sendMainMenu(ctx, t)
}

func (e *Engine) sendMainMenu(ctx context.Context, t *turn) (result, error) {
	if err := e.out.Buttons(ctx, t.tc, t.to(), welcomeText(t.tc.StoreName, t.customer.Name), mainMenuButtons(), "Main menu"); err != nil {
		return stay(), err
	}
	return moveTo(StateMainMenu, DialogContext{}), nil
}

func (e *Engine) sendCatalog(ctx context.Context, t *turn) (result, error) {
	products, err := e.catalog.ListProducts(ctx, t.tc.StoreID)
	if err != nil {
		return stay(), err
	}
	if len(products) == 0 {
		if err := e.out.Text(ctx, t.tc, t.to(), emptyCatalogText, "Empty catalog"); err != nil {
			return stay(), err
		}
		return moveTo(StateBrowsing, DialogContext{}), nil
	}
	sections := catalog.ProductSections(products, e.cfg.CurrencySymbol)
	if err := e.out.List(ctx, t.tc, t.to(), catalogText(t.tc.StoreName), catalogButtonLabel, sections, "Catalog"); err != nil {
		return stay(), err
	}
	return moveTo(StateBrowsing, DialogContext{}), nil
}

func (e *Engine) search(ctx context.Context, t *turn, query string) (result, error) {
	products, err := e.catalog.Search(ctx, t.tc.StoreID, query)
	if err != nil {
		return stay(), err
	}
	if len(products) == 0 {
		return e.sendMainMenu(ctx, t)
	}
	sections := catalog.ProductSections(products, e.cfg.CurrencySymbol)
	return stay(), e.out.List(ctx, t.tc, t.to(), searchText(query), catalogButtonLabel, sections, "Search results")
}

func (e *Engine) sendOrders(ctx context.Context, t *turn) (result, error) {
	recent, err := e.orders.RecentOrders(ctx, t.tc.StoreID, t.to())
	if err != nil {
		return stay(), err
	}
	return stay(), e.out.Text(ctx, t.tc, t.to(), ordersText(recent, e.cfg.CurrencySymbol), "Order tracking")
}

func productSelectable(state string) bool {
	switch state {
	case StateBrowsing, StateAwaitingVariant, StateAwaitingQuantity:
		return true
	}
	return false
}

func (e *Engine) selectProduct(ctx context.Context, t *turn, productID string) (result, error) {
	if !productSelectable(t.state) {
		return e.sendMainMenu(ctx, t)
	}
	p, err := e.catalog.Product(ctx, t.tc.StoreID, productID)
	if errors.Is(err, catalog.ErrProductNotFound) {
		return stay(), e.out.Text(ctx, t.tc, t.to(), productUnavailableText, "Product unavailable")
	}
	if err != nil {
		return stay(), err
	}

	dc := DialogContext{ProductID: p.ID, ProductName: p.Name, Price: p.BasePrice}

	if p.ImageURL != "" {
		if err := e.out.Image(ctx, t.tc, t.to(), p.ImageURL, p.Name, "Product image"); err != nil {
			return stay(), err
		}
	}

	if len(p.Variants) == 0 {
		if err := e.out.Text(ctx, t.tc, t.to(), quantityPrompt(dc, e.cfg.CurrencySymbol, -1, e.cfg.MaxQuantity), "Quantity prompt"); err != nil {
			return stay(), err
		}
		return moveTo(StateAwaitingQuantity, dc), nil
	}

	sections := catalog.VariantSections(p, e.cfg.CurrencySymbol)
	if err := e.out.List(ctx, t.tc, t.to(), variantText(p.Name), variantButtonLabel, sections, "Variant list"); err != nil {
		return stay(), err
	}
	return moveTo(StateAwaitingVariant, dc), nil
}

func (e *Engine) selectVariant(ctx context.Context, t *turn, variantID string) (result, error) {
	if t.state != StateAwaitingVariant {
		return e.sendMainMenu(ctx, t)
	}
	v, err := e.catalog.Variant(ctx, t.tc.StoreID, variantID)
	if errors.Is(err, catalog.ErrVariantNotFound) || (err == nil && v.ProductID != t.dc.ProductID) {
		return stay(), e.out.Text(ctx, t.tc, t.to(), variantUnavailableText, "Variant unavailable")
	}
	if err != nil {
		return stay(), err
	}
	if v.StockQuantity <= 0 {
		return stay(), e.out.Text(ctx, t.tc, t.to(), outOfStockText(v.Name), "Out of stock")
	}

	dc := t.dc
	dc.VariantID, dc.VariantName, dc.Price = v.ID, v.Name, v.Price
	if err := e.out.Text(ctx, t.tc, t.to(), quantityPrompt(dc, e.cfg.CurrencySymbol, v.StockQuantity, e.cfg.MaxQuantity), "Quantity prompt"); err != nil {
		return stay(), err
	}
	return moveTo(StateAwaitingQuantity, dc), nil
}

func (e *Engine) acceptQuantity(ctx context.Context, t *turn, text string) (result, error) {
	qty, err := parseQuantity(text)
	if err != nil || qty < 1 || qty > e.cfg.MaxQuantity {
		return stay(), e.out.Text(ctx, t.tc, t.to(), invalidQuantityText(e.cfg.MaxQuantity), "Invalid quantity")
	}

	dc := t.dc
	if dc.VariantID != "" {
		v, err := e.catalog.Variant(ctx, t.tc.StoreID, dc.VariantID)
		if errors.Is(err, catalog.ErrVariantNotFound) {
			return stay(), e.out.Text(ctx, t.tc, t.to(), variantUnavailableText, "Variant unavailable")
		}
		if err != nil {
			return stay(), err
		}
		if qty > v.StockQuantity {
			return stay(), e.out.Text(ctx, t.tc, t.to(), insufficientStockText(v.StockQuantity), "Insufficient stock")
		}
		dc.Price = v.Price
	}

	dc.Quantity = qty
	dc.Cart = []CartItem{{
		ProductID:   dc.ProductID,
		ProductName: dc.ProductName,
		VariantID:   dc.VariantID,
		VariantName: dc.VariantName,
		UnitPrice:   dc.Price,
		Quantity:    qty,
	}}
	dc.TotalAmount = cartTotal(dc.Cart)

	if err := e.out.Text(ctx, t.tc, t.to(), addressPrompt(dc, e.cfg.CurrencySymbol), "Address prompt"); err != nil {
		return stay(), err
	}
	return moveTo(StateCartActive, dc), nil
}

func (e *Engine) acceptAddress(ctx context.Context, t *turn, text string) (result, error) {
	if !t.dc.HasCart() {
		return e.sendMainMenu(ctx, t)
	}
	if len([]rune(text)) < minAddressLength {
		return stay(), e.out.Text(ctx, t.tc, t.to(), invalidAddressText, "Invalid address")
	}
	if r := []rune(text); len(r) > maxAddressLength {
		text = string(r[:maxAddressLength])
	}

	dc := t.dc
	dc.Address = text
	dc.TotalAmount = cartTotal(dc.Cart)
	if err := e.sendSummary(ctx, t, dc); err != nil {
		return stay(), err
	}
	return moveTo(StateAwaitingConfirmation, dc), nil
}

func (e *Engine) sendSummary(ctx context.Context, t *turn, dc DialogContext) error {
	return e.out.Buttons(ctx, t.tc, t.to(), summaryText(dc, e.cfg.CurrencySymbol), confirmButtons(), "Order summary")
}

func (e *Engine) resumeCheckout(ctx context.Context, t *turn) (result, error) {
	if !t.dc.HasCart() {
		return e.sendMainMenu(ctx, t)
	}
	if err := e.out.Text(ctx, t.tc, t.to(), resumePrompt(t.dc, e.cfg.CurrencySymbol), "Address prompt"); err != nil {
		return stay(), err
	}
	return moveTo(StateAwaitingAddress, t.dc), nil
}

func (e *Engine) cancel(ctx context.Context, t *turn) (result, error) {
	if err := e.out.Text(ctx, t.tc, t.to(), cancelledText, "Order cancelled"); err != nil {
		return stay(), err
	}
	return cleared(), nil
}

func parseQuantity(text string) (int, error) {
	match := quantityRegex.FindString(strings.TrimSpace(text))
	if match == "" {
		return 0, fmt.Errorf("no numeric value")
	}
	if strings.ContainsAny(match, ".,") {
		return 0, errNotWholeNumber
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, err
	}
	return n, nil
}
