package convo

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"chatshop/internal/catalog"
	"chatshop/internal/orders"
	"chatshop/internal/razorpay"
	"chatshop/internal/repo"
)

// ReconcileNotePrefix marks orders an operator has to look at.
const ReconcileNotePrefix = "reconcile:"

// checkout tracks what the confirmation pipeline has done so far so a failed
// step can undo or flag the earlier ones.
type checkout struct {
	order    *repo.Order
	reserved bool
	link     *razorpay.PaymentLink
}

// confirm places the order: persist order, reserve stock, create the payment
// link, send it, clear the conversation.
func (e *Engine) confirm(ctx context.Context, t *turn) (result, error) {
	if !t.dc.HasCart() {
		return e.sendMainMenu(ctx, t)
	}
	item := t.dc.Cart[0]
	co := &checkout{}

	order, err := e.orders.CreateOrder(ctx, t.tc, orders.Draft{
		CustomerID:    t.customer.ID,
		CustomerPhone: t.to(),
		CustomerName:  t.customer.Name,
		ProductID:     item.ProductID,
		VariantID:     item.VariantID,
		Quantity:      item.Quantity,
		UnitPrice:     item.UnitPrice,
		Address:       t.dc.Address,
	})
	if err != nil {
		e.apologise(ctx, t)
		return stay(), fmt.Errorf("confirm: %w", err)
	}
	co.order = order

	if item.VariantID != "" {
		if _, err := e.catalog.Reserve(ctx, t.tc.StoreID, item.VariantID, item.Quantity); err != nil {
			return e.abortOutOfStock(ctx, t, co, err)
		}
		co.reserved = true
	}

	co.link, err = e.orders.CreatePaymentLink(ctx, t.tc, order)
	if err != nil {
		return stay(), e.compensate(ctx, t, co, "payment link failed", err)
	}

	if err := e.out.Text(ctx, t.tc, t.to(), paymentLinkText(order, co.link, e.cfg.CurrencySymbol), "Payment link"); err != nil {
		note := fmt.Sprintf("%s payment link %s was not delivered: %v", ReconcileNotePrefix, co.link.ID, err)
		err = multierr.Append(err, e.orders.Annotate(ctx, order.ID, note))
		err = multierr.Append(err, e.convs.ClearConversation(ctx, t.tc.StoreID, t.to()))
		e.logger.Error("payment link not delivered", "store_id", t.tc.StoreID, "order_number", order.OrderNumber, "error", err)
		return stay(), fmt.Errorf("confirm %s: %w", order.OrderNumber, err)
	}

	e.logger.Info("order placed", "store_id", t.tc.StoreID, "contact", t.to(), "order_number", order.OrderNumber, "total", order.TotalAmount.String(), "demo_link", co.link.Demo)
	return cleared(), nil
}

// abortOutOfStock cancels the fresh order when stock is gone and ends the dialog.
func (e *Engine) abortOutOfStock(ctx context.Context, t *turn, co *checkout, cause error) (result, error) {
	if !errors.Is(cause, catalog.ErrOutOfStock) && !errors.Is(cause, catalog.ErrVariantNotFound) {
		err := multierr.Append(cause, e.orders.Cancel(ctx, co.order, "cancelled: stock reservation failed"))
		e.apologise(ctx, t)
		return stay(), fmt.Errorf("confirm %s: reserve stock: %w", co.order.OrderNumber, err)
	}
	if err := e.orders.Cancel(ctx, co.order, "cancelled: out of stock at checkout"); err != nil {
		return stay(), fmt.Errorf("confirm %s: %w", co.order.OrderNumber, err)
	}
	if err := e.out.Text(ctx, t.tc, t.to(), soldOutAtCheckoutText(t.dc.ItemLabel()), "Out of stock"); err != nil {
		e.logger.Warn("out of stock notice not sent", "store_id", t.tc.StoreID, "contact", t.to(), "error", err)
	}
	return cleared(), nil
}

// compensate releases reserved stock and leaves the order pending with a
// reconciliation note. The customer keeps the confirmation step.
func (e *Engine) compensate(ctx context.Context, t *turn, co *checkout, step string, cause error) error {
	err := cause
	if co.reserved {
		item := t.dc.Cart[0]
		err = multierr.Append(err, e.catalog.Release(ctx, t.tc.StoreID, item.VariantID, item.Quantity))
	}
	note := fmt.Sprintf("%s %s: %v", ReconcileNotePrefix, step, cause)
	err = multierr.Append(err, e.orders.Annotate(ctx, co.order.ID, note))

	e.metrics.IncError("checkout")
	e.logger.Error("checkout failed, order left pending", "store_id", t.tc.StoreID, "order_number", co.order.OrderNumber, "step", step, "error", err)
	e.apologise(ctx, t)
	return fmt.Errorf("confirm %s: %w", co.order.OrderNumber, err)
}

func (e *Engine) apologise(ctx context.Context, t *turn) {
	if err := e.out.Text(ctx, t.tc, t.to(), checkoutFailedText, "Checkout failed"); err != nil {
		e.logger.Warn("checkout failure notice not sent", "store_id", t.tc.StoreID, "contact", t.to(), "error", err)
	}
}
