package orders

import (
	"fmt"

	"chatshop/internal/catalog"
	"chatshop/internal/repo"
)

func statusMessage(order *repo.Order, currency string) (string, bool) {
	switch order.Status {
	case repo.OrderStatusConfirmed:
		return fmt.Sprintf("Your order %s has been confirmed by the store.", order.OrderNumber), true
	case repo.OrderStatusShipped:
		return fmt.Sprintf("Good news! Your order %s is on its way.", order.OrderNumber), true
	case repo.OrderStatusDelivered:
		return fmt.Sprintf("Your order %s has been delivered. Thank you for shopping with us!", order.OrderNumber), true
	case repo.OrderStatusCancelled:
		return fmt.Sprintf("Your order %s (%s) has been cancelled. Type hi to start again.",
			order.OrderNumber, catalog.FormatAmount(currency, order.TotalAmount)), true
	}
	return "", false
}

func paidMessage(order *repo.Order, currency string) string {
	return fmt.Sprintf("Payment of %s received for order %s. We will let you know when it ships.",
		catalog.FormatAmount(currency, order.TotalAmount), order.OrderNumber)
}

func failedMessage(order *repo.Order) string {
	msg := fmt.Sprintf("The payment for order %s did not go through.", order.OrderNumber)
	if order.PaymentLinkURL != "" {
		msg += " You can try again here: " + order.PaymentLinkURL
	}
	return msg
}
