package convo

import (
	"fmt"
	"strings"

	"chatshop/internal/catalog"
	"chatshop/internal/razorpay"
	"chatshop/internal/repo"
	"chatshop/internal/wa"
)

const (
	catalogButtonLabel = "View Products"
	variantButtonLabel = "Choose Option"

	emptyCatalogText       = "There are no products available right now. Please check back soon."
	productUnavailableText = "Sorry, that product is no longer available. Tap Browse Products to see what is in stock."
	variantUnavailableText = "Sorry, that option is not available. Please pick one from the list."
	invalidAddressText     = "Please send your full delivery address, including street, city and PIN code."
	nothingToConfirmText   = "There is no order waiting for confirmation. Type hi to start shopping."
	cancelledText          = "Your order has been cancelled. Type hi whenever you want to shop again."
	checkoutFailedText     = "Sorry, we could not place your order right now. Please tap Confirm again in a few minutes."
)

func mainMenuButtons() []wa.Button {
	return []wa.Button{
		{ID: ButtonBrowse, Title: "Browse Products"},
		{ID: ButtonTrackOrder, Title: "Track Order"},
		{ID: ButtonSupport, Title: "Contact Support"},
	}
}

func confirmButtons() []wa.Button {
	return []wa.Button{
		{ID: ButtonConfirm, Title: "Confirm Order"},
		{ID: ButtonCancel, Title: "Cancel"},
	}
}

// RecoveryButtons are attached to abandoned cart reminders.
func RecoveryButtons() []wa.Button {
	return []wa.Button{
		{ID: ButtonResumeCheckout, Title: "Complete Order"},
		{ID: ButtonCancel, Title: "Cancel"},
	}
}

func welcomeText(store, name string) string {
	greeting := "Hello"
	if name != "" && name != "Customer" {
		greeting += " " + name
	}
	return fmt.Sprintf("%s! Welcome to %s.\n\nWhat would you like to do today?", greeting, store)
}

func supportText(store string) string {
	return fmt.Sprintf("Need help? Reply here with your question and the %s team will get back to you shortly.", store)
}

func catalogText(store string) string {
	return fmt.Sprintf("Here is what %s has for you. Tap %s and pick a product.", store, catalogButtonLabel)
}

func searchText(query string) string {
	return fmt.Sprintf("Products matching \"%s\":", wa.Truncate(query, 40))
}

func variantText(product string) string {
	return fmt.Sprintf("%s comes in a few options. Which one would you like?", product)
}

func outOfStockText(name string) string {
	return fmt.Sprintf("Sorry, %s is out of stock right now. Please choose something else.", name)
}

func quantityPrompt(dc DialogContext, symbol string, stock, maxQty int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nPrice: %s", dc.ItemLabel(), catalog.FormatAmount(symbol, dc.Price))
	if stock >= 0 {
		fmt.Fprintf(&b, "\nIn stock: %d", stock)
	}
	fmt.Fprintf(&b, "\n\nHow many would you like? Reply with a number from 1 to %d.", maxQty)
	return b.String()
}

func invalidQuantityText(maxQty int) string {
	return fmt.Sprintf("Please reply with a quantity between 1 and %d.", maxQty)
}

func insufficientStockText(stock int) string {
	return fmt.Sprintf("Only %d left in stock. Please enter a smaller quantity.", stock)
}

func addressPrompt(dc DialogContext, symbol string) string {
	return fmt.Sprintf("%d x %s = %s added to your cart.\n\nPlease send your delivery address to continue.",
		dc.Quantity, dc.ItemLabel(), catalog.FormatAmount(symbol, dc.TotalAmount))
}

func resumePrompt(dc DialogContext, symbol string) string {
	return fmt.Sprintf("Welcome back! Your cart: %d x %s = %s.\n\nPlease send your delivery address to complete the order.",
		dc.Quantity, dc.ItemLabel(), catalog.FormatAmount(symbol, dc.TotalAmount))
}

func summaryText(dc DialogContext, symbol string) string {
	var b strings.Builder
	b.WriteString("Order summary\n\n")
	for _, item := range dc.Cart {
		label := item.ProductName
		if item.VariantName != "" {
			label += " (" + item.VariantName + ")"
		}
		fmt.Fprintf(&b, "%s\n%d x %s\n", label, item.Quantity, catalog.FormatAmount(symbol, item.UnitPrice))
	}
	fmt.Fprintf(&b, "\nTotal: %s\nDeliver to: %s\n\nPlease confirm your order.", catalog.FormatAmount(symbol, dc.TotalAmount), dc.Address)
	return b.String()
}

func paymentLinkText(order *repo.Order, link *razorpay.PaymentLink, symbol string) string {
	return fmt.Sprintf("Order %s placed!\n\nAmount: %s\nPay here: %s\n\nWe will confirm as soon as the payment is received.",
		order.OrderNumber, catalog.FormatAmount(symbol, order.TotalAmount), link.ShortURL)
}

func soldOutAtCheckoutText(item string) string {
	return fmt.Sprintf("Sorry, %s sold out while you were checking out, so the order was not placed. Type hi to pick something else.", item)
}

// RecoveryText is the abandoned cart reminder for a dialog context.
func RecoveryText(dc DialogContext, store, symbol string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You left something in your cart at %s:\n", store)
	for _, item := range dc.Cart {
		label := item.ProductName
		if item.VariantName != "" {
			label += " (" + item.VariantName + ")"
		}
		fmt.Fprintf(&b, "- %d x %s\n", item.Quantity, label)
	}
	fmt.Fprintf(&b, "\nTotal: %s. Tap Complete Order to finish checking out.", catalog.FormatAmount(symbol, cartTotal(dc.Cart)))
	return b.String()
}

func ordersText(recent []repo.OrderSummary, symbol string) string {
	if len(recent) == 0 {
		return "You have no orders yet. Tap Browse Products to start shopping."
	}
	var b strings.Builder
	b.WriteString("Your recent orders:\n")
	for _, o := range recent {
		label := o.ProductName
		if o.VariantName != "" {
			label += " (" + o.VariantName + ")"
		}
		fmt.Fprintf(&b, "\n%s\n%d x %s - %s\nStatus: %s\n", o.OrderNumber, o.Quantity, label,
			catalog.FormatAmount(symbol, o.TotalAmount), strings.ToUpper(o.Status))
	}
	return strings.TrimSpace(b.String())
}
