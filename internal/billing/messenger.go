package billing

import (
	"context"

	"chatshop/internal/tenant"
	"chatshop/internal/wa"
)

// Message types recorded in the message log.
const (
	TypeText        = "text"
	TypeInteractive = "interactive"
	TypeImage       = "image"
)

// Messenger sends WhatsApp messages on behalf of a tenant and bills each one.
type Messenger struct {
	ledger *Ledger
	sender wa.Sender
}

// NewMessenger pairs a ledger with a transport.
func NewMessenger(ledger *Ledger, sender wa.Sender) *Messenger {
	return &Messenger{ledger: ledger, sender: sender}
}

// Text sends a billed text message.
func (m *Messenger) Text(ctx context.Context, tc tenant.Context, to, body, label string) error {
	_, err := m.ledger.SendWithBilling(ctx, tc, Message{To: to, Body: body, Type: TypeText, Label: label},
		func(ctx context.Context) (wa.SendResponse, error) {
			return m.sender.SendText(ctx, tc.WhatsApp, to, body)
		})
	return err
}

// Buttons sends a billed reply-button message.
func (m *Messenger) Buttons(ctx context.Context, tc tenant.Context, to, body string, buttons []wa.Button, label string) error {
	_, err := m.ledger.SendWithBilling(ctx, tc, Message{To: to, Body: body, Type: TypeInteractive, Label: label},
		func(ctx context.Context) (wa.SendResponse, error) {
			return m.sender.SendButtons(ctx, tc.WhatsApp, to, body, buttons)
		})
	return err
}

// List sends a billed list message.
func (m *Messenger) List(ctx context.Context, tc tenant.Context, to, body, buttonLabel string, sections []wa.Section, label string) error {
	_, err := m.ledger.SendWithBilling(ctx, tc, Message{To: to, Body: body, Type: TypeInteractive, Label: label},
		func(ctx context.Context) (wa.SendResponse, error) {
			return m.sender.SendList(ctx, tc.WhatsApp, to, body, buttonLabel, sections)
		})
	return err
}

// Image sends a billed image message.
func (m *Messenger) Image(ctx context.Context, tc tenant.Context, to, imageURL, caption, label string) error {
	_, err := m.ledger.SendWithBilling(ctx, tc, Message{To: to, Body: caption, Type: TypeImage, Label: label},
		func(ctx context.Context) (wa.SendResponse, error) {
			return m.sender.SendImage(ctx, tc.WhatsApp, to, imageURL, caption)
		})
	return err
}
