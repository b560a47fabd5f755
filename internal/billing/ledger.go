// Package billing meters outbound WhatsApp sends against the tenant wallet.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"chatshop/internal/config"
	"chatshop/internal/metrics"
	"chatshop/internal/repo"
	"chatshop/internal/tenant"
	"chatshop/internal/wa"
)

// UsageTypeMessage labels usage log rows written for billed sends.
const UsageTypeMessage = "message"

// ErrInsufficientBalance is returned in strict mode when the wallet cannot cover a send.
var ErrInsufficientBalance = errors.New("billing: insufficient wallet balance")

// Wallet is the persistence the ledger needs.
type Wallet interface {
	GetWalletBalance(ctx context.Context, storeID string) (decimal.Decimal, error)
	RecordBilledSend(ctx context.Context, send repo.BilledSend) (decimal.Decimal, error)
}

// SendFunc performs the actual transport call.
type SendFunc func(ctx context.Context) (wa.SendResponse, error)

// Message describes what is being sent, for the message log and usage details.
type Message struct {
	To    string
	Body  string
	Type  string
	Label string
}

// Ledger wraps outbound sends with balance checks, wallet debits and usage logging.
type Ledger struct {
	wallet  Wallet
	strict  bool
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewLedger creates a ledger. mode is config.BillingModeAdvisory or config.BillingModeStrict.
func NewLedger(wallet Wallet, mode string, logger *slog.Logger, m *metrics.Metrics) *Ledger {
	return &Ledger{
		wallet:  wallet,
		strict:  mode == config.BillingModeStrict,
		logger:  logger.With("component", "billing"),
		metrics: m,
		now:     time.Now,
	}
}

// SendWithBilling checks the wallet, sends, and on success records the message,
// debits the wallet by the tenant message cost and appends a usage log entry.
// A failed send is never charged.
func (l *Ledger) SendWithBilling(ctx context.Context, tc tenant.Context, msg Message, send SendFunc) (wa.SendResponse, error) {
	cost := tc.MessageCost

	balance, err := l.wallet.GetWalletBalance(ctx, tc.StoreID)
	switch {
	case err != nil && l.strict:
		return wa.SendResponse{}, fmt.Errorf("read wallet balance: %w", err)
	case err != nil:
		l.logger.Warn("wallet balance unavailable, sending anyway", "store_id", tc.StoreID, "error", err)
	case balance.LessThan(cost):
		if l.strict {
			l.count(msg.Type, "rejected")
			l.logger.Warn("insufficient wallet balance, send blocked", "store_id", tc.StoreID, "balance", balance.String(), "cost", cost.String(), "label", msg.Label)
			return wa.SendResponse{}, fmt.Errorf("%w: balance %s, cost %s", ErrInsufficientBalance, balance, cost)
		}
		l.logger.Warn("insufficient wallet balance", "store_id", tc.StoreID, "balance", balance.String(), "cost", cost.String(), "label", msg.Label)
	}

	resp, err := send(ctx)
	if err != nil {
		l.count(msg.Type, "failed")
		l.metrics.IncError("wa_send")
		l.logger.Error("send failed, not billed", "store_id", tc.StoreID, "to", msg.To, "label", msg.Label, "error", err)
		return wa.SendResponse{}, err
	}

	after, err := l.wallet.RecordBilledSend(ctx, repo.BilledSend{
		StoreID:            tc.StoreID,
		CustomerPhone:      msg.To,
		Body:               msg.Body,
		MessageType:        msg.Type,
		TransportMessageID: resp.MessageID,
		Cost:               cost,
		UsageType:          UsageTypeMessage,
		Details:            fmt.Sprintf("%s to %s", msg.Label, msg.To),
		At:                 l.now().UTC(),
	})
	if err != nil {
		l.count(msg.Type, "unrecorded")
		l.metrics.IncError("billing")
		return resp, fmt.Errorf("record billed send: %w", err)
	}

	l.count(msg.Type, "billed")
	if l.metrics != nil {
		l.metrics.BilledCost.Add(cost.InexactFloat64())
	}
	l.logger.Debug("billed send", "store_id", tc.StoreID, "label", msg.Label, "cost", cost.String(), "balance_after", after.String())
	return resp, nil
}

func (l *Ledger) count(msgType, outcome string) {
	if l.metrics != nil {
		l.metrics.BilledSends.WithLabelValues(msgType, outcome).Inc()
	}
}
