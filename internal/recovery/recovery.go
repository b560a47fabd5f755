// Package recovery nudges customers who left a cart before checking out.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"chatshop/internal/convo"
	"chatshop/internal/metrics"
	"chatshop/internal/repo"
	"chatshop/internal/tenant"
	"chatshop/internal/wa"
)

const (
	defaultInterval  = time.Hour
	defaultMinIdle   = time.Hour
	defaultMaxIdle   = 24 * time.Hour
	defaultBatchSize = 500
)

// Conversations is the dialog store the sweep reads and claims rows from.
type Conversations interface {
	ListIdleConversations(ctx context.Context, state string, updatedBefore, updatedAfter time.Time, limit int) ([]repo.Conversation, error)
	TransitionConversation(ctx context.Context, id, from, to string, version int64, at time.Time) (bool, error)
}

// Tenants loads stores by id.
type Tenants interface {
	ByID(ctx context.Context, storeID string) (tenant.Context, error)
}

// Reminder sends the billed reminder.
type Reminder interface {
	Buttons(ctx context.Context, tc tenant.Context, to, body string, buttons []wa.Button, label string) error
}

// Config controls the sweep cadence and idle window.
type Config struct {
	Interval       time.Duration
	MinIdle        time.Duration
	MaxIdle        time.Duration
	BatchSize      int
	CurrencySymbol string
}

// Report summarises one sweep.
type Report struct {
	Scanned int
	Sent    int
	Skipped int
	Failed  int
}

// Service runs the abandoned cart sweep.
type Service struct {
	convs    Conversations
	tenants  Tenants
	reminder Reminder
	contacts *convo.KeyLock
	lock     Lock
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New builds the sweep. contacts is the engine's per-contact lock table; lock
// guards against concurrent sweeps across instances.
func New(convs Conversations, tenants Tenants, reminder Reminder, contacts *convo.KeyLock, lock Lock, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MinIdle <= 0 {
		cfg.MinIdle = defaultMinIdle
	}
	if cfg.MaxIdle <= cfg.MinIdle {
		cfg.MaxIdle = defaultMaxIdle
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if contacts == nil {
		contacts = convo.NewKeyLock()
	}
	if lock == nil {
		lock = &LocalLock{}
	}
	return &Service{
		convs:    convs,
		tenants:  tenants,
		reminder: reminder,
		contacts: contacts,
		lock:     lock,
		cfg:      cfg,
		logger:   logger.With("component", "recovery"),
		metrics:  m,
		now:      time.Now,
	}
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.runCycle(ctx)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("recovery sweep stopped")
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Service) runCycle(ctx context.Context) {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		s.logger.Error("recovery lock acquire failed", "error", err)
		return
	}
	if !locked {
		s.logger.Info("another instance is sweeping; skipping this cycle")
		return
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("failed to release recovery lock", "error", err)
		}
	}()

	report, err := s.Sweep(ctx)
	if err != nil {
		s.metrics.IncError("recovery")
		s.logger.Error("recovery sweep finished with errors", "scanned", report.Scanned, "sent", report.Sent, "failed", report.Failed, "error", err)
		return
	}
	s.logger.Info("recovery sweep complete", "scanned", report.Scanned, "sent", report.Sent, "skipped", report.Skipped)
}

// Sweep sends one reminder to every cart_active conversation idle between
// MinIdle and MaxIdle and moves it to recovery_sent.
func (s *Service) Sweep(ctx context.Context) (Report, error) {
	start := s.now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		}
	}()

	now := start.UTC()
	candidates, err := s.convs.ListIdleConversations(ctx, convo.StateCartActive, now.Add(-s.cfg.MinIdle), now.Add(-s.cfg.MaxIdle), s.cfg.BatchSize)
	if err != nil {
		return Report{}, fmt.Errorf("list idle conversations: %w", err)
	}

	report := Report{Scanned: len(candidates)}
	var errs error
	for _, conv := range candidates {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		outcome, err := s.nudge(ctx, conv)
		s.count(outcome)
		switch outcome {
		case "sent":
			report.Sent++
		case "failed":
			report.Failed++
			errs = multierr.Append(errs, err)
		default:
			report.Skipped++
		}
	}
	return report, errs
}

func (s *Service) nudge(ctx context.Context, conv repo.Conversation) (string, error) {
	logger := s.logger.With("store_id", conv.StoreID, "contact", conv.CustomerPhone)

	dc, err := convo.DecodeContext(conv.Context)
	if err != nil || !dc.HasCart() {
		return "skipped_empty", nil
	}

	unlock, ok := s.contacts.TryLock(convo.ContactKey(conv.StoreID, conv.CustomerPhone))
	if !ok {
		logger.Debug("contact busy, skipping reminder")
		return "skipped_busy", nil
	}
	defer unlock()

	tc, err := s.tenants.ByID(ctx, conv.StoreID)
	if err != nil {
		return "failed", fmt.Errorf("load store %s: %w", conv.StoreID, err)
	}

	claimed, err := s.convs.TransitionConversation(ctx, conv.ID, convo.StateCartActive, convo.StateRecoverySent, conv.Version, s.now().UTC())
	if err != nil {
		return "failed", fmt.Errorf("claim conversation %s: %w", conv.ID, err)
	}
	if !claimed {
		logger.Debug("conversation moved on before reminder")
		return "skipped_moved", nil
	}

	body := convo.RecoveryText(dc, tc.StoreName, s.cfg.CurrencySymbol)
	if err := s.reminder.Buttons(ctx, tc, conv.CustomerPhone, body, convo.RecoveryButtons(), "Cart reminder"); err != nil {
		// Put the row back with its old timestamp so a later sweep can retry.
		if _, revertErr := s.convs.TransitionConversation(ctx, conv.ID, convo.StateRecoverySent, convo.StateCartActive, conv.Version+1, conv.UpdatedAt); revertErr != nil {
			err = multierr.Append(err, revertErr)
		}
		logger.Warn("cart reminder not sent", "error", err)
		return "failed", fmt.Errorf("remind %s: %w", conv.CustomerPhone, err)
	}

	logger.Info("cart reminder sent", "items", len(dc.Cart))
	return "sent", nil
}

func (s *Service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.RecoveryNudges.WithLabelValues(outcome).Inc()
	}
}
