package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatshop/internal/cache"
	"chatshop/internal/metrics"
	"chatshop/internal/repo"
	"chatshop/internal/tenant"
	"chatshop/internal/wa"
)

// TenantResolver maps a routing id to a store.
type TenantResolver interface {
	ResolveByRoutingID(ctx context.Context, routingID string) (tenant.Context, error)
}

// Contacts is the customer registry and message log.
type Contacts interface {
	UpsertCustomer(ctx context.Context, profile repo.CustomerProfile) (*repo.Customer, error)
	InsertMessage(ctx context.Context, msg repo.MessageRecord) error
}

// Deduper remembers inbound message ids.
type Deduper interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ReadMarker marks inbound messages as read on the transport.
type ReadMarker interface {
	MarkRead(ctx context.Context, creds wa.Credentials, messageID string) error
}

// ProcessorConfig tunes inbound handling.
type ProcessorConfig struct {
	EventTimeout time.Duration
	DedupeTTL    time.Duration
}

// Processor is the inbound pipeline: resolve the store, drop redeliveries,
// register the customer, log the message, then run the engine.
type Processor struct {
	tenants  TenantResolver
	contacts Contacts
	dedupe   Deduper
	reader   ReadMarker
	engine   *Engine
	cfg      ProcessorConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

var _ wa.InboundProcessor = (*Processor)(nil)

// NewProcessor builds the inbound pipeline. dedupe and reader may be nil.
func NewProcessor(tenants TenantResolver, contacts Contacts, dedupe Deduper, reader ReadMarker, engine *Engine, cfg ProcessorConfig, logger *slog.Logger, m *metrics.Metrics) *Processor {
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 30 * time.Second
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 24 * time.Hour
	}
	return &Processor{
		tenants:  tenants,
		contacts: contacts,
		dedupe:   dedupe,
		reader:   reader,
		engine:   engine,
		cfg:      cfg,
		logger:   logger.With("component", "ingest"),
		metrics:  m,
		now:      time.Now,
	}
}

// HandleInbound implements wa.InboundProcessor.
func (p *Processor) HandleInbound(ctx context.Context, evt wa.InboundEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.EventTimeout)
	defer cancel()

	tc, err := p.tenants.ResolveByRoutingID(ctx, evt.RoutingID)
	if errors.Is(err, tenant.ErrUnknownRoutingID) {
		p.logger.Warn("dropping message for unknown routing id", "routing_id", evt.RoutingID, "message_id", evt.MessageID)
		return nil
	}
	if err != nil {
		p.metrics.IncError("ingest")
		return fmt.Errorf("resolve tenant: %w", err)
	}
	logger := p.logger.With("store_id", tc.StoreID, "contact", evt.From)

	if p.dedupe != nil && evt.MessageID != "" {
		first, err := p.dedupe.MarkOnce(ctx, cache.Key("dedupe", tc.StoreID, evt.MessageID), p.cfg.DedupeTTL)
		switch {
		case err != nil:
			logger.Warn("dedupe unavailable, processing anyway", "error", err)
		case !first:
			logger.Debug("skipping redelivered message", "message_id", evt.MessageID)
			return nil
		}
	}

	if p.metrics != nil {
		p.metrics.WAIncomingMessages.WithLabelValues(evt.Kind).Inc()
	}

	at := evt.Timestamp
	if at.IsZero() {
		at = p.now()
	}
	customer, err := p.contacts.UpsertCustomer(ctx, repo.CustomerProfile{
		StoreID:    tc.StoreID,
		Phone:      evt.From,
		Name:       evt.ProfileName,
		WhatsAppID: evt.From,
		At:         at.UTC(),
	})
	if err != nil {
		p.metrics.IncError("ingest")
		return fmt.Errorf("upsert customer: %w", err)
	}

	if err := p.contacts.InsertMessage(ctx, repo.MessageRecord{
		StoreID:       tc.StoreID,
		CustomerPhone: evt.From,
		Direction:     repo.DirectionInbound,
		Body:          evt.Body(),
		Type:          evt.RawType,
		MessageID:     evt.MessageID,
		CreatedAt:     at.UTC(),
	}); err != nil {
		logger.Warn("inbound message not logged", "error", err)
	}

	if p.reader != nil && evt.MessageID != "" {
		if err := p.reader.MarkRead(ctx, tc.WhatsApp, evt.MessageID); err != nil {
			logger.Debug("mark read failed", "message_id", evt.MessageID, "error", err)
		}
	}

	if err := p.engine.Process(ctx, tc, customer, evt); err != nil {
		p.metrics.IncError("convo")
		logger.Error("conversation step failed", "kind", evt.Kind, "error", err)
		return err
	}
	return nil
}
