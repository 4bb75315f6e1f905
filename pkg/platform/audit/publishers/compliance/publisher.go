// Package compliance provides a fail-closed audit publisher for regulatory events.
//
// Events are written synchronously and the caller blocks until the write
// succeeds. If the write fails, an error is returned and the calling operation
// MUST fail. Emitting inside a store transaction makes the event commit or roll
// back together with the change it records.
//
// Use for: consent_granted, consent_revoked, consent_deleted
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	audit "privileges/pkg/platform/audit"
)

// Publisher emits compliance events with fail-closed semantics.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithClock overrides the timestamp source for events without one.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit synchronously writes a compliance event to the audit store.
// Returns error if persistence fails; the caller MUST fail its operation.
func (p *Publisher) Emit(ctx context.Context, event audit.ComplianceEvent) error {
	return p.EmitAll(ctx, []audit.ComplianceEvent{event})
}

// EmitAll validates every event before writing any, then persists them in one
// store call so a failure leaves none of them behind.
func (p *Publisher) EmitAll(ctx context.Context, events []audit.ComplianceEvent) error {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()

	batch := make([]audit.Event, 0, len(events))
	for _, event := range events {
		if event.UserID.IsNil() {
			return fmt.Errorf("compliance event requires UserID")
		}
		if event.Action == "" {
			return fmt.Errorf("compliance event requires Action")
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = p.now()
		}
		batch = append(batch, event.ToEvent())
	}

	var err error
	if len(batch) == 1 {
		err = p.store.Append(ctx, batch[0])
	} else {
		err = p.store.AppendAll(ctx, batch)
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.IncPersistFailures()
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: compliance audit failed",
				"action", events[0].Action,
				"user_id", events[0].UserID,
				"events", len(events),
				"error", err,
			)
		}
		return fmt.Errorf("compliance audit persistence failed: %w", err)
	}

	if p.metrics != nil {
		p.metrics.ObservePersistDuration(time.Since(start).Seconds())
		p.metrics.AddEventsEmitted(len(batch))
	}
	return nil
}
