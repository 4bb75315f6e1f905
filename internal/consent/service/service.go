package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"privileges/internal/consent/metrics"
	"privileges/internal/consent/models"
	"privileges/internal/privilege"
	id "privileges/pkg/domain"
	dErrors "privileges/pkg/domain-errors"
	"privileges/pkg/platform/audit"
	"privileges/pkg/requestcontext"
)

// Catalog is the read side of the privilege catalog.
type Catalog interface {
	All() []privilege.Definition
	Get(key id.PrivilegeKey) (privilege.Definition, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
	EmitAll(ctx context.Context, events []audit.ComplianceEvent) error
}

// Service resolves and mutates per-user privilege consent. It keeps
// orchestration out of handlers; the merge rules live in models.Resolve.
type Service struct {
	catalog Catalog
	store   Store
	tx      ConsentStoreTx
	logger  *slog.Logger
	auditor AuditPublisher
	metrics *metrics.Metrics
	tracer  trace.Tracer
	reads   singleflight.Group
}

type Option func(*Service)

// WithTx enables atomic batches. Without a transaction runner the service
// runs in degraded mode and may report partial application.
func WithTx(tx ConsentStoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service. The catalog and store are required.
func New(catalog Catalog, store Store, opts ...Option) (*Service, error) {
	if catalog == nil {
		return nil, errors.New("privilege catalog is required")
	}
	if store == nil {
		return nil, errors.New("consent store is required")
	}
	s := &Service{
		catalog: catalog,
		store:   store,
		logger:  slog.Default(),
		tracer:  otel.Tracer("privileges/internal/consent/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Resolve returns the user's complete view: one entry per catalog privilege,
// in catalog order, with stored choices overriding defaults. It never writes.
func (s *Service) Resolve(ctx context.Context, userID id.UserID) ([]models.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "consent.Resolve",
		trace.WithAttributes(attribute.String("user_id", userID.String())))
	defer span.End()
	if s.metrics != nil {
		defer s.metrics.ObserveResolve(time.Now())
	}

	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}

	records, err := s.loadRecords(ctx, userID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return models.Resolve(s.catalog.All(), models.IndexByKey(records)), nil
}

// loadRecords coalesces concurrent reads for the same user. The shared read
// runs detached from any one caller's cancellation; each caller still stops
// waiting when its own context ends.
func (s *Service) loadRecords(ctx context.Context, userID id.UserID) ([]*models.Record, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.reads.DoChan(userID.String(), func() (any, error) {
		return s.store.FindAll(detached, userID)
	})
	select {
	case <-ctx.Done():
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "privilege lookup aborted")
	case res := <-ch:
		if res.Err != nil {
			return nil, dErrors.Wrap(res.Err, dErrors.CodeInternal, "failed to load privilege records")
		}
		records, ok := res.Val.([]*models.Record)
		if !ok && res.Val != nil {
			return nil, dErrors.New(dErrors.CodeInternal, "unexpected privilege record type")
		}
		return records, nil
	}
}

// forget drops any in-flight read so the next Resolve observes committed writes.
func (s *Service) forget(userID id.UserID) {
	s.reads.Forget(userID.String())
}

// Get resolves a single privilege for the user.
func (s *Service) Get(ctx context.Context, userID id.UserID, key id.PrivilegeKey) (models.Entry, error) {
	if userID.IsNil() {
		return models.Entry{}, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	def, err := s.catalog.Get(key)
	if err != nil {
		return models.Entry{}, dErrors.Wrap(err, dErrors.CodeNotFound, "privilege not found")
	}
	rec, err := s.store.Find(ctx, userID, key)
	if err != nil {
		return models.Entry{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load privilege record")
	}
	var records map[id.PrivilegeKey]*models.Record
	if rec != nil {
		records = map[id.PrivilegeKey]*models.Record{key: rec}
	}
	return models.Resolve([]privilege.Definition{def}, records)[0], nil
}

// IsGranted reports whether the privilege currently applies to the user.
func (s *Service) IsGranted(ctx context.Context, userID id.UserID, key id.PrivilegeKey) (bool, error) {
	entry, err := s.Get(ctx, userID, key)
	if err != nil {
		return false, err
	}
	return entry.Granted, nil
}

// Records returns the user's explicit records, orphans included, for export.
func (s *Service) Records(ctx context.Context, userID id.UserID) ([]*models.Record, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	records, err := s.store.FindAll(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load privilege records")
	}
	out := make([]*models.Record, 0, len(records))
	for _, r := range records {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *Service) emitCompliance(ctx context.Context, userID id.UserID, action audit.AuditEvent, key id.PrivilegeKey, decision string) error {
	if s.auditor == nil {
		return nil
	}
	return s.auditor.Emit(ctx, complianceEvent(ctx, userID, action, key, decision))
}

func complianceEvent(ctx context.Context, userID id.UserID, action audit.AuditEvent, key id.PrivilegeKey, decision string) audit.ComplianceEvent {
	event := audit.ComplianceEvent{
		Timestamp: requestcontext.Now(ctx),
		UserID:    userID,
		Subject:   userID.String(),
		Action:    string(action),
		Purpose:   key.String(),
		Decision:  decision,
		RequestID: requestcontext.RequestID(ctx),
	}
	if actor := requestcontext.UserID(ctx); !actor.IsNil() && actor != userID {
		event.ActorID = actor.String()
	}
	return event
}

func (s *Service) incFailure(reason string) {
	if s.metrics != nil {
		s.metrics.IncApplyFailure(reason)
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
