package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"privileges/internal/consent/metrics"
	"privileges/internal/consent/models"
	"privileges/internal/privilege"
	id "privileges/pkg/domain"
	dErrors "privileges/pkg/domain-errors"
	"privileges/pkg/platform/audit"
	"privileges/pkg/requestcontext"
)

type change struct {
	key     id.PrivilegeKey
	granted bool
}

// errAudit marks a compliance write failure inside a transaction.
var errAudit = errors.New("compliance audit failed")

// Apply sets each privilege in changes to the given value for the user and
// returns the updated view. Keys not in changes are left alone.
//
// Every key is checked against the catalog before anything is written; one
// unknown key rejects the whole batch. With a transaction runner the batch is
// all-or-nothing. Without one, writes happen in catalog order and stop at the
// first failure, which is reported as a *PartialApplicationError when some
// writes already committed.
func (s *Service) Apply(ctx context.Context, userID id.UserID, changes map[id.PrivilegeKey]bool) ([]models.Entry, error) {
	return s.ApplyWithNotes(ctx, userID, changes, "")
}

// ApplyWithNotes is Apply with notes stored on every changed record. Empty
// notes keep whatever each record already holds.
func (s *Service) ApplyWithNotes(ctx context.Context, userID id.UserID, changes map[id.PrivilegeKey]bool, notes string) ([]models.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "consent.Apply", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.Int("changes", len(changes)),
		attribute.Bool("transactional", s.tx != nil),
	))
	defer span.End()
	if s.metrics != nil {
		defer s.metrics.ObserveApply(time.Now())
	}

	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}

	ordered, err := s.orderChanges(changes)
	if err != nil {
		s.incFailure(metrics.ReasonUnknownPrivilege)
		recordSpanError(span, err)
		return nil, err
	}
	if len(ordered) == 0 {
		return s.Resolve(ctx, userID)
	}

	now := requestcontext.Now(ctx)
	if s.tx != nil {
		err = s.applyInTx(ctx, userID, ordered, notes, now)
	} else {
		err = s.applySequential(ctx, userID, ordered, notes, now)
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return s.Resolve(ctx, userID)
}

// orderChanges validates keys and returns the changes in catalog order.
func (s *Service) orderChanges(changes map[id.PrivilegeKey]bool) ([]change, error) {
	defs := s.catalog.All()
	known := make(map[id.PrivilegeKey]struct{}, len(defs))
	for _, def := range defs {
		known[def.Key] = struct{}{}
	}

	var unknown []id.PrivilegeKey
	for key := range changes {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
		unknownErr := &privilege.UnknownPrivilegeError{Keys: unknown}
		return nil, dErrors.Wrap(unknownErr, dErrors.CodeUnknownPrivilege, unknownErr.Error())
	}

	ordered := make([]change, 0, len(changes))
	for _, def := range defs {
		if granted, ok := changes[def.Key]; ok {
			ordered = append(ordered, change{key: def.Key, granted: granted})
		}
	}
	return ordered, nil
}

func (s *Service) applyInTx(ctx context.Context, userID id.UserID, ordered []change, notes string, now time.Time) error {
	err := s.tx.RunInTx(ctx, func(txCtx context.Context, store Store) error {
		for _, c := range ordered {
			if _, err := store.Upsert(txCtx, userID, c.key, c.granted, notes, now); err != nil {
				return err
			}
		}
		if s.auditor == nil {
			return nil
		}
		// One batch after all writes: an audit store outside the transaction
		// either keeps every event or none.
		events := make([]audit.ComplianceEvent, 0, len(ordered))
		for _, c := range ordered {
			events = append(events, complianceEvent(txCtx, userID, actionFor(c.granted), c.key, decisionFor(c.granted)))
		}
		if err := s.auditor.EmitAll(txCtx, events); err != nil {
			return errors.Join(errAudit, err)
		}
		return nil
	})
	// The write may have committed even when RunInTx reports a late error, so
	// cached reads are dropped either way.
	s.forget(userID)
	if err != nil {
		if errors.Is(err, errAudit) {
			s.incFailure(metrics.ReasonAudit)
		} else {
			s.incFailure(metrics.ReasonStorage)
		}
		s.logger.ErrorContext(ctx, "privilege batch rolled back",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID.String(),
			"error", err,
		)
		if dErrors.HasCode(err, dErrors.CodeTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "privilege changes timed out")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply privilege changes")
	}
	for _, c := range ordered {
		s.recordApplied(c)
	}
	return nil
}

func (s *Service) applySequential(ctx context.Context, userID id.UserID, ordered []change, notes string, now time.Time) error {
	committed := make([]id.PrivilegeKey, 0, len(ordered))
	defer s.forget(userID)

	for _, c := range ordered {
		if _, err := s.store.Upsert(ctx, userID, c.key, c.granted, notes, now); err != nil {
			if len(committed) == 0 {
				s.incFailure(metrics.ReasonStorage)
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply privilege changes")
			}
			s.incFailure(metrics.ReasonPartial)
			s.logger.ErrorContext(ctx, "privilege batch partially applied",
				"request_id", requestcontext.RequestID(ctx),
				"user_id", userID.String(),
				"committed", len(committed),
				"failed", c.key.String(),
				"error", err,
			)
			return dErrors.Wrap(&PartialApplicationError{
				Committed: committed,
				Failed:    c.key,
				Err:       err,
			}, dErrors.CodePartialApplication, "privilege changes partially applied")
		}
		committed = append(committed, c.key)
		s.recordApplied(c)
		// The change is already durable; a lost audit entry cannot undo it.
		if err := s.emitCompliance(ctx, userID, actionFor(c.granted), c.key, decisionFor(c.granted)); err != nil {
			s.logger.ErrorContext(ctx, "compliance audit failed after commit",
				"request_id", requestcontext.RequestID(ctx),
				"user_id", userID.String(),
				"privilege", c.key.String(),
				"error", err,
			)
		}
	}
	return nil
}

// Grant sets every key to granted.
func (s *Service) Grant(ctx context.Context, userID id.UserID, keys ...id.PrivilegeKey) ([]models.Entry, error) {
	return s.Apply(ctx, userID, uniform(keys, true))
}

// Revoke sets every key to not granted.
func (s *Service) Revoke(ctx context.Context, userID id.UserID, keys ...id.PrivilegeKey) ([]models.Entry, error) {
	return s.Apply(ctx, userID, uniform(keys, false))
}

func uniform(keys []id.PrivilegeKey, granted bool) map[id.PrivilegeKey]bool {
	changes := make(map[id.PrivilegeKey]bool, len(keys))
	for _, k := range keys {
		changes[k] = granted
	}
	return changes
}

func (s *Service) recordApplied(c change) {
	if s.metrics != nil {
		s.metrics.IncChangeApplied(c.key.String(), c.granted)
	}
}

func actionFor(granted bool) audit.AuditEvent {
	if granted {
		return audit.EventConsentGranted
	}
	return audit.EventConsentRevoked
}

func decisionFor(granted bool) string {
	if granted {
		return "granted"
	}
	return "revoked"
}
