package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "privileges/pkg/domain"
	audit "privileges/pkg/platform/audit"
	txcontext "privileges/pkg/platform/tx"
)

// Store implements audit.Store on the consent_audit_events table. Appends
// join the ambient transaction when one is present in the context.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const insertEventQuery = `
	INSERT INTO consent_audit_events (
		id, category, timestamp, user_id, subject, action,
		purpose, decision, request_id, actor_id
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// Append inserts an audit event. The category is always derived from the
// action.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	return insertEvent(ctx, txcontext.ExecutorFor(ctx, s.db), event)
}

// AppendAll inserts the events in order inside the ambient transaction, or in
// a transaction of its own when there is none.
func (s *Store) AppendAll(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	if tx, ok := txcontext.From(ctx); ok {
		return insertEvents(ctx, tx, events)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit transaction: %w", err)
	}
	if err := insertEvents(ctx, tx, events); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit events: %w", err)
	}
	return nil
}

func insertEvents(ctx context.Context, exec txcontext.Executor, events []audit.Event) error {
	for _, event := range events {
		if err := insertEvent(ctx, exec, event); err != nil {
			return err
		}
	}
	return nil
}

func insertEvent(ctx context.Context, exec txcontext.Executor, event audit.Event) error {
	var userID *uuid.UUID
	if !event.UserID.IsNil() {
		uid := uuid.UUID(event.UserID)
		userID = &uid
	}

	_, err := exec.ExecContext(ctx, insertEventQuery,
		uuid.New(),
		string(audit.AuditEvent(event.Action).Category()),
		event.Timestamp,
		userID,
		event.Subject,
		event.Action,
		event.Purpose,
		event.Decision,
		event.RequestID,
		event.ActorID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByUser returns events for a user, oldest first.
func (s *Store) ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	query := `
		SELECT category, timestamp, user_id, subject, action,
			   purpose, decision, request_id, actor_id
		FROM consent_audit_events
		WHERE user_id = $1
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			category string
			event    audit.Event
			uid      *uuid.UUID
		)
		if err := rows.Scan(
			&category,
			&event.Timestamp,
			&uid,
			&event.Subject,
			&event.Action,
			&event.Purpose,
			&event.Decision,
			&event.RequestID,
			&event.ActorID,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		if uid != nil {
			event.UserID = id.UserID(*uid)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
