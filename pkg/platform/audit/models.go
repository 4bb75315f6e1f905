package audit

import (
	"context"
	"time"

	id "privileges/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so stores can
// apply different retention.
type EventCategory string

const (
	// CategoryCompliance covers events with legal or regulatory significance,
	// consent changes above all. These are written fail-closed.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers everything else.
	CategoryOperations EventCategory = "operations"
)

// Event is the stored shape of an audit entry. Keep it transport-agnostic so
// stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    id.UserID
	Subject   string
	Action    string
	Purpose   string
	Decision  string
	RequestID string
	// ActorID tracks who performed the action when different from UserID,
	// e.g. an operator deleting a user's records.
	ActorID string
}

type AuditEvent string

const (
	EventConsentGranted AuditEvent = "consent_granted"
	EventConsentRevoked AuditEvent = "consent_revoked"
	EventConsentDeleted AuditEvent = "consent_deleted"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventConsentGranted: CategoryCompliance,
	EventConsentRevoked: CategoryCompliance,
	EventConsentDeleted: CategoryCompliance,
}

// Category returns the category an action belongs to. Unknown actions are
// operational.
func (e AuditEvent) Category() EventCategory {
	if c, ok := eventCategories[e]; ok {
		return c
	}
	return CategoryOperations
}

// ComplianceEvent captures a regulatory-significant action requiring
// guaranteed persistence. Emit it through the compliance publisher.
type ComplianceEvent struct {
	Timestamp time.Time // set automatically if zero
	UserID    id.UserID // required
	Subject   string
	Action    string // e.g. "consent_granted"
	Purpose   string // privilege key for consent events
	Decision  string // "granted" or "revoked"
	RequestID string
	ActorID   string
}

func (e ComplianceEvent) Category() EventCategory { return CategoryCompliance }

// ToEvent converts to the stored Event shape.
func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:  CategoryCompliance,
		Timestamp: e.Timestamp,
		UserID:    e.UserID,
		Subject:   e.Subject,
		Action:    e.Action,
		Purpose:   e.Purpose,
		Decision:  e.Decision,
		RequestID: e.RequestID,
		ActorID:   e.ActorID,
	}
}

// Store persists audit events. Implementations that can join an ambient
// transaction (pkg/platform/tx) must do so, so that compliance events commit
// or roll back with the change they describe.
//
// AppendAll stores every event or none of them.
type Store interface {
	Append(ctx context.Context, event Event) error
	AppendAll(ctx context.Context, events []Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}
