package service

import (
	"context"
	"time"

	"privileges/internal/consent/models"
	id "privileges/pkg/domain"
)

// Store is the consent record persistence contract. Find returns (nil, nil)
// when the pair has no record; absence is a normal outcome, not an error.
// Upsert is atomic per (user, key) pair; empty notes keep the stored notes.
type Store interface {
	Find(ctx context.Context, userID id.UserID, key id.PrivilegeKey) (*models.Record, error)
	FindAll(ctx context.Context, userID id.UserID) ([]*models.Record, error)
	Upsert(ctx context.Context, userID id.UserID, key id.PrivilegeKey, granted bool, notes string, now time.Time) (*models.Record, error)
	DeleteByUser(ctx context.Context, userID id.UserID) (int, error)
}

// ConsentStoreTx provides a transactional boundary for consent store mutations.
// Every write fn performs through the given store, using the given context,
// commits together or not at all.
type ConsentStoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}
