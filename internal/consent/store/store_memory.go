package store

import (
	"context"
	"sync"
	"time"

	"privileges/internal/consent/models"
	"privileges/internal/consent/service"
	id "privileges/pkg/domain"
	dErrors "privileges/pkg/domain-errors"
)

const defaultTxTimeout = 5 * time.Second

// InMemoryStore keeps consent records in process memory. It also implements
// service.ConsentStoreTx: a transaction holds the write lock for its whole
// duration and undoes its own writes when fn fails.
type InMemoryStore struct {
	mu        sync.RWMutex
	records   map[id.UserID]map[id.PrivilegeKey]*models.Record
	txTimeout time.Duration
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		records:   make(map[id.UserID]map[id.PrivilegeKey]*models.Record),
		txTimeout: defaultTxTimeout,
	}
}

func (s *InMemoryStore) Find(_ context.Context, userID id.UserID, key id.PrivilegeKey) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[userID][key].Clone(), nil
}

func (s *InMemoryStore) FindAll(_ context.Context, userID id.UserID) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findAllLocked(userID), nil
}

func (s *InMemoryStore) Upsert(_ context.Context, userID id.UserID, key id.PrivilegeKey, granted bool, notes string, now time.Time) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(userID, key, granted, notes, now).Clone(), nil
}

func (s *InMemoryStore) DeleteByUser(_ context.Context, userID id.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.records[userID])
	delete(s.records, userID)
	return n, nil
}

// RunInTx runs fn against a transactional view of the store. Writes made
// through that view are rolled back if fn returns an error or ctx ends first.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, store service.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	tx := &memoryTx{store: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return nil
}

func (s *InMemoryStore) findAllLocked(userID id.UserID) []*models.Record {
	userRecords := s.records[userID]
	out := make([]*models.Record, 0, len(userRecords))
	for _, r := range userRecords {
		out = append(out, r.Clone())
	}
	return out
}

func (s *InMemoryStore) upsertLocked(userID id.UserID, key id.PrivilegeKey, granted bool, notes string, now time.Time) *models.Record {
	userRecords, ok := s.records[userID]
	if !ok {
		userRecords = make(map[id.PrivilegeKey]*models.Record)
		s.records[userID] = userRecords
	}
	next := userRecords[key].Apply(userID, key, granted, notes, now)
	userRecords[key] = next
	return next
}

// memoryTx operates on the store while RunInTx holds its write lock.
type memoryTx struct {
	store *InMemoryStore
	undo  []func()
}

func (t *memoryTx) Find(_ context.Context, userID id.UserID, key id.PrivilegeKey) (*models.Record, error) {
	return t.store.records[userID][key].Clone(), nil
}

func (t *memoryTx) FindAll(_ context.Context, userID id.UserID) ([]*models.Record, error) {
	return t.store.findAllLocked(userID), nil
}

func (t *memoryTx) Upsert(ctx context.Context, userID id.UserID, key id.PrivilegeKey, granted bool, notes string, now time.Time) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prev := t.store.records[userID][key]
	t.undo = append(t.undo, func() {
		userRecords := t.store.records[userID]
		if prev == nil {
			delete(userRecords, key)
			if len(userRecords) == 0 {
				delete(t.store.records, userID)
			}
			return
		}
		if userRecords == nil {
			userRecords = make(map[id.PrivilegeKey]*models.Record)
			t.store.records[userID] = userRecords
		}
		userRecords[key] = prev
	})
	return t.store.upsertLocked(userID, key, granted, notes, now).Clone(), nil
}

func (t *memoryTx) DeleteByUser(ctx context.Context, userID id.UserID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	prev, ok := t.store.records[userID]
	if !ok {
		return 0, nil
	}
	t.undo = append(t.undo, func() {
		t.store.records[userID] = prev
	})
	delete(t.store.records, userID)
	return len(prev), nil
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}
