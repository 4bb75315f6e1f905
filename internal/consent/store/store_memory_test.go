package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"privileges/internal/consent/service"
	id "privileges/pkg/domain"
	dErrors "privileges/pkg/domain-errors"
)

func TestInMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(*testing.T) service.Store { return NewInMemory() })
}

type InMemoryTxSuite struct {
	suite.Suite
	store *InMemoryStore
	user  id.UserID
}

func TestInMemoryTxSuite(t *testing.T) {
	suite.Run(t, new(InMemoryTxSuite))
}

func (s *InMemoryTxSuite) SetupTest() {
	s.store = NewInMemory()
	s.user = id.UserID(uuid.New())
}

func (s *InMemoryTxSuite) TestCommitKeepsAllWrites() {
	ctx := context.Background()
	err := s.store.RunInTx(ctx, func(ctx context.Context, st service.Store) error {
		if _, err := st.Upsert(ctx, s.user, "newsletter", false, "", t0); err != nil {
			return err
		}
		_, err := st.Upsert(ctx, s.user, "social_post", true, "", t0)
		return err
	})
	s.Require().NoError(err)

	all, err := s.store.FindAll(ctx, s.user)
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *InMemoryTxSuite) TestFailureRollsBackEveryWrite() {
	ctx := context.Background()
	_, err := s.store.Upsert(ctx, s.user, "newsletter", true, "", t0)
	s.Require().NoError(err)

	boom := errors.New("boom")
	err = s.store.RunInTx(ctx, func(ctx context.Context, st service.Store) error {
		if _, err := st.Upsert(ctx, s.user, "newsletter", false, "", t1); err != nil {
			return err
		}
		if _, err := st.Upsert(ctx, s.user, "social_post", true, "", t1); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	rec, err := s.store.Find(ctx, s.user, "newsletter")
	s.Require().NoError(err)
	s.Require().NotNil(rec)
	s.True(rec.Granted, "pre-existing record restored")
	s.True(t0.Equal(rec.UpdatedAt))

	rec, err = s.store.Find(ctx, s.user, "social_post")
	s.Require().NoError(err)
	s.Nil(rec, "record created in the failed transaction removed")
}

func (s *InMemoryTxSuite) TestDeleteRollsBack() {
	ctx := context.Background()
	_, err := s.store.Upsert(ctx, s.user, "newsletter", true, "", t0)
	s.Require().NoError(err)

	err = s.store.RunInTx(ctx, func(ctx context.Context, st service.Store) error {
		n, err := st.DeleteByUser(ctx, s.user)
		s.Equal(1, n)
		if err != nil {
			return err
		}
		return errors.New("audit unavailable")
	})
	s.Require().Error(err)

	all, err := s.store.FindAll(ctx, s.user)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *InMemoryTxSuite) TestReadsInsideTxSeeOwnWrites() {
	ctx := context.Background()
	err := s.store.RunInTx(ctx, func(ctx context.Context, st service.Store) error {
		if _, err := st.Upsert(ctx, s.user, "newsletter", true, "", t0); err != nil {
			return err
		}
		rec, err := st.Find(ctx, s.user, "newsletter")
		s.Require().NoError(err)
		s.Require().NotNil(rec)
		s.True(rec.Granted)
		return nil
	})
	s.Require().NoError(err)
}

func (s *InMemoryTxSuite) TestCancelledContextAbortsBeforeWork() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.store.RunInTx(ctx, func(context.Context, service.Store) error {
		called = true
		return nil
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	s.False(called)
}

func (s *InMemoryTxSuite) TestDeadlineDuringTxRollsBack() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.store.RunInTx(ctx, func(ctx context.Context, st service.Store) error {
		if _, err := st.Upsert(ctx, s.user, "newsletter", true, "", t0); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))

	rec, err := s.store.Find(context.Background(), s.user, "newsletter")
	s.Require().NoError(err)
	s.Nil(rec)
}

func (s *InMemoryTxSuite) TestReturnedRecordsDoNotAliasState() {
	ctx := context.Background()
	rec, err := s.store.Upsert(ctx, s.user, "newsletter", true, "", t0)
	s.Require().NoError(err)
	rec.Granted = false

	found, err := s.store.Find(ctx, s.user, "newsletter")
	s.Require().NoError(err)
	s.True(found.Granted)
}
