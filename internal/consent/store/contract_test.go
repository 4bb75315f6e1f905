package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privileges/internal/consent/service"
	id "privileges/pkg/domain"
)

var (
	t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t1.Add(time.Hour)
)

// runStoreContract exercises the behavior every service.Store must share.
// newStore returns an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) service.Store) {
	ctx := context.Background()

	t.Run("find on missing pair returns nil without error", func(t *testing.T) {
		s := newStore(t)
		rec, err := s.Find(ctx, id.UserID(uuid.New()), "newsletter")
		require.NoError(t, err)
		assert.Nil(t, rec)

		all, err := s.FindAll(ctx, id.UserID(uuid.New()))
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("upsert inserts then updates the single record for the pair", func(t *testing.T) {
		s := newStore(t)
		user := id.UserID(uuid.New())

		rec, err := s.Upsert(ctx, user, "newsletter", true, "", t0)
		require.NoError(t, err)
		assert.True(t, rec.Granted)
		assert.True(t, t0.Equal(rec.UpdatedAt))

		rec, err = s.Upsert(ctx, user, "newsletter", false, "", t1)
		require.NoError(t, err)
		assert.False(t, rec.Granted)
		assert.True(t, t1.Equal(rec.UpdatedAt))

		all, err := s.FindAll(ctx, user)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, id.PrivilegeKey("newsletter"), all[0].PrivilegeKey)
		assert.False(t, all[0].Granted)
	})

	t.Run("upsert maintains grant and revoke timestamps", func(t *testing.T) {
		s := newStore(t)
		user := id.UserID(uuid.New())

		_, err := s.Upsert(ctx, user, "social_post", true, "", t0)
		require.NoError(t, err)
		rec, err := s.Upsert(ctx, user, "social_post", false, "", t1)
		require.NoError(t, err)
		require.NotNil(t, rec.GrantedAt)
		require.NotNil(t, rec.RevokedAt)
		assert.True(t, t0.Equal(*rec.GrantedAt))
		assert.True(t, t1.Equal(*rec.RevokedAt))

		rec, err = s.Upsert(ctx, user, "social_post", true, "", t2)
		require.NoError(t, err)
		require.NotNil(t, rec.GrantedAt)
		assert.True(t, t2.Equal(*rec.GrantedAt))
		assert.Nil(t, rec.RevokedAt)

		found, err := s.Find(ctx, user, "social_post")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.True(t, found.Granted)
		assert.Nil(t, found.RevokedAt)
	})

	t.Run("notes survive empty updates and are replaced by new ones", func(t *testing.T) {
		s := newStore(t)
		user := id.UserID(uuid.New())

		rec, err := s.Upsert(ctx, user, "newsletter", true, "signup form v3", t0)
		require.NoError(t, err)
		assert.Equal(t, "signup form v3", rec.Notes)

		rec, err = s.Upsert(ctx, user, "newsletter", false, "", t1)
		require.NoError(t, err)
		assert.Equal(t, "signup form v3", rec.Notes)

		_, err = s.Upsert(ctx, user, "newsletter", true, "settings page", t2)
		require.NoError(t, err)
		found, err := s.Find(ctx, user, "newsletter")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "settings page", found.Notes)

		all, err := s.FindAll(ctx, user)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "settings page", all[0].Notes)
	})

	t.Run("records are scoped per user", func(t *testing.T) {
		s := newStore(t)
		alice := id.UserID(uuid.New())
		bob := id.UserID(uuid.New())

		_, err := s.Upsert(ctx, alice, "newsletter", true, "", t0)
		require.NoError(t, err)

		rec, err := s.Find(ctx, bob, "newsletter")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("delete by user removes only that user's records", func(t *testing.T) {
		s := newStore(t)
		alice := id.UserID(uuid.New())
		bob := id.UserID(uuid.New())
		for _, key := range []id.PrivilegeKey{"newsletter", "social_post"} {
			_, err := s.Upsert(ctx, alice, key, true, "", t0)
			require.NoError(t, err)
		}
		_, err := s.Upsert(ctx, bob, "newsletter", false, "", t0)
		require.NoError(t, err)

		n, err := s.DeleteByUser(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		all, err := s.FindAll(ctx, alice)
		require.NoError(t, err)
		assert.Empty(t, all)

		all, err = s.FindAll(ctx, bob)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		n, err = s.DeleteByUser(ctx, alice)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("concurrent upserts on one pair leave exactly one record", func(t *testing.T) {
		s := newStore(t)
		user := id.UserID(uuid.New())

		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Upsert(ctx, user, "newsletter", i%2 == 0, "", t0.Add(time.Duration(i)*time.Second))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		all, err := s.FindAll(ctx, user)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}
