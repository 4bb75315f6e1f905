package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privileges/internal/consent/service"
	id "privileges/pkg/domain"
)

func newMiniRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

func TestRedisStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) service.Store {
		s, _ := newMiniRedisStore(t)
		return s
	})
}

func TestRedisStoreLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newMiniRedisStore(t)
	user := id.UserID(uuid.New())

	_, err := s.Upsert(ctx, user, "newsletter", false, "", t0)
	require.NoError(t, err)

	key := "privileges:consent:" + user.String()
	assert.True(t, mr.Exists(key))
	assert.Equal(t, "0", mr.HGet(key, "newsletter:granted"))
	assert.Empty(t, mr.HGet(key, "newsletter:granted_at"))
	assert.NotEmpty(t, mr.HGet(key, "newsletter:revoked_at"))
	assert.Empty(t, mr.HGet(key, "newsletter:notes"))

	_, err = s.Upsert(ctx, user, "newsletter", true, "privacy page", t0)
	require.NoError(t, err)
	assert.Equal(t, "privacy page", mr.HGet(key, "newsletter:notes"))
}

func TestRedisStoreKeysWithSeparators(t *testing.T) {
	ctx := context.Background()
	s, _ := newMiniRedisStore(t)
	user := id.UserID(uuid.New())

	_, err := s.Upsert(ctx, user, "share-profile_v2", true, "", t0)
	require.NoError(t, err)

	all, err := s.FindAll(ctx, user)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, id.PrivilegeKey("share-profile_v2"), all[0].PrivilegeKey)
	assert.True(t, all[0].Granted)
}

func TestRedisStoreDoesNotProvideTransactions(t *testing.T) {
	s, _ := newMiniRedisStore(t)
	_, ok := any(s).(service.ConsentStoreTx)
	assert.False(t, ok)
}
