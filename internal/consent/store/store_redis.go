package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"privileges/internal/consent/models"
	id "privileges/pkg/domain"
)

const consentKeyPrefix = "privileges:consent:"

// Field suffixes within a user's hash. A record for key k is spread across
// k:granted, k:granted_at, k:revoked_at, k:updated_at and k:notes; times are
// unix nanos.
const (
	fieldGranted   = "granted"
	fieldGrantedAt = "granted_at"
	fieldRevokedAt = "revoked_at"
	fieldUpdatedAt = "updated_at"
	fieldNotes     = "notes"
)

// upsertScript applies the same transitions as models.Record.Apply atomically
// on the server. KEYS[1] is the user hash; ARGV is key, "1"/"0", now, notes.
var upsertScript = redis.NewScript(`
local h = KEYS[1]
local k = ARGV[1]
local granted = ARGV[2]
local now = ARGV[3]
local notes = ARGV[4]
local prev = redis.call('HGET', h, k .. ':granted')
if granted == '1' then
	if prev ~= '1' then
		redis.call('HSET', h, k .. ':granted_at', now)
	end
	redis.call('HDEL', h, k .. ':revoked_at')
else
	if prev == '1' or prev == false then
		redis.call('HSET', h, k .. ':revoked_at', now)
	end
end
if notes ~= '' then
	redis.call('HSET', h, k .. ':notes', notes)
end
redis.call('HSET', h, k .. ':granted', granted, k .. ':updated_at', now)
return redis.call('HMGET', h, k .. ':granted', k .. ':granted_at', k .. ':revoked_at', k .. ':updated_at', k .. ':notes')
`)

// RedisStore keeps one hash per user. Each upsert is atomic, but there is no
// multi-key transaction: services using it run in degraded mode.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func userKey(userID id.UserID) string {
	return consentKeyPrefix + userID.String()
}

func field(key id.PrivilegeKey, name string) string {
	return key.String() + ":" + name
}

func (s *RedisStore) Find(ctx context.Context, userID id.UserID, key id.PrivilegeKey) (*models.Record, error) {
	vals, err := s.client.HMGet(ctx, userKey(userID),
		field(key, fieldGranted),
		field(key, fieldGrantedAt),
		field(key, fieldRevokedAt),
		field(key, fieldUpdatedAt),
		field(key, fieldNotes),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("find consent record: %w", err)
	}
	if vals[0] == nil {
		return nil, nil
	}
	return recordFromValues(userID, key, vals)
}

func (s *RedisStore) FindAll(ctx context.Context, userID id.UserID) ([]*models.Record, error) {
	all, err := s.client.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list consent records: %w", err)
	}

	grouped := make(map[id.PrivilegeKey]map[string]string)
	for f, v := range all {
		i := strings.LastIndexByte(f, ':')
		if i <= 0 {
			continue
		}
		key := id.PrivilegeKey(f[:i])
		if grouped[key] == nil {
			grouped[key] = make(map[string]string, 5)
		}
		grouped[key][f[i+1:]] = v
	}

	records := make([]*models.Record, 0, len(grouped))
	for key, fields := range grouped {
		granted, ok := fields[fieldGranted]
		if !ok {
			continue
		}
		vals := []any{granted, nilIfEmpty(fields[fieldGrantedAt]), nilIfEmpty(fields[fieldRevokedAt]), nilIfEmpty(fields[fieldUpdatedAt]), fields[fieldNotes]}
		record, err := recordFromValues(userID, key, vals)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *RedisStore) Upsert(ctx context.Context, userID id.UserID, key id.PrivilegeKey, granted bool, notes string, now time.Time) (*models.Record, error) {
	flag := "0"
	if granted {
		flag = "1"
	}
	res, err := upsertScript.Run(ctx, s.client, []string{userKey(userID)},
		key.String(), flag, strconv.FormatInt(now.UnixNano(), 10), notes).Slice()
	if err != nil {
		return nil, fmt.Errorf("upsert consent record: %w", err)
	}
	return recordFromValues(userID, key, res)
}

// DeleteByUser drops the user's hash and reports how many records it held.
func (s *RedisStore) DeleteByUser(ctx context.Context, userID id.UserID) (int, error) {
	var count int
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HKeys(ctx, userKey(userID)).Result()
		if err != nil {
			return err
		}
		count = 0
		for _, f := range fields {
			if strings.HasSuffix(f, ":"+fieldGranted) {
				count++
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, userKey(userID))
			return nil
		})
		return err
	}, userKey(userID))
	if err != nil {
		return 0, fmt.Errorf("delete consent records: %w", err)
	}
	return count, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// recordFromValues builds a record from [granted, granted_at, revoked_at,
// updated_at, notes] as returned by HMGET or the upsert script.
func recordFromValues(userID id.UserID, key id.PrivilegeKey, vals []any) (*models.Record, error) {
	if len(vals) != 5 {
		return nil, fmt.Errorf("consent record %s: expected 5 values, got %d", key, len(vals))
	}
	record := &models.Record{
		UserID:       userID,
		PrivilegeKey: key,
		Granted:      asString(vals[0]) == "1",
		Notes:        asString(vals[4]),
	}
	var err error
	if record.GrantedAt, err = parseNanos(vals[1]); err != nil {
		return nil, fmt.Errorf("consent record %s granted_at: %w", key, err)
	}
	if record.RevokedAt, err = parseNanos(vals[2]); err != nil {
		return nil, fmt.Errorf("consent record %s revoked_at: %w", key, err)
	}
	updated, err := parseNanos(vals[3])
	if err != nil {
		return nil, fmt.Errorf("consent record %s updated_at: %w", key, err)
	}
	if updated != nil {
		record.UpdatedAt = *updated
	}
	return record, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func parseNanos(v any) (*time.Time, error) {
	s := asString(v)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.Unix(0, n).UTC()
	return &t, nil
}
