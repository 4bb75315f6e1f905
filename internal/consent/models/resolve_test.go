package models

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privileges/internal/privilege"
	id "privileges/pkg/domain"
)

var (
	testUser = id.UserID(uuid.MustParse("6f1c7a44-55d5-4a1e-9a53-0d1f4e1c2b11"))
	fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
)

func catalogDefs() []privilege.Definition {
	return []privilege.Definition{
		{Key: "newsletter", Label: "Newsletter", DefaultGranted: true},
		{Key: "social_post", Label: "Social posting"},
		{Key: "share_profile", Label: "Share profile"},
	}
}

func record(key id.PrivilegeKey, granted bool) *Record {
	return (*Record)(nil).Apply(testUser, key, granted, "", fixedNow)
}

type keyState struct {
	Key      id.PrivilegeKey
	Granted  bool
	Explicit bool
}

func states(entries []Entry) []keyState {
	out := make([]keyState, len(entries))
	for i, e := range entries {
		out[i] = keyState{Key: e.Key, Granted: e.Granted, Explicit: e.Explicit}
	}
	return out
}

func TestResolve(t *testing.T) {
	t.Run("no records yields catalog defaults in catalog order", func(t *testing.T) {
		got := Resolve(catalogDefs(), nil)

		want := []keyState{
			{Key: "newsletter", Granted: true},
			{Key: "social_post", Granted: false},
			{Key: "share_profile", Granted: false},
		}
		if diff := cmp.Diff(want, states(got)); diff != "" {
			t.Fatalf("resolved view mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("explicit records override defaults and leave others alone", func(t *testing.T) {
		records := IndexByKey([]*Record{
			record("social_post", true),
			record("newsletter", false),
		})

		got := Resolve(catalogDefs(), records)

		want := []keyState{
			{Key: "newsletter", Granted: false, Explicit: true},
			{Key: "social_post", Granted: true, Explicit: true},
			{Key: "share_profile", Granted: false},
		}
		if diff := cmp.Diff(want, states(got)); diff != "" {
			t.Fatalf("resolved view mismatch (-want +got):\n%s", diff)
		}
		require.NotNil(t, got[0].UpdatedAt)
		assert.Equal(t, fixedNow, *got[0].UpdatedAt)
		assert.Nil(t, got[2].UpdatedAt)
	})

	t.Run("orphan records are excluded", func(t *testing.T) {
		records := IndexByKey([]*Record{
			record("retired_feature", true),
			record("social_post", true),
		})

		got := Resolve(catalogDefs(), records)

		require.Len(t, got, len(catalogDefs()))
		for _, e := range got {
			assert.NotEqual(t, id.PrivilegeKey("retired_feature"), e.Key)
		}
	})

	t.Run("one entry per definition regardless of record count", func(t *testing.T) {
		assert.Len(t, Resolve(catalogDefs(), nil), 3)
		assert.Empty(t, Resolve(nil, IndexByKey([]*Record{record("newsletter", true)})))
	})

	t.Run("entries carry definition text", func(t *testing.T) {
		defs := []privilege.Definition{{Key: "newsletter", Label: "Newsletter", Description: "Monthly mail", DefaultGranted: true}}
		got := Resolve(defs, nil)
		require.Len(t, got, 1)
		assert.Equal(t, "Newsletter", got[0].Label)
		assert.Equal(t, "Monthly mail", got[0].Description)
		assert.True(t, got[0].DefaultGranted)
	})
}

func TestIndexByKeySkipsNil(t *testing.T) {
	index := IndexByKey([]*Record{nil, record("newsletter", true)})
	assert.Len(t, index, 1)
}

func TestRecordApplyTransitions(t *testing.T) {
	later := fixedNow.Add(time.Hour)
	latest := later.Add(time.Hour)

	t.Run("first grant sets GrantedAt", func(t *testing.T) {
		r := (*Record)(nil).Apply(testUser, "newsletter", true, "", fixedNow)
		assert.True(t, r.Granted)
		require.NotNil(t, r.GrantedAt)
		assert.Equal(t, fixedNow, *r.GrantedAt)
		assert.Nil(t, r.RevokedAt)
		assert.Equal(t, fixedNow, r.UpdatedAt)
	})

	t.Run("first revoke sets RevokedAt", func(t *testing.T) {
		r := (*Record)(nil).Apply(testUser, "newsletter", false, "", fixedNow)
		assert.False(t, r.Granted)
		assert.Nil(t, r.GrantedAt)
		require.NotNil(t, r.RevokedAt)
		assert.Equal(t, fixedNow, *r.RevokedAt)
	})

	t.Run("revoke after grant keeps GrantedAt", func(t *testing.T) {
		r := (*Record)(nil).Apply(testUser, "newsletter", true, "", fixedNow).
			Apply(testUser, "newsletter", false, "", later)
		assert.False(t, r.Granted)
		require.NotNil(t, r.GrantedAt)
		assert.Equal(t, fixedNow, *r.GrantedAt)
		require.NotNil(t, r.RevokedAt)
		assert.Equal(t, later, *r.RevokedAt)
	})

	t.Run("re-grant clears RevokedAt and moves GrantedAt", func(t *testing.T) {
		r := (*Record)(nil).Apply(testUser, "newsletter", true, "", fixedNow).
			Apply(testUser, "newsletter", false, "", later).
			Apply(testUser, "newsletter", true, "", latest)
		assert.True(t, r.Granted)
		require.NotNil(t, r.GrantedAt)
		assert.Equal(t, latest, *r.GrantedAt)
		assert.Nil(t, r.RevokedAt)
	})

	t.Run("repeating the same value only moves UpdatedAt", func(t *testing.T) {
		first := (*Record)(nil).Apply(testUser, "newsletter", false, "", fixedNow)
		second := first.Apply(testUser, "newsletter", false, "", later)
		assert.Equal(t, first.Granted, second.Granted)
		assert.Equal(t, first.RevokedAt, second.RevokedAt)
		assert.Equal(t, later, second.UpdatedAt)
	})

	t.Run("notes are replaced only when new notes are given", func(t *testing.T) {
		r := (*Record)(nil).Apply(testUser, "newsletter", true, "Checked 'Send me the newsletter'", fixedNow)
		assert.Equal(t, "Checked 'Send me the newsletter'", r.Notes)

		r = r.Apply(testUser, "newsletter", false, "", later)
		assert.Equal(t, "Checked 'Send me the newsletter'", r.Notes)

		r = r.Apply(testUser, "newsletter", true, "Re-subscribed from footer link", latest)
		assert.Equal(t, "Re-subscribed from footer link", r.Notes)
	})
}

func TestRecordCloneIsDeep(t *testing.T) {
	r := record("newsletter", true)
	c := r.Clone()
	*c.GrantedAt = fixedNow.Add(time.Minute)
	assert.Equal(t, fixedNow, *r.GrantedAt)
	assert.Nil(t, (*Record)(nil).Clone())
}

