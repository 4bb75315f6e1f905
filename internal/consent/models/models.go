package models

import (
	"time"

	id "privileges/pkg/domain"
)

// Record is a user's explicit choice for one privilege. At most one record
// exists per (UserID, PrivilegeKey); revocation flips Granted rather than
// deleting the row.
type Record struct {
	UserID       id.UserID
	PrivilegeKey id.PrivilegeKey
	Granted      bool
	// GrantedAt is the last transition to granted, RevokedAt the last
	// transition to revoked. RevokedAt is cleared on re-grant.
	GrantedAt *time.Time
	RevokedAt *time.Time
	UpdatedAt time.Time
	// Notes records how consent was obtained, such as the wording the user
	// was shown. Empty notes on a later change keep the earlier ones.
	Notes string
}

// Apply returns the record that results from setting granted at now on top of
// r. A nil r means the pair has no record yet. Non-empty notes replace the
// stored ones. Every store implements the same
// transition rules through this function or an equivalent atomic statement.
func (r *Record) Apply(userID id.UserID, key id.PrivilegeKey, granted bool, notes string, now time.Time) *Record {
	next := &Record{
		UserID:       userID,
		PrivilegeKey: key,
		Granted:      granted,
		UpdatedAt:    now,
		Notes:        notes,
	}
	if r != nil {
		next.GrantedAt = r.GrantedAt
		next.RevokedAt = r.RevokedAt
		if notes == "" {
			next.Notes = r.Notes
		}
	}
	wasGranted := r != nil && r.Granted
	switch {
	case granted && !wasGranted:
		at := now
		next.GrantedAt = &at
		next.RevokedAt = nil
	case granted:
		next.RevokedAt = nil
	case wasGranted || r == nil:
		at := now
		next.RevokedAt = &at
	}
	return next
}

// Clone returns a deep copy so callers cannot alias store state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.GrantedAt != nil {
		t := *r.GrantedAt
		c.GrantedAt = &t
	}
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}

// Entry is one line of a user's resolved view: a catalog definition plus the
// state that applies to the user.
type Entry struct {
	Key            id.PrivilegeKey
	Label          string
	Description    string
	DefaultGranted bool
	Granted        bool
	// Explicit is true when Granted comes from a stored record rather than
	// the catalog default.
	Explicit  bool
	UpdatedAt *time.Time
}
