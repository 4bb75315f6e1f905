package domain

import (
	"regexp"

	dErrors "privileges/pkg/domain-errors"
)

// PrivilegeKey is the stable identifier of a privilege definition. It is used
// as a lookup token, as a storage key and as an HTML form field name, so it is
// restricted to identifier-safe characters.
type PrivilegeKey string

// MaxPrivilegeKeyLength bounds keys to what the storage column accepts.
const MaxPrivilegeKeyLength = 64

var privilegeKeyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)

// ParsePrivilegeKey constructs a PrivilegeKey from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or not identifier-safe.
func ParsePrivilegeKey(s string) (PrivilegeKey, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "privilege key cannot be empty")
	}
	k := PrivilegeKey(s)
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid privilege key")
	}
	return k, nil
}

// IsValid reports whether the key matches the identifier-safe pattern.
func (k PrivilegeKey) IsValid() bool {
	return privilegeKeyPattern.MatchString(string(k))
}

func (k PrivilegeKey) String() string {
	return string(k)
}
