package privilege

import (
	"errors"
	"fmt"
	"strings"

	id "privileges/pkg/domain"
)

var (
	// ErrInvalidDefinition matches every *InvalidDefinitionError.
	ErrInvalidDefinition = errors.New("invalid privilege definition")
	// ErrUnknownPrivilege matches every *UnknownPrivilegeError.
	ErrUnknownPrivilege = errors.New("unknown privilege")
)

// InvalidDefinitionError is returned by Register for a malformed definition.
// Applications should treat it as fatal at startup.
type InvalidDefinitionError struct {
	Key    string
	Reason string
}

func (e *InvalidDefinitionError) Error() string {
	return fmt.Sprintf("invalid privilege definition %q: %s", e.Key, e.Reason)
}

func (e *InvalidDefinitionError) Is(target error) bool {
	return target == ErrInvalidDefinition
}

// UnknownPrivilegeError names keys that have no current definition.
type UnknownPrivilegeError struct {
	Keys []id.PrivilegeKey
}

func (e *UnknownPrivilegeError) Error() string {
	keys := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		keys[i] = k.String()
	}
	return "unknown privilege: " + strings.Join(keys, ", ")
}

func (e *UnknownPrivilegeError) Is(target error) bool {
	return target == ErrUnknownPrivilege
}
