package service

import (
	"fmt"
	"strings"

	id "privileges/pkg/domain"
)

// PartialApplicationError reports a batch that stopped part way through in
// degraded mode. Committed lists the keys whose change is durable, in the
// order they were applied; Failed is the key whose write failed.
type PartialApplicationError struct {
	Committed []id.PrivilegeKey
	Failed    id.PrivilegeKey
	Err       error
}

func (e *PartialApplicationError) Error() string {
	committed := make([]string, len(e.Committed))
	for i, k := range e.Committed {
		committed[i] = k.String()
	}
	return fmt.Sprintf("privilege changes partially applied: committed [%s], failed on %s: %v",
		strings.Join(committed, ", "), e.Failed, e.Err)
}

func (e *PartialApplicationError) Unwrap() error {
	return e.Err
}
