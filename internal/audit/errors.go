// errors.go classifies database errors raised by the audit schema's guards.
package audit

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// immutabilityMessage is the prefix raised by audit.reject_event_mutation().
const immutabilityMessage = "audit events are immutable"

// IsImmutabilityViolation reports whether err was raised by the event store's
// immutability trigger, i.e. something attempted an UPDATE or DELETE against
// audit.events. The trigger raises ERRCODE P0001 (raise_exception) with a
// fixed message naming the offending event id; both are checked because
// P0001 alone could be any plpgsql RAISE.
func IsImmutabilityViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "P0001" && strings.HasPrefix(pqErr.Message, immutabilityMessage)
}
