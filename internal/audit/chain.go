// chain.go computes the hash linking each audit event to its chronological
// predecessor. Altering any stored event invalidates every later hash, which
// is what makes the log tamper-evident.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jcom-dev/zmanim-audit/internal/db/models"
)

// ComputeHash derives the SHA-256 event hash from the fields the chain
// attests to, concatenated in fixed order:
//
//	prev_hash | sequence_num | occurred_at | actor_id | event_type | resource_type | resource_id | after_json
//
// The field set and order are load-bearing: the validator recomputes nothing,
// but any independent re-implementation of this function must agree byte for
// byte or cross-checking breaks. Absent values contribute the empty string.
// Timestamps are rendered in UTC RFC3339Nano so the hash is independent of
// the server's timezone. The "after" snapshot is rendered with encoding/json,
// which sorts map keys, so the serialization is deterministic.
func ComputeHash(e *models.Event, previousHash *string) string {
	prev := ""
	if previousHash != nil {
		prev = *previousHash
	}

	after := ""
	if e.ChangesAfter != nil {
		if b, err := json.Marshal(e.ChangesAfter); err == nil {
			after = string(b)
		}
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s|%s|%s",
		prev,
		e.SequenceNum,
		e.OccurredAt.UTC().Format(time.RFC3339Nano),
		e.ActorID(),
		e.EventType,
		e.Resource.Type,
		e.Resource.ID,
		after,
	)
	return hex.EncodeToString(h.Sum(nil))
}
