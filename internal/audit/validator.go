// validator.go checks the stored linkage of a run of audit events. It is a
// pure function over already-fetched rows; fetching (including the one-row
// lookback before the requested range) is the repository's job.
package audit

import (
	"fmt"
	"time"
)

// ChainRecord is the slice of an event the validator needs: identity, chain
// position, and the stored hashes.
type ChainRecord struct {
	ID                string
	OccurredAt        time.Time
	SequenceNum       int64
	EventHash         string
	PreviousEventHash *string
}

// BrokenLink reports one event whose stored previous_event_hash disagrees
// with the hash of the event immediately before it in chain order.
type BrokenLink struct {
	EventID      string    `json:"event_id"`
	OccurredAt   time.Time `json:"occurred_at"`
	SequenceNum  int64     `json:"sequence_num"`
	StoredPrev   *string   `json:"stored_previous_hash"`
	ExpectedPrev *string   `json:"expected_previous_hash"`
	Explanation  string    `json:"explanation"`
}

// ValidateChain walks records in the order given, which must be ascending
// (occurred_at, sequence_num), and compares each event's stored
// previous_event_hash against the event_hash of the record before it.
//
// An empty result means the chain is VALID over the input. Callers must not
// read absence of output as "nothing checked".
//
// The first record is the anchor: its own linkage is only checkable when the
// caller prepends the event immediately preceding the range of interest. With
// that lookback record present, every event in the range proper gets a real
// expected predecessor and the genesis-versus-truncated-range ambiguity
// disappears; without it, a first record whose stored previous hash is nil is
// accepted as a genesis event.
func ValidateChain(records []ChainRecord) []BrokenLink {
	var breaks []BrokenLink

	for i, rec := range records {
		var expected *string
		if i > 0 {
			expected = &records[i-1].EventHash
		}

		switch {
		case expected == nil && rec.PreviousEventHash == nil:
			// Genesis event, or the anchor of a range with no lookback.
		case expected == nil && rec.PreviousEventHash != nil:
			// Anchor claims a predecessor we were not given. Not checkable,
			// and not reported: the caller chose the range boundary.
		case rec.PreviousEventHash == nil:
			breaks = append(breaks, BrokenLink{
				EventID:      rec.ID,
				OccurredAt:   rec.OccurredAt,
				SequenceNum:  rec.SequenceNum,
				StoredPrev:   nil,
				ExpectedPrev: expected,
				Explanation: fmt.Sprintf(
					"event %s stores no previous hash but follows event with hash %s", rec.ID, *expected),
			})
		case *rec.PreviousEventHash != *expected:
			breaks = append(breaks, BrokenLink{
				EventID:      rec.ID,
				OccurredAt:   rec.OccurredAt,
				SequenceNum:  rec.SequenceNum,
				StoredPrev:   rec.PreviousEventHash,
				ExpectedPrev: expected,
				Explanation: fmt.Sprintf(
					"event %s stores previous hash %s but the preceding event's hash is %s",
					rec.ID, *rec.PreviousEventHash, *expected),
			})
		}
	}

	return breaks
}
