package audit

import (
	"strings"
	"testing"
	"time"
)

// buildChain produces n correctly linked records starting at the given time,
// one second apart.
func buildChain(n int, start time.Time) []ChainRecord {
	records := make([]ChainRecord, 0, n)
	var prev *string
	for i := 0; i < n; i++ {
		e := chainEvent()
		e.SequenceNum = int64(i + 1)
		e.OccurredAt = start.Add(time.Duration(i) * time.Second)
		hash := ComputeHash(e, prev)
		records = append(records, ChainRecord{
			ID:                e.ID,
			OccurredAt:        e.OccurredAt,
			SequenceNum:       e.SequenceNum,
			EventHash:         hash,
			PreviousEventHash: prev,
		})
		prev = &hash
	}
	return records
}

func TestValidateChain_IntactChainIsEmpty(t *testing.T) {
	records := buildChain(10, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	if breaks := ValidateChain(records); len(breaks) != 0 {
		t.Errorf("intact chain reported %d breaks: %+v", len(breaks), breaks)
	}
}

func TestValidateChain_EmptyInputIsValid(t *testing.T) {
	if breaks := ValidateChain(nil); len(breaks) != 0 {
		t.Errorf("empty input reported breaks: %+v", breaks)
	}
}

func TestValidateChain_SingleGenesisEventIsValid(t *testing.T) {
	records := buildChain(1, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	if breaks := ValidateChain(records); len(breaks) != 0 {
		t.Errorf("genesis event reported breaks: %+v", breaks)
	}
}

func TestValidateChain_TamperedPreviousHashReportsExactlyOneBreak(t *testing.T) {
	records := buildChain(5, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	forged := "0000000000000000000000000000000000000000000000000000000000000000"
	records[2].PreviousEventHash = &forged

	breaks := ValidateChain(records)
	if len(breaks) != 1 {
		t.Fatalf("len(breaks) = %d, want exactly 1", len(breaks))
	}
	if breaks[0].EventID != records[2].ID || breaks[0].SequenceNum != records[2].SequenceNum {
		t.Errorf("break names event %s seq %d, want seq %d",
			breaks[0].EventID, breaks[0].SequenceNum, records[2].SequenceNum)
	}
	if breaks[0].ExpectedPrev == nil || *breaks[0].ExpectedPrev != records[1].EventHash {
		t.Errorf("ExpectedPrev = %v, want predecessor's hash", breaks[0].ExpectedPrev)
	}
	if !strings.Contains(breaks[0].Explanation, records[2].ID) {
		t.Errorf("explanation %q does not name the offending event", breaks[0].Explanation)
	}
}

func TestValidateChain_MissingPreviousHashMidChain(t *testing.T) {
	records := buildChain(4, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	records[2].PreviousEventHash = nil

	breaks := ValidateChain(records)
	if len(breaks) != 1 {
		t.Fatalf("len(breaks) = %d, want 1", len(breaks))
	}
	if breaks[0].StoredPrev != nil {
		t.Errorf("StoredPrev = %v, want nil", breaks[0].StoredPrev)
	}
}

func TestValidateChain_AnchorWithLookbackCatchesBrokenFirstInRangeEvent(t *testing.T) {
	// Without a lookback anchor, a first record claiming any predecessor is
	// accepted unchecked. With the anchor prepended, a forged link on the
	// first in-range event is caught.
	records := buildChain(3, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	forged := "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	records[1].PreviousEventHash = &forged

	// records[0] plays the anchor fetched from before the requested range.
	breaks := ValidateChain(records)
	if len(breaks) == 0 {
		t.Fatal("forged first in-range link not detected despite anchor")
	}
	if breaks[0].EventID != records[1].ID {
		t.Errorf("break names %s, want %s", breaks[0].EventID, records[1].ID)
	}
}

func TestValidateChain_AnchorClaimingOutOfRangePredecessorIsNotReported(t *testing.T) {
	// The first record of a sub-range legitimately points at an event the
	// caller did not fetch; that is the caller's boundary choice, not a break.
	full := buildChain(5, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	subRange := full[2:]

	if breaks := ValidateChain(subRange); len(breaks) != 0 {
		t.Errorf("sub-range anchor reported as break: %+v", breaks)
	}
}

func TestValidateChain_ForkReportsTheSecondClaimant(t *testing.T) {
	// Two events claiming the same predecessor: the second, in chain order,
	// disagrees with the hash of the first and is reported.
	records := buildChain(2, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	fork := records[1]
	fork.ID = "01FORK0000000000000000000Z"
	fork.SequenceNum = 3
	fork.OccurredAt = fork.OccurredAt.Add(time.Second)
	// fork keeps records[1]'s PreviousEventHash, claiming records[0] as its
	// predecessor even though records[1] now precedes it.
	records = append(records, fork)

	breaks := ValidateChain(records)
	if len(breaks) != 1 {
		t.Fatalf("len(breaks) = %d, want 1", len(breaks))
	}
	if breaks[0].EventID != fork.ID {
		t.Errorf("break names %s, want the forked event %s", breaks[0].EventID, fork.ID)
	}
}
