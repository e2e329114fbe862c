// Package ulid generates the time-ordered identifiers used as audit event
// primary keys. A ULID is 26 characters of Crockford base32: the first 10
// encode a 48-bit millisecond Unix timestamp, the remaining 16 encode 80 bits
// of entropy. String comparison therefore sorts IDs generated in different
// milliseconds chronologically; IDs from the same millisecond sort by their
// random suffix, which is why events also carry a sequence number for a
// deterministic secondary ordering.
//
// The entropy comes from crypto/rand, not math/rand. Event IDs feed into the
// hash-chain input, so they must not be predictable to an attacker attempting
// to forge a plausible chain segment.
package ulid

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// Alphabet is the Crockford base32 symbol set: digits and uppercase letters
// excluding I, L, O, and U to avoid transcription ambiguity.
const Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// EncodedLen is the length of every generated identifier.
const EncodedLen = 26

const timestampLen = 10

// New returns a ULID for the current wall-clock time.
func New() string {
	return At(time.Now())
}

// At returns a ULID whose timestamp component encodes t, with fresh random
// entropy. It never fails: an unreadable system entropy source is treated the
// same way uuid.New() treats it, as a panic, since no audit event can be
// safely recorded without unpredictable identifiers.
func At(t time.Time) string {
	var b [EncodedLen]byte

	ms := uint64(t.UnixMilli()) & (1<<48 - 1)
	for i := timestampLen - 1; i >= 0; i-- {
		b[i] = Alphabet[ms&31]
		ms >>= 5
	}

	var entropy [10]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		panic(fmt.Sprintf("ulid: entropy source unavailable: %v", err))
	}

	// 80 bits of entropy map onto exactly 16 base32 symbols.
	var acc uint64
	bits := 0
	j := timestampLen
	for _, e := range entropy {
		acc = acc<<8 | uint64(e)
		bits += 8
		for bits >= 5 {
			bits -= 5
			b[j] = Alphabet[(acc>>uint(bits))&31]
			j++
		}
	}

	return string(b[:])
}

// Timestamp decodes the millisecond timestamp component of id.
func Timestamp(id string) (time.Time, error) {
	if len(id) != EncodedLen {
		return time.Time{}, fmt.Errorf("ulid: invalid length %d (want %d)", len(id), EncodedLen)
	}
	var ms uint64
	for i := 0; i < timestampLen; i++ {
		v := strings.IndexByte(Alphabet, id[i])
		if v < 0 {
			return time.Time{}, fmt.Errorf("ulid: invalid character %q at position %d", id[i], i)
		}
		ms = ms<<5 | uint64(v)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

// Valid reports whether id is a well-formed ULID: correct length and every
// character drawn from the Crockford alphabet.
func Valid(id string) bool {
	if len(id) != EncodedLen {
		return false
	}
	for i := 0; i < EncodedLen; i++ {
		if strings.IndexByte(Alphabet, id[i]) < 0 {
			return false
		}
	}
	return true
}
