// Package commitment derives the fixed-size digest that binds a source
// identifier, a summary text and a timestamp. The same triple always
// produces the same commitment; that determinism is what the whole
// verification path rests on.
package commitment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// domainTag separates this encoding from any other SHA-256 use.
const domainTag = "medhash/commitment/v1"

// Size is the commitment length in bytes.
const Size = sha256.Size

// Commitment is the fixed-width digest stored in the ledger.
type Commitment [Size]byte

// String returns the lowercase hex form used on the wire and in logs.
func (c Commitment) String() string {
	return hex.EncodeToString(c[:])
}

// Parse decodes the hex form produced by String.
func Parse(s string) (Commitment, error) {
	var c Commitment
	b, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("commitment: parse %q: %w", s, err)
	}
	if len(b) != Size {
		return c, fmt.Errorf("commitment: expected %d bytes, got %d", Size, len(b))
	}
	copy(c[:], b)
	return c, nil
}

// MarshalText encodes the commitment as lowercase hex for JSON and
// similar text carriers.
func (c Commitment) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes the hex form produced by MarshalText.
func (c *Commitment) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Equal compares two commitments in constant time.
func Equal(a, b Commitment) bool {
	return hmac.Equal(a[:], b[:])
}

// Hasher computes commitments. The zero value uses plain SHA-256; a
// non-empty Key switches to HMAC-SHA256 for deployments that want
// commitments bound to a shared secret.
type Hasher struct {
	Key []byte
}

// Commit hashes the ordered triple. Each field is length-prefixed so no
// two distinct triples share an encoding: (id, text+"x", ts) can never
// collide with (id+"x", text, ts). The text is trimmed and normalized to
// NFC first, and the timestamp is truncated to whole seconds in UTC,
// matching what survives a round-trip through the API boundary.
func (h Hasher) Commit(id, text string, ts time.Time) Commitment {
	var mac hash.Hash
	if len(h.Key) > 0 {
		mac = hmac.New(sha256.New, h.Key)
	} else {
		mac = sha256.New()
	}

	mac.Write([]byte(domainTag))
	writeField(mac, []byte(id))
	writeField(mac, []byte(CanonicalText(text)))
	writeField(mac, []byte(CanonicalTimestamp(ts)))

	var c Commitment
	copy(c[:], mac.Sum(nil))
	return c
}

// CanonicalText is the exact text form that gets committed: surrounding
// whitespace trimmed, Unicode normalized to NFC.
func CanonicalText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

// CanonicalTimestamp is the exact timestamp form that gets committed:
// RFC 3339, UTC, whole seconds.
func CanonicalTimestamp(ts time.Time) string {
	return ts.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func writeField(w hash.Hash, b []byte) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(b)))
	w.Write(prefix[:])
	w.Write(b)
}
