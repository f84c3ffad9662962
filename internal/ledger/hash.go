package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HashHexLen is the width of a normalized hash in hex characters.
const HashHexLen = 64

// Hash is a 32-byte document fingerprint.
type Hash [32]byte

// Hex returns the 64-character lower-case form without prefix.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

// String returns the 0x-prefixed form used on the wire.
func (h Hash) String() string { return "0x" + h.Hex() }

// IsZero reports whether the hash is all zeroes.
func (h Hash) IsZero() bool { return h == Hash{} }

// NormalizeHash maps any string to the fixed-width form the registry is keyed
// by: every leading 0x/0X is stripped, the rest is lower-cased, non-hex
// characters are dropped, the first 64 digits are kept and shorter values are
// left-padded with zeros. The function is total and idempotent.
func NormalizeHash(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	var b strings.Builder
	b.Grow(HashHexLen)
	for i := 0; i < len(s) && b.Len() < HashHexLen; i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
			b.WriteByte(c)
		case c >= 'A' && c <= 'F':
			b.WriteByte(c + ('a' - 'A'))
		}
	}
	out := b.String()
	if len(out) < HashHexLen {
		out = strings.Repeat("0", HashHexLen-len(out)) + out
	}
	return out
}

// ParseHash validates s as hex (optionally 0x-prefixed) and returns its
// normalized value.
func ParseHash(s string) (Hash, error) {
	raw := strings.TrimSpace(s)
	if len(raw) >= 2 && raw[0] == '0' && (raw[1] == 'x' || raw[1] == 'X') {
		raw = raw[2:]
	}
	if raw == "" {
		return Hash{}, fmt.Errorf("%w: empty", ErrInvalidHash)
	}
	for i := 0; i < len(raw); i++ {
		if !isHexDigit(raw[i]) {
			return Hash{}, fmt.Errorf("%w: %q is not hex", ErrInvalidHash, s)
		}
	}
	var h Hash
	if _, err := hex.Decode(h[:], []byte(NormalizeHash(raw))); err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return h, nil
}

// MustParseHash is ParseHash for constants and tests.
func MustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
