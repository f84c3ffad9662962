package ledger

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeHash(t *testing.T) {
	full := strings.Repeat("ab", 32)
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"exact", full, full},
		{"prefixed", "0x" + full, full},
		{"upper prefix and digits", "0X" + strings.ToUpper(full), full},
		{"short", "0x1f", strings.Repeat("0", 62) + "1f"},
		{"long", "0x" + full + "cdef", full},
		{"empty", "", strings.Repeat("0", 64)},
		{"only prefix", "0x", strings.Repeat("0", 64)},
		{"double prefix", "0x0x" + full, full},
		{"whitespace", "  0x" + full + "\n", full},
		{"garbage", "not-a-hash", strings.Repeat("0", 62) + "aa"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeHash(tc.in)
			if got != tc.want {
				t.Fatalf("NormalizeHash(%q)=%q, want %q", tc.in, got, tc.want)
			}
			if len(got) != HashHexLen {
				t.Fatalf("length %d", len(got))
			}
			if again := NormalizeHash(got); again != got {
				t.Fatalf("not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestNormalizeHashIsTotal(t *testing.T) {
	inputs := []string{"x", "0", "0x0x0x", "xx" + strings.Repeat("f", 80), "\x00\xff", "0xZZ", strings.Repeat("9", 63)}
	for _, in := range inputs {
		got := NormalizeHash(in)
		if len(got) != HashHexLen {
			t.Fatalf("NormalizeHash(%q) has length %d", in, len(got))
		}
		for i := 0; i < len(got); i++ {
			if !isHexDigit(got[i]) || (got[i] >= 'A' && got[i] <= 'F') {
				t.Fatalf("NormalizeHash(%q)=%q contains non lower-case hex", in, got)
			}
		}
		if NormalizeHash(got) != got {
			t.Fatalf("NormalizeHash(%q) not idempotent", in)
		}
	}
}

func TestParseHash(t *testing.T) {
	h, err := ParseHash("0xABC")
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if h.Hex() != strings.Repeat("0", 61)+"abc" {
		t.Fatalf("unexpected hex %q", h.Hex())
	}
	if h.String() != "0x"+h.Hex() {
		t.Fatalf("unexpected string %q", h.String())
	}

	for _, bad := range []string{"", "0x", "0xnothex", "12 34"} {
		if _, err := ParseHash(bad); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("ParseHash(%q) err=%v, want ErrInvalidHash", bad, err)
		}
	}
}
