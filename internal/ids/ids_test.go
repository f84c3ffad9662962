package ids

import "testing"

func TestNewDocumentIDIsSortableAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	prev := ""
	for i := 0; i < 1000; i++ {
		id := NewDocumentID()
		if !IsDocumentID(id) {
			t.Fatalf("unexpected id shape: %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
		if prev != "" && id <= prev {
			t.Fatalf("ids not monotonic: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestIsDocumentID(t *testing.T) {
	cases := map[string]bool{
		"":                                 false,
		"doc_":                             false,
		"doc_not-a-ulid":                   false,
		"01HZY0Q0J3X8ZC5Q8Z4X8Y2N7M":       false,
		"doc_01HZY0Q0J3X8ZC5Q8Z4X8Y2N7M":   true,
	}
	for input, want := range cases {
		if got := IsDocumentID(input); got != want {
			t.Fatalf("IsDocumentID(%q)=%v, want %v", input, got, want)
		}
	}
}
