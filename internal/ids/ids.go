package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DocumentPrefix marks identifiers minted for document records.
const DocumentPrefix = "doc_"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewDocumentID returns a fresh document identifier. Successive calls sort in
// creation order.
func NewDocumentID() string {
	return DocumentPrefix + New()
}

// IsDocumentID reports whether id has the shape produced by NewDocumentID.
func IsDocumentID(id string) bool {
	rest, ok := strings.CutPrefix(id, DocumentPrefix)
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(rest)
	return err == nil
}
