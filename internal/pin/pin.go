// Package pin uploads document files to content-addressed storage.
package pin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// MaxUploadBytes is the largest file a pinner accepts.
const MaxUploadBytes = 10 << 20

var (
	ErrTooLarge = errors.New("pin: file exceeds 10 MiB")
	ErrEmpty    = errors.New("pin: empty file")
	ErrNotFound = errors.New("pin: content not found")
)

// Pin identifies uploaded content.
type Pin struct {
	CID string `json:"cid"`
	URL string `json:"url"`
}

// Pinner stores bytes and returns their content address.
type Pinner interface {
	Upload(ctx context.Context, name string, data []byte) (Pin, error)
}

// Getter returns pinned content by its address.
type Getter interface {
	Get(ctx context.Context, id string) ([]byte, error)
}

func checkSize(data []byte) error {
	switch {
	case len(data) == 0:
		return ErrEmpty
	case len(data) > MaxUploadBytes:
		return fmt.Errorf("%w (%d bytes)", ErrTooLarge, len(data))
	}
	return nil
}

// ContentID returns the CIDv1 (raw codec, sha2-256) of data.
func ContentID(data []byte) (cid.Cid, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// Local keeps content in process memory. It backs development setups and tests.
type Local struct {
	gateway string

	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ Pinner = (*Local)(nil)

// NewLocal creates a Local pinner whose URLs start with gateway.
func NewLocal(gateway string) *Local {
	if gateway == "" {
		gateway = "ipfs://"
	}
	return &Local{gateway: gateway, blobs: make(map[string][]byte)}
}

func (l *Local) Upload(ctx context.Context, name string, data []byte) (Pin, error) {
	if err := ctx.Err(); err != nil {
		return Pin{}, err
	}
	if err := checkSize(data); err != nil {
		return Pin{}, err
	}
	c, err := ContentID(data)
	if err != nil {
		return Pin{}, err
	}
	key := c.String()

	l.mu.Lock()
	if _, ok := l.blobs[key]; !ok {
		l.blobs[key] = append([]byte(nil), data...)
	}
	l.mu.Unlock()

	return Pin{CID: key, URL: joinURL(l.gateway, key)}, nil
}

// Get returns the bytes stored under a CID.
func (l *Local) Get(ctx context.Context, id string) ([]byte, error) {
	c, err := cid.Decode(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	data, ok := l.blobs[c.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func joinURL(base, id string) string {
	if strings.HasSuffix(base, "/") || strings.HasSuffix(base, "://") {
		return base + id
	}
	return base + "/" + id
}
