package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// MaxRecipients mirrors the registry contract's recipient cap.
const MaxRecipients = 100

// Memory is an in-process registry contract for a single network. It enforces
// the same rules as the deployed contract and reverts with the same reasons.
type Memory struct {
	chainID int64
	now     func() time.Time

	mu      sync.RWMutex
	entries map[Hash]*Entry
	nonce   uint64
}

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithClock overrides the block timestamp source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an empty registry on chainID.
func NewMemory(chainID int64, opts ...MemoryOption) *Memory {
	m := &Memory{
		chainID: chainID,
		now:     time.Now,
		entries: make(map[Hash]*Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var (
	_ Contract = (*Memory)(nil)
	_ Revoker  = (*Memory)(nil)
)

func (m *Memory) ChainID(ctx context.Context) (int64, error) {
	return m.chainID, nil
}

func (m *Memory) Lookup(ctx context.Context, hash Hash) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[hash]
	if !ok {
		return Entry{}, false, nil
	}
	return copyEntry(e), true, nil
}

func (m *Memory) Register(ctx context.Context, from string, reg Registration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	recipients := make([]string, 0, len(reg.Recipients))
	for _, r := range reg.Recipients {
		if r = normalizeAccount(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return "", &RevertError{Reason: ReasonNoRecipients}
	}
	if len(recipients) > MaxRecipients {
		return "", &RevertError{Reason: ReasonTooManyRecipients}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[reg.Hash]; ok {
		return "", &RevertError{Reason: ReasonAlreadyExists}
	}
	m.entries[reg.Hash] = &Entry{
		Hash:           reg.Hash.String(),
		ContentAddress: reg.ContentAddress,
		Creator:        normalizeAccount(from),
		Title:          reg.Title,
		Institution:    reg.Institution,
		Recipients:     recipients,
		CreatedAt:      m.now().Unix(),
		IssuedAt:       reg.IssuedAt,
	}
	return m.nextTxRef(reg.Hash), nil
}

func (m *Memory) Countersign(ctx context.Context, from string, hash Hash) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	signer := normalizeAccount(from)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[hash]
	if !ok {
		return "", &RevertError{Reason: ReasonNotFound}
	}
	if e.Revoked {
		return "", &RevertError{Reason: ReasonRevoked}
	}
	if !contains(e.Recipients, signer) {
		return "", &RevertError{Reason: ReasonNotRecipient}
	}
	if contains(e.Signers, signer) {
		return "", &RevertError{Reason: ReasonAlreadySigned}
	}
	e.Signers = append(e.Signers, signer)
	e.Verified = true
	return m.nextTxRef(hash), nil
}

func (m *Memory) Recipients(ctx context.Context, hash Hash) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[hash]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), e.Recipients...), nil
}

func (m *Memory) CanSign(ctx context.Context, hash Hash, account string) (bool, error) {
	account = normalizeAccount(account)
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[hash]
	if !ok || e.Revoked {
		return false, nil
	}
	return contains(e.Recipients, account) && !contains(e.Signers, account), nil
}

// Revoke marks an entry revoked. Only the creator may revoke.
func (m *Memory) Revoke(ctx context.Context, from string, hash Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[hash]
	if !ok {
		return &RevertError{Reason: ReasonNotFound}
	}
	if e.Creator != normalizeAccount(from) {
		return &RevertError{Reason: ReasonNotCreator}
	}
	e.Revoked = true
	return nil
}

// nextTxRef derives a transaction-like reference. Caller holds m.mu.
func (m *Memory) nextTxRef(hash Hash) string {
	m.nonce++
	var buf [48]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.chainID))
	binary.BigEndian.PutUint64(buf[8:16], m.nonce)
	copy(buf[16:], hash[:])
	sum := sha256.Sum256(buf[:])
	return "0x" + hex.EncodeToString(sum[:])
}

func copyEntry(e *Entry) Entry {
	out := *e
	out.Recipients = append([]string(nil), e.Recipients...)
	out.Signers = append([]string(nil), e.Signers...)
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func normalizeAccount(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
