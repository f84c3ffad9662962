package documents

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Store persists document records. Operations on one id are atomic with respect
// to each other; nothing is coordinated across ids.
type Store interface {
	GetAll(ctx context.Context) (map[string]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	// Save is a full upsert keyed by ID.
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) (bool, error)
	// SignIdempotent adds identity to the signers if absent and marks the
	// record signed. It returns false only when the record does not exist.
	SignIdempotent(ctx context.Context, id, identity string) (bool, error)
	// Update runs fn on the stored record and saves the result atomically.
	// Returning an error from fn leaves the record untouched.
	Update(ctx context.Context, id string, fn func(*Record) error) (Record, error)
}

// InMemory is a Store backed by a map with one lock per document id.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]Record
	locks   keyLocks
}

var _ Store = (*InMemory)(nil)

// NewInMemory returns an empty store.
func NewInMemory() *InMemory {
	return &InMemory{records: make(map[string]Record)}
}

func (s *InMemory) GetAll(ctx context.Context) (map[string]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.Clone()
	}
	return out, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemory) Save(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return ErrValidation
	}
	unlock := s.locks.lock(rec.ID)
	defer unlock()
	s.put(rec.Clone())
	return nil
}

func (s *InMemory) Delete(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func (s *InMemory) SignIdempotent(ctx context.Context, id, identity string) (bool, error) {
	_, err := s.Update(ctx, id, func(rec *Record) error {
		rec.AddSigner(identity)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *InMemory) Update(ctx context.Context, id string, fn func(*Record) error) (Record, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	s.mu.RLock()
	cur, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return Record{}, err
	}
	next.ID = id
	s.put(next)
	return next.Clone(), nil
}

func (s *InMemory) put(rec Record) {
	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()
}

// keyLocks hands out one mutex per key and forgets it once nobody holds it.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[string]*keyLock)
	}
	l, ok := k.m[key]
	if !ok {
		l = &keyLock{}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
