// Package directory keeps the role rosters and the email to name aliases used
// to find a caller's name before reverse resolution.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"verifica.org/internal/roles"
)

var (
	ErrExists     = errors.New("directory: already exists")
	ErrNotFound   = errors.New("directory: not found")
	ErrInvalid    = errors.New("directory: invalid input")
	ErrAliasTaken = errors.New("directory: name already associated with another email")
)

// Member is one entry of a role roster.
type Member struct {
	Identity string     `json:"walletAddress"`
	Name     string     `json:"ensName,omitempty"`
	Role     roles.Role `json:"role"`
	AddedBy  string     `json:"addedBy"`
	AddedAt  int64      `json:"addedAt"`
}

// Alias associates an email with a name and, optionally, an identity.
type Alias struct {
	Email     string `json:"email"`
	Name      string `json:"ensName"`
	Identity  string `json:"walletAddress,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Store persists members keyed by lower-cased identity and aliases keyed by
// lower-cased email.
type Store interface {
	// AddMember fails with ErrExists when the identity is already on a roster.
	AddMember(ctx context.Context, m Member) error
	RemoveMember(ctx context.Context, identity string) (bool, error)
	GetMember(ctx context.Context, identity string) (Member, error)
	ListMembers(ctx context.Context) ([]Member, error)

	PutAlias(ctx context.Context, a Alias) error
	GetAlias(ctx context.Context, email string) (Alias, error)
	RemoveAlias(ctx context.Context, email string) (bool, error)
	ListAliases(ctx context.Context) ([]Alias, error)
}

// Service validates and normalizes directory writes.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService wraps store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// AddMember puts identity on the roster of role. Only alumno and maestro have
// rosters.
func (s *Service) AddMember(ctx context.Context, identity, name string, role roles.Role, addedBy string) (Member, error) {
	m := Member{
		Identity: normalize(identity),
		Name:     normalize(name),
		Role:     role,
		AddedBy:  normalize(addedBy),
		AddedAt:  s.now().UnixMilli(),
	}
	if m.Identity == "" {
		return Member{}, fmt.Errorf("%w: identity required", ErrInvalid)
	}
	if _, ok := role.Target(); !ok {
		return Member{}, fmt.Errorf("%w: role %q has no roster", ErrInvalid, role)
	}
	if err := s.store.AddMember(ctx, m); err != nil {
		return Member{}, err
	}
	return m, nil
}

// RemoveMember takes identity off its roster.
func (s *Service) RemoveMember(ctx context.Context, identity string) error {
	ok, err := s.store.RemoveMember(ctx, normalize(identity))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Member returns the roster entry of identity.
func (s *Service) Member(ctx context.Context, identity string) (Member, error) {
	return s.store.GetMember(ctx, normalize(identity))
}

// Members lists the roster of role, or every roster when role is empty,
// ordered by the time they were added.
func (s *Service) Members(ctx context.Context, role roles.Role) ([]Member, error) {
	all, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, m := range all {
		if role == "" || m.Role == role {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt != out[j].AddedAt {
			return out[i].AddedAt < out[j].AddedAt
		}
		return out[i].Identity < out[j].Identity
	})
	return out, nil
}

// Roster returns the identities currently making up the audience t.
func (s *Service) Roster(ctx context.Context, t roles.Target) ([]string, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: target %q", ErrInvalid, t)
	}
	members, err := s.Members(ctx, t.Members())
	if err != nil {
		return nil, err
	}
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Identity
	}
	return out, nil
}

// InRoster reports whether identity is on the roster of audience t.
func (s *Service) InRoster(ctx context.Context, t roles.Target, identity string) (bool, error) {
	m, err := s.store.GetMember(ctx, normalize(identity))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Role == t.Members(), nil
}

// SetAlias associates email with name. A name can belong to one email only.
func (s *Service) SetAlias(ctx context.Context, email, name, identity string) (Alias, error) {
	a := Alias{Email: normalize(email), Name: normalize(name), Identity: normalize(identity)}
	if a.Email == "" || a.Name == "" {
		return Alias{}, fmt.Errorf("%w: email and name required", ErrInvalid)
	}
	all, err := s.store.ListAliases(ctx)
	if err != nil {
		return Alias{}, err
	}
	now := s.now().UnixMilli()
	a.CreatedAt, a.UpdatedAt = now, now
	for _, other := range all {
		if other.Name == a.Name && other.Email != a.Email {
			return Alias{}, ErrAliasTaken
		}
		if other.Email == a.Email {
			a.CreatedAt = other.CreatedAt
		}
	}
	if err := s.store.PutAlias(ctx, a); err != nil {
		return Alias{}, err
	}
	return a, nil
}

// NameForEmail returns the name associated with email.
func (s *Service) NameForEmail(ctx context.Context, email string) (string, bool) {
	if normalize(email) == "" {
		return "", false
	}
	a, err := s.store.GetAlias(ctx, normalize(email))
	if err != nil {
		return "", false
	}
	return a.Name, true
}

// Alias returns the alias of email.
func (s *Service) Alias(ctx context.Context, email string) (Alias, error) {
	return s.store.GetAlias(ctx, normalize(email))
}

// Aliases lists every alias ordered by email.
func (s *Service) Aliases(ctx context.Context) ([]Alias, error) {
	all, err := s.store.ListAliases(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })
	return all, nil
}

// RemoveAlias drops the association of email.
func (s *Service) RemoveAlias(ctx context.Context, email string) error {
	ok, err := s.store.RemoveAlias(ctx, normalize(email))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	members map[string]Member
	aliases map[string]Alias
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{members: map[string]Member{}, aliases: map[string]Alias{}}
}

func (m *Memory) AddMember(ctx context.Context, mem Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[mem.Identity]; ok {
		return ErrExists
	}
	m.members[mem.Identity] = mem
	return nil
}

func (m *Memory) RemoveMember(ctx context.Context, identity string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[identity]; !ok {
		return false, nil
	}
	delete(m.members, identity)
	return true, nil
}

func (m *Memory) GetMember(ctx context.Context, identity string) (Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[identity]
	if !ok {
		return Member{}, ErrNotFound
	}
	return mem, nil
}

func (m *Memory) ListMembers(ctx context.Context) ([]Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Member, 0, len(m.members))
	for _, mem := range m.members {
		out = append(out, mem)
	}
	return out, nil
}

func (m *Memory) PutAlias(ctx context.Context, a Alias) error {
	m.mu.Lock()
	m.aliases[a.Email] = a
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetAlias(ctx context.Context, email string) (Alias, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.aliases[email]
	if !ok {
		return Alias{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) RemoveAlias(ctx context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.aliases[email]; !ok {
		return false, nil
	}
	delete(m.aliases, email)
	return true, nil
}

func (m *Memory) ListAliases(ctx context.Context) ([]Alias, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alias, 0, len(m.aliases))
	for _, a := range m.aliases {
		out = append(out, a)
	}
	return out, nil
}
