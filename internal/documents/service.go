package documents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"verifica.org/internal/ledger"
	"verifica.org/internal/obs"
	"verifica.org/internal/roles"
)

// RecipientPolicy decides whether editor may address a document to r.
type RecipientPolicy interface {
	CheckRecipient(ctx context.Context, editor roles.Binding, r Recipient) error
}

// Service implements the record operations that sit on top of a Store.
type Service struct {
	store  Store
	policy RecipientPolicy
	log    *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRecipientPolicy sets the check a patch that changes the audience must
// pass. Without one the audience of a record cannot change.
func WithRecipientPolicy(p RecipientPolicy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// NewService wraps store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, log: obs.Component("documents")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store.
func (s *Service) Store() Store { return s.store }

// Get returns one record.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.store.Get(ctx, id)
}

// Patch is a partial update of a record. Nil fields are left unchanged.
// ID and CreatedAt are accepted but never applied.
type Patch struct {
	ID          *string    `json:"id,omitempty"`
	CreatedAt   *int64     `json:"createdAt,omitempty"`
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Institution *string    `json:"institution,omitempty"`
	IssueDate   *string    `json:"issueDate,omitempty"`
	Category    *string    `json:"category,omitempty"`
	Files       *[]File    `json:"files,omitempty"`
	Recipient   *Recipient `json:"sentTo,omitempty"`
	Status      *Status    `json:"status,omitempty"`
}

// Patch merges p into the stored record on behalf of editor. A caller-supplied
// id or createdAt that differs from the stored one is replaced by the stored
// value. A new audience must pass the recipient policy, and the audience of an
// anchored record is fixed.
func (s *Service) Patch(ctx context.Context, id string, editor roles.Binding, p Patch) (Record, error) {
	if p.Recipient != nil {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return Record{}, err
		}
		if err := s.checkRecipient(ctx, editor, cur, *p.Recipient); err != nil {
			return Record{}, err
		}
	}
	return s.store.Update(ctx, id, func(rec *Record) error {
		if p.Recipient != nil && *p.Recipient != rec.Recipient && rec.Anchored() {
			return fmt.Errorf("%w: audience of an anchored document cannot change", ErrValidation)
		}
		if (p.ID != nil && *p.ID != rec.ID) || (p.CreatedAt != nil && *p.CreatedAt != rec.CreatedAt) {
			s.log.Info("patch tried to change immutable fields, keeping stored values", zap.String("document_id", rec.ID))
		}
		id, createdAt := rec.ID, rec.CreatedAt

		if p.Title != nil {
			rec.Title = *p.Title
		}
		if p.Description != nil {
			rec.Description = *p.Description
		}
		if p.Institution != nil {
			rec.Institution = *p.Institution
		}
		if p.IssueDate != nil {
			rec.IssueDate = *p.IssueDate
		}
		if p.Category != nil {
			rec.Category = *p.Category
		}
		if p.Files != nil {
			rec.Files = append([]File(nil), (*p.Files)...)
		}
		if p.Recipient != nil {
			rec.Recipient = *p.Recipient
		}
		if p.Status != nil {
			rec.Status = *p.Status
		}

		rec.ID, rec.CreatedAt = id, createdAt
		return rec.Validate()
	})
}

func (s *Service) checkRecipient(ctx context.Context, editor roles.Binding, cur Record, r Recipient) error {
	if r == cur.Recipient {
		return nil
	}
	if cur.Anchored() {
		return fmt.Errorf("%w: audience of an anchored document cannot change", ErrValidation)
	}
	if s.policy == nil {
		return fmt.Errorf("%w: audience cannot change", ErrValidation)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	return s.policy.CheckRecipient(ctx, editor, r)
}

// Filter narrows List. Member filtering applies only when MemberRole has an
// audience and Member is set.
type Filter struct {
	TargetRole roles.Target
	MemberRole roles.Role
	Member     string
}

// Visible reports whether a member of role sees rec: sent to the whole role, or
// to that member specifically.
func Visible(rec Record, role roles.Role, member string) bool {
	if rec.Recipient.Selector.Matches(member) {
		return true
	}
	t, ok := role.Target()
	return ok && rec.Recipient.Selector.IsAll() && rec.Recipient.TargetRole == t
}

// List returns the matching records, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Record, error) {
	all, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	_, memberView := f.MemberRole.Target()
	memberView = memberView && strings.TrimSpace(f.Member) != ""

	out := make([]Record, 0, len(all))
	for _, rec := range all {
		if f.TargetRole != "" && rec.Recipient.TargetRole != f.TargetRole {
			continue
		}
		if memberView && !Visible(rec, f.MemberRole, f.Member) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Delete removes a record. The ledger is not touched.
func (s *Service) Delete(ctx context.Context, id string) error {
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// VerifyStatus is the public projection of a record's status.
type VerifyStatus string

const (
	Verified   VerifyStatus = "verified"
	Pending    VerifyStatus = "pending"
	Unverified VerifyStatus = "unverified"
)

// Verification is the answer of a public lookup by content hash.
type Verification struct {
	Found      bool         `json:"found"`
	Status     VerifyStatus `json:"status"`
	Record     *Record      `json:"document,omitempty"`
	Confidence int          `json:"confidence"`
}

func verifyStatus(s Status) VerifyStatus {
	switch s {
	case StatusSigned:
		return Verified
	case StatusPending:
		return Pending
	}
	return Unverified
}

func confidence(v VerifyStatus) int {
	switch v {
	case Verified:
		return 99
	case Pending:
		return 50
	}
	return 0
}

// LookupByHash finds a record with a file whose content hash matches hash after
// normalization. When several records match, a signed one wins, then the newest.
func (s *Service) LookupByHash(ctx context.Context, hash string) (Verification, error) {
	if strings.TrimSpace(hash) == "" {
		return Verification{}, fmt.Errorf("%w: hash required", ErrValidation)
	}
	want := ledger.NormalizeHash(hash)

	all, err := s.store.GetAll(ctx)
	if err != nil {
		return Verification{}, err
	}
	var best *Record
	for id := range all {
		rec := all[id]
		if !hasHash(rec, want) {
			continue
		}
		if best == nil || better(rec, *best) {
			best = &rec
		}
	}
	if best == nil {
		return Verification{Status: Unverified}, nil
	}
	st := verifyStatus(best.Status)
	return Verification{Found: true, Status: st, Record: best, Confidence: confidence(st)}, nil
}

func hasHash(rec Record, normalized string) bool {
	for _, f := range rec.Files {
		if f.ContentHash != "" && ledger.NormalizeHash(f.ContentHash) == normalized {
			return true
		}
	}
	return false
}

func better(a, b Record) bool {
	ra, rb := rank(a.Status), rank(b.Status)
	if ra != rb {
		return ra > rb
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}

func rank(s Status) int {
	switch s {
	case StatusSigned:
		return 2
	case StatusPending:
		return 1
	}
	return 0
}
