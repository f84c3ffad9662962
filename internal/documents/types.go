// Package documents holds the authoritative off-chain document records and the
// store-level operations built on them.
package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"verifica.org/internal/roles"
)

// Status of a document record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSigned   Status = "signed"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSigned, StatusRejected:
		return true
	}
	return false
}

var (
	ErrValidation = errors.New("documents: validation failed")
	ErrNotFound   = errors.New("documents: not found")
	ErrConflict   = errors.New("documents: concurrent update")
)

// File is one attachment of a document.
type File struct {
	Name           string `json:"name"`
	SizeBytes      int64  `json:"size"`
	ContentHash    string `json:"hash,omitempty"`
	ContentAddress string `json:"ipfsCid,omitempty"`
	RetrievalURL   string `json:"ipfsUrl,omitempty"`
}

// Selector picks the recipients inside the target role: everyone, or exactly
// one identity. The zero value selects everyone.
type Selector struct {
	identity string
}

// All selects every member of the target role at read time.
func All() Selector { return Selector{} }

// Specific selects a single identity.
func Specific(identity string) Selector {
	return Selector{identity: strings.ToLower(strings.TrimSpace(identity))}
}

// IsAll reports whether the selector is open.
func (s Selector) IsAll() bool { return s.identity == "" }

// Identity returns the selected identity, or "" for All.
func (s Selector) Identity() string { return s.identity }

// Matches reports whether identity is the one selected. It is false for All.
func (s Selector) Matches(identity string) bool {
	return s.identity != "" && strings.EqualFold(s.identity, strings.TrimSpace(identity))
}

// Recipient is the audience of a document.
type Recipient struct {
	TargetRole roles.Target
	Selector   Selector
}

type recipientJSON struct {
	Role          roles.Target `json:"role"`
	MemberAddress string       `json:"memberAddress,omitempty"`
}

func (r Recipient) MarshalJSON() ([]byte, error) {
	return json.Marshal(recipientJSON{Role: r.TargetRole, MemberAddress: r.Selector.Identity()})
}

func (r *Recipient) UnmarshalJSON(b []byte) error {
	var raw recipientJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.TargetRole = raw.Role
	if t, ok := roles.ParseTarget(string(raw.Role)); ok {
		r.TargetRole = t
	}
	r.Selector = All()
	if m := strings.TrimSpace(raw.MemberAddress); m != "" && !strings.EqualFold(m, "all") {
		r.Selector = Specific(m)
	}
	return nil
}

// Validate checks the audience is well formed. Roster membership of a specific
// identity is checked by the recipient policy.
func (r Recipient) Validate() error {
	if !r.TargetRole.Valid() {
		return fmt.Errorf("%w: target role %q", ErrValidation, r.TargetRole)
	}
	return nil
}

// Record is the authoritative off-chain representation of a document.
type Record struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Institution     string    `json:"institution"`
	IssueDate       string    `json:"issueDate,omitempty"`
	Category        string    `json:"category,omitempty"`
	Files           []File    `json:"files"`
	CreatedAt       int64     `json:"createdAt"`
	CreatedBy       string    `json:"createdBy"`
	Recipient       Recipient `json:"sentTo"`
	Status          Status    `json:"status"`
	SignedBy        []string  `json:"signedBy"`
	LedgerTxRef     string    `json:"blockchainTxHash,omitempty"`
	LedgerNetworkID int64     `json:"blockchainChainId,omitempty"`
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	if r.Files != nil {
		out.Files = append([]File(nil), r.Files...)
	}
	out.SignedBy = append([]string{}, r.SignedBy...)
	return out
}

// HasSigned reports whether identity already countersigned, case-insensitively.
func (r Record) HasSigned(identity string) bool {
	identity = strings.ToLower(strings.TrimSpace(identity))
	for _, s := range r.SignedBy {
		if s == identity {
			return true
		}
	}
	return false
}

// AddSigner appends the lower-cased identity unless present and marks the
// record signed. It returns whether the signer set changed.
func (r *Record) AddSigner(identity string) bool {
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" || r.HasSigned(identity) {
		return false
	}
	r.SignedBy = append(r.SignedBy, identity)
	r.Status = StatusSigned
	return true
}

// ContentHash returns the hash of the first file that has one.
func (r Record) ContentHash() string {
	for _, f := range r.Files {
		if f.ContentHash != "" {
			return f.ContentHash
		}
	}
	return ""
}

// Anchored reports whether the record carries a ledger reference.
func (r Record) Anchored() bool {
	return r.LedgerTxRef != "" && r.LedgerNetworkID != 0
}

// Validate checks the fields every persisted record must carry.
func (r Record) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(r.Institution) == "" {
		missing = append(missing, "institution")
	}
	if len(r.Files) == 0 {
		missing = append(missing, "files")
	}
	if strings.TrimSpace(r.CreatedBy) == "" {
		missing = append(missing, "createdBy")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	for i, f := range r.Files {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: file %d has no name", ErrValidation, i)
		}
		if f.SizeBytes < 0 {
			return fmt.Errorf("%w: file %q has negative size", ErrValidation, f.Name)
		}
	}
	if err := r.Recipient.Validate(); err != nil {
		return err
	}
	return r.checkStatus()
}

func (r Record) checkStatus() error {
	if !r.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrValidation, r.Status)
	}
	if (r.Status == StatusSigned) != (len(r.SignedBy) > 0) {
		return fmt.Errorf("%w: status %s with %d signers", ErrValidation, r.Status, len(r.SignedBy))
	}
	return nil
}
