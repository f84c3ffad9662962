package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Entry is the on-chain projection of a document, keyed by its content hash.
type Entry struct {
	Hash           string   `json:"hash"`
	ContentAddress string   `json:"contentAddress"`
	Creator        string   `json:"creator"`
	Title          string   `json:"title"`
	Institution    string   `json:"institution"`
	Recipients     []string `json:"recipients"`
	CreatedAt      int64    `json:"createdAt"`
	IssuedAt       int64    `json:"issuedAt"`
	Verified       bool     `json:"verified"`
	Revoked        bool     `json:"revoked"`
	Signers        []string `json:"signers"`
}

// Registration carries the arguments of an anchor call.
type Registration struct {
	Hash           Hash
	ContentAddress string
	Title          string
	Institution    string
	Recipients     []string
	// IssuedAt is in unix seconds.
	IssuedAt int64
}

// Contract is a connection to a document registry on one network. from is the
// account submitting a write; views ignore the caller.
type Contract interface {
	ChainID(ctx context.Context) (int64, error)
	Lookup(ctx context.Context, hash Hash) (Entry, bool, error)
	Register(ctx context.Context, from string, reg Registration) (string, error)
	Countersign(ctx context.Context, from string, hash Hash) (string, error)
	Recipients(ctx context.Context, hash Hash) ([]string, error)
	CanSign(ctx context.Context, hash Hash, account string) (bool, error)
}

// Revoker is implemented by registries whose creator can withdraw an entry.
type Revoker interface {
	Revoke(ctx context.Context, from string, hash Hash) error
}

var (
	ErrAlreadyAnchored    = errors.New("ledger: document already anchored")
	ErrNotAuthorized      = errors.New("ledger: not authorized")
	ErrUserRejected       = errors.New("ledger: user rejected")
	ErrUnsupportedNetwork = errors.New("ledger: unsupported network")
	ErrInvalidHash        = errors.New("ledger: invalid hash")
	ErrNotFound           = errors.New("ledger: document not found")
)

// TransientError wraps any ledger failure that is neither a refusal nor an
// authorization problem.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RevertError is a contract revert with its reason string.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return "execution reverted: " + e.Reason
}

// Revert reasons emitted by the registry contract.
const (
	ReasonAlreadyExists     = "Document already exists"
	ReasonNotRecipient      = "Not a recipient"
	ReasonAlreadySigned     = "Already signed"
	ReasonNoRecipients      = "At least one recipient required"
	ReasonTooManyRecipients = "Too many recipients"
	ReasonNotFound          = "Document does not exist"
	ReasonRevoked           = "Document revoked"
	ReasonNotCreator        = "Not the creator"
)

// IsAlreadyExists reports whether err says the document is already on the ledger.
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAlreadyAnchored) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

func isNotAuthorized(err error) bool {
	if errors.Is(err, ErrNotAuthorized) {
		return true
	}
	var rev *RevertError
	if errors.As(err, &rev) {
		return rev.Reason == ReasonNotRecipient
	}
	return false
}
