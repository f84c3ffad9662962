package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"verifica.org/internal/obs"
)

// Gateway is the narrow client the coordinators use to talk to a registry.
// It only operates on allow-listed networks and normalizes every hash before
// it reaches the contract.
type Gateway struct {
	networks map[int64]struct{}
	log      *zap.Logger
	now      func() time.Time
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// NewGateway builds a Gateway that accepts the given chain ids.
func NewGateway(networks []int64, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		networks: make(map[int64]struct{}, len(networks)),
		log:      obs.Component("ledger"),
		now:      time.Now,
	}
	for _, id := range networks {
		g.networks[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Networks returns the allow-listed chain ids, sorted.
func (g *Gateway) Networks() []int64 {
	out := make([]int64, 0, len(g.networks))
	for id := range g.networks {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Support is the result of CheckSupported.
type Support struct {
	Supported bool  `json:"supported"`
	NetworkID int64 `json:"networkId,omitempty"`
}

// CheckSupported inspects the network behind c. A nil connection or a failing
// chain id query is reported as unsupported.
func (g *Gateway) CheckSupported(ctx context.Context, c Contract) Support {
	if c == nil {
		return Support{}
	}
	id, err := c.ChainID(ctx)
	if err != nil {
		g.log.Warn("chain id query failed", zap.Error(err))
		return Support{}
	}
	_, ok := g.networks[id]
	return Support{Supported: ok, NetworkID: id}
}

func (g *Gateway) requireSupported(ctx context.Context, c Contract) error {
	s := g.CheckSupported(ctx, c)
	if !s.Supported {
		if s.NetworkID != 0 {
			return fmt.Errorf("%w: chain %d", ErrUnsupportedNetwork, s.NetworkID)
		}
		return ErrUnsupportedNetwork
	}
	return nil
}

// Exists looks the hash up on the registry. It never costs a transaction.
func (g *Gateway) Exists(ctx context.Context, c Contract, hash string) (Entry, bool, error) {
	if err := g.requireSupported(ctx, c); err != nil {
		return Entry{}, false, err
	}
	h, err := ParseHash(hash)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok, err := c.Lookup(ctx, h)
	if err != nil {
		return Entry{}, false, transient("lookup", err)
	}
	return e, ok, nil
}

// AnchorRequest describes a document to register.
type AnchorRequest struct {
	Hash           string
	ContentAddress string
	Title          string
	Institution    string
	Recipients     []string
	IssuedAt       time.Time
}

// Anchor registers the document and returns the transaction reference.
// ErrAlreadyAnchored is returned both when the pre-check finds the hash and
// when the submission reverts because the hash appeared in the meantime.
func (g *Gateway) Anchor(ctx context.Context, c Contract, from string, req AnchorRequest) (string, error) {
	if err := g.requireSupported(ctx, c); err != nil {
		return "", err
	}
	h, err := ParseHash(req.Hash)
	if err != nil {
		return "", err
	}

	_, exists, err := c.Lookup(ctx, h)
	switch {
	case err != nil:
		g.log.Debug("existence pre-check failed, submitting anyway", zap.String("hash", h.String()), zap.Error(err))
	case exists:
		return "", ErrAlreadyAnchored
	}

	issuedAt := req.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = g.now()
	}
	recipients := make([]string, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			recipients = append(recipients, r)
		}
	}

	tx, err := c.Register(ctx, from, Registration{
		Hash:           h,
		ContentAddress: req.ContentAddress,
		Title:          req.Title,
		Institution:    req.Institution,
		Recipients:     recipients,
		IssuedAt:       issuedAt.Unix(),
	})
	if err != nil {
		switch {
		case IsAlreadyExists(err):
			return "", fmt.Errorf("%w: %v", ErrAlreadyAnchored, err)
		case errors.Is(err, ErrUserRejected):
			return "", err
		case isNotAuthorized(err):
			return "", fmt.Errorf("%w: %v", ErrNotAuthorized, err)
		}
		return "", transient("anchor", err)
	}
	return tx, nil
}

// Countersign records from's acknowledgement of the document on the registry.
func (g *Gateway) Countersign(ctx context.Context, c Contract, from, hash string) (string, error) {
	if err := g.requireSupported(ctx, c); err != nil {
		return "", err
	}
	h, err := ParseHash(hash)
	if err != nil {
		return "", err
	}
	tx, err := c.Countersign(ctx, from, h)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserRejected):
			return "", err
		case isNotAuthorized(err):
			return "", fmt.Errorf("%w: %v", ErrNotAuthorized, err)
		}
		return "", transient("countersign", err)
	}
	return tx, nil
}

// Recipients returns the accounts allowed to countersign the document.
func (g *Gateway) Recipients(ctx context.Context, c Contract, hash string) ([]string, error) {
	if err := g.requireSupported(ctx, c); err != nil {
		return nil, err
	}
	h, err := ParseHash(hash)
	if err != nil {
		return nil, err
	}
	out, err := c.Recipients(ctx, h)
	if err != nil {
		return nil, transient("recipients", err)
	}
	return out, nil
}

// CanSign reports whether account may still countersign the document.
func (g *Gateway) CanSign(ctx context.Context, c Contract, hash, account string) (bool, error) {
	if err := g.requireSupported(ctx, c); err != nil {
		return false, err
	}
	h, err := ParseHash(hash)
	if err != nil {
		return false, err
	}
	ok, err := c.CanSign(ctx, h, account)
	if err != nil {
		return false, transient("canSign", err)
	}
	return ok, nil
}

func transient(op string, err error) error {
	var te *TransientError
	if errors.As(err, &te) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}
