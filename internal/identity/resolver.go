// Package identity resolves human-readable names to accounts and back across
// networks. Names live on one home network; callers may be connected to any
// network, so resolution falls back through three tiers.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"verifica.org/internal/obs"
)

// Home network chain ids.
const (
	ChainMainnet int64 = 1
	ChainSepolia int64 = 11155111
)

// Conn is a name-service connection to one network.
type Conn interface {
	ChainID(ctx context.Context) (int64, error)
	// ResolveName returns the account a name points to, or "" if none.
	ResolveName(ctx context.Context, name string) (string, error)
	// LookupAddress returns the primary name of an account, or "" if none.
	LookupAddress(ctx context.Context, address string) (string, error)
}

// FallbackFactory builds the connection to the home test network.
type FallbackFactory func(ctx context.Context) (Conn, error)

// Tier identifies a resolution step.
type Tier int

const (
	TierHome Tier = iota + 1
	TierCurrent
	TierFallback
)

func (t Tier) String() string {
	switch t {
	case TierHome:
		return "home"
	case TierCurrent:
		return "current"
	case TierFallback:
		return "fallback"
	}
	return "unknown"
}

var (
	// ErrNotFound marks a tier that answered without a record.
	ErrNotFound = errors.New("identity: not found")
	// ErrNoFallback marks a fallback tier with no client configured.
	ErrNoFallback = errors.New("identity: no fallback client")
	// ErrInvalidInput marks names or addresses that cannot be resolved.
	ErrInvalidInput = errors.New("identity: invalid input")
)

// Attempt is the typed result of one tier.
type Attempt struct {
	Tier  Tier
	Value string
	Err   error
}

// Outcome aggregates the attempts of one resolution.
type Outcome struct {
	Attempts []Attempt
	Value    string
	Tier     Tier
	Cached   bool
}

// Found reports whether any tier produced a value.
func (o Outcome) Found() bool { return o.Value != "" }

// Err returns the last tier error, or ErrNotFound.
func (o Outcome) Err() error {
	if o.Found() {
		return nil
	}
	for i := len(o.Attempts) - 1; i >= 0; i-- {
		if o.Attempts[i].Err != nil {
			return o.Attempts[i].Err
		}
	}
	return ErrNotFound
}

// Resolver implements the three-tier resolution. It never returns errors to
// top-level callers; use the Detailed variants to inspect attempts.
type Resolver struct {
	fallbackFactory FallbackFactory
	log             *zap.Logger

	fallbackMu sync.Mutex
	fallback   Conn

	cache *expirable.LRU[string, string]
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFallback sets the factory of the home test network client. The client
// is built on first use and kept; a failed build is retried on the next call.
func WithFallback(f FallbackFactory) Option {
	return func(r *Resolver) { r.fallbackFactory = f }
}

// WithCacheTTL enables a short-lived cache of positive results. ttl <= 0
// leaves caching off.
func WithCacheTTL(ttl time.Duration, size int) Option {
	return func(r *Resolver) {
		if ttl <= 0 {
			return
		}
		if size <= 0 {
			size = 1024
		}
		r.cache = expirable.NewLRU[string, string](size, nil, ttl)
	}
}

// WithLogger sets the resolver logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{log: obs.Component("identity")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveAddress resolves name to an account.
func (r *Resolver) ResolveAddress(ctx context.Context, conn Conn, name string) (string, bool) {
	o := r.ResolveAddressDetailed(ctx, conn, name)
	return o.Value, o.Found()
}

// LookupName returns the primary name of address.
func (r *Resolver) LookupName(ctx context.Context, conn Conn, address string) (string, bool) {
	o := r.LookupNameDetailed(ctx, conn, address)
	return o.Value, o.Found()
}

// ResolveAddressDetailed is ResolveAddress with every attempt recorded.
func (r *Resolver) ResolveAddressDetailed(ctx context.Context, conn Conn, name string) Outcome {
	name = strings.ToLower(strings.TrimSpace(name))
	if !ValidName(name) {
		return Outcome{Attempts: []Attempt{{Err: fmt.Errorf("%w: name %q", ErrInvalidInput, name)}}}
	}
	return r.resolve(ctx, conn, "addr:"+name, func(c Conn) (string, error) {
		v, err := c.ResolveName(ctx, name)
		return strings.ToLower(v), err
	})
}

// LookupNameDetailed is LookupName with every attempt recorded.
func (r *Resolver) LookupNameDetailed(ctx context.Context, conn Conn, address string) Outcome {
	address = strings.ToLower(strings.TrimSpace(address))
	if !IsAddress(address) {
		return Outcome{Attempts: []Attempt{{Err: fmt.Errorf("%w: address %q", ErrInvalidInput, address)}}}
	}
	return r.resolve(ctx, conn, "name:"+address, func(c Conn) (string, error) {
		v, err := c.LookupAddress(ctx, address)
		return strings.ToLower(v), err
	})
}

func (r *Resolver) resolve(ctx context.Context, conn Conn, key string, op func(Conn) (string, error)) Outcome {
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			obs.NameCacheTotal.WithLabelValues("hit").Inc()
			return Outcome{Value: v, Cached: true}
		}
		obs.NameCacheTotal.WithLabelValues("miss").Inc()
	}

	out := r.runTiers(ctx, conn, op)
	if out.Found() && r.cache != nil {
		r.cache.Add(key, out.Value)
	}
	if !out.Found() {
		r.log.Debug("name resolution found nothing", zap.String("key", key), zap.Int("attempts", len(out.Attempts)), zap.NamedError("last", out.Err()))
	}
	return out
}

func (r *Resolver) runTiers(ctx context.Context, conn Conn, op func(Conn) (string, error)) Outcome {
	var out Outcome

	if conn != nil {
		chain, err := conn.ChainID(ctx)
		switch {
		case err != nil:
			out.Attempts = append(out.Attempts, record(Attempt{Tier: TierCurrent, Err: err}))
		case IsHomeNetwork(chain):
			a := record(attempt(TierHome, conn, op))
			out.Attempts = append(out.Attempts, a)
			// A home network answer is authoritative, even when empty.
			if a.Err == nil || errors.Is(a.Err, ErrNotFound) {
				out.Value, out.Tier = a.Value, TierHome
				return out
			}
		default:
			a := record(attempt(TierCurrent, conn, op))
			out.Attempts = append(out.Attempts, a)
			if a.Value != "" {
				out.Value, out.Tier = a.Value, TierCurrent
				return out
			}
		}
	}

	fb, err := r.fallbackConn(ctx)
	if err != nil {
		out.Attempts = append(out.Attempts, record(Attempt{Tier: TierFallback, Err: err}))
		return out
	}
	a := record(attempt(TierFallback, fb, op))
	out.Attempts = append(out.Attempts, a)
	if a.Value != "" {
		out.Value, out.Tier = a.Value, TierFallback
	}
	return out
}

func attempt(t Tier, c Conn, op func(Conn) (string, error)) Attempt {
	v, err := op(c)
	if err != nil {
		return Attempt{Tier: t, Err: err}
	}
	if v == "" {
		return Attempt{Tier: t, Err: ErrNotFound}
	}
	return Attempt{Tier: t, Value: v}
}

func record(a Attempt) Attempt {
	result := "found"
	switch {
	case a.Err == nil:
	case errors.Is(a.Err, ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	obs.NameResolutionTotal.WithLabelValues(a.Tier.String(), result).Inc()
	return a
}

func (r *Resolver) fallbackConn(ctx context.Context) (Conn, error) {
	r.fallbackMu.Lock()
	defer r.fallbackMu.Unlock()
	if r.fallback != nil {
		return r.fallback, nil
	}
	if r.fallbackFactory == nil {
		return nil, ErrNoFallback
	}
	c, err := r.fallbackFactory(ctx)
	if err != nil {
		return nil, fmt.Errorf("build fallback client: %w", err)
	}
	r.fallback = c
	return c, nil
}

// IsHomeNetwork reports whether names can be resolved directly on chain.
func IsHomeNetwork(chain int64) bool {
	return chain == ChainMainnet || chain == ChainSepolia
}

var (
	addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	labelRe   = regexp.MustCompile(`^[a-z0-9-]+$`)
)

// IsAddress reports whether s is a 20-byte hex account.
func IsAddress(s string) bool {
	return addressRe.MatchString(strings.TrimSpace(s))
}

// ValidName reports whether s looks like a dotted name with at least two
// labels made of lower-case letters, digits and hyphens.
func ValidName(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if !labelRe.MatchString(l) {
			return false
		}
	}
	return true
}
