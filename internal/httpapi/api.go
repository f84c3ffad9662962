package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"verifica.org/internal/auth"
	"verifica.org/internal/certify"
	"verifica.org/internal/directory"
	"verifica.org/internal/documents"
	"verifica.org/internal/identity"
	"verifica.org/internal/ledger"
	"verifica.org/internal/obs"
	"verifica.org/internal/pin"
	"verifica.org/internal/roles"
	"verifica.org/internal/signing"
)

const serviceName = "verifica-api"

// Pinger is anything the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing stores.
type ReadyProbe struct {
	Stores []Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	for _, s := range rp.Stores {
		if s == nil {
			continue
		}
		if err := s.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Deps are the collaborators the HTTP layer drives.
type Deps struct {
	Documents *documents.Service
	Directory *directory.Service
	Certify   *certify.Coordinator
	Signing   *signing.Coordinator
	Gateway   *ledger.Gateway
	Resolver  *identity.Resolver
	Deriver   *roles.Deriver
	Verifier  *auth.Verifier
	Networks  Networks
	// Content serves pinned bytes under /ipfs/ when set.
	Content pin.Getter
}

// API is the HTTP layer.
type API struct {
	Deps
	readyProbe ReadyProbe
	version    string
	log        *zap.Logger

	maxBodyBytes int64
	rateBurst    int
	ratePerSec   float64
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec, a.rateBurst = perSecond, burst
		}
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func New(deps Deps, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		Deps:         deps,
		readyProbe:   rp,
		version:      version,
		log:          obs.Component("http"),
		maxBodyBytes: 32 << 20,
		rateBurst:    40,
		ratePerSec:   20,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the routed, instrumented handler.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, Logging(a.log), SecurityHeaders, CORS)
	r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) })
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBodyBytes) })

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())
	r.Get("/v1/verify", a.verify)
	if a.Content != nil {
		r.Get("/ipfs/{cid}", a.content)
	}

	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)

		r.Get("/v1/me", a.me)
		r.Put("/v1/me/alias", a.setOwnAlias)
		r.Get("/v1/identity/resolve", a.resolveName)
		r.Get("/v1/identity/lookup", a.lookupAddress)

		r.Route("/v1/documents", func(r chi.Router) {
			r.Get("/", a.listDocuments)
			r.Post("/", a.createDocument)
			r.Get("/{id}", a.getDocument)
			r.Patch("/{id}", a.patchDocument)
			r.Delete("/{id}", a.deleteDocument)
			r.Post("/{id}/sign", a.signDocument)
		})
		r.Get("/v1/ledger/{hash}", a.ledgerEntry)

		r.Route("/v1/members", func(r chi.Router) {
			r.Get("/", a.listMembers)
			r.Post("/", a.addMember)
			r.Delete("/{identity}", a.removeMember)
		})
		r.Route("/v1/aliases", func(r chi.Router) {
			r.Get("/", a.listAliases)
			r.Put("/", a.putAlias)
			r.Delete("/{email}", a.removeAlias)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return obs.Instrument(r)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if a.Gateway != nil {
		info["ledgerNetworks"] = a.Gateway.Networks()
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
