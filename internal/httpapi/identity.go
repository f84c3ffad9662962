package httpapi

import (
	"context"
	"net/http"
	"strings"

	"verifica.org/internal/identity"
	"verifica.org/internal/roles"
)

type meResponse struct {
	Identity        string        `json:"identity"`
	Email           string        `json:"email,omitempty"`
	Name            string        `json:"name,omitempty"`
	LedgerSupported bool          `json:"ledgerSupported"`
	NetworkID       int64         `json:"networkId,omitempty"`
	Binding         roles.Binding `json:"binding"`
}

// me returns the caller's derived role binding.
func (a *API) me(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	resp := meResponse{
		Identity: s.caller.Identity,
		Email:    s.caller.Email,
		Name:     s.name,
		Binding:  s.binding,
	}
	if a.Gateway != nil {
		sup := a.Gateway.CheckSupported(r.Context(), s.ledger)
		resp.LedgerSupported, resp.NetworkID = sup.Supported, sup.NetworkID
	}
	writeJSON(w, http.StatusOK, resp)
}

type resolutionResponse struct {
	Query    string            `json:"query"`
	Value    string            `json:"value,omitempty"`
	Found    bool              `json:"found"`
	Tier     string            `json:"tier,omitempty"`
	Cached   bool              `json:"cached"`
	Attempts []attemptResponse `json:"attempts"`
}

type attemptResponse struct {
	Tier  string `json:"tier"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

func (a *API) resolveName(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if !identity.ValidName(name) {
		writeError(w, r, http.StatusBadRequest, "name must be a dotted name")
		return
	}
	a.resolution(w, r, name, func(ctx context.Context, c identity.Conn) identity.Outcome {
		return a.Resolver.ResolveAddressDetailed(ctx, c, name)
	})
}

func (a *API) lookupAddress(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimSpace(r.URL.Query().Get("address"))
	if !identity.IsAddress(addr) {
		writeError(w, r, http.StatusBadRequest, "address must be a 0x-prefixed 20-byte hex value")
		return
	}
	a.resolution(w, r, addr, func(ctx context.Context, c identity.Conn) identity.Outcome {
		return a.Resolver.LookupNameDetailed(ctx, c, addr)
	})
}

// resolution runs a lookup against the caller's network and reports every
// tier that was tried. A miss is still a 200.
func (a *API) resolution(w http.ResponseWriter, r *http.Request, query string, op func(context.Context, identity.Conn) identity.Outcome) {
	if a.Resolver == nil {
		writeError(w, r, http.StatusServiceUnavailable, "name resolution is not configured")
		return
	}
	_, names, err := a.conns(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	out := op(r.Context(), names)
	resp := resolutionResponse{
		Query:    query,
		Value:    out.Value,
		Found:    out.Found(),
		Cached:   out.Cached,
		Attempts: make([]attemptResponse, 0, len(out.Attempts)),
	}
	if out.Found() {
		resp.Tier = out.Tier.String()
	}
	for _, at := range out.Attempts {
		ar := attemptResponse{Tier: at.Tier.String(), Value: at.Value}
		if at.Err != nil {
			ar.Error = at.Err.Error()
		}
		resp.Attempts = append(resp.Attempts, ar)
	}
	writeJSON(w, http.StatusOK, resp)
}
