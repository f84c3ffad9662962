package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"verifica.org/internal/audit"
	"verifica.org/internal/roles"
)

type addMemberRequest struct {
	WalletAddress string `json:"walletAddress"`
	ENSName       string `json:"ensName"`
	Role          string `json:"role"`
}

type aliasRequest struct {
	Email         string `json:"email"`
	ENSName       string `json:"ensName"`
	WalletAddress string `json:"walletAddress"`
}

type ownAliasRequest struct {
	ENSName string `json:"ensName"`
}

// listMembers is open to issuers, who need the rosters to pick recipients.
func (a *API) listMembers(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if !canIssue(s.binding) && !s.binding.Permissions.ManageMembers {
		a.handleError(w, r, fmt.Errorf("%w: role %q cannot list members", errForbidden, s.binding.Role))
		return
	}
	var role roles.Role
	if raw := r.URL.Query().Get("role"); raw != "" {
		parsed, ok := roles.ParseRole(raw)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "unknown role")
			return
		}
		role = parsed
	}
	items, err := a.Directory.Members(r.Context(), role)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) addMember(w http.ResponseWriter, r *http.Request) {
	s, ok := a.manager(w, r)
	if !ok {
		return
	}
	var req addMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, ok := roles.ParseRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "role must be alumno or maestro")
		return
	}
	m, err := a.Directory.AddMember(r.Context(), req.WalletAddress, req.ENSName, role, s.caller.Identity)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "member.added", map[string]any{"member": m.Identity, "role": string(m.Role)})
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) removeMember(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.manager(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "identity")
	if err := a.Directory.RemoveMember(r.Context(), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "member.removed", map[string]any{"member": strings.ToLower(id)})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listAliases(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.manager(w, r); !ok {
		return
	}
	items, err := a.Directory.Aliases(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) putAlias(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.manager(w, r); !ok {
		return
	}
	var req aliasRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a.storeAlias(w, r, req)
}

// setOwnAlias associates the caller's sign-in email with a name. The name must
// resolve to the caller's own address.
func (a *API) setOwnAlias(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if s.caller.Email == "" {
		writeError(w, r, http.StatusBadRequest, "token carries no email")
		return
	}
	var req ownAliasRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if a.Resolver == nil {
		writeError(w, r, http.StatusServiceUnavailable, "name resolution is not configured")
		return
	}
	addr, ok := a.Resolver.ResolveAddress(r.Context(), s.names, req.ENSName)
	if !ok || !strings.EqualFold(addr, s.caller.Identity) {
		a.handleError(w, r, fmt.Errorf("%w: %q does not resolve to the caller", errForbidden, req.ENSName))
		return
	}
	a.storeAlias(w, r, aliasRequest{Email: s.caller.Email, ENSName: req.ENSName, WalletAddress: s.caller.Identity})
}

func (a *API) storeAlias(w http.ResponseWriter, r *http.Request, req aliasRequest) {
	al, err := a.Directory.SetAlias(r.Context(), req.Email, req.ENSName, req.WalletAddress)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "alias.set", map[string]any{"email": al.Email, "name": al.Name})
	writeJSON(w, http.StatusOK, al)
}

func (a *API) removeAlias(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.manager(w, r); !ok {
		return
	}
	email := chi.URLParam(r, "email")
	if err := a.Directory.RemoveAlias(r.Context(), email); err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "alias.removed", map[string]any{"email": strings.ToLower(email)})
	w.WriteHeader(http.StatusNoContent)
}

// manager resolves the session and requires the member management permission.
func (a *API) manager(w http.ResponseWriter, r *http.Request) (session, bool) {
	s, err := a.session(r)
	if err != nil {
		a.handleError(w, r, err)
		return session{}, false
	}
	if !s.binding.Permissions.ManageMembers {
		a.handleError(w, r, fmt.Errorf("%w: role %q cannot manage members", errForbidden, s.binding.Role))
		return session{}, false
	}
	return s, true
}
