package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"verifica.org/internal/ledger"
)

type ledgerEntryResponse struct {
	Hash    string        `json:"hash"`
	Exists  bool          `json:"exists"`
	Entry   *ledger.Entry `json:"entry,omitempty"`
	CanSign bool          `json:"canSign"`
}

// ledgerEntry reports the registry entry of a content hash on the caller's
// network, and whether the caller may still countersign it.
func (a *API) ledgerEntry(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	h, err := ledger.ParseHash(chi.URLParam(r, "hash"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	hash := h.String()
	entry, ok, err := a.Gateway.Exists(r.Context(), s.ledger, hash)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	resp := ledgerEntryResponse{Hash: hash}
	if ok {
		resp.Exists, resp.Entry = true, &entry
		if resp.CanSign, err = a.Gateway.CanSign(r.Context(), s.ledger, hash, s.caller.Identity); err != nil {
			a.handleError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
