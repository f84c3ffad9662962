package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"verifica.org/internal/audit"
	"verifica.org/internal/certify"
	"verifica.org/internal/documents"
	"verifica.org/internal/roles"
)

type listDocumentsResponse struct {
	Items []documents.Record `json:"items"`
}

// createDocument takes a multipart form: title, institution, description,
// category, issueDate, targetRole, memberAddress and one or more "files".
func (a *API) createDocument(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if err := r.ParseMultipartForm(a.maxBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "multipart form expected: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	target, ok := roles.ParseTarget(r.FormValue("targetRole"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "targetRole must be alumnos or maestros")
		return
	}
	sel := documents.All()
	if m := strings.TrimSpace(r.FormValue("memberAddress")); m != "" && !strings.EqualFold(m, "all") {
		sel = documents.Specific(m)
	}

	var uploads []certify.Upload
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		uploads = append(uploads, certify.Upload{Name: fh.Filename, Data: data})
	}

	res, err := a.Certify.Submit(r.Context(), s.ledger, certify.Submission{
		Title:       r.FormValue("title"),
		Institution: r.FormValue("institution"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		IssueDate:   r.FormValue("issueDate"),
		Files:       uploads,
		Issuer:      s.binding,
		Recipient:   documents.Recipient{TargetRole: target, Selector: sel},
	})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "document.created", map[string]any{
		"document_id": res.Record.ID,
		"hash":        res.Record.ContentHash(),
		"ledger":      string(res.Anchor.Status),
		"tx_ref":      res.Anchor.TxRef,
	})
	writeJSON(w, http.StatusCreated, res)
}

// listDocuments returns documents newest first. targetRole narrows by
// audience; view=mine shows only what the caller received.
func (a *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if !s.binding.Permissions.View {
		a.handleError(w, r, fmt.Errorf("%w: role %q cannot view documents", errForbidden, s.binding.Role))
		return
	}
	q := r.URL.Query()
	var f documents.Filter
	if raw := q.Get("targetRole"); raw != "" {
		t, ok := roles.ParseTarget(raw)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "targetRole must be alumnos or maestros")
			return
		}
		f.TargetRole = t
	}
	// Callers who cannot issue only ever see what was sent to them.
	if q.Get("view") == "mine" || !canIssue(s.binding) {
		f.MemberRole, f.Member = s.binding.Role, s.caller.Identity
	}
	items, err := a.Documents.List(r.Context(), f)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listDocumentsResponse{Items: items})
}

func (a *API) getDocument(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	rec, err := a.Documents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if !s.binding.Permissions.Read || !(canIssue(s.binding) || documents.Visible(rec, s.binding.Role, s.caller.Identity)) {
		a.handleError(w, r, fmt.Errorf("%w: document not addressed to caller", errForbidden))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) patchDocument(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.requireOwner(r, s, id); err != nil {
		a.handleError(w, r, err)
		return
	}
	var p documents.Patch
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.Documents.Patch(r.Context(), id, s.binding, p)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "document.patched", map[string]any{"document_id": id})
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) deleteDocument(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.requireOwner(r, s, id); err != nil {
		a.handleError(w, r, err)
		return
	}
	if err := a.Documents.Delete(r.Context(), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "document.deleted", map[string]any{"document_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) signDocument(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	res, err := a.Signing.Sign(r.Context(), s.ledger, s.binding, id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "document.sign", map[string]any{
		"document_id": id,
		"outcome":     string(res.Outcome),
		"ledger":      res.Ledger.Signed,
	})
	writeJSON(w, http.StatusOK, res)
}

// requireOwner allows the issuer of a document and member managers.
func (a *API) requireOwner(r *http.Request, s session, id string) error {
	if s.binding.Permissions.ManageMembers {
		return nil
	}
	rec, err := a.Documents.Get(r.Context(), id)
	if err != nil {
		return err
	}
	if rec.CreatedBy != s.caller.Identity {
		return fmt.Errorf("%w: only the issuer may change %s", errForbidden, id)
	}
	return nil
}

func canIssue(b roles.Binding) bool {
	return b.Permissions.SendToAlumnos || b.Permissions.SendToMaestros
}

// verify is the public lookup by content hash.
func (a *API) verify(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimSpace(r.URL.Query().Get("hash"))
	v, err := a.Documents.LookupByHash(r.Context(), hash)
	if err != nil {
		if errors.Is(err, documents.ErrValidation) {
			writeError(w, r, http.StatusBadRequest, "hash is required")
			return
		}
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) content(w http.ResponseWriter, r *http.Request) {
	data, err := a.Content.Get(r.Context(), chi.URLParam(r, "cid"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, "content not found")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = w.Write(data)
}
