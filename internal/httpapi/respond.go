package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"verifica.org/internal/auth"
	"verifica.org/internal/certify"
	"verifica.org/internal/directory"
	"verifica.org/internal/documents"
	"verifica.org/internal/ledger"
	"verifica.org/internal/pin"
	"verifica.org/internal/signing"
)

var (
	errForbidden  = errors.New("forbidden")
	errBadRequest = errors.New("bad request")
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleError maps domain errors to status codes.
func (a *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var transient *ledger.TransientError
	switch {
	case errors.Is(err, pin.ErrTooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, pin.ErrEmpty),
		errors.Is(err, documents.ErrValidation),
		errors.Is(err, directory.ErrInvalid),
		errors.Is(err, ledger.ErrInvalidHash),
		errors.Is(err, ledger.ErrUnsupportedNetwork),
		errors.Is(err, errBadRequest):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, certify.ErrForbidden),
		errors.Is(err, signing.ErrUnauthorized),
		errors.Is(err, errForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, documents.ErrNotFound),
		errors.Is(err, directory.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, directory.ErrExists),
		errors.Is(err, directory.ErrAliasTaken),
		errors.Is(err, documents.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, certify.ErrUpload), errors.As(err, &transient):
		writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		a.log.Error("request failed", zap.String("request_id", RequestIDFromContext(r)), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
