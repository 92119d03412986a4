package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fenwick/mnemon/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// writeError maps core error kinds to stable machine-readable codes.
// Nothing is swallowed into a generic failure: unknown errors are
// logged and reported as internal.
func writeError(w http.ResponseWriter, err error) {
	var status int
	var code string

	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrWriteConflict):
		status, code = http.StatusConflict, "write_conflict"
	case errors.Is(err, apperr.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperr.ErrDimensionMismatch):
		status, code = http.StatusConflict, "dimension_mismatch"
	case errors.Is(err, apperr.ErrProviderTimeout):
		status, code = http.StatusGatewayTimeout, "provider_timeout"
	case errors.Is(err, apperr.ErrProviderAuth):
		status, code = http.StatusBadGateway, "provider_auth"
	case errors.Is(err, apperr.ErrIDCollision):
		status, code = http.StatusConflict, "id_collision"
	default:
		slog.Error("internal error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errResponse{Code: "internal", Error: "internal error"})
		return
	}
	writeJSON(w, status, errResponse{Code: code, Error: err.Error()})
}
