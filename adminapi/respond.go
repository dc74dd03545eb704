package adminapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/gatekit/pkg/flag"
	"github.com/dmitrymomot/gatekit/pkg/govern"
	"github.com/dmitrymomot/gatekit/pkg/rollout"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps engine errors onto HTTP status codes. The mapping is
// deliberately coarse: typed not-found means 404, validation 400,
// concurrent state conflicts 409, everything else 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var status int
	switch {
	case errors.Is(err, flag.ErrFlagNotFound),
		errors.Is(err, rollout.ErrStrategyNotFound),
		errors.Is(err, govern.ErrConfigNotFound),
		errors.Is(err, govern.ErrActionNotFound):
		status = http.StatusNotFound

	case errors.Is(err, flag.ErrInvalidFlag),
		errors.Is(err, flag.ErrInvalidTrafficSplit),
		errors.Is(err, rollout.ErrInvalidStrategy),
		errors.Is(err, govern.ErrInvalidConfig),
		errors.Is(err, govern.ErrInvalidRule):
		status = http.StatusBadRequest

	case errors.Is(err, flag.ErrFlagExists),
		errors.Is(err, flag.ErrUpdateConflict),
		errors.Is(err, rollout.ErrStrategyExists),
		errors.Is(err, rollout.ErrInvalidTransition),
		errors.Is(err, rollout.ErrUpdateConflict),
		errors.Is(err, govern.ErrUpdateConflict):
		status = http.StatusConflict

	default:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("admin api internal error", slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
