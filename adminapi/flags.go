package adminapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/gatekit/pkg/flag"
)

// actorHeader identifies the operator performing a mutation. Falling
// back to a fixed name keeps audit fields populated for unauthenticated
// internal deployments.
const (
	actorHeader  = "X-Actor"
	defaultActor = "admin-api"
)

func actor(r *http.Request) string {
	if a := r.Header.Get(actorHeader); a != "" {
		return a
	}
	return defaultActor
}

type flagHandlers struct {
	flags  *flag.Service
	logger *slog.Logger
}

func (h *flagHandlers) list(w http.ResponseWriter, r *http.Request) {
	flags, err := h.flags.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (h *flagHandlers) get(w http.ResponseWriter, r *http.Request) {
	f, err := h.flags.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *flagHandlers) create(w http.ResponseWriter, r *http.Request) {
	var f flag.Flag
	if err := decodeJSON(r, &f); err != nil {
		badRequest(w, "malformed flag payload: "+err.Error())
		return
	}
	if err := h.flags.Create(r.Context(), &f, actor(r)); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *flagHandlers) update(w http.ResponseWriter, r *http.Request) {
	var update flag.Update
	if err := decodeJSON(r, &update); err != nil {
		badRequest(w, "malformed update payload: "+err.Error())
		return
	}
	f, err := h.flags.Update(r.Context(), chi.URLParam(r, "name"), update, actor(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *flagHandlers) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.flags.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *flagHandlers) shutdown(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, "malformed shutdown payload: "+err.Error())
		return
	}
	if err := h.flags.EmergencyShutdown(r.Context(), chi.URLParam(r, "name"), body.Reason, actor(r)); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
