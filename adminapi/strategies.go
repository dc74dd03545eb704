package adminapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/gatekit/pkg/rollout"
)

type strategyHandlers struct {
	rollouts *rollout.Engine
	logger   *slog.Logger
}

func (h *strategyHandlers) create(w http.ResponseWriter, r *http.Request) {
	var st rollout.Strategy
	if err := decodeJSON(r, &st); err != nil {
		badRequest(w, "malformed strategy payload: "+err.Error())
		return
	}
	if err := h.rollouts.CreateStrategy(r.Context(), &st); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *strategyHandlers) get(w http.ResponseWriter, r *http.Request) {
	st, err := h.rollouts.GetStrategy(r.Context(), chi.URLParam(r, "feature"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *strategyHandlers) pause(w http.ResponseWriter, r *http.Request) {
	if err := h.rollouts.Pause(r.Context(), chi.URLParam(r, "feature")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *strategyHandlers) resume(w http.ResponseWriter, r *http.Request) {
	if err := h.rollouts.Resume(r.Context(), chi.URLParam(r, "feature")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *strategyHandlers) rollback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, "malformed rollback payload: "+err.Error())
		return
	}
	if body.Reason == "" {
		body.Reason = rollout.RollbackRequestedByOperator
	}
	if err := h.rollouts.Rollback(r.Context(), chi.URLParam(r, "feature"), body.Reason); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *strategyHandlers) updateMetrics(w http.ResponseWriter, r *http.Request) {
	var update rollout.MetricsUpdate
	if err := decodeJSON(r, &update); err != nil {
		badRequest(w, "malformed metrics payload: "+err.Error())
		return
	}
	if err := h.rollouts.UpdateMetrics(r.Context(), chi.URLParam(r, "feature"), update); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
