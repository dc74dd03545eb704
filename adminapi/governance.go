package adminapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/gatekit/pkg/govern"
)

type governanceHandlers struct {
	governance *govern.Engine
	logger     *slog.Logger
}

func (h *governanceHandlers) execute(w http.ResponseWriter, r *http.Request) {
	var event govern.CostEvent
	if err := decodeJSON(r, &event); err != nil {
		badRequest(w, "malformed cost event payload: "+err.Error())
		return
	}
	actions, err := h.governance.Execute(r.Context(), event)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if actions == nil {
		actions = []govern.Action{}
	}
	writeJSON(w, http.StatusOK, actions)
}

func (h *governanceHandlers) reverseAction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "malformed action id")
		return
	}
	if err := h.governance.Reverse(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *governanceHandlers) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.governance.GetConfig(r.Context(), chi.URLParam(r, "subject"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *governanceHandlers) setConfig(w http.ResponseWriter, r *http.Request) {
	var cfg govern.Config
	if err := decodeJSON(r, &cfg); err != nil {
		badRequest(w, "malformed config payload: "+err.Error())
		return
	}
	cfg.SubjectID = chi.URLParam(r, "subject")
	if err := h.governance.SetConfig(r.Context(), &cfg); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *governanceHandlers) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.governance.Reset(r.Context(), chi.URLParam(r, "subject")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *governanceHandlers) restrictions(w http.ResponseWriter, r *http.Request) {
	restrictions, restricted, err := h.governance.ActiveRestrictions(r.Context(), chi.URLParam(r, "subject"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Restricted   bool                `json:"restricted"`
		Restrictions govern.Restrictions `json:"restrictions"`
	}{Restricted: restricted, Restrictions: restrictions})
}

func (h *governanceHandlers) listActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.governance.Actions(r.Context(), chi.URLParam(r, "subject"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}
