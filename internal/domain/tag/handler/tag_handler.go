// Package handler exposes tag and rule management over HTTP.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/tag"
)

// TagHandler implements the tag endpoints.
type TagHandler struct {
	service *tag.Service
}

// NewTagHandler constructs a new handler.
func NewTagHandler(svc *tag.Service) *TagHandler {
	return &TagHandler{service: svc}
}

// Register mounts the routes on mux.
func (h *TagHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tags", h.ListTags)
	mux.HandleFunc("POST /api/tags", h.CreateTag)
	mux.HandleFunc("PATCH /api/tags/{id}", h.UpdateTag)
	mux.HandleFunc("DELETE /api/tags/{id}", h.DeleteTag)
	mux.HandleFunc("POST /api/tags/{id}/rules", h.AddRule)
	mux.HandleFunc("PATCH /api/rules/{id}", h.UpdateRule)
	mux.HandleFunc("DELETE /api/rules/{id}", h.DeleteRule)
}

// ListTags returns master tags followed by the user's tags, in match order.
func (h *TagHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.service.ListTags(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if tags == nil {
		tags = []tag.Tag{}
	}
	common.WriteJSON(w, http.StatusOK, tags)
}

// CreateTag handles tag creation.
func (h *TagHandler) CreateTag(w http.ResponseWriter, r *http.Request) {
	var p tag.CreateTagParams
	if !decode(w, r, &p) {
		return
	}
	t, err := h.service.CreateTag(r.Context(), p)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, t)
}

func (h *TagHandler) UpdateTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var p tag.UpdateTagParams
	if !decode(w, r, &p) {
		return
	}
	t, err := h.service.UpdateTag(r.Context(), id, p)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, t)
}

// DeleteTag removes the tag and untags the user's transactions that used it.
func (h *TagHandler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteTag(r.Context(), id); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TagHandler) AddRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var p tag.CreateRuleParams
	if !decode(w, r, &p) {
		return
	}
	rule, err := h.service.AddRule(r.Context(), id, p)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, rule)
}

func (h *TagHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var p tag.UpdateRuleParams
	if !decode(w, r, &p) {
		return
	}
	rule, err := h.service.UpdateRule(r.Context(), id, p)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, rule)
}

func (h *TagHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRule(r.Context(), id); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		common.WriteError(w, fmt.Errorf("%w: invalid id", common.ErrBadRequest))
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		common.WriteError(w, fmt.Errorf("%w: invalid body", common.ErrBadRequest))
		return false
	}
	return true
}
