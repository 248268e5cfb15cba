package transaction

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
)

// Handler serves the transaction history endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a new handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{service: svc}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/transactions", h.List)
	mux.HandleFunc("PATCH /api/transactions/{id}", h.Update)
}

// List handles GET /api/transactions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	page, err := h.service.List(r.Context(), q)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, page)
}

// Update handles PATCH /api/transactions/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		common.WriteError(w, fmt.Errorf("%w: invalid transaction id", common.ErrBadRequest))
		return
	}

	var p UpdateParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		common.WriteError(w, fmt.Errorf("%w: invalid body", common.ErrBadRequest))
		return
	}

	tx, err := h.service.Update(r.Context(), id, p)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, tx)
}

func parseQuery(r *http.Request) (Query, error) {
	v := r.URL.Query()
	q := DefaultQuery()
	q.From = v.Get("from")
	q.To = v.Get("to")
	q.Tag = v.Get("tag")
	q.Search = v.Get("q")

	if s := v.Get("sort"); s != "" {
		key := SortKey(s)
		if !key.Valid() {
			return q, fmt.Errorf("%w: unknown sort key %q", common.ErrBadRequest, s)
		}
		q.Sort = key
	}
	switch v.Get("dir") {
	case "":
	case "asc":
		q.Desc = false
	case "desc":
		q.Desc = true
	default:
		return q, fmt.Errorf("%w: dir must be asc or desc", common.ErrBadRequest)
	}

	for name, dst := range map[string]*int{"page": &q.Page, "page_size": &q.PageSize} {
		raw := v.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return q, fmt.Errorf("%w: %s must be a positive integer", common.ErrBadRequest, name)
		}
		*dst = n
	}
	return q, nil
}
