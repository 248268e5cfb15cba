// Package handler implements the import, review and history endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/review"
	importservice "github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/service"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/sniffer"
)

const defaultMaxUpload = 10 << 20

// ImportHandler serves the import pipeline over HTTP.
type ImportHandler struct {
	imports   *importservice.ImportService
	reviews   *review.Engine
	logger    *slog.Logger
	maxUpload int64
}

// NewImportHandler constructs a new handler. maxUpload caps request bodies
// carrying files; zero means 10 MiB.
func NewImportHandler(imports *importservice.ImportService, reviews *review.Engine, logger *slog.Logger, maxUpload int64) *ImportHandler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &ImportHandler{imports: imports, reviews: reviews, logger: logger, maxUpload: maxUpload}
}

// Register mounts the routes on mux.
func (h *ImportHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/imports/analyze", h.Analyze)
	mux.HandleFunc("POST /api/imports", h.Stage)
	mux.HandleFunc("GET /api/imports/{id}/staged", h.Staged)
	mux.HandleFunc("PATCH /api/imports/{id}/staged", h.OverrideTags)
	mux.HandleFunc("DELETE /api/imports/{id}/staged", h.Discard)
	mux.HandleFunc("POST /api/imports/{id}/commit", h.Commit)
	mux.HandleFunc("GET /api/imports", h.List)
	mux.HandleFunc("GET /api/imports/{id}", h.Get)
	mux.HandleFunc("DELETE /api/imports/{id}", h.Delete)
	mux.HandleFunc("POST /api/imports/{id}/rematch", h.Rematch)
	mux.HandleFunc("POST /api/imports/{id}/rematch/apply", h.ApplyReview)
	mux.HandleFunc("DELETE /api/imports/{id}/rematch", h.DiscardReview)
	mux.HandleFunc("POST /api/mappings", h.SaveMapping)
}

type stageRequest struct {
	Filename    string                `json:"filename"`
	Content     []byte                `json:"content"` // base64 in JSON
	Mapping     sniffer.ColumnMapping `json:"mapping"`
	SaveMapping bool                  `json:"save_mapping"`
}

type stagedResponse struct {
	ImportID   uuid.UUID                         `json:"import_id"`
	Filename   string                            `json:"filename"`
	Rows       []importservice.StagedTransaction `json:"rows"`
	Errors     []importservice.RowError          `json:"errors"`
	ErrorCount int                               `json:"error_count"`
}

type overrideRequest struct {
	TempID *int    `json:"temp_id"`
	Search string  `json:"search"`
	Tag    *string `json:"tag"`
}

type reviewResponse struct {
	ImportID     uuid.UUID      `json:"import_id"`
	ChangedCount int            `json:"changed_count"`
	Entries      []review.Entry `json:"entries"`
}

type applyRequest struct {
	Selections map[uuid.UUID]*string `json:"selections"`
}

type applyResponse struct {
	*review.ApplyResult
	Error string `json:"error,omitempty"`
}

type mappingRequest struct {
	Fingerprint string                `json:"fingerprint"`
	Mapping     sniffer.ColumnMapping `json:"mapping"`
}

// Analyze takes the raw file as the request body.
func (h *ImportHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readBody(w, r)
	if !ok {
		return
	}
	result, err := h.imports.Analyze(r.Context(), data, r.URL.Query().Get("filename"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, result)
}

// Stage parses the uploaded file and classifies its rows without writing
// any transactions.
func (h *ImportHandler) Stage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload*2) // base64 overhead
	var req stageRequest
	if !decode(w, r, &req) {
		return
	}

	doc, _, err := importservice.DecodeFile(req.Content, req.Filename)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	staged, err := h.imports.Stage(r.Context(), importservice.StageRequest{
		Filename:    req.Filename,
		Document:    doc,
		Mapping:     req.Mapping,
		SaveMapping: req.SaveMapping,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, toStagedResponse(staged, ""))
}

func (h *ImportHandler) Staged(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	staged, err := h.imports.Staged(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, toStagedResponse(staged, r.URL.Query().Get("search")))
}

// OverrideTags sets the selected tag of one row (temp_id) or of every row
// matching search.
func (h *ImportHandler) OverrideTags(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if !decode(w, r, &req) {
		return
	}
	staged, err := h.imports.Staged(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	if req.TempID != nil {
		if err := staged.SetSelectedTag(*req.TempID, req.Tag); err != nil {
			common.WriteError(w, err)
			return
		}
	} else {
		staged.BulkSetSelectedTag(req.Search, req.Tag)
	}
	common.WriteJSON(w, http.StatusOK, toStagedResponse(staged, req.Search))
}

// Discard drops a staged import without writing it.
func (h *ImportHandler) Discard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.imports.Discard(r.Context(), id); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Commit persists a staged import and reports the final counts.
func (h *ImportHandler) Commit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	l := h.logger.With(slog.String("method", "Commit"), slog.String("import_id", id.String()))

	result, err := h.imports.Commit(ctx, id, func(p importservice.Progress) {
		l.DebugContext(ctx, "import progress", slog.Int("processed", p.Processed), slog.Int("total", p.Total))
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, result)
}

func (h *ImportHandler) List(w http.ResponseWriter, r *http.Request) {
	batches, err := h.imports.ListImports(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, batches)
}

func (h *ImportHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.imports.GetImport(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, detail)
}

// Delete removes an import and its transactions.
func (h *ImportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	n, err := h.imports.DeleteImport(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]int64{"deleted_transactions": n})
}

// Rematch proposes tags for an import's transactions using the current
// rules.
func (h *ImportHandler) Rematch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rv, err := h.reviews.Rematch(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, reviewResponse{ImportID: rv.ImportID, ChangedCount: rv.ChangedCount(), Entries: rv.Entries()})
}

// ApplyReview records the user's selections on the pending review and
// writes the changed tags. A partial failure still reports the number of
// updates written.
func (h *ImportHandler) ApplyReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req applyRequest
	if !decode(w, r, &req) {
		return
	}

	rv, err := h.reviews.Review(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if err := rv.SelectAll(req.Selections); err != nil {
		common.WriteError(w, err)
		return
	}

	result, err := h.reviews.Apply(r.Context(), rv)
	if err != nil {
		if result == nil {
			common.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(r.Context(), "review applied partially",
			slog.String("import_id", id.String()), slog.Int("applied", result.Applied), slog.Any("error", err))
		common.WriteJSON(w, common.StatusFor(err), applyResponse{ApplyResult: result, Error: "update failed after partial apply"})
		return
	}
	common.WriteJSON(w, http.StatusOK, applyResponse{ApplyResult: result})
}

// DiscardReview drops a pending review without writing it.
func (h *ImportHandler) DiscardReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.reviews.Discard(r.Context(), id); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ImportHandler) SaveMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.imports.SaveMapping(r.Context(), req.Fingerprint, req.Mapping); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ImportHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.WriteJSON(w, http.StatusRequestEntityTooLarge, common.Response{Error: "file too large"})
			return nil, false
		}
		common.WriteError(w, fmt.Errorf("%w: unreadable body", common.ErrBadRequest))
		return nil, false
	}
	return data, true
}

func toStagedResponse(s *importservice.StagedImport, search string) stagedResponse {
	return stagedResponse{
		ImportID:   s.ImportID,
		Filename:   s.Filename,
		Rows:       s.Filter(search),
		Errors:     s.Errors(),
		ErrorCount: s.ErrorCount(),
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		common.WriteError(w, fmt.Errorf("%w: invalid import id", common.ErrBadRequest))
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.WriteJSON(w, http.StatusRequestEntityTooLarge, common.Response{Error: "file too large"})
			return false
		}
		common.WriteError(w, fmt.Errorf("%w: invalid body", common.ErrBadRequest))
		return false
	}
	return true
}
