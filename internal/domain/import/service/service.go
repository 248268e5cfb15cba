// Package service provides the import orchestration logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/encoding"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/normalizer"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/repository"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/sniffer"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/staging"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/tag"
	"github.com/FACorreiaa/smart-expense-tagger/pkg/observability"
)

const (
	DefaultChunkSize  = 100
	DefaultStagingTTL = 30 * time.Minute
	previewRows       = 10
)

// PersistenceError is a store failure that aborts the import: creating
// the batch or writing its final counts.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TagLister loads the tag set used to classify rows.
type TagLister interface {
	ListTags(ctx context.Context, ownerID string) ([]tag.Tag, error)
}

// Options tunes the pipeline. Zero values fall back to defaults.
type Options struct {
	ChunkSize  int
	StagingTTL time.Duration
}

// AnalyzeResult describes an uploaded file before any mapping is chosen.
type AnalyzeResult struct {
	Filename     string                 `json:"filename"`
	Encoding     string                 `json:"encoding"`
	EncodingHint string                 `json:"encoding_hint,omitempty"`
	Confident    bool                   `json:"confident"`
	Headers      []string               `json:"headers"`
	Preview      []sniffer.Row          `json:"preview"`
	RowCount     int                    `json:"row_count"`
	Fingerprint  string                 `json:"fingerprint"`
	Suggested    sniffer.ColumnMapping  `json:"suggested_mapping"`
	Saved        *sniffer.ColumnMapping `json:"saved_mapping,omitempty"`
}

// StageRequest carries a parsed document and the caller's column choice.
type StageRequest struct {
	Filename    string
	Document    *sniffer.Document
	Mapping     sniffer.ColumnMapping
	SaveMapping bool
}

// Progress is reported after every persisted chunk.
type Progress struct {
	Processed    int `json:"processed"`
	Total        int `json:"total"`
	SuccessCount int `json:"success_count"`
	ErrorCount   int `json:"error_count"`
}

type ProgressFunc func(Progress)

// CommitResult is the final bookkeeping of an import.
type CommitResult struct {
	ImportID     uuid.UUID              `json:"import_id"`
	Status       repository.BatchStatus `json:"status"`
	RowCount     int                    `json:"row_count"`
	SuccessCount int                    `json:"success_count"`
	ErrorCount   int                    `json:"error_count"`
}

// ImportDetail is a batch with its persisted transactions.
type ImportDetail struct {
	Batch        *repository.ImportBatch  `json:"batch"`
	Transactions []repository.Transaction `json:"transactions"`
}

// ImportService orchestrates file analysis, staging and commit.
type ImportService struct {
	repo      repository.ImportRepository
	tags      TagLister
	logger    *slog.Logger
	tracer    trace.Tracer
	staging   *staging.Cache[*StagedImport]
	chunkSize int
	now       func() time.Time
}

// NewImportService creates a new import service
func NewImportService(repo repository.ImportRepository, tags TagLister, logger *slog.Logger, opts Options) *ImportService {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.StagingTTL <= 0 {
		opts.StagingTTL = DefaultStagingTTL
	}
	return &ImportService{
		repo:      repo,
		tags:      tags,
		logger:    logger,
		tracer:    otel.Tracer("tagger/import"),
		staging:   staging.NewCache[*StagedImport](opts.StagingTTL),
		chunkSize: opts.ChunkSize,
		now:       time.Now,
	}
}

// DecodeFile turns uploaded bytes into a document. Spreadsheets are chosen
// by file extension; everything else is decoded as CSV text. Structural
// problems are reported as common.ErrBadRequest wrapping the parser error.
func DecodeFile(data []byte, filename string) (*sniffer.Document, encoding.Result, error) {
	if len(data) == 0 {
		return nil, encoding.Result{}, fmt.Errorf("%w: %w", common.ErrBadRequest, sniffer.ErrEmptyFile)
	}

	if isSpreadsheet(filename) {
		doc, err := sniffer.ParseXLSX(data)
		if err != nil {
			return nil, encoding.Result{}, fmt.Errorf("%w: %w", common.ErrBadRequest, err)
		}
		return doc, encoding.Result{Encoding: "xlsx", Confident: true}, nil
	}

	decoded := encoding.Decode(data)
	doc, err := sniffer.Parse(decoded.Text)
	if err != nil {
		return nil, decoded, fmt.Errorf("%w: %w", common.ErrBadRequest, err)
	}
	return doc, decoded, nil
}

func isSpreadsheet(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".xlsx" || ext == ".xlsm"
}

// Analyze decodes and parses a file and proposes a column mapping. A
// mapping saved earlier for the same header layout is returned as well.
func (s *ImportService) Analyze(ctx context.Context, data []byte, filename string) (*AnalyzeResult, error) {
	l := s.logger.With(slog.String("method", "Analyze"), slog.String("filename", filename))

	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}

	doc, decoded, err := DecodeFile(data, filename)
	if err != nil {
		l.WarnContext(ctx, "failed to parse file", slog.Any("error", err))
		return nil, err
	}
	if !decoded.Confident {
		l.WarnContext(ctx, "encoding not recognised, decoded as lossy UTF-8", slog.String("hint", decoded.Hint))
	}

	result := &AnalyzeResult{
		Filename:     filename,
		Encoding:     decoded.Encoding,
		EncodingHint: decoded.Hint,
		Confident:    decoded.Confident,
		Headers:      doc.Headers,
		Preview:      doc.Preview(previewRows),
		RowCount:     len(doc.Rows),
		Fingerprint:  doc.Fingerprint,
		Suggested:    sniffer.SuggestMapping(doc.Headers),
	}

	saved, err := s.repo.GetMapping(ctx, userID, doc.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup mapping: %w", err)
	}
	if saved != nil {
		m := sniffer.ColumnMapping{Date: saved.DateColumn, Description: saved.DescriptionColumn, Amount: saved.AmountColumn}
		if len(m.Missing(doc)) == 0 {
			result.Saved = &m
		}
	}

	return result, nil
}

// Stage creates the import batch and classifies every row against a
// snapshot of the user's tags. Rows with an unparseable amount are dropped
// and recorded; a date that cannot be read is replaced by today's date.
// Nothing is written besides the batch until Commit.
func (s *ImportService) Stage(ctx context.Context, req StageRequest) (*StagedImport, error) {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "import.Stage")
	defer span.End()

	l := s.logger.With(slog.String("method", "Stage"), slog.String("user_id", userID), slog.String("filename", req.Filename))

	if req.Document == nil {
		return nil, fmt.Errorf("%w: no document", common.ErrBadRequest)
	}
	if !req.Mapping.Complete() {
		return nil, fmt.Errorf("%w: mapping must name the date, description and amount columns", common.ErrBadRequest)
	}
	if missing := req.Mapping.Missing(req.Document); len(missing) > 0 {
		return nil, fmt.Errorf("%w: unknown columns %s", common.ErrBadRequest, strings.Join(missing, ", "))
	}

	tags, err := s.tags.ListTags(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "failed to load tags", slog.Any("error", err))
		return nil, fail(span, &PersistenceError{Op: "list tags", Err: err})
	}
	matcher := tag.NewMatcher(tags)

	batch, err := s.repo.CreateImportBatch(ctx, userID, req.Filename)
	if err != nil {
		l.ErrorContext(ctx, "failed to create import batch", slog.Any("error", err))
		return nil, fail(span, &PersistenceError{Op: "create import batch", Err: err})
	}
	l = l.With(slog.String("import_id", batch.ID.String()))

	staged := newStagedImport(batch.ID, userID, req.Filename)
	now := s.now()
	for i, row := range req.Document.Rows {
		amount, err := normalizer.ParseAmount(row[req.Mapping.Amount])
		if err != nil {
			staged.reject(RowError{Row: i + 1, Reason: err.Error()})
			l.WarnContext(ctx, "row rejected", slog.Int("row", i+1), slog.Any("error", err))
			continue
		}

		date, warn := normalizer.NormalizeDate(row[req.Mapping.Date], now)
		desc := normalizer.ResolveDescription(row[req.Mapping.Description])
		matched := matcher.Match(desc)

		tx := StagedTransaction{
			Date:        date,
			Description: desc,
			Amount:      amount,
			MatchedTag:  matched,
			SelectedTag: copyTag(matched),
		}
		if warn != nil {
			tx.DateWarning = warn.Error()
			l.WarnContext(ctx, "date substituted", slog.Int("row", i+1), slog.String("raw", warn.Raw))
		}
		staged.add(tx)
	}

	if req.SaveMapping {
		if err := s.saveMapping(ctx, userID, req.Document.Fingerprint, req.Mapping); err != nil {
			l.WarnContext(ctx, "failed to save column mapping", slog.Any("error", err))
		}
	}

	s.staging.Put(batch.ID, userID, staged)

	observability.RowsStaged.Add(float64(staged.Len()))
	observability.RowsFailed.WithLabelValues("parse").Add(float64(staged.ErrorCount()))
	span.SetAttributes(
		attribute.String("import.id", batch.ID.String()),
		attribute.Int("import.rows_staged", staged.Len()),
		attribute.Int("import.rows_rejected", staged.ErrorCount()),
	)
	l.InfoContext(ctx, "import staged", slog.Int("rows", staged.Len()), slog.Int("errors", staged.ErrorCount()))

	return staged, nil
}

// Staged returns the current user's staged import.
func (s *ImportService) Staged(ctx context.Context, importID uuid.UUID) (*StagedImport, error) {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.staging.Get(importID, userID)
}

// Discard drops a staged import. The processing batch stays behind as a
// record of the abandoned upload.
func (s *ImportService) Discard(ctx context.Context, importID uuid.UUID) error {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return err
	}
	return s.staging.Delete(importID, userID)
}

// Commit persists a staged import. It is removed from staging first so it
// cannot be committed twice.
func (s *ImportService) Commit(ctx context.Context, importID uuid.UUID, progress ProgressFunc) (*CommitResult, error) {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	staged, err := s.staging.Get(importID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.staging.Delete(importID, userID); err != nil {
		return nil, err
	}
	return s.commit(ctx, staged, progress)
}

// commit writes the rows in fixed-size chunks, one after another. A failed
// chunk counts all of its rows as errors and the next chunk is still
// attempted. Only the final batch update can fail the commit.
func (s *ImportService) commit(ctx context.Context, staged *StagedImport, progress ProgressFunc) (*CommitResult, error) {
	ctx, span := s.tracer.Start(ctx, "import.Commit", trace.WithAttributes(attribute.String("import.id", staged.ImportID.String())))
	defer span.End()

	l := s.logger.With(slog.String("method", "Commit"), slog.String("import_id", staged.ImportID.String()))

	rows := staged.Rows()
	rejected := staged.ErrorCount()
	total := len(rows)

	success := 0
	errorCount := rejected
	for start := 0; start < total; start += s.chunkSize {
		end := min(start+s.chunkSize, total)
		chunk := toTransactions(staged, rows[start:end])

		began := time.Now()
		n, err := s.repo.InsertTransactions(ctx, chunk)
		switch {
		case err != nil:
			errorCount += len(chunk)
			observability.ChunkDuration.WithLabelValues("error").Observe(time.Since(began).Seconds())
			observability.RowsFailed.WithLabelValues("insert").Add(float64(len(chunk)))
			l.WarnContext(ctx, "chunk insert failed",
				slog.Int("from", start), slog.Int("rows", len(chunk)), slog.Any("error", err))
		default:
			success += n
			errorCount += len(chunk) - n
			observability.ChunkDuration.WithLabelValues("ok").Observe(time.Since(began).Seconds())
		}

		if progress != nil {
			progress(Progress{Processed: end, Total: total, SuccessCount: success, ErrorCount: errorCount})
		}
	}

	result := &CommitResult{
		ImportID:     staged.ImportID,
		Status:       repository.StatusCompleted,
		RowCount:     total + rejected,
		SuccessCount: success,
		ErrorCount:   errorCount,
	}
	if errorCount > 0 {
		result.Status = repository.StatusCompletedWithErrors
	}

	err := s.repo.UpdateImportBatch(ctx, staged.ImportID, repository.BatchUpdate{
		Status:       result.Status,
		RowCount:     result.RowCount,
		SuccessCount: result.SuccessCount,
		ErrorCount:   result.ErrorCount,
	})
	if err != nil {
		l.ErrorContext(ctx, "failed to finalize import batch", slog.Any("error", err))
		return nil, fail(span, &PersistenceError{Op: "finalize import batch", Err: err})
	}

	observability.ImportsFinished.WithLabelValues(string(result.Status)).Inc()
	span.SetAttributes(
		attribute.String("import.status", string(result.Status)),
		attribute.Int("import.success_count", success),
		attribute.Int("import.error_count", errorCount),
	)
	l.InfoContext(ctx, "import committed",
		slog.String("status", string(result.Status)),
		slog.Int("success_count", success),
		slog.Int("error_count", errorCount))

	return result, nil
}

// ListImports returns the current user's import history, newest first.
func (s *ImportService) ListImports(ctx context.Context) ([]repository.ImportBatch, error) {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	batches, err := s.repo.ListImportBatches(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list imports: %w", err)
	}
	return batches, nil
}

// GetImport returns one of the current user's batches with its transactions.
func (s *ImportService) GetImport(ctx context.Context, importID uuid.UUID) (*ImportDetail, error) {
	userID, batch, err := s.ownedBatch(ctx, importID)
	if err != nil {
		return nil, err
	}
	txs, err := s.repo.ListTransactions(ctx, repository.TransactionFilter{ImportID: &batch.ID, OwnerID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	batch.TransactionCount = len(txs)
	return &ImportDetail{Batch: batch, Transactions: txs}, nil
}

// DeleteImport removes a batch and its transactions, transactions first.
// It returns the number of transactions deleted.
func (s *ImportService) DeleteImport(ctx context.Context, importID uuid.UUID) (int64, error) {
	l := s.logger.With(slog.String("method", "DeleteImport"), slog.String("import_id", importID.String()))

	userID, _, err := s.ownedBatch(ctx, importID)
	if err != nil {
		return 0, err
	}

	n, err := s.repo.DeleteTransactions(ctx, importID)
	if err != nil {
		l.ErrorContext(ctx, "failed to delete transactions", slog.Any("error", err))
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	if err := s.repo.DeleteImportBatch(ctx, importID); err != nil {
		l.ErrorContext(ctx, "failed to delete import batch", slog.Any("error", err))
		return n, fmt.Errorf("failed to delete import batch: %w", err)
	}

	// a staged but uncommitted import may still be cached
	_ = s.staging.Delete(importID, userID)

	l.InfoContext(ctx, "import deleted", slog.Int64("transactions", n))
	return n, nil
}

// SaveMapping remembers a column mapping for a header fingerprint.
func (s *ImportService) SaveMapping(ctx context.Context, fingerprint string, m sniffer.ColumnMapping) error {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return err
	}
	if fingerprint == "" || !m.Complete() {
		return fmt.Errorf("%w: fingerprint and all three columns are required", common.ErrBadRequest)
	}
	return s.saveMapping(ctx, userID, fingerprint, m)
}

func (s *ImportService) saveMapping(ctx context.Context, userID, fingerprint string, m sniffer.ColumnMapping) error {
	err := s.repo.SaveMapping(ctx, &repository.SavedMapping{
		OwnerID:           userID,
		Fingerprint:       fingerprint,
		DateColumn:        m.Date,
		DescriptionColumn: m.Description,
		AmountColumn:      m.Amount,
	})
	if err != nil {
		return fmt.Errorf("failed to save mapping: %w", err)
	}
	return nil
}

func (s *ImportService) ownedBatch(ctx context.Context, importID uuid.UUID) (string, *repository.ImportBatch, error) {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return "", nil, err
	}
	batch, err := s.repo.GetImportBatch(ctx, importID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("failed to get import: %w", err)
	}
	if batch.OwnerID != userID {
		return "", nil, common.ErrForbidden
	}
	return userID, batch, nil
}

func toTransactions(staged *StagedImport, rows []StagedTransaction) []repository.Transaction {
	importID := staged.ImportID
	out := make([]repository.Transaction, len(rows))
	for i, r := range rows {
		out[i] = repository.Transaction{
			ImportID:        &importID,
			OwnerID:         staged.OwnerID,
			TransactionDate: r.Date,
			Description:     r.Description,
			Amount:          r.Amount,
			Tag:             copyTag(r.SelectedTag),
		}
	}
	return out
}

func copyTag(t *string) *string {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
