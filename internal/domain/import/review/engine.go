package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/repository"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/staging"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/tag"
	"github.com/FACorreiaa/smart-expense-tagger/pkg/observability"
)

// Store is the part of the import repository the engine needs.
type Store interface {
	GetImportBatch(ctx context.Context, id uuid.UUID) (*repository.ImportBatch, error)
	ListTransactions(ctx context.Context, f repository.TransactionFilter) ([]repository.Transaction, error)
	UpdateTransactionTag(ctx context.Context, id uuid.UUID, tag *string) error
}

// TagLister loads the tag set used for re-matching.
type TagLister interface {
	ListTags(ctx context.Context, ownerID string) ([]tag.Tag, error)
}

// ApplyResult counts the updates written by Apply.
type ApplyResult struct {
	ImportID uuid.UUID `json:"import_id"`
	Applied  int       `json:"applied"`
	Skipped  int       `json:"skipped"`
}

// Engine runs re-match reviews and keeps them between requests.
type Engine struct {
	store   Store
	tags    TagLister
	logger  *slog.Logger
	tracer  trace.Tracer
	reviews *staging.Cache[*Review]
}

func NewEngine(store Store, tags TagLister, logger *slog.Logger, ttl time.Duration) *Engine {
	return &Engine{
		store:   store,
		tags:    tags,
		logger:  logger,
		tracer:  otel.Tracer("tagger/review"),
		reviews: staging.NewCache[*Review](ttl),
	}
}

// Rematch classifies every transaction of an import against the current
// tag set. The review replaces any earlier one for the same import.
func (e *Engine) Rematch(ctx context.Context, importID uuid.UUID) (*Review, error) {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "review.Rematch", trace.WithAttributes(attribute.String("import.id", importID.String())))
	defer span.End()

	l := e.logger.With(slog.String("method", "Rematch"), slog.String("import_id", importID.String()))

	batch, err := e.store.GetImportBatch(ctx, importID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		return nil, fail(span, fmt.Errorf("failed to get import: %w", err))
	}
	if batch.OwnerID != userID {
		return nil, common.ErrForbidden
	}

	tags, err := e.tags.ListTags(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "failed to load tags", slog.Any("error", err))
		return nil, fail(span, fmt.Errorf("failed to list tags: %w", err))
	}

	txs, err := e.store.ListTransactions(ctx, repository.TransactionFilter{ImportID: &importID})
	if err != nil {
		l.ErrorContext(ctx, "failed to list transactions", slog.Any("error", err))
		return nil, fail(span, fmt.Errorf("failed to list transactions: %w", err))
	}

	rv := BuildReview(importID, userID, txs, tag.NewMatcher(tags))
	e.reviews.Put(importID, userID, rv)

	changed := rv.ChangedCount()
	observability.RematchChanges.WithLabelValues("proposed").Add(float64(changed))
	span.SetAttributes(attribute.Int("review.entries", len(txs)), attribute.Int("review.changed", changed))
	l.InfoContext(ctx, "rematch complete", slog.Int("transactions", len(txs)), slog.Int("changed", changed))

	return rv, nil
}

// Review returns the pending review for an import.
func (e *Engine) Review(ctx context.Context, importID uuid.UUID) (*Review, error) {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	return e.reviews.Get(importID, userID)
}

// Apply writes the selected tag of every entry whose selection differs
// from its stored tag, one update at a time. The first failed update stops
// the run; the result then counts the updates already written. Entries
// owned by another user fail the whole run before anything is written.
func (e *Engine) Apply(ctx context.Context, rv *Review) (*ApplyResult, error) {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	if rv.OwnerID != userID {
		return nil, common.ErrForbidden
	}

	ctx, span := e.tracer.Start(ctx, "review.Apply", trace.WithAttributes(attribute.String("import.id", rv.ImportID.String())))
	defer span.End()

	l := e.logger.With(slog.String("method", "Apply"), slog.String("import_id", rv.ImportID.String()))

	pending := rv.PendingUpdates()
	for _, entry := range pending {
		if entry.ownerID != userID {
			l.WarnContext(ctx, "transaction belongs to another user",
				slog.String("transaction_id", entry.ID.String()), slog.String("owner_id", entry.ownerID))
			return nil, fail(span, fmt.Errorf("transaction %s: %w", entry.ID, common.ErrForbidden))
		}
	}

	result := &ApplyResult{ImportID: rv.ImportID, Skipped: len(rv.Entries()) - len(pending)}
	for _, entry := range pending {
		if err := e.store.UpdateTransactionTag(ctx, entry.ID, entry.SelectedTag); err != nil {
			l.ErrorContext(ctx, "failed to update transaction tag",
				slog.String("transaction_id", entry.ID.String()), slog.Int("applied", result.Applied), slog.Any("error", err))
			observability.RematchChanges.WithLabelValues("applied").Add(float64(result.Applied))
			return result, fail(span, fmt.Errorf("failed to update transaction %s: %w", entry.ID, err))
		}
		result.Applied++
	}

	_ = e.reviews.Delete(rv.ImportID, userID)

	observability.RematchChanges.WithLabelValues("applied").Add(float64(result.Applied))
	span.SetAttributes(attribute.Int("review.applied", result.Applied))
	l.InfoContext(ctx, "review applied", slog.Int("applied", result.Applied), slog.Int("skipped", result.Skipped))

	return result, nil
}

// Discard drops a pending review.
func (e *Engine) Discard(ctx context.Context, importID uuid.UUID) error {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return err
	}
	return e.reviews.Delete(importID, userID)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
