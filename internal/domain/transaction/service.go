package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/repository"
)

// Store is the transaction side of the import repository.
type Store interface {
	ListTransactions(ctx context.Context, f repository.TransactionFilter) ([]repository.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*repository.Transaction, error)
	UpdateTransaction(ctx context.Context, tx *repository.Transaction) error
}

// UpdateParams holds the fields to change; nil fields are left alone. A Tag
// of "" or Untagged clears the tag.
type UpdateParams struct {
	Date        *string `json:"date"`
	Description *string `json:"description"`
	Amount      *int64  `json:"amount"`
	Tag         *string `json:"tag"`
}

type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// List returns one page of the current user's transactions.
func (s *Service) List(ctx context.Context, q Query) (Page, error) {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return Page{}, err
	}

	txs, err := s.store.ListTransactions(ctx, repository.TransactionFilter{OwnerID: userID, From: q.From, To: q.To})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list transactions", slog.String("method", "List"), slog.Any("error", err))
		return Page{}, fmt.Errorf("failed to list transactions: %w", err)
	}
	return View(txs, q), nil
}

// Update edits one of the current user's transactions.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p UpdateParams) (*repository.Transaction, error) {
	l := s.logger.With(slog.String("method", "Update"), slog.String("transaction_id", id.String()))

	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if tx.OwnerID != userID {
		l.WarnContext(ctx, "transaction belongs to another user", slog.String("user_id", userID))
		return nil, common.ErrForbidden
	}

	if p.Date != nil {
		d := strings.TrimSpace(*p.Date)
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", common.ErrBadRequest)
		}
		tx.TransactionDate = d
	}
	if p.Description != nil {
		d := strings.TrimSpace(*p.Description)
		if d == "" {
			return nil, fmt.Errorf("%w: description is required", common.ErrBadRequest)
		}
		tx.Description = d
	}
	if p.Amount != nil {
		tx.Amount = *p.Amount
	}
	if p.Tag != nil {
		t := strings.TrimSpace(*p.Tag)
		if t == "" || t == Untagged {
			tx.Tag = nil
		} else {
			tx.Tag = &t
		}
	}

	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		l.ErrorContext(ctx, "failed to update transaction", slog.Any("error", err))
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}
	return tx, nil
}
