// Package repository provides data access for import-related entities.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BatchStatus is the lifecycle state of an import.
type BatchStatus string

const (
	StatusProcessing          BatchStatus = "processing"
	StatusCompleted           BatchStatus = "completed"
	StatusCompletedWithErrors BatchStatus = "completed_with_errors"
	StatusError               BatchStatus = "error"
)

// ImportBatch tracks one uploaded statement.
type ImportBatch struct {
	ID               uuid.UUID   `db:"id" json:"id"`
	OwnerID          string      `db:"owner_id" json:"owner_id"`
	Filename         string      `db:"filename" json:"filename"`
	Status           BatchStatus `db:"status" json:"status"`
	RowCount         int         `db:"row_count" json:"row_count"`
	SuccessCount     int         `db:"success_count" json:"success_count"`
	ErrorCount       int         `db:"error_count" json:"error_count"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
	TransactionCount int         `db:"-" json:"transaction_count"`
}

// BatchUpdate holds the final bookkeeping for an import.
type BatchUpdate struct {
	Status       BatchStatus
	RowCount     int
	SuccessCount int
	ErrorCount   int
}

// Transaction is a persisted statement line. Tag holds a tag name and is
// not checked against the tags table; it may name a tag that no longer
// exists.
type Transaction struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	ImportID        *uuid.UUID `db:"import_id" json:"import_id"`
	OwnerID         string     `db:"owner_id" json:"owner_id"`
	TransactionDate string     `db:"transaction_date" json:"transaction_date"` // YYYY-MM-DD
	Description     string     `db:"description" json:"description"`
	Amount          int64      `db:"amount" json:"amount"`
	Tag             *string    `db:"tag" json:"tag"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// TransactionFilter narrows ListTransactions. Zero fields are ignored.
type TransactionFilter struct {
	ImportID *uuid.UUID
	OwnerID  string
	From     string // inclusive, YYYY-MM-DD
	To       string // inclusive, YYYY-MM-DD
}

// SavedMapping remembers which columns a user chose for a header layout.
type SavedMapping struct {
	OwnerID           string    `db:"owner_id"`
	Fingerprint       string    `db:"fingerprint"`
	DateColumn        string    `db:"date_column"`
	DescriptionColumn string    `db:"description_column"`
	AmountColumn      string    `db:"amount_column"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// ImportRepository defines data access operations for imports
type ImportRepository interface {
	// Import batches
	CreateImportBatch(ctx context.Context, ownerID, filename string) (*ImportBatch, error)
	GetImportBatch(ctx context.Context, id uuid.UUID) (*ImportBatch, error)
	ListImportBatches(ctx context.Context, ownerID string) ([]ImportBatch, error)
	UpdateImportBatch(ctx context.Context, id uuid.UUID, u BatchUpdate) error
	DeleteImportBatch(ctx context.Context, id uuid.UUID) error

	// Transactions
	InsertTransactions(ctx context.Context, txs []Transaction) (int, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	UpdateTransactionTag(ctx context.Context, id uuid.UUID, tag *string) error
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	DeleteTransactions(ctx context.Context, importID uuid.UUID) (int64, error)

	// Column mappings
	GetMapping(ctx context.Context, ownerID, fingerprint string) (*SavedMapping, error)
	SaveMapping(ctx context.Context, m *SavedMapping) error
}
