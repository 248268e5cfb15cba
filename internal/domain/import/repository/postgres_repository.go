package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
	"github.com/FACorreiaa/smart-expense-tagger/pkg/db"
)

var _ ImportRepository = (*PostgresImportRepository)(nil)

const (
	createImportBatchQuery = `
		INSERT INTO import_history (id, owner_id, filename, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	getImportBatchQuery = `
		SELECT id, owner_id, filename, status, row_count, success_count, error_count, created_at, updated_at
		FROM import_history
		WHERE id = $1`

	listImportBatchesQuery = `
		SELECT h.id, h.owner_id, h.filename, h.status, h.row_count, h.success_count, h.error_count,
		       h.created_at, h.updated_at, COUNT(t.id)
		FROM import_history h
		LEFT JOIN transactions t ON t.import_id = h.id
		WHERE h.owner_id = $1
		GROUP BY h.id
		ORDER BY h.created_at DESC`

	updateImportBatchQuery = `
		UPDATE import_history
		SET status = $2, row_count = $3, success_count = $4, error_count = $5, updated_at = NOW()
		WHERE id = $1`

	deleteImportBatchQuery = `DELETE FROM import_history WHERE id = $1`

	selectTransactionColumns = `
		SELECT id, import_id, owner_id, to_char(transaction_date, 'YYYY-MM-DD') AS transaction_date,
		       description, amount, tag, created_at
		FROM transactions`

	getTransactionQuery = selectTransactionColumns + `
		WHERE id = $1`

	updateTransactionTagQuery = `UPDATE transactions SET tag = $2 WHERE id = $1`

	updateTransactionQuery = `
		UPDATE transactions
		SET transaction_date = $2, description = $3, amount = $4, tag = $5
		WHERE id = $1`

	deleteTransactionsQuery = `DELETE FROM transactions WHERE import_id = $1`

	getMappingQuery = `
		SELECT owner_id, fingerprint, date_column, description_column, amount_column, updated_at
		FROM column_mappings
		WHERE owner_id = $1 AND fingerprint = $2`

	saveMappingQuery = `
		INSERT INTO column_mappings (owner_id, fingerprint, date_column, description_column, amount_column)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, fingerprint) DO UPDATE
		SET date_column = EXCLUDED.date_column,
		    description_column = EXCLUDED.description_column,
		    amount_column = EXCLUDED.amount_column,
		    updated_at = NOW()
		RETURNING updated_at`
)

var transactionCopyColumns = []string{"id", "import_id", "owner_id", "transaction_date", "description", "amount", "tag"}

// PostgresImportRepository implements ImportRepository using PostgreSQL
type PostgresImportRepository struct {
	pool db.Pool
}

// NewPostgresImportRepository creates a new PostgreSQL-backed import repository
func NewPostgresImportRepository(pool db.Pool) *PostgresImportRepository {
	return &PostgresImportRepository{pool: pool}
}

// CreateImportBatch records a new import in processing state.
func (r *PostgresImportRepository) CreateImportBatch(ctx context.Context, ownerID, filename string) (*ImportBatch, error) {
	b := &ImportBatch{
		ID:       uuid.New(),
		OwnerID:  ownerID,
		Filename: filename,
		Status:   StatusProcessing,
	}
	err := r.pool.QueryRow(ctx, createImportBatchQuery, b.ID, b.OwnerID, b.Filename, b.Status).
		Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create import batch: %w", err)
	}
	return b, nil
}

func (r *PostgresImportRepository) GetImportBatch(ctx context.Context, id uuid.UUID) (*ImportBatch, error) {
	var b ImportBatch
	err := r.pool.QueryRow(ctx, getImportBatchQuery, id).Scan(
		&b.ID, &b.OwnerID, &b.Filename, &b.Status,
		&b.RowCount, &b.SuccessCount, &b.ErrorCount,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import batch: %w", err)
	}
	return &b, nil
}

// ListImportBatches returns the owner's imports, newest first.
func (r *PostgresImportRepository) ListImportBatches(ctx context.Context, ownerID string) ([]ImportBatch, error) {
	rows, err := r.pool.Query(ctx, listImportBatchesQuery, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import batches: %w", err)
	}
	defer rows.Close()

	var batches []ImportBatch
	for rows.Next() {
		var b ImportBatch
		if err := rows.Scan(
			&b.ID, &b.OwnerID, &b.Filename, &b.Status,
			&b.RowCount, &b.SuccessCount, &b.ErrorCount,
			&b.CreatedAt, &b.UpdatedAt, &b.TransactionCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan import batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate import batches: %w", err)
	}
	return batches, nil
}

func (r *PostgresImportRepository) UpdateImportBatch(ctx context.Context, id uuid.UUID, u BatchUpdate) error {
	tag, err := r.pool.Exec(ctx, updateImportBatchQuery, id, u.Status, u.RowCount, u.SuccessCount, u.ErrorCount)
	if err != nil {
		return fmt.Errorf("failed to update import batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresImportRepository) DeleteImportBatch(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, deleteImportBatchQuery, id)
	if err != nil {
		return fmt.Errorf("failed to delete import batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// InsertTransactions bulk-inserts one chunk with COPY and returns the
// number of rows written.
func (r *PostgresImportRepository) InsertTransactions(ctx context.Context, txs []Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(txs))
	for i := range txs {
		t := &txs[i]
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		date, err := time.Parse("2006-01-02", t.TransactionDate)
		if err != nil {
			return 0, fmt.Errorf("transaction %s: invalid date %q: %w", t.ID, t.TransactionDate, err)
		}
		rows = append(rows, []any{t.ID, t.ImportID, t.OwnerID, date, t.Description, t.Amount, t.Tag})
	}

	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{"transactions"}, transactionCopyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to bulk insert transactions: %w", err)
	}
	return int(n), nil
}

// ListTransactions returns matching transactions ordered by date then
// insertion.
func (r *PostgresImportRepository) ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error) {
	query, args := buildTransactionQuery(f)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID, &t.ImportID, &t.OwnerID, &t.TransactionDate,
			&t.Description, &t.Amount, &t.Tag, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

func buildTransactionQuery(f TransactionFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ImportID != nil {
		add("import_id = $%d", *f.ImportID)
	}
	if f.OwnerID != "" {
		add("owner_id = $%d", f.OwnerID)
	}
	if f.From != "" {
		add("transaction_date >= $%d::date", f.From)
	}
	if f.To != "" {
		add("transaction_date <= $%d::date", f.To)
	}

	var b strings.Builder
	b.WriteString(selectTransactionColumns)
	if len(conds) > 0 {
		b.WriteString("\n\t\tWHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString("\n\t\tORDER BY transaction_date, created_at, id")
	return b.String(), args
}

func (r *PostgresImportRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	var t Transaction
	err := r.pool.QueryRow(ctx, getTransactionQuery, id).Scan(
		&t.ID, &t.ImportID, &t.OwnerID, &t.TransactionDate,
		&t.Description, &t.Amount, &t.Tag, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &t, nil
}

func (r *PostgresImportRepository) UpdateTransactionTag(ctx context.Context, id uuid.UUID, tag *string) error {
	res, err := r.pool.Exec(ctx, updateTransactionTagQuery, id, tag)
	if err != nil {
		return fmt.Errorf("failed to update transaction tag: %w", err)
	}
	if res.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresImportRepository) UpdateTransaction(ctx context.Context, t *Transaction) error {
	date, err := time.Parse("2006-01-02", t.TransactionDate)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", t.TransactionDate, common.ErrBadRequest)
	}
	res, err := r.pool.Exec(ctx, updateTransactionQuery, t.ID, date, t.Description, t.Amount, t.Tag)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if res.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresImportRepository) DeleteTransactions(ctx context.Context, importID uuid.UUID) (int64, error) {
	res, err := r.pool.Exec(ctx, deleteTransactionsQuery, importID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	return res.RowsAffected(), nil
}

// GetMapping returns the saved mapping for a header fingerprint, or nil if
// the user has none.
func (r *PostgresImportRepository) GetMapping(ctx context.Context, ownerID, fingerprint string) (*SavedMapping, error) {
	var m SavedMapping
	err := r.pool.QueryRow(ctx, getMappingQuery, ownerID, fingerprint).Scan(
		&m.OwnerID, &m.Fingerprint, &m.DateColumn, &m.DescriptionColumn, &m.AmountColumn, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get column mapping: %w", err)
	}
	return &m, nil
}

func (r *PostgresImportRepository) SaveMapping(ctx context.Context, m *SavedMapping) error {
	err := r.pool.QueryRow(ctx, saveMappingQuery,
		m.OwnerID, m.Fingerprint, m.DateColumn, m.DescriptionColumn, m.AmountColumn,
	).Scan(&m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save column mapping: %w", err)
	}
	return nil
}
