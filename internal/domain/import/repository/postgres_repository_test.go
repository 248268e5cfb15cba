package repository

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
)

var transactionColumns = []string{"id", "import_id", "owner_id", "transaction_date", "description", "amount", "tag", "created_at"}

func TestPostgresImportRepository_CreateImportBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(createImportBatchQuery)).
		WithArgs(pgxmock.AnyArg(), "user-1", "card.csv", StatusProcessing).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	repo := NewPostgresImportRepository(mock)
	b, err := repo.CreateImportBatch(context.Background(), "user-1", "card.csv")
	if err != nil {
		t.Fatalf("CreateImportBatch: %v", err)
	}
	if b.Status != StatusProcessing || b.ID == uuid.Nil || b.OwnerID != "user-1" {
		t.Fatalf("unexpected batch: %+v", b)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_GetImportBatch_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(getImportBatchQuery)).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "owner_id", "filename", "status", "row_count", "success_count", "error_count", "created_at", "updated_at",
		}))

	repo := NewPostgresImportRepository(mock)
	if _, err := repo.GetImportBatch(context.Background(), id); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_UpdateImportBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta(updateImportBatchQuery)).
		WithArgs(id, StatusCompletedWithErrors, 250, 150, 100).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewPostgresImportRepository(mock)
	err = repo.UpdateImportBatch(context.Background(), id, BatchUpdate{
		Status: StatusCompletedWithErrors, RowCount: 250, SuccessCount: 150, ErrorCount: 100,
	})
	if err != nil {
		t.Fatalf("UpdateImportBatch: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_InsertTransactions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	importID := uuid.New()
	tag := "Amazon AWS"
	txs := []Transaction{
		{ImportID: &importID, OwnerID: "user-1", TransactionDate: "2024-03-01", Description: "AWS", Amount: 1200, Tag: &tag},
		{ImportID: &importID, OwnerID: "user-1", TransactionDate: "2024-03-02", Description: "Unmatched Vendor", Amount: 500},
	}

	mock.ExpectCopyFrom(pgx.Identifier{"transactions"}, transactionCopyColumns).
		WillReturnResult(2)

	repo := NewPostgresImportRepository(mock)
	n, err := repo.InsertTransactions(context.Background(), txs)
	if err != nil {
		t.Fatalf("InsertTransactions: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 inserted, got %d", n)
	}
	if txs[0].ID == uuid.Nil || txs[1].ID == uuid.Nil {
		t.Fatal("expected ids to be assigned")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_InsertTransactions_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"transactions"}, transactionCopyColumns).
		WillReturnError(errors.New("connection reset"))

	repo := NewPostgresImportRepository(mock)
	_, err = repo.InsertTransactions(context.Background(), []Transaction{
		{OwnerID: "user-1", TransactionDate: "2024-03-01", Description: "AWS", Amount: 1},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_ListTransactions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	importID := uuid.New()
	now := time.Now()
	tag := "オフィス賃料"
	filter := TransactionFilter{ImportID: &importID, OwnerID: "user-1"}
	query, _ := buildTransactionQuery(filter)

	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WithArgs(importID, "user-1").
		WillReturnRows(pgxmock.NewRows(transactionColumns).
			AddRow(uuid.New(), &importID, "user-1", "2024-03-01", "家賃", int64(80000), &tag, now).
			AddRow(uuid.New(), &importID, "user-1", "2024-03-02", "Unmatched Vendor", int64(500), (*string)(nil), now))

	repo := NewPostgresImportRepository(mock)
	txs, err := repo.ListTransactions(context.Background(), filter)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if txs[0].Tag == nil || *txs[0].Tag != tag || txs[1].Tag != nil {
		t.Fatalf("unexpected tags: %+v", txs)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBuildTransactionQuery(t *testing.T) {
	importID := uuid.New()
	query, args := buildTransactionQuery(TransactionFilter{
		ImportID: &importID, OwnerID: "user-1", From: "2024-01-01", To: "2024-03-31",
	})
	for _, want := range []string{
		"import_id = $1", "owner_id = $2", "transaction_date >= $3::date", "transaction_date <= $4::date",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q:\n%s", want, query)
		}
	}
	if len(args) != 4 {
		t.Errorf("expected 4 args, got %d", len(args))
	}

	query, args = buildTransactionQuery(TransactionFilter{})
	if strings.Contains(query, "WHERE") || len(args) != 0 {
		t.Errorf("expected unfiltered query, got %q %v", query, args)
	}
}

func TestPostgresImportRepository_UpdateTransactionTag(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	tag := "駐車場"
	mock.ExpectExec(regexp.QuoteMeta(updateTransactionTagQuery)).
		WithArgs(id, &tag).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(updateTransactionTagQuery)).
		WithArgs(id, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewPostgresImportRepository(mock)
	if err := repo.UpdateTransactionTag(context.Background(), id, &tag); err != nil {
		t.Fatalf("UpdateTransactionTag: %v", err)
	}
	if err := repo.UpdateTransactionTag(context.Background(), id, nil); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_GetMapping_None(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta(getMappingQuery)).
		WithArgs("user-1", "abc").
		WillReturnRows(pgxmock.NewRows([]string{
			"owner_id", "fingerprint", "date_column", "description_column", "amount_column", "updated_at",
		}))

	repo := NewPostgresImportRepository(mock)
	m, err := repo.GetMapping(context.Background(), "user-1", "abc")
	if err != nil || m != nil {
		t.Fatalf("expected nil mapping and nil error, got %+v %v", m, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_SaveMapping(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	now := time.Now()
	m := &SavedMapping{OwnerID: "user-1", Fingerprint: "abc", DateColumn: "利用日", DescriptionColumn: "利用店名", AmountColumn: "利用金額"}
	mock.ExpectQuery(regexp.QuoteMeta(saveMappingQuery)).
		WithArgs("user-1", "abc", "利用日", "利用店名", "利用金額").
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))

	repo := NewPostgresImportRepository(mock)
	if err := repo.SaveMapping(context.Background(), m); err != nil {
		t.Fatalf("SaveMapping: %v", err)
	}
	if !m.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated_at to be set")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
