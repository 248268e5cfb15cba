package transaction

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/repository"
)

const testUser = "user-123"

type fakeStore struct {
	mu      sync.Mutex
	txs     map[uuid.UUID]repository.Transaction
	filters []repository.TransactionFilter
}

func newFakeStore(txs ...repository.Transaction) *fakeStore {
	f := &fakeStore{txs: make(map[uuid.UUID]repository.Transaction)}
	for _, tx := range txs {
		f.txs[tx.ID] = tx
	}
	return f
}

func (f *fakeStore) ListTransactions(ctx context.Context, filter repository.TransactionFilter) ([]repository.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	var out []repository.Transaction
	for _, tx := range f.txs {
		if tx.OwnerID == filter.OwnerID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeStore) GetTransaction(ctx context.Context, id uuid.UUID) (*repository.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &tx, nil
}

func (f *fakeStore) UpdateTransaction(ctx context.Context, tx *repository.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[tx.ID] = *tx
	return nil
}

func setup(txs ...repository.Transaction) (*Service, *fakeStore, context.Context) {
	store := newFakeStore(txs...)
	svc := NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, store, common.WithUserID(context.Background(), testUser)
}

func TestService_ListScopesToOwner(t *testing.T) {
	svc, store, ctx := setup(
		repository.Transaction{ID: uuid.New(), OwnerID: testUser, TransactionDate: "2024-03-01", Description: "mine", Amount: 10},
		repository.Transaction{ID: uuid.New(), OwnerID: "someone-else", TransactionDate: "2024-03-01", Description: "theirs", Amount: 99},
	)

	page, err := svc.List(ctx, Query{From: "2024-01-01"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "mine", page.Items[0].Description)
	assert.Equal(t, int64(10), page.TotalAmount)
	assert.Equal(t, "2024-01-01", store.filters[0].From)

	_, err = svc.List(context.Background(), Query{})
	assert.ErrorIs(t, err, common.ErrUnauthenticated)
}

func TestService_Update(t *testing.T) {
	mine := repository.Transaction{ID: uuid.New(), OwnerID: testUser, TransactionDate: "2024-03-01", Description: "AWS", Amount: 10, Tag: strPtr("Amazon AWS")}
	theirs := repository.Transaction{ID: uuid.New(), OwnerID: "someone-else", TransactionDate: "2024-03-01", Description: "x"}
	svc, store, ctx := setup(mine, theirs)

	amount := int64(-500)
	updated, err := svc.Update(ctx, mine.ID, UpdateParams{
		Date:        strPtr("2024-03-05"),
		Description: strPtr("  AWS refund "),
		Amount:      &amount,
		Tag:         strPtr(Untagged),
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", updated.TransactionDate)
	assert.Equal(t, "AWS refund", updated.Description)
	assert.Equal(t, int64(-500), updated.Amount)
	assert.Nil(t, updated.Tag)
	assert.Nil(t, store.txs[mine.ID].Tag)

	_, err = svc.Update(ctx, mine.ID, UpdateParams{Date: strPtr("2024-02-30")})
	assert.ErrorIs(t, err, common.ErrBadRequest)

	_, err = svc.Update(ctx, mine.ID, UpdateParams{Description: strPtr("  ")})
	assert.ErrorIs(t, err, common.ErrBadRequest)

	_, err = svc.Update(ctx, theirs.ID, UpdateParams{Tag: strPtr("mine now")})
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = svc.Update(ctx, uuid.New(), UpdateParams{})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestHandler_List(t *testing.T) {
	svc, _, ctx := setup(
		repository.Transaction{ID: uuid.New(), OwnerID: testUser, TransactionDate: "2024-03-01", Description: "AWS", Amount: 1200},
		repository.Transaction{ID: uuid.New(), OwnerID: testUser, TransactionDate: "2024-03-02", Description: "家賃", Amount: 80000},
	)
	mux := http.NewServeMux()
	NewHandler(svc).Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/transactions?sort=amount&dir=asc&page_size=1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var page Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "AWS", page.Items[0].Description)

	for _, bad := range []string{"sort=price", "dir=up", "page=0", "page_size=x"} {
		req := httptest.NewRequest(http.MethodGet, "/api/transactions?"+bad, nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestHandler_Update(t *testing.T) {
	mine := repository.Transaction{ID: uuid.New(), OwnerID: testUser, TransactionDate: "2024-03-01", Description: "AWS"}
	svc, _, ctx := setup(mine)
	mux := http.NewServeMux()
	NewHandler(svc).Register(mux)

	req := httptest.NewRequest(http.MethodPatch, "/api/transactions/"+mine.ID.String(), strings.NewReader(`{"tag":"クラウド"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var got repository.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.Tag)
	assert.Equal(t, "クラウド", *got.Tag)

	req = httptest.NewRequest(http.MethodPatch, "/api/transactions/not-a-uuid", strings.NewReader(`{}`)).WithContext(ctx)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPatch, "/api/transactions/"+mine.ID.String(), strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
