package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/repository"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/review"
	importservice "github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/service"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/tag"
)

const testUser = "user-123"

const cardCSV = "利用日,利用店名,利用金額\n2024/3/1,AWS,\"1,200\"\n2024/3/2,Unmatched Vendor,500\n2024/3/3,家賃,\"¥80,000\"\n2024/3/4,Broken,abc\n"

type mutableTags struct {
	mu   sync.Mutex
	tags []tag.Tag
}

func (m *mutableTags) ListTags(ctx context.Context, ownerID string) ([]tag.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tag.Tag(nil), m.tags...), nil
}

func (m *mutableTags) add(t tag.Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags = append(m.tags, t)
}

func newTags() *mutableTags {
	return &mutableTags{tags: []tag.Tag{
		{ID: uuid.New(), Name: "Amazon AWS", Rules: []tag.MatchRule{{Pattern: "AWS", Type: tag.RuleContains, Enabled: true}}},
		{ID: uuid.New(), Name: "オフィス賃料", Rules: []tag.MatchRule{{Pattern: "家賃", Type: tag.RuleExact, Enabled: true}}},
	}}
}

// memRepo is an in-memory ImportRepository.
type memRepo struct {
	mu       sync.Mutex
	batches  map[uuid.UUID]*repository.ImportBatch
	txs      []repository.Transaction
	mappings map[string]*repository.SavedMapping
}

func newMemRepo() *memRepo {
	return &memRepo{
		batches:  make(map[uuid.UUID]*repository.ImportBatch),
		mappings: make(map[string]*repository.SavedMapping),
	}
}

func (m *memRepo) CreateImportBatch(ctx context.Context, ownerID, filename string) (*repository.ImportBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &repository.ImportBatch{ID: uuid.New(), OwnerID: ownerID, Filename: filename, Status: repository.StatusProcessing, CreatedAt: time.Now()}
	m.batches[b.ID] = b
	cp := *b
	return &cp, nil
}

func (m *memRepo) GetImportBatch(ctx context.Context, id uuid.UUID) (*repository.ImportBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memRepo) ListImportBatches(ctx context.Context, ownerID string) ([]repository.ImportBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.ImportBatch
	for _, b := range m.batches {
		if b.OwnerID == ownerID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) UpdateImportBatch(ctx context.Context, id uuid.UUID, u repository.BatchUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return common.ErrNotFound
	}
	b.Status, b.RowCount, b.SuccessCount, b.ErrorCount = u.Status, u.RowCount, u.SuccessCount, u.ErrorCount
	return nil
}

func (m *memRepo) DeleteImportBatch(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.batches, id)
	return nil
}

func (m *memRepo) InsertTransactions(ctx context.Context, txs []repository.Transaction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		tx.ID = uuid.New()
		m.txs = append(m.txs, tx)
	}
	return len(txs), nil
}

func (m *memRepo) ListTransactions(ctx context.Context, f repository.TransactionFilter) ([]repository.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Transaction
	for _, tx := range m.txs {
		if f.ImportID != nil && (tx.ImportID == nil || *tx.ImportID != *f.ImportID) {
			continue
		}
		if f.OwnerID != "" && tx.OwnerID != f.OwnerID {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (m *memRepo) GetTransaction(ctx context.Context, id uuid.UUID) (*repository.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.ID == id {
			return &tx, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memRepo) UpdateTransactionTag(ctx context.Context, id uuid.UUID, tag *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.txs {
		if m.txs[i].ID == id {
			m.txs[i].Tag = tag
			return nil
		}
	}
	return common.ErrNotFound
}

func (m *memRepo) UpdateTransaction(ctx context.Context, tx *repository.Transaction) error {
	return m.UpdateTransactionTag(ctx, tx.ID, tx.Tag)
}

func (m *memRepo) DeleteTransactions(ctx context.Context, importID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.txs[:0]
	var n int64
	for _, tx := range m.txs {
		if tx.ImportID != nil && *tx.ImportID == importID {
			n++
			continue
		}
		kept = append(kept, tx)
	}
	m.txs = kept
	return n, nil
}

func (m *memRepo) GetMapping(ctx context.Context, ownerID, fingerprint string) (*repository.SavedMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mappings[ownerID+"/"+fingerprint], nil
}

func (m *memRepo) SaveMapping(ctx context.Context, sm *repository.SavedMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[sm.OwnerID+"/"+sm.Fingerprint] = sm
	return nil
}

type testServer struct {
	mux  *http.ServeMux
	repo *memRepo
	tags *mutableTags
}

func newTestServer() *testServer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := newMemRepo()
	tags := newTags()
	imports := importservice.NewImportService(repo, tags, logger, importservice.Options{ChunkSize: 2})
	reviews := review.NewEngine(repo, tags, logger, time.Minute)

	mux := http.NewServeMux()
	NewImportHandler(imports, reviews, logger, 1<<20).Register(mux)
	return &testServer{mux: mux, repo: repo, tags: tags}
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(common.WithUserID(req.Context(), testUser))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestImportHandler_FullFlow(t *testing.T) {
	s := newTestServer()

	var analysis importservice.AnalyzeResult
	code := s.do(t, http.MethodPost, "/api/imports/analyze?filename="+url.QueryEscape("card.csv"), []byte(cardCSV), &analysis)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 4, analysis.RowCount)
	require.True(t, analysis.Suggested.Complete())

	var staged stagedResponse
	code = s.do(t, http.MethodPost, "/api/imports", stageRequest{
		Filename:    "card.csv",
		Content:     []byte(cardCSV),
		Mapping:     analysis.Suggested,
		SaveMapping: true,
	}, &staged)
	require.Equal(t, http.StatusCreated, code)
	require.Len(t, staged.Rows, 3)
	assert.Equal(t, 1, staged.ErrorCount)
	assert.Equal(t, "Amazon AWS", *staged.Rows[0].SelectedTag)
	assert.Nil(t, staged.Rows[1].SelectedTag)
	assert.Equal(t, "オフィス賃料", *staged.Rows[2].SelectedTag)

	base := "/api/imports/" + staged.ImportID.String()

	parking := "駐車場"
	var overridden stagedResponse
	code = s.do(t, http.MethodPatch, base+"/staged", overrideRequest{Search: "unmatched", Tag: &parking}, &overridden)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, overridden.Rows, 1)
	assert.Equal(t, "駐車場", *overridden.Rows[0].SelectedTag)

	var result importservice.CommitResult
	code = s.do(t, http.MethodPost, base+"/commit", nil, &result)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, repository.StatusCompletedWithErrors, result.Status)
	assert.Equal(t, 4, result.RowCount)
	assert.Equal(t, 3, result.SuccessCount)
	assert.Equal(t, 1, result.ErrorCount)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, base+"/staged", nil, nil))

	var detail importservice.ImportDetail
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, base, nil, &detail))
	assert.Len(t, detail.Transactions, 3)
	assert.Equal(t, repository.StatusCompletedWithErrors, detail.Batch.Status)

	var history []repository.ImportBatch
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/imports", nil, &history))
	assert.Len(t, history, 1)

	// a new rule makes the parking row match something else
	s.tags.add(tag.Tag{ID: uuid.New(), Name: "Vendors", Rules: []tag.MatchRule{{Pattern: "Vendor", Type: tag.RuleSuffix, Enabled: true}}})

	var rv reviewResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/rematch", nil, &rv))
	assert.Equal(t, 1, rv.ChangedCount)

	var changed, unchanged review.Entry
	for _, e := range rv.Entries {
		if e.HasChanged {
			changed = e
		} else {
			unchanged = e
		}
	}
	assert.Equal(t, "駐車場", *changed.CurrentTag)
	assert.Equal(t, "Vendors", *changed.ProposedTag)

	// one bad selection rejects the whole request and leaves the review as proposed
	cloud := "クラウド"
	code = s.do(t, http.MethodPost, base+"/rematch/apply", applyRequest{Selections: map[uuid.UUID]*string{
		changed.ID:   &cloud,
		unchanged.ID: nil,
	}}, nil)
	require.Equal(t, http.StatusBadRequest, code)

	var applied applyResponse
	code = s.do(t, http.MethodPost, base+"/rematch/apply", applyRequest{}, &applied)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, applied.Applied)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/rematch", nil, &rv))
	assert.Equal(t, 0, rv.ChangedCount)
	for _, e := range rv.Entries {
		if e.ID == changed.ID {
			assert.Equal(t, "Vendors", *e.CurrentTag)
		}
	}

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, base+"/rematch", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, base+"/rematch", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, base+"/rematch/apply", applyRequest{}, nil))

	var deleted map[string]int64
	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, base, nil, &deleted))
	assert.Equal(t, int64(3), deleted["deleted_transactions"])
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, base, nil, nil))
}

func TestImportHandler_SavedMappingIsOffered(t *testing.T) {
	s := newTestServer()
	code := s.do(t, http.MethodPost, "/api/imports/analyze?filename=card.csv", []byte(cardCSV), nil)
	require.Equal(t, http.StatusOK, code)

	var analysis importservice.AnalyzeResult
	s.do(t, http.MethodPost, "/api/imports/analyze?filename=card.csv", []byte(cardCSV), &analysis)
	require.Nil(t, analysis.Saved)

	code = s.do(t, http.MethodPost, "/api/mappings", mappingRequest{Fingerprint: analysis.Fingerprint, Mapping: analysis.Suggested}, nil)
	require.Equal(t, http.StatusNoContent, code)

	s.do(t, http.MethodPost, "/api/imports/analyze?filename=card.csv", []byte(cardCSV), &analysis)
	require.NotNil(t, analysis.Saved)
	assert.Equal(t, analysis.Suggested, *analysis.Saved)
}

func TestImportHandler_Errors(t *testing.T) {
	s := newTestServer()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"empty upload", http.MethodPost, "/api/imports/analyze", []byte{}, http.StatusBadRequest},
		{"malformed csv", http.MethodPost, "/api/imports", stageRequest{Filename: "x.csv", Content: []byte("a,b\n1,\"2\n")}, http.StatusBadRequest},
		{"incomplete mapping", http.MethodPost, "/api/imports", stageRequest{Filename: "x.csv", Content: []byte(cardCSV)}, http.StatusBadRequest},
		{"bad id", http.MethodPost, "/api/imports/nope/commit", nil, http.StatusBadRequest},
		{"unknown staged import", http.MethodPost, "/api/imports/" + uuid.NewString() + "/commit", nil, http.StatusNotFound},
		{"unknown import", http.MethodPost, "/api/imports/" + uuid.NewString() + "/rematch", nil, http.StatusNotFound},
		{"discard without review", http.MethodDelete, "/api/imports/" + uuid.NewString() + "/rematch", nil, http.StatusNotFound},
		{"apply without review", http.MethodPost, "/api/imports/" + uuid.NewString() + "/rematch/apply", applyRequest{}, http.StatusNotFound},
		{"too large", http.MethodPost, "/api/imports/analyze", []byte(strings.Repeat("a", 2<<20)), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.do(t, tt.method, tt.path, tt.body, nil))
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/imports", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
