package api

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/darnellt0/family-archive-vault/internal/batch"
	"github.com/darnellt0/family-archive-vault/internal/blobstore/local"
	"github.com/darnellt0/family-archive-vault/internal/repository"
	"github.com/darnellt0/family-archive-vault/internal/token"
)

type handlerBatchRepo struct {
	mu      sync.Mutex
	batches map[string]*repository.BatchRecord
	files   map[string][]repository.BatchFile
}

func newHandlerBatchRepo() *handlerBatchRepo {
	return &handlerBatchRepo{
		batches: make(map[string]*repository.BatchRecord),
		files:   make(map[string][]repository.BatchFile),
	}
}

func (r *handlerBatchRepo) Create(_ context.Context, record *repository.BatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *record
	r.batches[record.BatchID] = &clone
	return nil
}

func (r *handlerBatchRepo) Get(_ context.Context, batchID string) (*repository.BatchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.batches[batchID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (r *handlerBatchRepo) Finalize(_ context.Context, record *repository.BatchRecord, files []repository.BatchFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *record
	r.batches[record.BatchID] = &clone
	r.files[record.BatchID] = append([]repository.BatchFile(nil), files...)
	return nil
}

func (r *handlerBatchRepo) UpsertReconciled(_ context.Context, record *repository.BatchRecord, files []repository.BatchFile) error {
	return nil
}

func (r *handlerBatchRepo) FileContext(_ context.Context, _ string) (*repository.FileContext, error) {
	return nil, repository.ErrNotFound
}

func newBatchHandler(t *testing.T) *BatchHandler {
	t.Helper()
	store, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("create local store: %v", err)
	}
	registry := token.NewRegistry(map[string]string{"tok-aunt-rosa": "Aunt_Rosa"})
	batcher := batch.NewBatcher(registry, newHandlerBatchRepo(), store, 2, log.New(io.Discard, "", 0))
	return NewBatchHandler(batcher)
}

func postJSON(t *testing.T, handle http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handle(rec, req)
	return rec
}

func TestCreateBatchHandler(t *testing.T) {
	handler := newBatchHandler(t)

	rec := postJSON(t, handler.CreateBatch, "/batch/create", `{"contributorToken":"tok-aunt-rosa"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (body %s)", rec.Code, rec.Body.String())
	}

	var resp createBatchResponse
	decodeData(t, rec, &resp)
	if !strings.HasPrefix(resp.BatchID, "batch_") {
		t.Errorf("unexpected batch id: %s", resp.BatchID)
	}
}

func TestCreateBatchHandlerRejectsUnknownToken(t *testing.T) {
	handler := newBatchHandler(t)

	rec := postJSON(t, handler.CreateBatch, "/batch/create", `{"contributorToken":"bogus"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rec.Code)
	}
}

func TestFinishBatchHandler(t *testing.T) {
	handler := newBatchHandler(t)

	rec := postJSON(t, handler.CreateBatch, "/batch/create", `{"contributorToken":"tok-aunt-rosa"}`)
	var created createBatchResponse
	decodeData(t, rec, &created)

	body := `{"contributorToken":"tok-aunt-rosa","batchID":"` + created.BatchID + `",` +
		`"context":{"decade":"1990s","event_name":"Reunion"},` +
		`"files":[{"originFileID":"f1","originalName":"a.jpg","sizeBytes":10},{"originFileID":"f2","originalName":"b.jpg","sizeBytes":20}]}`
	rec = postJSON(t, handler.FinishBatch, "/batch/finish", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (body %s)", rec.Code, rec.Body.String())
	}

	var resp finishBatchResponse
	decodeData(t, rec, &resp)
	if !resp.Ack || resp.TotalProcessedCount != 2 {
		t.Errorf("unexpected finish response: %+v", resp)
	}
}

func TestFinishBatchHandlerErrors(t *testing.T) {
	handler := newBatchHandler(t)

	rec := postJSON(t, handler.CreateBatch, "/batch/create", `{"contributorToken":"tok-aunt-rosa"}`)
	var created createBatchResponse
	decodeData(t, rec, &created)

	cases := []struct {
		name string
		body string
		want int
	}{
		{
			"too many files",
			`{"contributorToken":"tok-aunt-rosa","batchID":"` + created.BatchID + `",` +
				`"files":[{"originFileID":"f1"},{"originFileID":"f2"},{"originFileID":"f3"}]}`,
			http.StatusBadRequest,
		},
		{
			"unknown batch",
			`{"contributorToken":"tok-aunt-rosa","batchID":"batch_nope","files":[]}`,
			http.StatusNotFound,
		},
		{
			"missing batch id",
			`{"contributorToken":"tok-aunt-rosa","files":[]}`,
			http.StatusBadRequest,
		},
		{
			"file without origin id",
			`{"contributorToken":"tok-aunt-rosa","batchID":"` + created.BatchID + `","files":[{"originalName":"a.jpg"}]}`,
			http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		if rec := postJSON(t, handler.FinishBatch, "/batch/finish", tc.body); rec.Code != tc.want {
			t.Errorf("%s: expected status %d, got %d (body %s)", tc.name, tc.want, rec.Code, rec.Body.String())
		}
	}
}
