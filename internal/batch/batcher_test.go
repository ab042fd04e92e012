package batch

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/darnellt0/family-archive-vault/internal/blobstore"
	"github.com/darnellt0/family-archive-vault/internal/blobstore/local"
	"github.com/darnellt0/family-archive-vault/internal/repository"
	"github.com/darnellt0/family-archive-vault/internal/token"
)

type memoryBatchRepo struct {
	mu      sync.Mutex
	batches map[string]*repository.BatchRecord
	files   map[string][]repository.BatchFile
}

func newMemoryBatchRepo() *memoryBatchRepo {
	return &memoryBatchRepo{
		batches: make(map[string]*repository.BatchRecord),
		files:   make(map[string][]repository.BatchFile),
	}
}

func (r *memoryBatchRepo) Create(_ context.Context, record *repository.BatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *record
	r.batches[record.BatchID] = &clone
	return nil
}

func (r *memoryBatchRepo) Get(_ context.Context, batchID string) (*repository.BatchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.batches[batchID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (r *memoryBatchRepo) Finalize(_ context.Context, record *repository.BatchRecord, files []repository.BatchFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.batches[record.BatchID]
	if !ok || existing.FinalizedAt != nil {
		return repository.ErrNotFound
	}
	clone := *record
	r.batches[record.BatchID] = &clone
	r.files[record.BatchID] = append([]repository.BatchFile(nil), files...)
	return nil
}

func (r *memoryBatchRepo) UpsertReconciled(_ context.Context, record *repository.BatchRecord, files []repository.BatchFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[record.BatchID]; !ok {
		clone := *record
		r.batches[record.BatchID] = &clone
	}
	r.files[record.BatchID] = append(r.files[record.BatchID], files...)
	return nil
}

func (r *memoryBatchRepo) FileContext(_ context.Context, originFileID string) (*repository.FileContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for batchID, files := range r.files {
		for _, f := range files {
			if f.OriginFileID == originFileID {
				record := r.batches[batchID]
				return &repository.FileContext{
					BatchID:          batchID,
					ContributorToken: record.ContributorToken,
					Decade:           record.Decade,
					EventName:        record.EventName,
					Notes:            record.Notes,
				}, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func strp(s string) *string { return &s }

func newTestBatcher(t *testing.T) (*Batcher, *memoryBatchRepo, blobstore.Store) {
	t.Helper()
	store, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("create local store: %v", err)
	}
	registry := token.NewRegistry(map[string]string{
		"tok-aunt-rosa":   "Aunt_Rosa",
		"tok-uncle-frank": "Uncle_Frank",
	})
	repo := newMemoryBatchRepo()
	batcher := NewBatcher(registry, repo, store, 3, log.New(io.Discard, "", 0))
	return batcher, repo, store
}

func TestCreateBatchRejectsUnknownToken(t *testing.T) {
	batcher, _, _ := newTestBatcher(t)

	_, err := batcher.CreateBatch(context.Background(), "bogus")
	if err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestCreateBatchIDShape(t *testing.T) {
	batcher, _, _ := newTestBatcher(t)

	id, err := batcher.CreateBatch(context.Background(), "tok-aunt-rosa")
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if !strings.HasPrefix(id, "batch_") {
		t.Errorf("unexpected batch id shape: %s", id)
	}
	if parts := strings.Split(id, "_"); len(parts) != 4 {
		t.Errorf("expected 4 segments in batch id, got %s", id)
	}
}

func TestFinishBatchWritesManifest(t *testing.T) {
	batcher, repo, store := newTestBatcher(t)
	ctx := context.Background()

	batchID, err := batcher.CreateBatch(ctx, "tok-aunt-rosa")
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}

	files := []repository.BatchFile{
		{OriginFileID: "file-1", OriginalName: "a.jpg", SizeBytes: 100},
		{OriginFileID: "file-2", OriginalName: "b.jpg", SizeBytes: 200},
	}
	bctx := Context{Decade: strp("1980s"), EventName: strp("Wedding"), Notes: strp("shoebox #2")}
	count, err := batcher.FinishBatch(ctx, "tok-aunt-rosa", batchID, bctx, files)
	if err != nil {
		t.Fatalf("finish batch: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 files acknowledged, got %d", count)
	}

	record, err := repo.Get(ctx, batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if record.FinalizedAt == nil {
		t.Error("expected batch to be finalized")
	}
	if record.TotalFiles != 2 || record.TotalBytes != 300 {
		t.Errorf("batch totals: got %d files / %d bytes, want 2 / 300", record.TotalFiles, record.TotalBytes)
	}

	objects, err := store.List(ctx, blobstore.LocationManifests)
	if err != nil {
		t.Fatalf("list manifests: %v", err)
	}
	if len(objects) != 1 || objects[0].Name != batchID+".json" {
		t.Fatalf("expected one manifest named %s.json, got %v", batchID, objects)
	}

	raw, err := store.Fetch(ctx, objects[0].ID)
	if err != nil {
		t.Fatalf("fetch manifest: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.BatchID != batchID {
		t.Errorf("manifest batch id: got %s, want %s", manifest.BatchID, batchID)
	}
	if manifest.EventName == nil || *manifest.EventName != "Wedding" {
		t.Errorf("manifest event name not carried: %+v", manifest)
	}
	if manifest.Decade == nil || *manifest.Decade != "1980s" {
		t.Errorf("manifest decade not carried: %+v", manifest)
	}
	if len(manifest.Files) != 2 {
		t.Errorf("expected 2 files in manifest, got %d", len(manifest.Files))
	}
}

func TestFinishBatchRejectsOversizedBatch(t *testing.T) {
	batcher, _, _ := newTestBatcher(t)
	ctx := context.Background()

	batchID, err := batcher.CreateBatch(ctx, "tok-aunt-rosa")
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}

	files := make([]repository.BatchFile, 4)
	for i := range files {
		files[i] = repository.BatchFile{OriginFileID: "file", OriginalName: "f.jpg"}
	}
	if _, err := batcher.FinishBatch(ctx, "tok-aunt-rosa", batchID, Context{}, files); err != ErrTooManyFiles {
		t.Errorf("expected ErrTooManyFiles, got %v", err)
	}
}

func TestFinishBatchForeignTokenLooksLikeMissing(t *testing.T) {
	batcher, _, _ := newTestBatcher(t)
	ctx := context.Background()

	batchID, err := batcher.CreateBatch(ctx, "tok-aunt-rosa")
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}

	_, err = batcher.FinishBatch(ctx, "tok-uncle-frank", batchID, Context{}, nil)
	if err != ErrBatchNotFound {
		t.Errorf("expected ErrBatchNotFound for foreign token, got %v", err)
	}
}

func TestFinishBatchTwiceFails(t *testing.T) {
	batcher, _, _ := newTestBatcher(t)
	ctx := context.Background()

	batchID, err := batcher.CreateBatch(ctx, "tok-aunt-rosa")
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}

	files := []repository.BatchFile{{OriginFileID: "file-1", OriginalName: "a.jpg", SizeBytes: 1}}
	if _, err := batcher.FinishBatch(ctx, "tok-aunt-rosa", batchID, Context{}, files); err != nil {
		t.Fatalf("first finish: %v", err)
	}
	if _, err := batcher.FinishBatch(ctx, "tok-aunt-rosa", batchID, Context{}, files); err == nil {
		t.Error("expected second finish to fail")
	}
}
