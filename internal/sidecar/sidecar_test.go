package sidecar

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/darnellt0/family-archive-vault/internal/blobstore"
	blobstorelocal "github.com/darnellt0/family-archive-vault/internal/blobstore/local"
	"github.com/darnellt0/family-archive-vault/internal/enrich"
	"github.com/darnellt0/family-archive-vault/internal/repository"
)

func strp(s string) *string { return &s }

func TestWriteSnapshotLocalAndStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := blobstorelocal.New(filepath.Join(dir, "store"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	writer := NewWriter(filepath.Join(dir, "sidecars"), store)

	lat, lon := 40.7484, -73.9857
	createdAt := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	record := &repository.AssetRecord{
		AssetID:          "a1b2c3",
		OriginFileID:     "origin-17",
		ContributorToken: "tok-aunt-rosa",
		BatchID:          "batch_20260829_101500_deadbeef",
		OriginalFilename: "reunion.jpg",
		MimeType:         "image/jpeg",
		SizeBytes:        1234,
		SHA256:           "ff00",
		Status:           repository.StatusNeedsReview,
		DecadeEstimate:   strp("1970s"),
		DecadeConfidence: 0.9,
		GPSLatitude:      &lat,
		GPSLongitude:     &lon,
		Errors:           []string{"caption: model timed out"},
		Attempts:         2,
		CreatedAt:        createdAt,
	}
	enrichment := enrich.Result{Caption: strp("family reunion on the porch")}
	processedAt := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)

	if err := writer.Write(ctx, record, enrichment, processedAt); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "sidecars", "a1b2c3.json"))
	if err != nil {
		t.Fatalf("read local sidecar: %v", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		t.Fatalf("decode sidecar: %v", err)
	}
	if snapshot.AssetID != "a1b2c3" || snapshot.OriginFileID != "origin-17" {
		t.Fatalf("unexpected identity fields: %+v", snapshot)
	}
	if snapshot.Status != repository.StatusNeedsReview {
		t.Fatalf("expected needs_review, got %q", snapshot.Status)
	}
	if snapshot.ContributorToken != "tok-aunt-rosa" {
		t.Errorf("contributor token not carried: %q", snapshot.ContributorToken)
	}
	if snapshot.Attempts != 2 {
		t.Errorf("attempts: got %d, want 2", snapshot.Attempts)
	}
	if !snapshot.CreatedAt.Equal(createdAt) {
		t.Errorf("created_at: got %v, want %v", snapshot.CreatedAt, createdAt)
	}
	if len(snapshot.Errors) != 1 || snapshot.Errors[0] != "caption: model timed out" {
		t.Errorf("cumulative error list not carried: %v", snapshot.Errors)
	}
	if snapshot.GPSLatitude == nil || *snapshot.GPSLatitude != lat {
		t.Errorf("gps latitude not carried: %v", snapshot.GPSLatitude)
	}
	if snapshot.GPSLongitude == nil || *snapshot.GPSLongitude != lon {
		t.Errorf("gps longitude not carried: %v", snapshot.GPSLongitude)
	}
	if snapshot.Enrichment.Caption == nil || *snapshot.Enrichment.Caption != "family reunion on the porch" {
		t.Fatalf("caption not carried: %+v", snapshot.Enrichment)
	}
	if !snapshot.ProcessedAt.Equal(processedAt) {
		t.Fatalf("expected processed_at %v, got %v", processedAt, snapshot.ProcessedAt)
	}

	objects, err := store.List(ctx, blobstore.LocationSidecars)
	if err != nil {
		t.Fatalf("list sidecars: %v", err)
	}
	if len(objects) != 1 || objects[0].Name != "a1b2c3.json" {
		t.Fatalf("expected one stored sidecar a1b2c3.json, got %+v", objects)
	}

	local := filepath.Join(dir, "fetched.json")
	if err := store.Download(ctx, objects[0].ID, local); err != nil {
		t.Fatalf("download stored sidecar: %v", err)
	}
	stored, err := os.ReadFile(local)
	if err != nil {
		t.Fatalf("read fetched sidecar: %v", err)
	}
	if string(stored) != string(raw) {
		t.Fatal("stored sidecar differs from local copy")
	}
}
