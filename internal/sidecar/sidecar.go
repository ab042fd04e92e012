package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/darnellt0/family-archive-vault/internal/blobstore"
	"github.com/darnellt0/family-archive-vault/internal/enrich"
	"github.com/darnellt0/family-archive-vault/internal/repository"
)

// Snapshot 是随资产落盘的完整元数据快照。
// 审核工具只读 sidecar 就能还原处理结论，不依赖数据库在线。
type Snapshot struct {
	AssetID          string                 `json:"asset_id"`
	OriginFileID     string                 `json:"origin_file_id"`
	ContributorToken string                 `json:"contributor_token,omitempty"`
	BatchID          string                 `json:"batch_id,omitempty"`
	OriginalFilename string                 `json:"original_filename"`
	MimeType         string                 `json:"mime_type"`
	SizeBytes        int64                  `json:"size_bytes"`
	SHA256           string                 `json:"sha256"`
	PHash            *string                `json:"phash,omitempty"`
	Status           repository.AssetStatus `json:"status"`
	DuplicateOf      *string                `json:"duplicate_of,omitempty"`
	DecadeEstimate   *string                `json:"decade_estimate,omitempty"`
	DecadeConfidence float64                `json:"decade_confidence"`
	GPSLatitude      *float64               `json:"gps_latitude,omitempty"`
	GPSLongitude     *float64               `json:"gps_longitude,omitempty"`
	Enrichment       enrich.Result          `json:"enrichment"`
	// Errors 是资产的累计错误清单，包含此前失败尝试留下的记录
	Errors      []string  `json:"errors,omitempty"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Writer 把快照同时写到本地 sidecar 目录和对象存储。
type Writer struct {
	dir   string
	store blobstore.Store
}

func NewWriter(dir string, store blobstore.Store) *Writer {
	return &Writer{dir: dir, store: store}
}

// Write 落盘一份 <assetID>.json。本地写入失败即整体失败，
// 对象存储那份是审核端读取的权威副本。
func (w *Writer) Write(ctx context.Context, record *repository.AssetRecord, enrichment enrich.Result, processedAt time.Time) error {
	snapshot := Snapshot{
		AssetID:          record.AssetID,
		OriginFileID:     record.OriginFileID,
		ContributorToken: record.ContributorToken,
		BatchID:          record.BatchID,
		OriginalFilename: record.OriginalFilename,
		MimeType:         record.MimeType,
		SizeBytes:        record.SizeBytes,
		SHA256:           record.SHA256,
		PHash:            record.PHash,
		Status:           record.Status,
		DuplicateOf:      record.DuplicateOf,
		DecadeEstimate:   record.DecadeEstimate,
		DecadeConfidence: record.DecadeConfidence,
		GPSLatitude:      record.GPSLatitude,
		GPSLongitude:     record.GPSLongitude,
		Enrichment:       enrichment,
		Errors:           record.Errors,
		Attempts:         record.Attempts,
		CreatedAt:        record.CreatedAt,
		ProcessedAt:      processedAt,
	}

	raw, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}

	name := record.AssetID + ".json"
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("ensure sidecar dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, name), raw, 0o644); err != nil {
		return fmt.Errorf("write local sidecar: %w", err)
	}

	if _, err := w.store.Upload(ctx, blobstore.LocationSidecars, name, bytes.NewReader(raw), int64(len(raw))); err != nil {
		return fmt.Errorf("store sidecar: %w", err)
	}
	return nil
}
