package batch

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/darnellt0/family-archive-vault/internal/blobstore"
	"github.com/darnellt0/family-archive-vault/internal/repository"
	"github.com/darnellt0/family-archive-vault/internal/token"
)

var (
	// ErrInvalidToken 表示贡献者令牌未知。
	ErrInvalidToken = errors.New("batch: invalid contributor token")
	// ErrTooManyFiles 表示批次文件数超出上限。
	ErrTooManyFiles = errors.New("batch: too many files in one batch")
	// ErrBatchNotFound 表示批次不存在或不属于该贡献者。
	ErrBatchNotFound = errors.New("batch: batch not found")
)

// Context 是收批时随清单提交的共享元数据。
type Context struct {
	Decade    *string `json:"decade,omitempty"`
	EventName *string `json:"event_name,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

// Manifest 是批次收尾时落到对象存储的清单，
// 处理端靠它把孤儿文件对回批次上下文。
type Manifest struct {
	BatchID          string                 `json:"batch_id"`
	ContributorToken string                 `json:"contributor_token"`
	Decade           *string                `json:"decade,omitempty"`
	EventName        *string                `json:"event_name,omitempty"`
	Notes            *string                `json:"notes,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	FinalizedAt      time.Time              `json:"finalized_at"`
	Files            []repository.BatchFile `json:"files"`
}

// Batcher 管理上传批次：开批、收批、落清单。
type Batcher struct {
	tokens       *token.Registry
	batches      repository.BatchRepository
	store        blobstore.Store
	maxBatchSize int
	logger       *log.Logger
}

func NewBatcher(tokens *token.Registry, batches repository.BatchRepository, store blobstore.Store, maxBatchSize int, logger *log.Logger) *Batcher {
	return &Batcher{
		tokens:       tokens,
		batches:      batches,
		store:        store,
		maxBatchSize: maxBatchSize,
		logger:       logger,
	}
}

// CreateBatch 开启一个新批次并返回批次 ID。
// 共享上下文在收批时才提交，此处只登记归属。
func (b *Batcher) CreateBatch(ctx context.Context, contributorToken string) (string, error) {
	if !b.tokens.Valid(contributorToken) {
		return "", ErrInvalidToken
	}

	record := &repository.BatchRecord{
		BatchID:          newBatchID(),
		ContributorToken: contributorToken,
		CreatedAt:        time.Now().UTC(),
	}
	if err := b.batches.Create(ctx, record); err != nil {
		return "", fmt.Errorf("create batch: %w", err)
	}

	b.logger.Printf("开启批次 %s", record.BatchID)
	return record.BatchID, nil
}

// FinishBatch 收尾批次：登记文件清单、标记完成、把清单 JSON
// 写进对象存储。返回批次内文件数。
// 清单是上传与处理之间的对账依据，必须在应答前落盘。
func (b *Batcher) FinishBatch(ctx context.Context, contributorToken, batchID string, bctx Context, files []repository.BatchFile) (int, error) {
	if !b.tokens.Valid(contributorToken) {
		return 0, ErrInvalidToken
	}
	if len(files) > b.maxBatchSize {
		return 0, ErrTooManyFiles
	}

	record, err := b.batches.Get(ctx, batchID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrBatchNotFound
		}
		return 0, fmt.Errorf("load batch: %w", err)
	}
	if record.ContributorToken != contributorToken {
		// 不泄露他人批次的存在
		return 0, ErrBatchNotFound
	}

	now := time.Now().UTC()
	record.Decade = bctx.Decade
	record.EventName = bctx.EventName
	record.Notes = bctx.Notes
	record.TotalFiles = len(files)
	record.TotalBytes = totalBytes(files)
	record.FinalizedAt = &now

	if err := b.batches.Finalize(ctx, record, files); err != nil {
		return 0, fmt.Errorf("finalize batch: %w", err)
	}

	manifest := Manifest{
		BatchID:          batchID,
		ContributorToken: contributorToken,
		Decade:           bctx.Decade,
		EventName:        bctx.EventName,
		Notes:            bctx.Notes,
		CreatedAt:        record.CreatedAt,
		FinalizedAt:      now,
		Files:            files,
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := b.store.Upload(ctx, blobstore.LocationManifests, batchID+".json", bytes.NewReader(raw), int64(len(raw))); err != nil {
		return 0, fmt.Errorf("store manifest: %w", err)
	}

	b.logger.Printf("批次 %s 收尾，共 %d 个文件", batchID, len(files))
	return len(files), nil
}

func totalBytes(files []repository.BatchFile) int64 {
	var total int64
	for _, f := range files {
		total += f.SizeBytes
	}
	return total
}

// newBatchID 生成形如 batch_20260829_153012_a1b2c3d4 的批次 ID，
// 时间戳部分方便人工浏览清单目录。
func newBatchID() string {
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return fmt.Sprintf("batch_%s_%s", time.Now().UTC().Format("20060102_150405"), hex.EncodeToString(suffix))
}
