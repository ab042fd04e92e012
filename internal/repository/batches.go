package repository

import (
	"context"
	"time"
)

// BatchRecord 代表一次贡献者批量上传及其共享上下文。
type BatchRecord struct {
	BatchID          string     `json:"batch_id"`
	ContributorToken string     `json:"contributor_token"`
	Decade           *string    `json:"decade,omitempty"`
	EventName        *string    `json:"event_name,omitempty"`
	Notes            *string    `json:"notes,omitempty"`
	TotalFiles       int        `json:"total_files"`
	TotalBytes       int64      `json:"total_bytes"`
	CreatedAt        time.Time  `json:"created_at"`
	FinalizedAt      *time.Time `json:"finalized_at,omitempty"`
}

// BatchFile 是清单中登记的一个已上传文件。
type BatchFile struct {
	OriginFileID string `json:"origin_file_id"`
	OriginalName string `json:"original_name"`
	SizeBytes    int64  `json:"size_bytes"`
}

// FileContext 是工作循环按 origin_file_id 查询到的归属信息。
// 没有清单的文件照常可处理，上下文为空。
type FileContext struct {
	BatchID          string
	ContributorToken string
	Decade           *string
	EventName        *string
	Notes            *string
}

// BatchRepository 统一批次与清单持久层接口。
type BatchRepository interface {
	Create(ctx context.Context, record *BatchRecord) error
	Get(ctx context.Context, batchID string) (*BatchRecord, error)
	// Finalize 写入文件清单并盖上 finalized_at，批次从此不可再追加。
	Finalize(ctx context.Context, record *BatchRecord, files []BatchFile) error
	// UpsertReconciled 供工作循环回灌对象存储里的清单，已存在时不覆盖。
	UpsertReconciled(ctx context.Context, record *BatchRecord, files []BatchFile) error
	FileContext(ctx context.Context, originFileID string) (*FileContext, error)
}
