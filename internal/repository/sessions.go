package repository

import (
	"context"
	"encoding/json"
	"time"
)

// UploadSessionRecord 代表一个进行中的断点续传会话。
// committed_offset 只增不减，且永远不超过 total_bytes。
type UploadSessionRecord struct {
	ID               string          `json:"id"`
	ContributorToken string          `json:"contributor_token"`
	OriginalName     string          `json:"original_name"`
	MimeType         string          `json:"mime_type"`
	TotalBytes       int64           `json:"total_bytes"`
	CommittedOffset  int64           `json:"committed_offset"`
	RemoteSession    json.RawMessage `json:"remote_session"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SessionRepository 持久化上传会话，使进程重启后仍能回答续传查询。
type SessionRepository interface {
	Create(ctx context.Context, record *UploadSessionRecord) error
	Get(ctx context.Context, id string) (*UploadSessionRecord, error)
	UpdateOffset(ctx context.Context, id string, offset int64) error
	Delete(ctx context.Context, id string) error
	// ListIdleSince 返回 updated_at 早于 cutoff 的会话，供 TTL 回收使用。
	ListIdleSince(ctx context.Context, cutoff time.Time) ([]UploadSessionRecord, error)
}
