package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"
)

// 远端存储的固定目录结构，沿用归档库的收纳布局。
const (
	LocationInbox           = "INBOX_UPLOADS"
	LocationManifests       = "INBOX_UPLOADS/_MANIFESTS"
	LocationProcessing      = "PROCESSING"
	LocationNeedsReview     = "HOLDING/Needs_Review"
	LocationDuplicates      = "HOLDING/Possible_Duplicates"
	LocationTranscribeLater = "HOLDING/Transcribe_Later"
	LocationSidecars        = "METADATA/sidecars_json"
)

// ErrNotFound 表示目标对象不存在。
var ErrNotFound = errors.New("blobstore: object not found")

// ObjectInfo 描述远端存储中的一个对象。ID 在 Move 之后保持不变。
type ObjectInfo struct {
	ID        string
	Name      string
	Size      int64
	CreatedAt time.Time
}

// SessionMeta 是创建断点续传会话所需的元信息。
type SessionMeta struct {
	Name       string `json:"name"`
	MimeType   string `json:"mime_type"`
	TotalBytes int64  `json:"total_bytes"`
	Location   string `json:"location"`
	PartSize   int64  `json:"part_size"`
}

// Store 定义远端对象存储接口。对象 ID 是稳定句柄，移动不改变 ID。
type Store interface {
	Upload(ctx context.Context, location, name string, r io.Reader, size int64) (string, error)
	Download(ctx context.Context, id, localPath string) error
	// Fetch 把小对象（清单、sidecar）整体读进内存。
	Fetch(ctx context.Context, id string) ([]byte, error)
	Move(ctx context.Context, id, location string) error
	List(ctx context.Context, location string) ([]ObjectInfo, error)
	// ListDirs 列出一个位置下的直接子位置名。
	ListDirs(ctx context.Context, location string) ([]string, error)
	Delete(ctx context.Context, id string) error
	// ResumableSession 开启一个断点续传会话；句柄可持久化，
	// 进程重启后用 OpenSession 恢复。
	ResumableSession(ctx context.Context, meta SessionMeta) (Session, error)
	OpenSession(ctx context.Context, handle json.RawMessage) (Session, error)
}

// Session 是一个进行中的断点续传会话。
type Session interface {
	// Handle 返回可持久化的会话句柄。
	Handle() json.RawMessage
	// PutRange 写入从 start 开始的一段字节；start 必须落在已提交边界上。
	PutRange(ctx context.Context, start int64, payload []byte) error
	// ReceivedBytes 返回远端权威的已接收连续字节数（状态探测）。
	ReceivedBytes(ctx context.Context) (int64, error)
	// Complete 收尾并返回最终对象 ID。
	Complete(ctx context.Context) (string, error)
	Abort(ctx context.Context) error
}
