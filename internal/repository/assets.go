package repository

import (
	"context"
	"strings"
	"time"
)

// AssetStatus 描述资产在处理流水线中的生命周期状态。
// approved/archived/rejected 只能由外部审核系统写入，这里定义是为了
// 把所有合法取值收敛成一个封闭枚举。
type AssetStatus string

const (
	StatusUploaded          AssetStatus = "uploaded"
	StatusProcessing        AssetStatus = "processing"
	StatusNeedsReview       AssetStatus = "needs_review"
	StatusPossibleDuplicate AssetStatus = "possible_duplicate"
	StatusTranscribeLater   AssetStatus = "transcribe_later"
	StatusError             AssetStatus = "error"
	StatusApproved          AssetStatus = "approved"
	StatusArchived          AssetStatus = "archived"
	StatusRejected          AssetStatus = "rejected"
)

// AssetType 是按 MIME 大类划分的媒体类型。
type AssetType string

const (
	AssetTypeImage AssetType = "image"
	AssetTypeVideo AssetType = "video"
	AssetTypeAudio AssetType = "audio"
)

// AssetTypeFromMime 从 MIME 类型推断媒体大类，未知类型返回 false。
func AssetTypeFromMime(mimeType string) (AssetType, bool) {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return AssetTypeImage, true
	case strings.HasPrefix(mimeType, "video/"):
		return AssetTypeVideo, true
	case strings.HasPrefix(mimeType, "audio/"):
		return AssetTypeAudio, true
	default:
		return "", false
	}
}

// AssetRecord 代表数据库中的一条资产记录。
type AssetRecord struct {
	AssetID          string      `json:"asset_id"`
	OriginFileID     string      `json:"origin_file_id"`
	ContributorToken string      `json:"contributor_token,omitempty"`
	BatchID          string      `json:"batch_id,omitempty"`
	OriginalFilename string      `json:"original_filename"`
	MimeType         string      `json:"mime_type"`
	SizeBytes        int64       `json:"size_bytes"`
	SHA256           string      `json:"sha256,omitempty"`
	PHash            *string     `json:"phash,omitempty"`
	Status           AssetStatus `json:"status"`
	DuplicateOf      *string     `json:"duplicate_of,omitempty"`
	DecadeEstimate   *string     `json:"decade_estimate,omitempty"`
	DecadeConfidence float64     `json:"decade_confidence"`
	GPSLatitude      *float64    `json:"gps_latitude,omitempty"`
	GPSLongitude     *float64    `json:"gps_longitude,omitempty"`
	Caption          *string     `json:"caption,omitempty"`
	EmbeddingRef     *string     `json:"embedding_ref,omitempty"`
	TranscriptRef    *string     `json:"transcript_ref,omitempty"`
	FacesCount       int         `json:"faces_count"`
	Errors           []string    `json:"errors,omitempty"`
	Attempts         int         `json:"attempts"`
	CreatedAt        time.Time   `json:"created_at"`
	ProcessedAt      *time.Time  `json:"processed_at,omitempty"`
}

// PHashEntry 是近似去重线性扫描需要的最小投影。
type PHashEntry struct {
	AssetID string
	PHash   string
}

// AssetRepository 统一资产元数据持久层接口。
type AssetRepository interface {
	// InsertIfAbsent 按 origin_file_id 条件插入；记录已存在时返回 false。
	// 这是工作循环幂等重跑的基础。
	InsertIfAbsent(ctx context.Context, record *AssetRecord) (bool, error)
	Update(ctx context.Context, record *AssetRecord) error
	GetByOriginFileID(ctx context.Context, originFileID string) (*AssetRecord, error)
	// FindBySHA256 返回最早创建的同哈希资产。excludeAssetID 总是被排除：
	// 重试路径上资产自身的指纹已经入库，不能自我命中。
	FindBySHA256(ctx context.Context, sha256, excludeAssetID string) (*AssetRecord, error)
	// ListPHashes 按 (created_at, asset_id) 升序返回全部非空 phash
	// （excludeAssetID 除外），以保证近似去重的扫描顺序对固定库状态
	// 是确定的。
	ListPHashes(ctx context.Context, excludeAssetID string) ([]PHashEntry, error)
	CountByStatus(ctx context.Context, status AssetStatus) (int, error)
	InsertDuplicateLink(ctx context.Context, assetID, duplicateOf, method string) error
}
