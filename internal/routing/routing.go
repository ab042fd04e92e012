package routing

import (
	"github.com/darnellt0/family-archive-vault/internal/blobstore"
	"github.com/darnellt0/family-archive-vault/internal/repository"
)

// Decision 是路由状态机的输入，由流水线前序阶段填好。
type Decision struct {
	DuplicateOf           string
	AssetType             repository.AssetType
	TranscriptionDeferred bool
}

// Route 按固定优先级决定资产的落位状态和收纳位置：
// 重复判定优先于延后转写，其余进入人工审核。
func Route(d Decision) (repository.AssetStatus, string) {
	if d.DuplicateOf != "" {
		return repository.StatusPossibleDuplicate, blobstore.LocationDuplicates
	}

	if d.TranscriptionDeferred && (d.AssetType == repository.AssetTypeVideo || d.AssetType == repository.AssetTypeAudio) {
		return repository.StatusTranscribeLater, blobstore.LocationTranscribeLater
	}

	return repository.StatusNeedsReview, blobstore.LocationNeedsReview
}
