package dedup

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"strconv"

	"github.com/darnellt0/family-archive-vault/internal/repository"
)

// Method 标记去重命中的方式。
type Method string

const (
	MethodExact Method = "exact"
	MethodNear  Method = "near"
)

// Match 是一次去重判定的结果；AssetID 为空表示没有命中。
type Match struct {
	AssetID string
	Method  Method
}

// Resolver 先按 SHA256 做精确匹配，再对图片按感知哈希做近似匹配。
// 近似匹配采用线性扫描加首个命中，扫描顺序由仓库层固定为
// (created_at, asset_id) 升序，因此对固定库状态结果是确定的。
type Resolver struct {
	assets    repository.AssetRepository
	threshold int
}

func NewResolver(assets repository.AssetRepository, threshold int) *Resolver {
	return &Resolver{assets: assets, threshold: threshold}
}

// Resolve 判定指纹是否命中既有资产。phash 传 nil 时跳过近似匹配。
// assetID 是待判定资产自身的 ID，会在两级匹配中都被排除：
// 失败重试时自己的指纹已经入库，自我命中会吞掉真正的近似重复。
func (r *Resolver) Resolve(ctx context.Context, assetID, sha256 string, phash *string) (Match, error) {
	existing, err := r.assets.FindBySHA256(ctx, sha256, assetID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return Match{}, fmt.Errorf("exact lookup: %w", err)
	}
	if existing != nil {
		return Match{AssetID: existing.AssetID, Method: MethodExact}, nil
	}

	if phash == nil {
		return Match{}, nil
	}

	current, err := parsePHash(*phash)
	if err != nil {
		return Match{}, fmt.Errorf("parse phash: %w", err)
	}

	entries, err := r.assets.ListPHashes(ctx, assetID)
	if err != nil {
		return Match{}, fmt.Errorf("list phashes: %w", err)
	}

	for _, entry := range entries {
		candidate, err := parsePHash(entry.PHash)
		if err != nil {
			// 脏数据不阻断扫描
			continue
		}
		if HammingDistance(current, candidate) <= r.threshold {
			return Match{AssetID: entry.AssetID, Method: MethodNear}, nil
		}
	}

	return Match{}, nil
}

// HammingDistance 计算两个 64 位感知哈希的比特距离。
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

func parsePHash(hexHash string) (uint64, error) {
	return strconv.ParseUint(hexHash, 16, 64)
}
