package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/darnellt0/family-archive-vault/internal/repository"

	"golang.org/x/sys/unix"
)

// DiskFree 报告某路径所在文件系统的可用字节数。测试里可替换。
type DiskFree func(path string) (uint64, error)

// StatfsDiskFree 取文件系统层面的真实可用空间。
func StatfsDiskFree(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// Governor 决定工作循环能否继续从收件箱拉新文件。
// 判据是本地缓存盘的可用空间和待处理积压量，两者任一越限就停止拉取。
// 已经进入处理的文件不受影响，跑完为止。
type Governor struct {
	cacheDir     string
	minFreeBytes uint64
	maxBacklog   int
	assets       repository.AssetRepository
	diskFree     DiskFree
	logger       *log.Logger
}

func NewGovernor(cacheDir string, minFreeBytes uint64, maxBacklog int, assets repository.AssetRepository, diskFree DiskFree, logger *log.Logger) *Governor {
	if diskFree == nil {
		diskFree = StatfsDiskFree
	}
	return &Governor{
		cacheDir:     cacheDir,
		minFreeBytes: minFreeBytes,
		maxBacklog:   maxBacklog,
		assets:       assets,
		diskFree:     diskFree,
		logger:       logger,
	}
}

// AllowIntake 返回是否允许再拉一个新文件进流水线。
// 查询失败按不允许处理，宁可晚一轮也不撑爆缓存盘。
func (g *Governor) AllowIntake(ctx context.Context) bool {
	free, err := g.diskFree(g.cacheDir)
	if err != nil {
		g.logger.Printf("查询缓存盘可用空间失败: %v", err)
		return false
	}
	if free < g.minFreeBytes {
		g.logger.Printf("缓存盘可用 %d 字节低于下限 %d，暂停拉取", free, g.minFreeBytes)
		return false
	}

	backlog, err := g.assets.CountByStatus(ctx, repository.StatusProcessing)
	if err != nil {
		g.logger.Printf("查询处理积压失败: %v", err)
		return false
	}
	if backlog >= g.maxBacklog {
		g.logger.Printf("处理积压 %d 达到上限 %d，暂停拉取", backlog, g.maxBacklog)
		return false
	}

	return true
}
