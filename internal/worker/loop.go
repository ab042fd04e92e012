package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/darnellt0/family-archive-vault/internal/batch"
	"github.com/darnellt0/family-archive-vault/internal/blobstore"
	"github.com/darnellt0/family-archive-vault/internal/dedup"
	"github.com/darnellt0/family-archive-vault/internal/enrich"
	"github.com/darnellt0/family-archive-vault/internal/fingerprint"
	"github.com/darnellt0/family-archive-vault/internal/repository"
	"github.com/darnellt0/family-archive-vault/internal/routing"
	"github.com/darnellt0/family-archive-vault/internal/sidecar"
	"github.com/darnellt0/family-archive-vault/internal/token"

	"github.com/google/uuid"
)

// batchDecadeConfidence 是贡献者在批次里人工给出的年代的置信度，
// 高于一切自动估算。
const batchDecadeConfidence = 0.9

// Loop 是处理工作循环：巡检收件箱，把文件推过
// 指纹、去重、富化、路由四个阶段，最终落位归档。
type Loop struct {
	store         blobstore.Store
	assets        repository.AssetRepository
	batches       repository.BatchRepository
	tokens        *token.Registry
	resolver      *dedup.Resolver
	enricher      *enrich.Orchestrator
	sidecars      *sidecar.Writer
	governor      *Governor
	durationProbe enrich.DurationProbe
	cacheDir      string
	maxAttempts   int
	pollInterval  time.Duration
	logger        *log.Logger

	// 本进程已回灌过的清单对象，避免每轮重复拉取
	reconciled map[string]struct{}
}

// Config 聚合 Loop 的全部依赖。
type Config struct {
	Store         blobstore.Store
	Assets        repository.AssetRepository
	Batches       repository.BatchRepository
	Tokens        *token.Registry
	Resolver      *dedup.Resolver
	Enricher      *enrich.Orchestrator
	Sidecars      *sidecar.Writer
	Governor      *Governor
	DurationProbe enrich.DurationProbe
	CacheDir      string
	MaxAttempts   int
	PollInterval  time.Duration
	Logger        *log.Logger
}

func NewLoop(cfg Config) *Loop {
	probe := cfg.DurationProbe
	if probe == nil {
		probe = enrich.FFProbeDuration
	}
	return &Loop{
		store:         cfg.Store,
		assets:        cfg.Assets,
		batches:       cfg.Batches,
		tokens:        cfg.Tokens,
		resolver:      cfg.Resolver,
		enricher:      cfg.Enricher,
		sidecars:      cfg.Sidecars,
		governor:      cfg.Governor,
		durationProbe: probe,
		cacheDir:      cfg.CacheDir,
		maxAttempts:   cfg.MaxAttempts,
		pollInterval:  cfg.PollInterval,
		logger:        cfg.Logger,
		reconciled:    make(map[string]struct{}),
	}
}

// Run 周期执行 RunOnce 直到 ctx 取消。
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		if err := l.RunOnce(ctx); err != nil {
			l.logger.Printf("处理循环出错: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce 跑一轮完整巡检：回灌清单、收件、处理。
// 每一轮都是幂等的，任何时刻中断重跑都不会重复入库。
func (l *Loop) RunOnce(ctx context.Context) error {
	if err := l.reconcileManifests(ctx); err != nil {
		return fmt.Errorf("reconcile manifests: %w", err)
	}
	if err := l.intake(ctx); err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	if err := l.sweep(ctx); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return nil
}

// reconcileManifests 把对象存储里的批次清单回灌数据库。
// 数据库丢了批次行（或清单由别的进程写入）时，这里是恢复路径。
func (l *Loop) reconcileManifests(ctx context.Context) error {
	objects, err := l.store.List(ctx, blobstore.LocationManifests)
	if err != nil {
		return err
	}

	for _, obj := range objects {
		if _, ok := l.reconciled[obj.ID]; ok {
			continue
		}

		raw, err := l.store.Fetch(ctx, obj.ID)
		if err != nil {
			l.logger.Printf("读取清单 %s 失败: %v", obj.Name, err)
			continue
		}

		var manifest batch.Manifest
		if err := json.Unmarshal(raw, &manifest); err != nil {
			l.logger.Printf("清单 %s 无法解析: %v", obj.Name, err)
			continue
		}

		record := &repository.BatchRecord{
			BatchID:          manifest.BatchID,
			ContributorToken: manifest.ContributorToken,
			Decade:           manifest.Decade,
			EventName:        manifest.EventName,
			Notes:            manifest.Notes,
			TotalFiles:       len(manifest.Files),
			TotalBytes:       manifestBytes(manifest.Files),
			CreatedAt:        manifest.CreatedAt,
			FinalizedAt:      &manifest.FinalizedAt,
		}
		if err := l.batches.UpsertReconciled(ctx, record, manifest.Files); err != nil {
			return fmt.Errorf("upsert batch %s: %w", manifest.BatchID, err)
		}

		l.reconciled[obj.ID] = struct{}{}
		manifestsReconciledTotal.Inc()
	}
	return nil
}

// intake 逐贡献者目录巡检收件箱，为每个新文件建档并挪进处理区。
// 目录来自收件箱的实际布局而非令牌表：贡献者被移除后留下的
// 文件照常收取，归属留空。背压闸门一旦关闭，本轮剩余文件
// 原地等待下一轮。
func (l *Loop) intake(ctx context.Context) error {
	dirs, err := l.store.ListDirs(ctx, blobstore.LocationInbox)
	if err != nil {
		return fmt.Errorf("list inbox: %w", err)
	}

	for _, name := range dirs {
		// 下划线开头的是系统目录（清单区等），不是贡献者目录
		if strings.HasPrefix(name, "_") {
			continue
		}
		contributorToken, _ := l.tokens.TokenFor(name)

		objects, err := l.store.List(ctx, path.Join(blobstore.LocationInbox, name))
		if err != nil {
			return fmt.Errorf("list inbox for %s: %w", name, err)
		}

		for _, obj := range objects {
			if !l.governor.AllowIntake(ctx) {
				backpressureSkipsTotal.Inc()
				l.logger.Printf("背压生效，收件箱剩余文件等待下一轮")
				return nil
			}
			if err := l.admit(ctx, contributorToken, obj); err != nil {
				l.logger.Printf("收件 %s 失败: %v", obj.Name, err)
			}
		}
	}
	return nil
}

// admit 给文件建档（已存在时复用旧档）并挪进处理区。
func (l *Loop) admit(ctx context.Context, contributorToken string, obj blobstore.ObjectInfo) error {
	record := &repository.AssetRecord{
		AssetID:          uuid.NewString(),
		OriginFileID:     obj.ID,
		ContributorToken: contributorToken,
		OriginalFilename: obj.Name,
		MimeType:         mimeFromName(obj.Name),
		SizeBytes:        obj.Size,
		Status:           repository.StatusProcessing,
		CreatedAt:        time.Now().UTC(),
	}

	// 清单上下文存在时覆盖归属，并带上人工指定的年代
	if fc, err := l.batches.FileContext(ctx, obj.ID); err == nil {
		record.BatchID = fc.BatchID
		record.ContributorToken = fc.ContributorToken
		if fc.Decade != nil {
			record.DecadeEstimate = fc.Decade
			record.DecadeConfidence = batchDecadeConfidence
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("lookup file context: %w", err)
	}

	inserted, err := l.assets.InsertIfAbsent(ctx, record)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	if !inserted {
		l.logger.Printf("来源文件 %s 已有档案，跳过建档", obj.ID)
	}

	if err := l.store.Move(ctx, obj.ID, blobstore.LocationProcessing); err != nil {
		return fmt.Errorf("move to processing: %w", err)
	}
	return nil
}

// sweep 处理处理区里的全部文件，包括上一轮中断留下的。
func (l *Loop) sweep(ctx context.Context) error {
	objects, err := l.store.List(ctx, blobstore.LocationProcessing)
	if err != nil {
		return fmt.Errorf("list processing: %w", err)
	}

	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.processOne(ctx, obj); err != nil {
			l.logger.Printf("处理 %s 失败: %v", obj.Name, err)
		}
	}
	return nil
}

// processOne 推一个文件走完流水线。任何阶段失败都把资产
// 标成 error 并留痕，文件留在处理区等下一轮重试；重试次数
// 耗尽后不再碰它，档案保持可见。
func (l *Loop) processOne(ctx context.Context, obj blobstore.ObjectInfo) error {
	record, err := l.assets.GetByOriginFileID(ctx, obj.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("load asset: %w", err)
		}
		// 直接出现在处理区的文件（比如人工投放）也建档处理
		record = &repository.AssetRecord{
			AssetID:          uuid.NewString(),
			OriginFileID:     obj.ID,
			OriginalFilename: obj.Name,
			MimeType:         mimeFromName(obj.Name),
			SizeBytes:        obj.Size,
			Status:           repository.StatusProcessing,
			CreatedAt:        time.Now().UTC(),
		}
		if _, err := l.assets.InsertIfAbsent(ctx, record); err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
		record, err = l.assets.GetByOriginFileID(ctx, obj.ID)
		if err != nil {
			return fmt.Errorf("reload asset: %w", err)
		}
	}

	switch {
	case record.Status == repository.StatusProcessing:
	case record.Status == repository.StatusError && record.Attempts < l.maxAttempts:
	default:
		return nil
	}

	record.Attempts++
	record.Status = repository.StatusProcessing
	if err := l.assets.Update(ctx, record); err != nil {
		return fmt.Errorf("mark attempt: %w", err)
	}

	if err := l.process(ctx, record, obj); err != nil {
		record.Status = repository.StatusError
		record.Errors = append(record.Errors, err.Error())
		if updateErr := l.assets.Update(ctx, record); updateErr != nil {
			return fmt.Errorf("record failure (%v): %w", err, updateErr)
		}
		assetsProcessedTotal.WithLabelValues(string(repository.StatusError)).Inc()
		return err
	}
	return nil
}

func (l *Loop) process(ctx context.Context, record *repository.AssetRecord, obj blobstore.ObjectInfo) error {
	assetType, ok := repository.AssetTypeFromMime(record.MimeType)
	if !ok {
		return fmt.Errorf("unsupported media type %q", record.MimeType)
	}

	localPath := filepath.Join(l.cacheDir, record.OriginFileID+"__"+record.OriginalFilename)
	if err := l.store.Download(ctx, obj.ID, localPath); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer os.Remove(localPath)

	fp, err := fingerprint.Compute(localPath, record.MimeType)
	if err != nil {
		return fmt.Errorf("fingerprint: %w", err)
	}
	record.SHA256 = fp.SHA256
	record.PHash = fp.PHash

	match, err := l.resolver.Resolve(ctx, record.AssetID, fp.SHA256, fp.PHash)
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}

	meta := fingerprint.ExtractMetadata(localPath, record.MimeType)
	record.GPSLatitude = meta.Latitude
	record.GPSLongitude = meta.Longitude

	// 批次里人工给的年代优先于自动估算
	if record.DecadeEstimate == nil {
		record.DecadeEstimate, record.DecadeConfidence = fingerprint.EstimateDecade(meta.CaptureDate, record.OriginalFilename)
	}

	var durationSeconds float64
	if assetType == repository.AssetTypeVideo || assetType == repository.AssetTypeAudio {
		durationSeconds = l.durationProbe(ctx, localPath)
	}

	enrichment := l.enricher.Enrich(ctx, localPath, assetType, durationSeconds)
	record.Caption = enrichment.Caption
	record.EmbeddingRef = enrichment.EmbeddingRef
	record.TranscriptRef = enrichment.TranscriptRef
	record.FacesCount = len(enrichment.Faces)
	for _, enrichErr := range enrichment.Errors {
		record.Errors = append(record.Errors, enrichErr)
		enrichmentErrorsTotal.WithLabelValues(errorKind(enrichErr)).Inc()
	}

	status, location := routing.Route(routing.Decision{
		DuplicateOf:           match.AssetID,
		AssetType:             assetType,
		TranscriptionDeferred: enrichment.TranscriptionDeferred,
	})

	now := time.Now().UTC()
	record.Status = status
	record.ProcessedAt = &now
	if match.AssetID != "" {
		dup := match.AssetID
		record.DuplicateOf = &dup
	}

	if err := l.assets.Update(ctx, record); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}
	if match.AssetID != "" {
		if err := l.assets.InsertDuplicateLink(ctx, record.AssetID, match.AssetID, string(match.Method)); err != nil {
			return fmt.Errorf("link duplicate: %w", err)
		}
		duplicatesTotal.WithLabelValues(string(match.Method)).Inc()
	}

	if err := l.sidecars.Write(ctx, record, enrichment, now); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := l.store.Move(ctx, obj.ID, location); err != nil {
		return fmt.Errorf("move to %s: %w", location, err)
	}

	assetsProcessedTotal.WithLabelValues(string(status)).Inc()
	l.logger.Printf("资产 %s 落位 %s（%s）", record.AssetID, location, status)
	return nil
}

// mediaMimeTypes 补上标准库映射表缺的常见家庭媒体扩展名。
var mediaMimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".mp3":  "audio/mpeg",
	".wav":  "audio/x-wav",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
	".heic": "image/heic",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
}

func mimeFromName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mimeType, ok := mediaMimeTypes[ext]; ok {
		return mimeType
	}
	return strings.Split(mime.TypeByExtension(ext), ";")[0]
}

// errorKind 取富化错误串里冒号前的富化器种类，供指标打标签。
func errorKind(msg string) string {
	if kind, _, ok := strings.Cut(msg, ":"); ok {
		return strings.TrimSpace(kind)
	}
	return "unknown"
}

func manifestBytes(files []repository.BatchFile) int64 {
	var total int64
	for _, f := range files {
		total += f.SizeBytes
	}
	return total
}
