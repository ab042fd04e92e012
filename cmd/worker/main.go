package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"

	"github.com/darnellt0/family-archive-vault/internal/blobstore"
	blobstorelocal "github.com/darnellt0/family-archive-vault/internal/blobstore/local"
	blobstores3 "github.com/darnellt0/family-archive-vault/internal/blobstore/s3"
	"github.com/darnellt0/family-archive-vault/internal/config"
	"github.com/darnellt0/family-archive-vault/internal/database"
	"github.com/darnellt0/family-archive-vault/internal/dedup"
	"github.com/darnellt0/family-archive-vault/internal/enrich"
	"github.com/darnellt0/family-archive-vault/internal/logging"
	"github.com/darnellt0/family-archive-vault/internal/repository/postgres"
	"github.com/darnellt0/family-archive-vault/internal/sidecar"
	"github.com/darnellt0/family-archive-vault/internal/token"
	"github.com/darnellt0/family-archive-vault/internal/upload"
	"github.com/darnellt0/family-archive-vault/internal/worker"
)

func main() {
	reapSessions := flag.Bool("reap-sessions", false, "回收过期上传会话后退出")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		logger.Fatalf("连接数据库失败: %v", err)
	}
	defer db.Close()

	store, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("初始化对象存储失败: %v", err)
	}

	registry := token.NewRegistry(cfg.ContributorTokens)

	if *reapSessions {
		manager := upload.NewManager(registry, postgres.NewSessionRepository(db), store, cfg.MaxUploadSizeBytes, cfg.ChunkSizeBytes, logger)
		reaped, err := manager.ReapExpired(ctx, cfg.SessionTTL)
		if err != nil {
			logger.Fatalf("回收过期会话失败: %v", err)
		}
		logger.Printf("维护完成，回收 %d 个会话", reaped)
		return
	}

	assets := postgres.NewAssetRepository(db)

	var imageEnrichers []enrich.LoadableEnricher
	if len(cfg.EnrichFacesCmd) > 0 {
		imageEnrichers = append(imageEnrichers, enrich.NewCommandEnricher(enrich.KindFaces, cfg.EnrichFacesCmd))
	}
	if len(cfg.EnrichCaptionCmd) > 0 {
		imageEnrichers = append(imageEnrichers, enrich.NewCommandEnricher(enrich.KindCaption, cfg.EnrichCaptionCmd))
	}
	if len(cfg.EnrichEmbeddingCmd) > 0 {
		imageEnrichers = append(imageEnrichers, enrich.NewCommandEnricher(enrich.KindEmbedding, cfg.EnrichEmbeddingCmd))
	}
	var transcriber enrich.LoadableEnricher
	if len(cfg.EnrichTranscribeCmd) > 0 {
		transcriber = enrich.NewCommandEnricher(enrich.KindTranscript, cfg.EnrichTranscribeCmd)
	}

	loop := worker.NewLoop(worker.Config{
		Store:        store,
		Assets:       assets,
		Batches:      postgres.NewBatchRepository(db),
		Tokens:       registry,
		Resolver:     dedup.NewResolver(assets, cfg.PHashThreshold),
		Enricher:     enrich.NewOrchestrator(imageEnrichers, transcriber, cfg.TranscribeMaxSeconds, logger),
		Sidecars:     sidecar.NewWriter(cfg.SidecarDir, store),
		Governor:     worker.NewGovernor(cfg.CacheDir, cfg.MinFreeDiskBytes(), cfg.MaxBacklogItems, assets, nil, logger),
		CacheDir:     cfg.CacheDir,
		MaxAttempts:  cfg.MaxProcessAttempts,
		PollInterval: cfg.WorkerPollInterval,
		Logger:       logger,
	})

	logger.Printf("处理循环启动，巡检间隔 %s", cfg.WorkerPollInterval)
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("处理循环退出: %v", err)
	}
	logger.Println("处理循环已停止")
}

func newStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.StorageDriver == "s3" {
		return blobstores3.New(ctx, blobstores3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		})
	}
	return blobstorelocal.New(cfg.LocalStoreDir)
}
