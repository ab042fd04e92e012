package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/darnellt0/family-archive-vault/internal/api"
	"github.com/darnellt0/family-archive-vault/internal/batch"
	"github.com/darnellt0/family-archive-vault/internal/blobstore"
	blobstorelocal "github.com/darnellt0/family-archive-vault/internal/blobstore/local"
	blobstores3 "github.com/darnellt0/family-archive-vault/internal/blobstore/s3"
	"github.com/darnellt0/family-archive-vault/internal/config"
	"github.com/darnellt0/family-archive-vault/internal/database"
	"github.com/darnellt0/family-archive-vault/internal/logging"
	"github.com/darnellt0/family-archive-vault/internal/repository/postgres"
	"github.com/darnellt0/family-archive-vault/internal/token"
	"github.com/darnellt0/family-archive-vault/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New()
	logger.Println("配置加载完成，开始启动服务")

	ctx := context.Background()

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
	manager := upload.NewManager(registry, postgres.NewSessionRepository(db), store, cfg.MaxUploadSizeBytes, cfg.ChunkSizeBytes, logger)
	batcher := batch.NewBatcher(registry, postgres.NewBatchRepository(db), store, cfg.MaxBatchFiles, logger)

	router := api.NewRouter(cfg, api.NewUploadHandler(manager, cfg.ChunkSizeBytes), api.NewBatchHandler(batcher))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		ReadTimeout:  5 * time.Minute, // 分块上传可能很慢
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      router,
	}

	logger.Printf("服务监听端口 :%s\n", cfg.HTTPPort)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("监听失败: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("优雅关闭失败: %v", err)
	}

	logger.Println("服务已停止")
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
