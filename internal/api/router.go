package api

import (
	"net/http"

	"github.com/darnellt0/family-archive-vault/internal/config"
	vaultmiddleware "github.com/darnellt0/family-archive-vault/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter 构建 HTTP 路由，集中注册所有对外服务的端点。
func NewRouter(cfg *config.Config, uploadHandler *UploadHandler, batchHandler *BatchHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(vaultmiddleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(vaultmiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
	r.Use(vaultmiddleware.Metrics())

	// 健康检查不需要令牌
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus 指标端点
	r.Handle("/metrics", promhttp.Handler())

	// 贡献者令牌随请求体校验，端点本身不挂鉴权中间件
	if uploadHandler != nil {
		uploadHandler.RegisterRoutes(r)
	}
	if batchHandler != nil {
		batchHandler.RegisterRoutes(r)
	}

	return r
}
