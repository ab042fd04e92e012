package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合服务启动需要的关键配置。
type Config struct {
	HTTPPort           string
	CacheDir           string
	SidecarDir         string
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	DBHost             string
	DBPort             int
	DBUser             string
	DBPassword         string
	DBName             string
	DBSSLMode          string
	// 贡献者令牌配置，格式 "token:显示名"
	ContributorTokens map[string]string
	// 上传协议配置
	MaxUploadSizeBytes int64
	ChunkSizeBytes     int64
	SessionTTL         time.Duration
	MaxBatchFiles      int
	// 流水线配置
	PHashThreshold       int
	MinFreeDiskGB        int
	MaxBacklogItems      int
	TranscribeMaxSeconds float64
	MaxProcessAttempts   int
	WorkerPollInterval   time.Duration
	// 富化命令配置，空表示该能力未接入
	EnrichFacesCmd      []string
	EnrichCaptionCmd    []string
	EnrichEmbeddingCmd  []string
	EnrichTranscribeCmd []string
	// 对象存储配置
	StorageDriver string // "local" 或 "s3"
	S3Endpoint    string // S3/MinIO 端点，不含协议
	S3AccessKey   string
	S3SecretKey   string
	S3Bucket      string
	S3Region      string
	S3UseSSL      bool // 是否使用 HTTPS
	S3PathStyle   bool // 是否使用路径风格访问（MinIO 需要设为 true）
	LocalStoreDir string // local 驱动的对象根目录
}

// Load 从环境变量加载配置，并提供默认值。
func Load() (*Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	cacheDir := envOrDefault("CACHE_DIR", "./data/cache")
	if err := ensureDir(cacheDir); err != nil {
		return nil, fmt.Errorf("确保缓存目录失败: %w", err)
	}

	sidecarDir := envOrDefault("SIDECAR_DIR", "./data/sidecars")
	if err := ensureDir(sidecarDir); err != nil {
		return nil, fmt.Errorf("确保 sidecar 目录失败: %w", err)
	}

	corsOrigins := parseList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173"}
	}

	rateLimitRequests, err := parseIntEnv("RATE_LIMIT_REQUESTS", 240)
	if err != nil {
		return nil, err
	}

	rateLimitWindow, err := parseDurationEnv("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}

	dbPort, err := parseIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	tokens, err := parseTokenMap(os.Getenv("CONTRIBUTOR_TOKENS"))
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		// 开发环境默认令牌
		tokens = map[string]string{"dev-token-123456": "Dev_Contributor"}
	}

	maxUploadSize, err := parseInt64Env("MAX_UPLOAD_SIZE_BYTES", 2*1024*1024*1024)
	if err != nil {
		return nil, err
	}

	chunkSize, err := parseInt64Env("UPLOAD_CHUNK_SIZE_BYTES", 8*1024*1024)
	if err != nil {
		return nil, err
	}

	sessionTTL, err := parseDurationEnv("SESSION_TTL", 48*time.Hour)
	if err != nil {
		return nil, err
	}

	maxBatchFiles, err := parseIntEnv("MAX_BATCH_FILES", 500)
	if err != nil {
		return nil, err
	}

	phashThreshold, err := parseIntEnv("PHASH_THRESHOLD", 6)
	if err != nil {
		return nil, err
	}

	minFreeDiskGB, err := parseIntEnv("MIN_FREE_DISK_GB", 10)
	if err != nil {
		return nil, err
	}

	maxBacklog, err := parseIntEnv("MAX_BACKLOG_ITEMS", 200)
	if err != nil {
		return nil, err
	}

	transcribeMax, err := parseIntEnv("TRANSCRIBE_MAX_SECONDS", 20*60)
	if err != nil {
		return nil, err
	}

	maxAttempts, err := parseIntEnv("MAX_PROCESS_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}

	pollInterval, err := parseDurationEnv("WORKER_POLL_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPPort:             port,
		CacheDir:             cacheDir,
		SidecarDir:           sidecarDir,
		CORSAllowedOrigins:   corsOrigins,
		RateLimitRequests:    rateLimitRequests,
		RateLimitWindow:      rateLimitWindow,
		DBHost:               envOrDefault("DB_HOST", "127.0.0.1"),
		DBPort:               dbPort,
		DBUser:               envOrDefault("DB_USER", "vault"),
		DBPassword:           envOrDefault("DB_PASSWORD", "vault"),
		DBName:               envOrDefault("DB_NAME", "vault"),
		DBSSLMode:            envOrDefault("DB_SSL_MODE", "disable"),
		ContributorTokens:    tokens,
		MaxUploadSizeBytes:   maxUploadSize,
		ChunkSizeBytes:       chunkSize,
		SessionTTL:           sessionTTL,
		MaxBatchFiles:        maxBatchFiles,
		PHashThreshold:       phashThreshold,
		MinFreeDiskGB:        minFreeDiskGB,
		MaxBacklogItems:      maxBacklog,
		TranscribeMaxSeconds: float64(transcribeMax),
		MaxProcessAttempts:   maxAttempts,
		WorkerPollInterval:   pollInterval,
		EnrichFacesCmd:       parseCommand(os.Getenv("ENRICH_FACES_CMD")),
		EnrichCaptionCmd:     parseCommand(os.Getenv("ENRICH_CAPTION_CMD")),
		EnrichEmbeddingCmd:   parseCommand(os.Getenv("ENRICH_EMBEDDING_CMD")),
		EnrichTranscribeCmd:  parseCommand(os.Getenv("ENRICH_TRANSCRIBE_CMD")),
		StorageDriver:        envOrDefault("STORAGE_DRIVER", "local"),
		S3Endpoint:           envOrDefault("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:          envOrDefault("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:          envOrDefault("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:             envOrDefault("S3_BUCKET", "family-archive"),
		S3Region:             envOrDefault("S3_REGION", "us-east-1"),
		S3UseSSL:             parseBoolEnv("S3_USE_SSL", false),
		S3PathStyle:          parseBoolEnv("S3_PATH_STYLE", true),
		LocalStoreDir:        envOrDefault("LOCAL_STORE_DIR", "./data/store"),
	}, nil
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("路径 %s 已存在但不是目录", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}

	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// parseCommand 按空白切分一条外部命令及其参数。
func parseCommand(raw string) []string {
	return strings.Fields(raw)
}

// parseTokenMap 解析 "token:显示名" 形式的逗号分隔列表。
func parseTokenMap(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, item := range parseList(raw) {
		token, name, ok := strings.Cut(item, ":")
		if !ok || strings.TrimSpace(token) == "" || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("解析 CONTRIBUTOR_TOKENS 失败: 条目 %q 不是 token:name 形式", item)
		}
		out[strings.TrimSpace(token)] = strings.TrimSpace(name)
	}
	return out, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseInt64Env(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes"
}

// PostgresDSN 生成标准 postgres:// 连接串，供数据访问层直接使用。
func (c *Config) PostgresDSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   c.DBName,
	}

	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// MinFreeDiskBytes 返回背压检查使用的最小空闲磁盘字节数。
func (c *Config) MinFreeDiskBytes() uint64 {
	return uint64(c.MinFreeDiskGB) * 1024 * 1024 * 1024
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
