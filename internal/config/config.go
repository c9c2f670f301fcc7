// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ジョブストアとキューのバックエンド種別
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	QueueLocal = "local"
	QueueAsynq = "asynq"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port          string // APIサーバーのポート番号
	GinMode       string // Ginの実行モード (debug, release, test)
	SessionSecret string // セッションCookie署名用の秘密鍵
	LogLevel      string // zerolog のログレベル

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ファイル制限
	MaxFileSize int64 // アップロード1件の最大サイズ（バイト）
	MaxPages    int   // アップロード1件の最大ページ数（0 で無制限）

	// 保存先
	UploadDir     string // 入力PDFの保存先
	CompressedDir string // 圧縮後PDFの保存先

	// Ghostscript設定
	GhostscriptPath       string // Ghostscript実行ファイルのパス（空なら既定の候補を探索）
	ConvertTimeoutSeconds int    // Ghostscript 1回あたりの実行時間上限（秒）

	// ジョブ/キュー設定
	JobStore             string // memory または redis
	QueueBackend         string // local または asynq
	QueueRedisURL        string // Redis接続URL（redisストア/asynq共通）
	WorkerConcurrency    int    // 同時実行ワーカー数
	QueueSize            int    // ローカルキューの容量
	JobExpireMinutes     int    // 終了済みジョブの有効期限（分）
	SweepIntervalMinutes int    // 期限切れジョブ掃除の実行間隔（分）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:          getEnv("PORT", "8080"),
		GinMode:       getEnv("GIN_MODE", "debug"),
		SessionSecret: getEnv("SESSION_SECRET", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 50*1024*1024), // 50MB
		MaxPages:    getEnvAsInt("MAX_PAGES", 0),

		UploadDir:     getEnv("UPLOAD_DIR", "uploads"),
		CompressedDir: getEnv("COMPRESSED_DIR", "compressed"),

		GhostscriptPath:       getEnv("GHOSTSCRIPT_PATH", ""),
		ConvertTimeoutSeconds: getEnvAsInt("CONVERT_TIMEOUT_SECONDS", 30),

		JobStore:             getEnv("JOB_STORE", StoreMemory),
		QueueBackend:         getEnv("QUEUE_BACKEND", QueueLocal),
		QueueRedisURL:        getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		WorkerConcurrency:    getEnvAsInt("WORKER_CONCURRENCY", 4),
		QueueSize:            getEnvAsInt("QUEUE_SIZE", 64),
		JobExpireMinutes:     getEnvAsInt("JOB_EXPIRE_MINUTES", 10),
		SweepIntervalMinutes: getEnvAsInt("SWEEP_INTERVAL_MINUTES", 1),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.JobStore {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("JOB_STORE must be %q or %q (got %q)", StoreMemory, StoreRedis, c.JobStore)
	}
	switch c.QueueBackend {
	case QueueLocal, QueueAsynq:
	default:
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q (got %q)", QueueLocal, QueueAsynq, c.QueueBackend)
	}
	// asynq のワーカーは別プロセスでも動くため、ジョブ状態は共有ストアに置く必要がある
	if c.QueueBackend == QueueAsynq && c.JobStore != StoreRedis {
		return fmt.Errorf("QUEUE_BACKEND=asynq requires JOB_STORE=redis")
	}
	if (c.JobStore == StoreRedis || c.QueueBackend == QueueAsynq) && c.QueueRedisURL == "" {
		return fmt.Errorf("QUEUE_REDIS_URL is required for redis backends")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be positive")
	}
	if c.ConvertTimeoutSeconds <= 0 {
		return fmt.Errorf("CONVERT_TIMEOUT_SECONDS must be positive")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.UploadDir == "" || c.CompressedDir == "" {
		return fmt.Errorf("UPLOAD_DIR and COMPRESSED_DIR are required")
	}

	if c.GinMode == "release" && c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required in release mode")
	}

	return nil
}

// ConvertTimeout は Ghostscript の実行時間上限を返します。
func (c *Config) ConvertTimeout() time.Duration {
	return time.Duration(c.ConvertTimeoutSeconds) * time.Second
}

// JobTTL は終了済みジョブを保持する期間を返します。
func (c *Config) JobTTL() time.Duration {
	minutes := c.JobExpireMinutes
	if minutes <= 0 {
		minutes = 10
	}
	return time.Duration(minutes) * time.Minute
}

// JobRecordTTL は Redis 上のジョブレコードの保持期間です。
// 期限切れの判定後も掃除がレコードを参照できるよう、掃除間隔2回分を上乗せします。
func (c *Config) JobRecordTTL() time.Duration {
	ttl := c.JobTTL()
	if c.SweepIntervalMinutes > 0 {
		ttl += 2 * time.Duration(c.SweepIntervalMinutes) * time.Minute
	}
	return ttl
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
