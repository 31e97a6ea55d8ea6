// Package config は環境変数から設定を読み込み、ワーカー全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// PreprocessMode は pdf_preprocess (invoke) の実行方式です。
const (
	PreprocessModeInvoke = "invoke"
	PreprocessModeSync   = "sync"
)

// Config はワーカーの設定を保持する構造体です。
type Config struct {
	// ジョブストリーム設定
	RedisURL        string // Pub/Sub用Redis接続URL
	JobChannel      string // 受信チャネル名
	ResponseChannel string // 応答チャネル名

	// 呼び出し（Asynq）設定
	QueueRedisURL   string // Asynq用Redis接続URL
	InvokeQueue     string // 前処理・通知タスクを投入するキュー名
	CompletionQueue string // 前処理完了タスクを受け取るキュー名
	PreprocessMode  string // invoke または sync

	// コンテンツストア設定
	MinioEndpoint          string
	MinioAccessKey         string
	MinioSecretKey         string
	MinioUseSSL            bool
	ContentBucket          string
	SignedURLExpireMinutes int

	// データベース設定
	DBDriver  string // postgres または sqlite3
	DBDSN     string
	DBMaxPool int

	// 下流サービス設定
	DocMetaURL         string // ドキュメントメタデータサービス
	PdfServiceURL      string // PDF変換サービス
	DocxServiceURL     string // DOCX変換サービス
	HTTPTimeoutSeconds int

	// ヘルスチェックサーバー設定
	Port           string
	GinMode        string
	AdminTokenHash string // bcryptでハッシュ化された管理トークン（空なら認証なし）

	// ログ設定
	LogLevel  string
	LogFormat string

	// ジョブ状態の有効期限（分）
	JobExpireMinutes int
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		RedisURL:        getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		JobChannel:      getEnv("JOB_CHANNEL", "docworker:jobs"),
		ResponseChannel: getEnv("RESPONSE_CHANNEL", "docworker:responses"),

		QueueRedisURL:   getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/1"),
		InvokeQueue:     getEnv("INVOKE_QUEUE", "invoke"),
		CompletionQueue: getEnv("COMPLETION_QUEUE", "completion"),
		PreprocessMode:  strings.ToLower(getEnv("PREPROCESS_MODE", PreprocessModeInvoke)),

		MinioEndpoint:          getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey:         getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:         getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioUseSSL:            getEnvAsBool("MINIO_USE_SSL", false),
		ContentBucket:          getEnv("CONTENT_BUCKET", "documents"),
		SignedURLExpireMinutes: getEnvAsInt("SIGNED_URL_EXPIRE_MINUTES", 15),

		DBDriver:  getEnv("DB_DRIVER", "sqlite3"),
		DBDSN:     getEnv("DB_DSN", "docworker.db"),
		DBMaxPool: getEnvAsInt("DB_MAX_POOL", 10),

		DocMetaURL:         getEnv("DOCMETA_URL", "http://127.0.0.1:8081"),
		PdfServiceURL:      getEnv("PDF_SERVICE_URL", "http://127.0.0.1:8082"),
		DocxServiceURL:     getEnv("DOCX_SERVICE_URL", "http://127.0.0.1:8083"),
		HTTPTimeoutSeconds: getEnvAsInt("HTTP_TIMEOUT_SECONDS", 120),

		Port:           getEnv("PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 60),
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
	switch c.PreprocessMode {
	case PreprocessModeInvoke, PreprocessModeSync:
	default:
		return fmt.Errorf("PREPROCESS_MODE must be %q or %q (received: %s)", PreprocessModeInvoke, PreprocessModeSync, c.PreprocessMode)
	}
	switch c.DBDriver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite3 (received: %s)", c.DBDriver)
	}
	if c.JobChannel == "" || c.ResponseChannel == "" {
		return fmt.Errorf("JOB_CHANNEL and RESPONSE_CHANNEL are required")
	}

	// 本番環境では下流サービスの指定を必須とする
	if c.GinMode == "release" {
		required := map[string]string{
			"REDIS_URL":        c.RedisURL,
			"QUEUE_REDIS_URL":  c.QueueRedisURL,
			"MINIO_ENDPOINT":   c.MinioEndpoint,
			"CONTENT_BUCKET":   c.ContentBucket,
			"DB_DSN":           c.DBDSN,
			"DOCMETA_URL":      c.DocMetaURL,
			"PDF_SERVICE_URL":  c.PdfServiceURL,
			"DOCX_SERVICE_URL": c.DocxServiceURL,
		}
		for key, value := range required {
			if value == "" {
				return fmt.Errorf("%s is required in release mode", key)
			}
		}
	}

	return nil
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
