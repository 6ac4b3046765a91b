package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Stream
	StreamKey      string
	ConsumerGroup  string
	ConsumerPrefix string

	// Ingest
	Keywords          []string
	IngestInterval    time.Duration
	IngestConcurrency int
	FetchMaxAttempts  int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	ProviderRateLimit float64 // プロバイダ呼び出しのレート（req/sec）
	ProviderRateBurst int

	// Providers
	NewsAPIKey       string
	NewsAPIBaseURL   string
	GoogleNewsRSSURL string
	FetchTimeout     time.Duration
	FetchMaxSize     int64

	// Enrichment worker
	WorkerConcurrency  int
	ReadCount          int
	ReadBlock          time.Duration
	ReclaimInterval    time.Duration
	ReclaimMinIdle     time.Duration
	MaxDeliveries      int
	ProcessTimeout     time.Duration
	StoreRetryAttempts int

	// Classifier
	HuggingFaceToken    string
	HuggingFaceModelURL string
	ClassifyTimeout     time.Duration

	// Rate Limit（req/min単位）
	RateLimitGeneral int
	RateLimitRefresh int

	// Server
	ServerPort        string
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（未存在は無視）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.StreamKey = getEnvString("STREAM_KEY", "mentions_stream")
	cfg.ConsumerGroup = getEnvString("CONSUMER_GROUP", "mentions_processor_group")
	cfg.ConsumerPrefix = getEnvString("CONSUMER_PREFIX", "consumer_")

	cfg.Keywords = getEnvSlice("KEYWORDS")
	cfg.IngestInterval = getEnvDuration("INGEST_INTERVAL", 15*time.Minute)
	cfg.IngestConcurrency = getEnvInt("INGEST_CONCURRENCY", 4)
	cfg.FetchMaxAttempts = getEnvInt("FETCH_MAX_ATTEMPTS", 3)
	cfg.BackoffBase = getEnvDuration("BACKOFF_BASE", 1*time.Second)
	cfg.BackoffCap = getEnvDuration("BACKOFF_CAP", 60*time.Second)
	cfg.ProviderRateLimit = getEnvFloat("PROVIDER_RATE_LIMIT", 1.0)
	cfg.ProviderRateBurst = getEnvInt("PROVIDER_RATE_BURST", 2)

	cfg.NewsAPIKey = getEnvString("NEWS_API_KEY", "")
	cfg.NewsAPIBaseURL = getEnvString("NEWS_API_BASE_URL", "https://newsapi.org")
	cfg.GoogleNewsRSSURL = getEnvString("GOOGLE_NEWS_RSS_URL", "https://news.google.com")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)

	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 4)
	cfg.ReadCount = getEnvInt("READ_COUNT", 16)
	cfg.ReadBlock = getEnvDuration("READ_BLOCK", 5*time.Second)
	cfg.ReclaimInterval = getEnvDuration("RECLAIM_INTERVAL", 1*time.Minute)
	cfg.ReclaimMinIdle = getEnvDuration("RECLAIM_MIN_IDLE", 1*time.Minute)
	cfg.MaxDeliveries = getEnvInt("MAX_DELIVERIES", 5)
	cfg.ProcessTimeout = getEnvDuration("PROCESS_TIMEOUT", 30*time.Second)
	cfg.StoreRetryAttempts = getEnvInt("STORE_RETRY_ATTEMPTS", 3)

	cfg.HuggingFaceToken = getEnvString("HUGGINGFACE_API_TOKEN", "")
	cfg.HuggingFaceModelURL = getEnvString("HUGGINGFACE_MODEL_URL",
		"https://api-inference.huggingface.co/models/distilbert-base-uncased-finetuned-sst-2-english")
	cfg.ClassifyTimeout = getEnvDuration("CLASSIFY_TIMEOUT", 10*time.Second)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitRefresh = getEnvInt("RATE_LIMIT_REFRESH", 10)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvSlice はカンマ区切りの環境変数を文字列スライスに変換する。
// 各要素の前後空白は除去し、空要素は捨てる。未設定の場合はnilを返す。
func getEnvSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
