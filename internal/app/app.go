// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hitoshi/mentiond/internal/classifier"
	"github.com/hitoshi/mentiond/internal/config"
	"github.com/hitoshi/mentiond/internal/database"
	"github.com/hitoshi/mentiond/internal/handler"
	"github.com/hitoshi/mentiond/internal/logger"
	"github.com/hitoshi/mentiond/internal/mention"
	"github.com/hitoshi/mentiond/internal/metrics"
	"github.com/hitoshi/mentiond/internal/middleware"
	"github.com/hitoshi/mentiond/internal/notify"
	"github.com/hitoshi/mentiond/internal/repository"
	"github.com/hitoshi/mentiond/internal/security"
	"github.com/hitoshi/mentiond/internal/source"
	"github.com/hitoshi/mentiond/internal/stream"
	"github.com/hitoshi/mentiond/internal/worker/enrich"
	"github.com/hitoshi/mentiond/internal/worker/ingest"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("stream", cfg.StreamKey),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// pipeline はパイプラインの共有依存関係の束。
// serveモードとworkerモードの両方が同じワイヤリングを使う。
type pipeline struct {
	store    *mention.Store
	service  *mention.Service
	ingester *ingest.Ingester
	log      stream.Log
	registry *prometheus.Registry
	metrics  *metrics.Collector
}

// buildPipeline はDB・Redis接続の上にパイプラインの依存関係を構築する。
func buildPipeline(cfg *config.Config, db *sql.DB, rdb *redis.Client) *pipeline {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	mentionRepo := repository.NewPostgresMentionRepo(db)
	notifier := notify.NewRedisNotifier(rdb)

	store := mention.NewStore(mentionRepo, notifier, slog.Default(), collector, mention.StoreConfig{
		RetryAttempts: cfg.StoreRetryAttempts,
		BackoffBase:   cfg.BackoffBase,
		BackoffCap:    cfg.BackoffCap,
	})
	service := mention.NewService(mentionRepo)

	streamLog := stream.NewRedisLog(rdb)

	// プロバイダの構築。NewsAPIはAPIキーがある場合のみ有効化する。
	sanitizer := security.NewTextSanitizer()
	normalizer := source.NewNormalizer(sanitizer)
	limiter := rate.NewLimiter(rate.Limit(cfg.ProviderRateLimit), cfg.ProviderRateBurst)

	var providers []source.Provider
	if cfg.NewsAPIKey != "" {
		providers = append(providers, source.NewNewsAPIProvider(
			&http.Client{Timeout: cfg.FetchTimeout},
			slog.Default(), limiter, normalizer,
			cfg.NewsAPIKey, cfg.NewsAPIBaseURL,
		))
	} else {
		slog.Warn("NEWS_API_KEYが未設定のため、NewsAPIプロバイダを無効化します")
	}
	providers = append(providers, source.NewGoogleNewsProvider(
		security.NewSSRFGuard(),
		slog.Default(), limiter, normalizer,
		cfg.GoogleNewsRSSURL, cfg.FetchTimeout, cfg.FetchMaxSize,
	))

	ingester := ingest.NewIngester(providers, streamLog, store, slog.Default(), collector, ingest.Config{
		StreamKey:        cfg.StreamKey,
		FetchMaxAttempts: cfg.FetchMaxAttempts,
		BackoffBase:      cfg.BackoffBase,
		BackoffCap:       cfg.BackoffCap,
	})

	return &pipeline{
		store:    store,
		service:  service,
		ingester: ingester,
		log:      streamLog,
		registry: registry,
		metrics:  collector,
	}
}

// runServe はAPIサーバーモードで起動する。
// DBとRedisへの接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer connectCancel()

	// 1. DB接続
	db, err := database.Connect(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// 2. Redis接続
	rdb, err := database.NewRedisClient(connectCtx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer rdb.Close()

	slog.Info("database and redis connections established")

	// 3. パイプライン依存関係のワイヤリング
	p := buildPipeline(cfg, db, rdb)

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitRefresh),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		MentionService:    p.service,
		Refresher:         p.ingester,
		MetricsHandler:    metrics.Handler(p.registry),
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 取り込みスケジューラとエンリッチワーカープールを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer connectCancel()

	// 1. DB接続
	db, err := database.Connect(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// 2. Redis接続
	rdb, err := database.NewRedisClient(connectCtx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer rdb.Close()

	slog.Info("database and redis connections established (worker)")

	// 3. パイプライン依存関係のワイヤリング
	p := buildPipeline(cfg, db, rdb)

	// 4. 感情分類器の構築。資格情報がない場合は固定分類器で動かす。
	var cls classifier.Classifier
	if cfg.HuggingFaceToken != "" {
		cls = classifier.NewHuggingFaceClassifier(
			&http.Client{Timeout: cfg.ClassifyTimeout},
			slog.Default(), cfg.HuggingFaceModelURL, cfg.HuggingFaceToken,
		)
	} else {
		slog.Warn("HUGGINGFACE_API_TOKENが未設定のため、固定分類器（NEUTRAL）を使用します")
		cls = classifier.NewStaticClassifier()
	}

	// 5. エンリッチワーカープールの構築
	pool := enrich.NewPool(p.log, p.store, cls, slog.Default(), p.metrics, enrich.Config{
		StreamKey:       cfg.StreamKey,
		Group:           cfg.ConsumerGroup,
		ConsumerPrefix:  cfg.ConsumerPrefix,
		Concurrency:     cfg.WorkerConcurrency,
		ReadCount:       int64(cfg.ReadCount),
		ReadBlock:       cfg.ReadBlock,
		ReclaimInterval: cfg.ReclaimInterval,
		ReclaimMinIdle:  cfg.ReclaimMinIdle,
		MaxDeliveries:   int64(cfg.MaxDeliveries),
		ProcessTimeout:  cfg.ProcessTimeout,
	})

	// 6. 取り込みスケジューラの構築
	scheduler := ingest.NewScheduler(p.ingester, cfg.Keywords, slog.Default(), cfg.IngestConcurrency)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("ingest_interval", cfg.IngestInterval),
		slog.Int("worker_concurrency", cfg.WorkerConcurrency),
		slog.Int("keyword_count", len(cfg.Keywords)),
	)

	var wg sync.WaitGroup

	// 取り込みスケジューラをバックグラウンドで起動
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Start(ctx, cfg.IngestInterval)
	}()

	// エンリッチワーカープールをメインgoroutineで実行（ブロッキング）
	if err := pool.Run(ctx); err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("enrichment pool failed: %w", err)
	}

	wg.Wait()
	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
