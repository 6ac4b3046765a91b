// Package ingest は記事の取り込みサイクルを提供する。
// 全プロバイダからの取得、正規化済み記事のバッチ内重複排除、
// ストリームログへの追記を1サイクルとして実行する。
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/mentiond/internal/backoff"
	"github.com/hitoshi/mentiond/internal/metrics"
	"github.com/hitoshi/mentiond/internal/model"
	"github.com/hitoshi/mentiond/internal/source"
	"github.com/hitoshi/mentiond/internal/stream"
)

// Config は取り込みサイクルの設定。
type Config struct {
	StreamKey        string
	FetchMaxAttempts int           // プロバイダ取得の最大試行回数
	BackoffBase      time.Duration // 取得再試行バックオフの初回遅延
	BackoffCap       time.Duration // 取得再試行バックオフの最大遅延
}

// MentionUpserter は未エンリッチメンションの先行登録のインターフェース。
type MentionUpserter interface {
	UpsertRaw(ctx context.Context, article model.Article, entryID string) (*model.Mention, bool, error)
}

// Ingester は1キーワード分の取り込みサイクルを実行する。
// スケジューラとHTTPのリフレッシュエンドポイントの両方から共有される。
type Ingester struct {
	providers []source.Provider
	log       stream.Log
	store     MentionUpserter
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	config    Config
}

// NewIngester はIngesterの新しいインスタンスを生成する。
// FetchMaxAttemptsが0以下の場合は1回（再試行なし）として扱う。
func NewIngester(
	providers []source.Provider,
	log stream.Log,
	store MentionUpserter,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	config Config,
) *Ingester {
	if config.FetchMaxAttempts <= 0 {
		config.FetchMaxAttempts = 1
	}
	return &Ingester{
		providers: providers,
		log:       log,
		store:     store,
		logger:    logger,
		metrics:   collector,
		config:    config,
	}
}

// Refresh はキーワード1件の取り込みサイクルを実行する。
// 戻り値は（プロバイダから取得した記事数, ストリームへ追記したエントリ数, エラー）。
//
// プロバイダ単位の失敗はログに記録してスキップし、部分的な結果を許容する。
// 全プロバイダが失敗した場合のみサイクルを失敗として扱う。
// ストリームへの追記失敗もサイクルの失敗であり、部分的な追記は発生しない。
func (i *Ingester) Refresh(ctx context.Context, keyword string) (int, int, error) {
	start := time.Now()

	var all []model.Article
	var fetched, failedProviders int
	var lastErr error

	for _, p := range i.providers {
		articles, err := i.fetchWithRetry(ctx, p, keyword)
		if err != nil {
			failedProviders++
			lastErr = err
			i.logger.Warn("プロバイダからの取得に失敗しました",
				slog.String("provider", p.Name()),
				slog.String("keyword", keyword),
				slog.String("error", err.Error()),
			)
			continue
		}
		fetched += len(articles)
		all = append(all, articles...)
	}

	if len(i.providers) > 0 && failedProviders == len(i.providers) {
		return 0, 0, lastErr
	}

	deduped := source.DedupArticles(all)
	if len(deduped) == 0 {
		i.logger.Info("取り込みサイクルが完了しました（記事なし）",
			slog.String("keyword", keyword),
			slog.Int("fetched", fetched),
		)
		return fetched, 0, nil
	}

	// URLを持つ記事は未エンリッチ行を先行登録し、一覧へ即時に反映する。
	// 失敗してもサイクルは継続する。行はエンリッチ時にワーカーが必ず作成するため、
	// ここでの登録はベストエフォートでよい。
	// URLのない記事の同一性キーはストリームのエントリIDなので、ワーカー側でのみ作成される。
	// ノイズ記事はワーカーが永続化せずにACKするため、ここでも登録しない。
	for _, a := range deduped {
		if a.URL == "" || a.IsNoise() {
			continue
		}
		if _, _, err := i.store.UpsertRaw(ctx, a, ""); err != nil {
			i.logger.Warn("未エンリッチ行の先行登録に失敗しました",
				slog.String("keyword", keyword),
				slog.String("url", a.URL),
				slog.String("error", err.Error()),
			)
		}
	}

	batch := make([]map[string]string, 0, len(deduped))
	for _, a := range deduped {
		batch = append(batch, stream.ArticleFields(a))
	}

	ids, err := i.log.AppendBatch(ctx, i.config.StreamKey, batch)
	if err != nil {
		i.metrics.RecordAppendFailure()
		return fetched, 0, err
	}
	i.metrics.RecordAppend(len(ids))

	i.logger.Info("取り込みサイクルが完了しました",
		slog.String("keyword", keyword),
		slog.Int("fetched", fetched),
		slog.Int("appended", len(ids)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return fetched, len(ids), nil
}

// fetchWithRetry はプロバイダからの取得をバックオフ付きで再試行する。
// 試行回数の上限に達した場合は最後のエラーを返し、そのサイクルでは当該プロバイダを断念する。
func (i *Ingester) fetchWithRetry(ctx context.Context, p source.Provider, keyword string) ([]model.Article, error) {
	var lastErr error
	for attempt := 0; attempt < i.config.FetchMaxAttempts; attempt++ {
		start := time.Now()
		articles, err := p.Fetch(ctx, keyword)
		i.metrics.RecordFetchLatency(p.Name(), time.Since(start))

		if err == nil {
			i.metrics.RecordFetchSuccess(p.Name(), len(articles))
			return articles, nil
		}

		lastErr = err
		i.metrics.RecordFetchFailure(p.Name(), failureReason(err))

		if attempt == i.config.FetchMaxAttempts-1 {
			break
		}

		delay := backoff.Calculate(attempt, i.config.BackoffBase, i.config.BackoffCap)
		i.logger.Warn("プロバイダ取得を再試行します",
			slog.String("provider", p.Name()),
			slog.String("keyword", keyword),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// failureReason は取得失敗をメトリクスのreasonラベル値に分類する。
func failureReason(err error) string {
	switch {
	case errors.Is(err, model.ErrUpstreamQuota):
		return "quota"
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}
