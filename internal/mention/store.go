// Package mention はメンションストアのドメインロジックを提供する。
// 冪等UPSERTと変更イベント発行を統括するストア層と、UI向けの照会サービスを含む。
package mention

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/mentiond/internal/backoff"
	"github.com/hitoshi/mentiond/internal/metrics"
	"github.com/hitoshi/mentiond/internal/model"
	"github.com/hitoshi/mentiond/internal/notify"
	"github.com/hitoshi/mentiond/internal/repository"
)

// StoreConfig はストア書き込みの再試行設定。
type StoreConfig struct {
	RetryAttempts int           // 一時的エラー時の最大試行回数
	BackoffBase   time.Duration // 再試行バックオフの初回遅延
	BackoffCap    time.Duration // 再試行バックオフの最大遅延
}

// Store はメンションの永続化と変更イベント発行を統括する。
// 書き込みの一時的エラーは有限回のバックオフ付き再試行で吸収し、
// 成功した書き込みの後にのみイベントを発行する。
// イベント発行の失敗は書き込みの成否に影響しない（ベストエフォート境界）。
type Store struct {
	repo     repository.MentionRepository
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	config   StoreConfig
}

// NewStore はStoreを生成する。
// RetryAttemptsが0以下の場合は1回（再試行なし）として扱う。
func NewStore(
	repo repository.MentionRepository,
	notifier notify.Notifier,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	config StoreConfig,
) *Store {
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	return &Store{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		metrics:  collector,
		config:   config,
	}
}

// UpsertRaw は未エンリッチのメンションを作成する。
// 既存行がある場合は何も変更しない。新規作成時のみinsertイベントを発行する。
func (s *Store) UpsertRaw(ctx context.Context, article model.Article, entryID string) (*model.Mention, bool, error) {
	var mention *model.Mention
	var created bool

	err := s.withRetry(ctx, func() error {
		var err error
		mention, created, err = s.repo.UpsertRaw(ctx, article, entryID)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.publish(ctx, notify.EventInsert, mention)
	}

	return mention, created, nil
}

// UpsertEnriched は感情分類結果を冪等に反映し、updateイベントを発行する。
func (s *Store) UpsertEnriched(
	ctx context.Context,
	article model.Article,
	entryID string,
	sentiment model.Sentiment,
	enrichedAt time.Time,
) (*model.Mention, error) {
	start := time.Now()

	var mention *model.Mention
	err := s.withRetry(ctx, func() error {
		var err error
		mention, err = s.repo.UpsertEnriched(ctx, article, entryID, sentiment.Label, sentiment.Score, enrichedAt)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordUpsertLatency(time.Since(start))
	s.publish(ctx, notify.EventUpdate, mention)

	return mention, nil
}

// withRetry は一時的なストアエラーを有限回のバックオフ付き再試行で吸収する。
// 再試行可能でないエラーは即座に返す。
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.config.RetryAttempts; attempt++ {
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if !model.IsRetryableStoreErr(lastErr) {
			return lastErr
		}

		if attempt == s.config.RetryAttempts-1 {
			break
		}

		delay := backoff.Calculate(attempt, s.config.BackoffBase, s.config.BackoffCap)
		s.logger.Warn("ストア書き込みを再試行します",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", lastErr.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// publish は変更イベントをベストエフォートで発行する。
// 失敗はログとメトリクスに記録するだけで、呼び出し元へは伝播しない。
func (s *Store) publish(ctx context.Context, eventType string, mention *model.Mention) {
	if err := s.notifier.Publish(ctx, notify.NewEvent(eventType, mention)); err != nil {
		s.metrics.RecordNotifyFailure()
		s.logger.Warn("変更イベントの発行に失敗しました",
			slog.String("event_type", eventType),
			slog.String("keyword", mention.Keyword),
			slog.Int64("mention_id", mention.ID),
			slog.String("error", err.Error()),
		)
	}
}
