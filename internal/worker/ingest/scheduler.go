package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Refresher は取り込みサイクルの実行インターフェース。
type Refresher interface {
	// Refresh はキーワード1件の取り込みサイクルを実行する。
	Refresh(ctx context.Context, keyword string) (fetched, appended int, err error)
}

// Scheduler は設定済みキーワードの定期取り込みをスケジューリングする。
// ティッカー間隔でサイクルを起動し、semaphoreパターンで最大並列数を制御する。
// キーワード単位の失敗は隔離され、他のキーワードの取り込みを妨げない。
type Scheduler struct {
	refresher      Refresher
	keywords       []string
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(
	refresher Refresher,
	keywords []string,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		refresher:      refresher,
		keywords:       keywords,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続し、実行中のサイクルは完了を待つ。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("取り込みスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("keyword_count", len(s.keywords)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("取り込みスケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は全キーワードの取り込みサイクルを並列で1回実行し、完了を待つ。
func (s *Scheduler) RunOnce(ctx context.Context) {
	if len(s.keywords) == 0 {
		s.logger.Info("取り込み対象のキーワードが設定されていません")
		return
	}

	start := time.Now()

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, keyword := range s.keywords {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(kw string) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if _, _, err := s.refresher.Refresh(ctx, kw); err != nil {
				s.logger.Error("取り込みサイクルに失敗しました",
					slog.String("keyword", kw),
					slog.String("error", err.Error()),
				)
			}
		}(keyword)
	}

	wg.Wait()

	s.logger.Info("取り込みサイクルの一巡が完了しました",
		slog.Int("keyword_count", len(s.keywords)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}
