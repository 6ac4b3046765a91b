// Package enrich はストリームログのエントリを消費し、感情分類を付与して
// ストアへ永続化するエンリッチワーカーを提供する。
// ワーカープール、エントリ単位の処理、クラッシュリカバリの再クレームループを含む。
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/mentiond/internal/classifier"
	"github.com/hitoshi/mentiond/internal/metrics"
	"github.com/hitoshi/mentiond/internal/model"
	"github.com/hitoshi/mentiond/internal/stream"
)

// MentionStore はエンリッチ結果の永続化インターフェース。
type MentionStore interface {
	// UpsertRaw は未エンリッチのメンションを作成する。既存行には何もしない。
	UpsertRaw(ctx context.Context, article model.Article, entryID string) (*model.Mention, bool, error)

	// UpsertEnriched は感情分類結果を冪等に反映する。
	UpsertEnriched(ctx context.Context, article model.Article, entryID string, sentiment model.Sentiment, enrichedAt time.Time) (*model.Mention, error)
}

// process はエントリ1件を処理する。
// 処理はシャットダウンから切り離された有界のコンテキストで実行する。
// クレーム済みエントリを中途半端に放棄するより、完了させてACKする方が
// 再配送コストが小さいため。
//
// 結果は4通り:
//   - ノイズ: 永続化せずACK
//   - 分類成功: エンリッチ済みで永続化してACK
//   - 恒久的失敗・配送上限超過: 未エンリッチで永続化してACK
//   - 一時的失敗・ストア書き込み失敗: 未ACKのまま残し、再配送に委ねる
func (p *Pool) process(consumer string, entry stream.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.ProcessTimeout)
	defer cancel()

	article := stream.ParseArticle(entry.Fields)

	if article.IsNoise() {
		p.ack(ctx, entry.ID)
		p.metrics.RecordEnrichment(metrics.ResultNoiseSkipped)
		p.logger.Debug("ノイズ記事をスキップしました",
			slog.String("entry_id", entry.ID),
			slog.String("keyword", article.Keyword),
			slog.String("title", article.Title),
		)
		return
	}

	start := time.Now()
	sentiment, err := p.classifier.Classify(ctx, classifyInput(article))
	p.metrics.RecordClassifyLatency(time.Since(start))

	if err != nil {
		if errors.Is(err, model.ErrClassifierTransient) {
			// 未ACKのまま残す。アイドル閾値の経過後に再クレームされる。
			p.metrics.RecordEnrichment(metrics.ResultFailedRetryable)
			p.logger.Warn("感情分類が一時的に失敗しました",
				slog.String("entry_id", entry.ID),
				slog.String("keyword", article.Keyword),
				slog.String("consumer", consumer),
				slog.String("error", err.Error()),
			)
			return
		}

		p.logger.Warn("感情分類が恒久的に失敗しました",
			slog.String("entry_id", entry.ID),
			slog.String("keyword", article.Keyword),
			slog.String("error", err.Error()),
		)
		p.persistUnenriched(ctx, article, entry.ID)
		return
	}

	if _, err := p.store.UpsertEnriched(ctx, article, entry.ID, sentiment, p.now().UTC()); err != nil {
		// ストア書き込みの再試行はストア層が吸収済み。ここに届いた失敗は
		// 未ACKのまま残し、再配送でもう一度最初から処理する。
		p.metrics.RecordEnrichment(metrics.ResultFailedRetryable)
		p.logger.Error("エンリッチ結果の永続化に失敗しました",
			slog.String("entry_id", entry.ID),
			slog.String("keyword", article.Keyword),
			slog.String("error", err.Error()),
		)
		return
	}

	p.ack(ctx, entry.ID)
	p.metrics.RecordEnrichment(metrics.ResultEnriched)
	p.logger.Info("エントリをエンリッチしました",
		slog.String("entry_id", entry.ID),
		slog.String("keyword", article.Keyword),
		slog.String("sentiment", string(sentiment.Label)),
	)
}

// persistUnenriched はエントリを未エンリッチのまま永続化し、ACKする。
// 永続化に失敗した場合はACKせず、再配送に委ねる。
func (p *Pool) persistUnenriched(ctx context.Context, article model.Article, entryID string) {
	if _, _, err := p.store.UpsertRaw(ctx, article, entryID); err != nil {
		p.metrics.RecordEnrichment(metrics.ResultFailedRetryable)
		p.logger.Error("未エンリッチでの永続化に失敗しました",
			slog.String("entry_id", entryID),
			slog.String("keyword", article.Keyword),
			slog.String("error", err.Error()),
		)
		return
	}

	p.ack(ctx, entryID)
	p.metrics.RecordEnrichment(metrics.ResultFailedTerminal)
	p.logger.Warn("エントリを未エンリッチのまま永続化しました",
		slog.String("entry_id", entryID),
		slog.String("keyword", article.Keyword),
	)
}

// ack はエントリをACKする。失敗はログに記録するのみ。
// ACK漏れのエントリは再配送されるが、永続化は冪等なので実害はない。
func (p *Pool) ack(ctx context.Context, entryID string) {
	if err := p.log.Ack(ctx, p.config.StreamKey, p.config.Group, entryID); err != nil {
		p.logger.Warn("エントリのACKに失敗しました",
			slog.String("entry_id", entryID),
			slog.String("error", err.Error()),
		)
	}
}

// classifyInput は分類器へ渡す入力テキストを組み立てる。
// タイトルと説明（説明がない場合は本文）を結合し、入力制限まで切り詰める。
func classifyInput(a model.Article) string {
	body := a.Description
	if body == "" {
		body = a.Content
	}
	if body == "" {
		return classifier.TruncateInput(a.Title)
	}
	return classifier.TruncateInput(a.Title + ". " + body)
}
