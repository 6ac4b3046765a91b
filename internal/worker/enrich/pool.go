package enrich

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mentiond/internal/classifier"
	"github.com/hitoshi/mentiond/internal/metrics"
	"github.com/hitoshi/mentiond/internal/stream"
)

// reclaimBatchSize は1回の再クレームスキャンで列挙する未ACKエントリの最大数。
const reclaimBatchSize = 100

// Config はエンリッチワーカープールの設定。
type Config struct {
	StreamKey      string
	Group          string
	ConsumerPrefix string // コンシューマ名の接頭辞。UUIDを付けて一意にする

	Concurrency int           // ワーカーgoroutine数
	ReadCount   int64         // 1回の読み取りで取得する最大エントリ数
	ReadBlock   time.Duration // エントリがない場合の待機時間

	ReclaimInterval time.Duration // 再クレームスキャンの間隔
	ReclaimMinIdle  time.Duration // 再クレーム対象とみなす最小アイドル時間
	MaxDeliveries   int64         // この配送回数を超えたエントリは未エンリッチで確定する

	ProcessTimeout time.Duration // エントリ1件の処理の上限時間
}

// Pool はコンシューマグループを共有するエンリッチワーカーのプール。
// 各ワーカーは一意のコンシューマ名を持ち、グループによる排他的クレームで
// エントリを分配する。ワーカー間の共有メモリはない。
type Pool struct {
	log        stream.Log
	store      MentionStore
	classifier classifier.Classifier
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	config     Config
	now        func() time.Time // テストで固定時刻に差し替える
}

// NewPool はPoolの新しいインスタンスを生成する。
// Concurrencyが0以下の場合は4、ReadCountが0以下の場合は16、
// MaxDeliveriesが0以下の場合は5を使用する。
// ReadBlock・ReclaimInterval・ReclaimMinIdleが0以下の場合もデフォルト値で補完する。
func NewPool(
	log stream.Log,
	store MentionStore,
	cls classifier.Classifier,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	config Config,
) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.ReadCount <= 0 {
		config.ReadCount = 16
	}
	if config.ReadBlock <= 0 {
		config.ReadBlock = 5 * time.Second
	}
	if config.MaxDeliveries <= 0 {
		config.MaxDeliveries = 5
	}
	if config.ReclaimInterval <= 0 {
		config.ReclaimInterval = time.Minute
	}
	if config.ReclaimMinIdle <= 0 {
		config.ReclaimMinIdle = time.Minute
	}
	return &Pool{
		log:        log,
		store:      store,
		classifier: cls,
		logger:     logger,
		metrics:    collector,
		config:     config,
		now:        time.Now,
	}
}

// Run はワーカープールと再クレームループを起動し、
// コンテキストがキャンセルされるまで実行を継続する。
// キャンセル後は新規クレームを止め、処理中のエントリの完了を待ってから戻る。
func (p *Pool) Run(ctx context.Context) error {
	if err := p.log.EnsureGroup(ctx, p.config.StreamKey, p.config.Group); err != nil {
		return err
	}

	p.logger.Info("エンリッチワーカープールを開始しました",
		slog.String("stream", p.config.StreamKey),
		slog.String("group", p.config.Group),
		slog.Int("concurrency", p.config.Concurrency),
	)

	var wg sync.WaitGroup

	for i := 0; i < p.config.Concurrency; i++ {
		consumer := p.config.ConsumerPrefix + uuid.NewString()
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consumeLoop(ctx, consumer)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reclaimLoop(ctx)
	}()

	wg.Wait()
	p.logger.Info("エンリッチワーカープールを停止しました")
	return nil
}

// consumeLoop は未配送エントリの読み取りと処理を繰り返す。
// 読み取り済みのエントリはコンテキストのキャンセル後も処理を完了させる
// （processは有界の独立したコンテキストで実行される）。
func (p *Pool) consumeLoop(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entries, err := p.log.Read(ctx, p.config.StreamKey, p.config.Group, consumer, p.config.ReadCount, p.config.ReadBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("ストリームの読み取りに失敗しました",
				slog.String("consumer", consumer),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, entry := range entries {
			p.process(consumer, entry)
		}
	}
}

// reclaimLoop はクラッシュしたコンシューマが残した未ACKエントリを定期的に回収する。
func (p *Pool) reclaimLoop(ctx context.Context) {
	consumer := p.config.ConsumerPrefix + uuid.NewString()

	ticker := time.NewTicker(p.config.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reclaimOnce(ctx, consumer)
		}
	}
}

// reclaimOnce は未ACKエントリを1回スキャンして回収する。
// 配送回数が上限を超えたエントリは未エンリッチで確定し、
// それ以外はクレームして通常の処理に回す。
func (p *Pool) reclaimOnce(ctx context.Context, consumer string) {
	pending, err := p.log.Pending(ctx, p.config.StreamKey, p.config.Group, p.config.ReclaimMinIdle, reclaimBatchSize)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("未ACKエントリの列挙に失敗しました",
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if len(pending) == 0 {
		return
	}

	var exhausted, retryable []string
	for _, pe := range pending {
		if pe.DeliveryCount >= p.config.MaxDeliveries {
			exhausted = append(exhausted, pe.ID)
		} else {
			retryable = append(retryable, pe.ID)
		}
	}

	p.logger.Info("未ACKエントリを回収します",
		slog.Int("pending", len(pending)),
		slog.Int("exhausted", len(exhausted)),
		slog.Int("retryable", len(retryable)),
	)

	// 配送上限超過: 未エンリッチのまま永続化して確定する
	if len(exhausted) > 0 {
		entries, err := p.log.Claim(ctx, p.config.StreamKey, p.config.Group, consumer, p.config.ReclaimMinIdle, exhausted...)
		if err != nil {
			p.logger.Error("配送上限超過エントリのクレームに失敗しました",
				slog.String("error", err.Error()),
			)
		} else {
			p.metrics.RecordReclaim(len(entries))
			for _, entry := range entries {
				pctx, cancel := context.WithTimeout(context.Background(), p.config.ProcessTimeout)
				p.persistUnenriched(pctx, stream.ParseArticle(entry.Fields), entry.ID)
				cancel()
			}
		}
	}

	// 再試行余地あり: クレームして通常の処理に回す
	if len(retryable) > 0 {
		entries, err := p.log.Claim(ctx, p.config.StreamKey, p.config.Group, consumer, p.config.ReclaimMinIdle, retryable...)
		if err != nil {
			p.logger.Error("再試行エントリのクレームに失敗しました",
				slog.String("error", err.Error()),
			)
			return
		}
		p.metrics.RecordReclaim(len(entries))
		for _, entry := range entries {
			p.process(consumer, entry)
		}
	}
}
