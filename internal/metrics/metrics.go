// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// エンリッチ結果のラベル値。
const (
	ResultEnriched        = "enriched"
	ResultFailedRetryable = "failed_retryable"
	ResultFailedTerminal  = "failed_terminal"
	ResultNoiseSkipped    = "noise_skipped"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやストア層から利用する。
type MetricsCollector interface {
	RecordFetchSuccess(provider string, articles int)
	RecordFetchFailure(provider string, reason string)
	RecordFetchLatency(provider string, duration time.Duration)
	RecordAppend(entries int)
	RecordAppendFailure()
	RecordEnrichment(result string)
	RecordClassifyLatency(duration time.Duration)
	RecordUpsertLatency(duration time.Duration)
	RecordReclaim(entries int)
	RecordNotifyFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess    *prometheus.CounterVec
	fetchFail       *prometheus.CounterVec
	fetchArticles   *prometheus.CounterVec
	fetchLatency    *prometheus.HistogramVec
	appendEntries   prometheus.Counter
	appendFail      prometheus.Counter
	enrichment      *prometheus.CounterVec
	classifyLatency prometheus.Histogram
	upsertLatency   prometheus.Histogram
	reclaimEntries  prometheus.Counter
	notifyFail      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentiond_fetch_success_total",
			Help: "プロバイダ別の記事取得成功の合計数",
		}, []string{"provider"}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentiond_fetch_fail_total",
			Help: "プロバイダ・理由別の記事取得失敗の合計数",
		}, []string{"provider", "reason"}),
		fetchArticles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentiond_fetch_articles_total",
			Help: "プロバイダ別の取得記事の合計数",
		}, []string{"provider"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mentiond_fetch_latency_seconds",
			Help:    "プロバイダ別の記事取得レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		appendEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentiond_stream_append_total",
			Help: "ストリームログに追記したエントリの合計数",
		}),
		appendFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentiond_stream_append_fail_total",
			Help: "ストリームログ追記失敗の合計数",
		}),
		enrichment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentiond_enrichment_total",
			Help: "結果別のエンリッチ処理の合計数",
		}, []string{"result"}),
		classifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mentiond_classify_latency_seconds",
			Help:    "感情分類器呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		upsertLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mentiond_store_upsert_latency_seconds",
			Help:    "ストアUPSERTのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		reclaimEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentiond_reclaim_total",
			Help: "再クレームしたエントリの合計数",
		}),
		notifyFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentiond_notify_fail_total",
			Help: "変更イベント発行失敗の合計数",
		}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.fetchArticles,
		c.fetchLatency,
		c.appendEntries,
		c.appendFail,
		c.enrichment,
		c.classifyLatency,
		c.upsertLatency,
		c.reclaimEntries,
		c.notifyFail,
	)

	return c
}

// RecordFetchSuccess はプロバイダからの記事取得成功を記録する。
func (c *Collector) RecordFetchSuccess(provider string, articles int) {
	c.fetchSuccess.WithLabelValues(provider).Inc()
	c.fetchArticles.WithLabelValues(provider).Add(float64(articles))
}

// RecordFetchFailure はプロバイダからの記事取得失敗を記録する。
func (c *Collector) RecordFetchFailure(provider string, reason string) {
	c.fetchFail.WithLabelValues(provider, reason).Inc()
}

// RecordFetchLatency は記事取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(provider string, duration time.Duration) {
	c.fetchLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordAppend はストリームログへの追記エントリ数を記録する。
func (c *Collector) RecordAppend(entries int) {
	c.appendEntries.Add(float64(entries))
}

// RecordAppendFailure はストリームログ追記失敗を記録する。
func (c *Collector) RecordAppendFailure() {
	c.appendFail.Inc()
}

// RecordEnrichment はエンリッチ処理の結果を記録する。
func (c *Collector) RecordEnrichment(result string) {
	c.enrichment.WithLabelValues(result).Inc()
}

// RecordClassifyLatency は分類器呼び出しのレイテンシを記録する。
func (c *Collector) RecordClassifyLatency(duration time.Duration) {
	c.classifyLatency.Observe(duration.Seconds())
}

// RecordUpsertLatency はストアUPSERTのレイテンシを記録する。
func (c *Collector) RecordUpsertLatency(duration time.Duration) {
	c.upsertLatency.Observe(duration.Seconds())
}

// RecordReclaim は再クレームしたエントリ数を記録する。
func (c *Collector) RecordReclaim(entries int) {
	c.reclaimEntries.Add(float64(entries))
}

// RecordNotifyFailure は変更イベント発行失敗を記録する。
func (c *Collector) RecordNotifyFailure() {
	c.notifyFail.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストおよび未設定時に使用する。
type Nop struct{}

func (Nop) RecordFetchSuccess(provider string, articles int)             {}
func (Nop) RecordFetchFailure(provider string, reason string)            {}
func (Nop) RecordFetchLatency(provider string, duration time.Duration)   {}
func (Nop) RecordAppend(entries int)                                     {}
func (Nop) RecordAppendFailure()                                         {}
func (Nop) RecordEnrichment(result string)                               {}
func (Nop) RecordClassifyLatency(duration time.Duration)                 {}
func (Nop) RecordUpsertLatency(duration time.Duration)                   {}
func (Nop) RecordReclaim(entries int)                                    {}
func (Nop) RecordNotifyFailure()                                         {}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
var _ MetricsCollector = Nop{}
