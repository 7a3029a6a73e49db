// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// フェッチクライアント、分析エンジン、パイプラインから利用する。
type MetricsCollector interface {
	RecordFetchAttempt(statusCode int)
	RecordFetchFailure(reason string)
	RecordFetchLatency(duration time.Duration)
	RecordItemStored(platform string)
	RecordItemDeduplicated(platform string)
	RecordItemSkipped(platform, stage string)
	RecordAnalysis(sentiment string)
	RecordAnalysisFallback(stage string)
	RecordLLMLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchAttempts    *prometheus.CounterVec
	fetchFail        *prometheus.CounterVec
	fetchLatency     prometheus.Histogram
	itemsStored      *prometheus.CounterVec
	itemsDeduped     *prometheus.CounterVec
	itemsSkipped     *prometheus.CounterVec
	analyses         *prometheus.CounterVec
	analysisFallback *prometheus.CounterVec
	llmLatency       prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadscope_fetch_attempts_total",
			Help: "HTTP取得試行数（ステータスコード別、通信エラーは0）",
		}, []string{"status_code"}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadscope_fetch_fail_total",
			Help: "リトライを使い切った取得失敗の合計数",
		}, []string{"reason"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "threadscope_fetch_latency_seconds",
			Help:    "1回のHTTP取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		itemsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadscope_items_stored_total",
			Help: "新規保存されたコンテンツ数",
		}, []string{"platform"}),
		itemsDeduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadscope_items_deduplicated_total",
			Help: "既存の自然キーと一致したコンテンツ数",
		}, []string{"platform"}),
		itemsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadscope_items_skipped_total",
			Help: "エラーによりスキップされたコンテンツ数",
		}, []string{"platform", "stage"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadscope_analyses_total",
			Help: "保存された分析結果の数（感情ラベル別）",
		}, []string{"sentiment"}),
		analysisFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadscope_analysis_fallback_total",
			Help: "ローカルフォールバックが使われたサブ分析の数",
		}, []string{"stage"}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "threadscope_llm_latency_seconds",
			Help:    "LLM呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
	}

	reg.MustRegister(
		c.fetchAttempts,
		c.fetchFail,
		c.fetchLatency,
		c.itemsStored,
		c.itemsDeduped,
		c.itemsSkipped,
		c.analyses,
		c.analysisFallback,
		c.llmLatency,
	)

	return c
}

// RecordFetchAttempt はHTTP取得の1試行を記録する。
func (c *Collector) RecordFetchAttempt(statusCode int) {
	c.fetchAttempts.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchFailure は確定的な取得失敗を記録する。
func (c *Collector) RecordFetchFailure(reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordFetchLatency は取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordItemStored は新規保存を記録する。
func (c *Collector) RecordItemStored(platform string) {
	c.itemsStored.WithLabelValues(platform).Inc()
}

// RecordItemDeduplicated は重複検出を記録する。
func (c *Collector) RecordItemDeduplicated(platform string) {
	c.itemsDeduped.WithLabelValues(platform).Inc()
}

// RecordItemSkipped はスキップを記録する。stageは fetch, parse, validate, store のいずれか。
func (c *Collector) RecordItemSkipped(platform, stage string) {
	c.itemsSkipped.WithLabelValues(platform, stage).Inc()
}

// RecordAnalysis は分析結果の保存を記録する。
func (c *Collector) RecordAnalysis(sentiment string) {
	c.analyses.WithLabelValues(sentiment).Inc()
}

// RecordAnalysisFallback はフォールバックの使用を記録する。
func (c *Collector) RecordAnalysisFallback(stage string) {
	c.analysisFallback.WithLabelValues(stage).Inc()
}

// RecordLLMLatency はLLM呼び出しのレイテンシを記録する。
func (c *Collector) RecordLLMLatency(duration time.Duration) {
	c.llmLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordFetchAttempt(int) {}
func (Nop) RecordFetchFailure(string) {}
func (Nop) RecordFetchLatency(time.Duration) {}
func (Nop) RecordItemStored(string) {}
func (Nop) RecordItemDeduplicated(string) {}
func (Nop) RecordItemSkipped(string, string) {}
func (Nop) RecordAnalysis(string) {}
func (Nop) RecordAnalysisFallback(string) {}
func (Nop) RecordLLMLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
