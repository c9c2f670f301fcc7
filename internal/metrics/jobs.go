// Package metrics は Prometheus メトリクスを定義します。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmitted は受け付けたジョブ数です。
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdfsqueeze_jobs_submitted_total",
		Help: "Total compression jobs accepted",
	}, []string{"profile"})

	// JobsFinished は終端状態に到達したジョブ数です（kind は失敗時のみ）。
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdfsqueeze_jobs_finished_total",
		Help: "Total compression jobs that reached a terminal stage",
	}, []string{"stage", "kind"})

	// JobsActive は実行中のジョブ数です。
	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pdfsqueeze_jobs_active",
		Help: "Compression jobs currently executing",
	})

	// ConvertDuration は Ghostscript 呼び出しの所要時間です。
	ConvertDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pdfsqueeze_convert_duration_seconds",
		Help:    "Duration of converter invocations",
		Buckets: prometheus.ExponentialBuckets(0.1, 2.0, 10), // 100ms 〜 約51s
	}, []string{"profile"})

	// BytesSaved は圧縮で削減できたバイト数の累計です（増加した場合は加算しない）。
	BytesSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdfsqueeze_bytes_saved_total",
		Help: "Total bytes saved by completed compression jobs",
	})
)
