package domain

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	sourceTipGauge         prometheus.Gauge
	scannedBlockGauge      prometheus.Gauge
	pageRequestsCount      prometheus.Counter
	collectedTxCount       prometheus.Counter
	decodeFailuresCount    prometheus.Counter
	classifiedTxCount      *prometheus.CounterVec
	failedScansCount       prometheus.Counter
	lastScanTimestampGauge prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	m := Metrics{
		// metrics for comparison to the chain source
		sourceTipGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_source_tip_height", namespace),
			Help: "The latest known chain tip height",
		}),
		// scan progress
		scannedBlockGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_scanned_block_height", namespace),
			Help: "The last fully scanned block height",
		}),
		pageRequestsCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_page_requests_total", namespace),
			Help: "Number of block page requests sent to the chain source",
		}),
		collectedTxCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_collected_transactions_total", namespace),
			Help: "Number of collected transactions",
		}),
		decodeFailuresCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_decode_failures_total", namespace),
			Help: "Number of transactions that could not be decoded",
		}),
		failedScansCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_failed_scans_total", namespace),
			Help: "Number of scans that ended with an error",
		}),
		lastScanTimestampGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_last_scan_timestamp_seconds", namespace),
			Help: "Unix time of the last successful scan",
		}),
		// results
		classifiedTxCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_classified_transactions_total", namespace),
			Help: "Number of classified transactions per action",
		}, []string{"action"}),
	}
	return &m
}

func (metrics *Metrics) SetSourceTip(height uint64) {
	metrics.sourceTipGauge.Set(float64(height))
}

func (metrics *Metrics) SetScannedBlock(height uint64) {
	metrics.scannedBlockGauge.Set(float64(height))
}

func (metrics *Metrics) IncPageRequests() {
	metrics.pageRequestsCount.Inc()
}

func (metrics *Metrics) AddCollectedTransactions(count int) {
	metrics.collectedTxCount.Add(float64(count))
}

func (metrics *Metrics) IncDecodeFailures() {
	metrics.decodeFailuresCount.Inc()
}

func (metrics *Metrics) IncFailedScans() {
	metrics.failedScansCount.Inc()
}

func (metrics *Metrics) SetLastScan(unixSeconds int64) {
	metrics.lastScanTimestampGauge.Set(float64(unixSeconds))
}

func (metrics *Metrics) AddClassified(action string, count int) {
	metrics.classifiedTxCount.WithLabelValues(action).Add(float64(count))
}
