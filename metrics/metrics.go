// Package metrics exposes prometheus counters for executed commands and
// committed blocks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "estatechain"

const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

type Metrics struct {
	Commands    *prometheus.CounterVec
	BlockTxs    prometheus.Histogram
	BlockHeight prometheus.Gauge
	SinkErrors  *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg keeps them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Executed commands by message type and result.",
		}, []string{"type", "result", "kind"}),
		BlockTxs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_txs",
			Help:      "Transactions per finalized block.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		BlockHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_height",
			Help:      "Height of the last committed block.",
		}),
		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failures delivering committed blocks to event sinks.",
		}, []string{"sink"}),
	}
}

// ObserveCommand counts one executed command. kind is empty on success.
func (m *Metrics) ObserveCommand(msgType, kind string) {
	if m == nil {
		return
	}
	result := ResultOK
	if kind != "" {
		result = ResultFailed
	}
	m.Commands.WithLabelValues(msgType, result, kind).Inc()
}

// ObserveBlock records a finalized block.
func (m *Metrics) ObserveBlock(height int64, txs int) {
	if m == nil {
		return
	}
	m.BlockTxs.Observe(float64(txs))
	m.BlockHeight.Set(float64(height))
}

// ObserveSinkError counts a failed delivery to the named sink.
func (m *Metrics) ObserveSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}
