package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCommand("place_bid", "")
	m.ObserveCommand("place_bid", "")
	m.ObserveCommand("place_bid", "BID_TOO_LOW")
	m.ObserveBlock(7, 3)
	m.ObserveSinkError("kafka")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commands.WithLabelValues("place_bid", ResultOK, "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("place_bid", ResultFailed, "BID_TOO_LOW")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.BlockHeight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkErrors.WithLabelValues("kafka")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "estatechain_commands_total")
	assert.Contains(t, names, "estatechain_block_txs")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCommand("transfer", "")
		m.ObserveBlock(1, 1)
		m.ObserveSinkError("projection")
	})
}
