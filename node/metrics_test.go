package node

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertGaugeValue(t *testing.T, reg *prometheus.Registry, name string, expected float64) {
	t.Helper()
	metrics, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, metric := range metrics {
		if metric.GetName() == name {
			found = true
			require.Len(t, metric.GetMetric(), 1, "expected 1 metric value")
			assert.Equal(t, expected, metric.GetMetric()[0].GetGauge().GetValue())
		}
	}
	require.True(t, found, "metric %q not found", name)
}

func useRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	originalRegisterer := prometheus.DefaultRegisterer
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = originalRegisterer
	})
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	return reg
}

func TestMakeChainMetrics(t *testing.T) {
	reg := useRegistry(t)

	listener := makeChainMetrics()
	listener.OnBlockApplied(7, 3, time.Millisecond)
	listener.OnBlockApplied(8, 2, time.Millisecond)
	listener.OnBlockRejected(9, errors.New("bad block"))

	assertGaugeValue(t, reg, "chain_applied_height", 8)
	count, err := testutil.GatherAndCount(reg, "chain_transactions", "chain_rejected_blocks", "chain_apply_latency")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMakeVMMetrics(t *testing.T) {
	reg := useRegistry(t)

	listener := makeVMMetrics()
	listener.OnExecuted("transferTo", 0, time.Millisecond)
	listener.OnExecuted("transferTo", 0, time.Millisecond)
	listener.OnExecuted("transferTo", 5, time.Millisecond)
	listener.OnRejected("bid", errors.New("bad signature"))

	count, err := testutil.GatherAndCount(reg, "vm_receipts")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	count, err = testutil.GatherAndCount(reg, "vm_rejected")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMakeViewCacheMetrics(t *testing.T) {
	reg := useRegistry(t)

	listener := makeViewCacheMetrics()
	listener.OnMiss()
	listener.OnHit()
	listener.OnHit()
	listener.OnMaterialize(time.Millisecond, nil)
	listener.OnMaterialize(time.Millisecond, errors.New("missing snapshot"))
	listener.OnTeardown()

	count, err := testutil.GatherAndCount(reg, "viewcache_lookups", "viewcache_materialize_latency", "viewcache_teardowns")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}
