package node

import (
	"math"
	"strconv"
	"time"

	"github.com/ledgerline/ledgerd/blockchain"
	"github.com/ledgerline/ledgerd/db"
	"github.com/ledgerline/ledgerd/viewcache"
	"github.com/ledgerline/ledgerd/vm"
	"github.com/prometheus/client_golang/prometheus"
)

func makeDBMetrics() db.EventListener {
	latencyBuckets := []float64{
		25,
		50,
		75,
		100,
		250,
		500,
		1000, // 1ms
		2000,
		3000,
		4000,
		5000,
		10000,
		50000,
		500000,
		math.Inf(0),
	}
	readLatencyHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "db",
		Name:      "read_latency",
		Buckets:   latencyBuckets,
	})
	writeLatencyHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "db",
		Name:      "write_latency",
		Buckets:   latencyBuckets,
	})

	prometheus.MustRegister(readLatencyHistogram, writeLatencyHistogram)
	return &db.SelectiveListener{
		OnIOCb: func(write bool, duration time.Duration) {
			if write {
				writeLatencyHistogram.Observe(float64(duration.Microseconds()))
			} else {
				readLatencyHistogram.Observe(float64(duration.Microseconds()))
			}
		},
	}
}

func makeViewCacheMetrics() viewcache.EventListener {
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "viewcache",
		Name:      "lookups",
	}, []string{"result"})
	materializeLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "viewcache",
		Name:      "materialize_latency",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"status"})
	teardowns := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "viewcache",
		Name:      "teardowns",
	})

	prometheus.MustRegister(lookups, materializeLatency, teardowns)
	return &viewcache.SelectiveListener{
		OnHitCb: func() {
			lookups.WithLabelValues("hit").Inc()
		},
		OnMissCb: func() {
			lookups.WithLabelValues("miss").Inc()
		},
		OnMaterializeCb: func(took time.Duration, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			materializeLatency.WithLabelValues(status).Observe(took.Seconds())
		},
		OnTeardownCb: func() {
			teardowns.Inc()
		},
	}
}

func makeVMMetrics() vm.EventListener {
	receipts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vm",
		Name:      "receipts",
	}, []string{"method", "code"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vm",
		Name:      "rejected",
	}, []string{"method"})
	executeLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vm",
		Name:      "execute_latency",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	prometheus.MustRegister(receipts, rejected, executeLatency)
	return &vm.SelectiveListener{
		OnExecutedCb: func(method string, code int32, took time.Duration) {
			receipts.WithLabelValues(method, strconv.Itoa(int(code))).Inc()
			executeLatency.Observe(took.Seconds())
		},
		OnRejectedCb: func(method string, _ error) {
			rejected.WithLabelValues(method).Inc()
		},
	}
}

func makeChainMetrics() blockchain.EventListener {
	height := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chain",
		Name:      "applied_height",
	})
	applyLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chain",
		Name:      "apply_latency",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	transactions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chain",
		Name:      "transactions",
	})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chain",
		Name:      "rejected_blocks",
	})

	prometheus.MustRegister(height, applyLatency, transactions, rejected)
	return &blockchain.SelectiveListener{
		OnBlockAppliedCb: func(h uint64, txCount int, took time.Duration) {
			height.Set(float64(h))
			applyLatency.Observe(took.Seconds())
			transactions.Add(float64(txCount))
		},
		OnBlockRejectedCb: func(uint64, error) {
			rejected.Inc()
		},
	}
}
