// Copyright 2025 Certen Protocol
//
// Consensus statistics
// Prometheus collectors plus the rolling latency figures the health monitor
// reads. Registration is per-instance so tests can run several consensus
// instances in one process.

package consensus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the consensus statistics block.
type Metrics struct {
	mu sync.Mutex

	BlocksReceived     prometheus.Counter
	BlocksExecuted     prometheus.Counter
	BlocksDead         prometheus.Counter
	BlocksPending      prometheus.Gauge
	FinalizationCount  prometheus.Counter
	FinalizedHeight    prometheus.Gauge
	TransactionsAdded  prometheus.Counter
	TransactionsPurged prometheus.Counter
	ExecuteSeconds     prometheus.Histogram

	// Exponential moving averages over receive-to-arrive latency.
	emaArriveLatency float64
	lastBlockArrive  time.Time
}

// emaWeight is the smoothing factor for the rolling latency average.
const emaWeight = 0.1

// NewMetrics builds and registers the collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BlocksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_blocks_received_total",
			Help: "Blocks received from the network.",
		}),
		BlocksExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_blocks_executed_total",
			Help: "Blocks executed and made live.",
		}),
		BlocksDead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_blocks_dead_total",
			Help: "Blocks marked dead.",
		}),
		BlocksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "consensus_blocks_pending",
			Help: "Blocks waiting for a parent.",
		}),
		FinalizationCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_finalizations_total",
			Help: "Finalization records processed.",
		}),
		FinalizedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "consensus_finalized_height",
			Help: "Height of the last finalized block.",
		}),
		TransactionsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_transactions_added_total",
			Help: "Transactions admitted to the table.",
		}),
		TransactionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_transactions_purged_total",
			Help: "Transactions dropped by the purge task.",
		}),
		ExecuteSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "consensus_block_execute_seconds",
			Help:    "Wall time of block execution.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.BlocksReceived, m.BlocksExecuted, m.BlocksDead, m.BlocksPending,
			m.FinalizationCount, m.FinalizedHeight, m.TransactionsAdded, m.TransactionsPurged,
			m.ExecuteSeconds)
	}
	return m
}

// ObserveArrival folds one receive-to-arrive latency into the average.
func (m *Metrics) ObserveArrival(receive, arrive time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latency := arrive.Sub(receive).Seconds()
	if m.emaArriveLatency == 0 {
		m.emaArriveLatency = latency
	} else {
		m.emaArriveLatency = (1-emaWeight)*m.emaArriveLatency + emaWeight*latency
	}
	m.lastBlockArrive = arrive
}

// ArriveLatency returns the rolling average latency.
func (m *Metrics) ArriveLatency() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emaArriveLatency
}

// LastBlockArrive returns the time of the newest arrival.
func (m *Metrics) LastBlockArrive() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBlockArrive
}
