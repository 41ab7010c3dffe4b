// Package stats implements the statistics collector described in spec
// §4.7: every worker publishes into lock-free per-worker counter cells,
// and a collector periodically snapshots and aggregates them for
// exposition — here, as Prometheus metrics via
// github.com/prometheus/client_golang, carried from the teacher's
// pkg/prometheus/pkg/metrics server.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerCounters is a single worker's lock-free counter cell set. A UDP
// socket worker or request worker writes its cell from its one goroutine; a
// WebSocket socket worker's per-connection goroutines all write the same
// cell. Every write is an atomic add or store, so any number of writers and
// readers (the collector) may use a cell concurrently.
type WorkerCounters struct {
	RequestsProcessed uint64
	BytesIn           uint64
	BytesOut          uint64
	Dropped           uint64
	PeerCount         uint64
}

// IncRequestsProcessed increments the requests-processed counter. It uses
// atomic.AddUint64, so it is safe from any goroutine and the collector's
// reads need no lock.
func (c *WorkerCounters) IncRequestsProcessed() { atomic.AddUint64(&c.RequestsProcessed, 1) }

// AddBytesIn adds n to the bytes-in counter.
func (c *WorkerCounters) AddBytesIn(n uint64) { atomic.AddUint64(&c.BytesIn, n) }

// AddBytesOut adds n to the bytes-out counter.
func (c *WorkerCounters) AddBytesOut(n uint64) { atomic.AddUint64(&c.BytesOut, n) }

// IncDropped increments the drop counter (dispatch fabric backpressure).
func (c *WorkerCounters) IncDropped() { atomic.AddUint64(&c.Dropped, 1) }

// SetPeerCount publishes the worker's current view of peer count (request
// workers only — a snapshot, not an increment).
func (c *WorkerCounters) SetPeerCount(n uint64) { atomic.StoreUint64(&c.PeerCount, n) }

// Snapshot is a point-in-time read of one WorkerCounters.
type Snapshot struct {
	RequestsProcessed uint64
	BytesIn           uint64
	BytesOut          uint64
	Dropped           uint64
	PeerCount         uint64
}

func (c *WorkerCounters) snapshot() Snapshot {
	return Snapshot{
		RequestsProcessed: atomic.LoadUint64(&c.RequestsProcessed),
		BytesIn:           atomic.LoadUint64(&c.BytesIn),
		BytesOut:          atomic.LoadUint64(&c.BytesOut),
		Dropped:           atomic.LoadUint64(&c.Dropped),
		PeerCount:         atomic.LoadUint64(&c.PeerCount),
	}
}

// Collector periodically snapshots every registered WorkerCounters and
// exposes the aggregate as Prometheus gauges.
type Collector struct {
	socketWorkers  []*WorkerCounters
	requestWorkers []*WorkerCounters

	// requestsTotal/bytesTotal/droppedTotal are Gauges, not Counters: each
	// WorkerCounters cell is already a cumulative monotonic total the
	// worker never resets, so Collect Sets the latest snapshot rather than
	// Adding it (Adding the same cumulative value every tick would double
	// count on every Collect call).
	requestsTotal *prometheus.GaugeVec
	bytesTotal    *prometheus.GaugeVec
	droppedTotal  prometheus.Gauge
	peersGauge    prometheus.Gauge
}

// New creates a Collector and registers its metrics with reg.
func New(reg prometheus.Registerer, socketWorkers, requestWorkers []*WorkerCounters) *Collector {
	c := &Collector{
		socketWorkers:  socketWorkers,
		requestWorkers: requestWorkers,
		requestsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tracktile",
			Name:      "requests_processed_total",
			Help:      "Cumulative requests processed, by worker kind.",
		}, []string{"worker_kind"}),
		bytesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tracktile",
			Name:      "bytes_total",
			Help:      "Cumulative bytes transferred, by worker kind and direction.",
		}, []string{"worker_kind", "direction"}),
		droppedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tracktile",
			Name:      "dropped_total",
			Help:      "Cumulative requests dropped due to a full dispatch queue.",
		}),
		peersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tracktile",
			Name:      "peers",
			Help:      "Current peer count across all shards.",
		}),
	}

	reg.MustRegister(c.requestsTotal, c.bytesTotal, c.droppedTotal, c.peersGauge)
	return c
}

// Collect takes one snapshot of every registered WorkerCounters and
// updates the exported Prometheus series. Call it on a timer (driven by
// config.StatisticsConfig.Interval).
func (c *Collector) Collect() {
	var totalDropped, totalPeers uint64
	var socketRequests, requestRequests uint64
	var socketIn, socketOut, requestIn, requestOut uint64

	for _, w := range c.socketWorkers {
		s := w.snapshot()
		socketRequests += s.RequestsProcessed
		socketIn += s.BytesIn
		socketOut += s.BytesOut
		totalDropped += s.Dropped
	}
	for _, w := range c.requestWorkers {
		s := w.snapshot()
		requestRequests += s.RequestsProcessed
		requestIn += s.BytesIn
		requestOut += s.BytesOut
		totalDropped += s.Dropped
		totalPeers += s.PeerCount
	}

	c.requestsTotal.WithLabelValues("socket").Set(float64(socketRequests))
	c.requestsTotal.WithLabelValues("request").Set(float64(requestRequests))
	c.bytesTotal.WithLabelValues("socket", "in").Set(float64(socketIn))
	c.bytesTotal.WithLabelValues("socket", "out").Set(float64(socketOut))
	c.bytesTotal.WithLabelValues("request", "in").Set(float64(requestIn))
	c.bytesTotal.WithLabelValues("request", "out").Set(float64(requestOut))
	c.droppedTotal.Set(float64(totalDropped))
	c.peersGauge.Set(float64(totalPeers))
}

// Run calls Collect every interval until stop is closed.
func (c *Collector) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}
