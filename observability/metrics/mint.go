package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MintMetrics tracks allocation engine activity.
type MintMetrics struct {
	queueDepth     prometheus.Gauge
	poolSize       prometheus.Gauge
	requestsQueued prometheus.Counter
	drawsResolved  prometheus.Counter
}

var (
	mintOnce     sync.Once
	mintRegistry *MintMetrics
)

// Mint returns the lazily-initialised mint metrics registry.
func Mint() *MintMetrics {
	mintOnce.Do(func() {
		mintRegistry = &MintMetrics{
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "mint_queue_depth",
				Help: "Pending mint requests awaiting a randomized draw.",
			}),
			poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "mint_pool_size",
				Help: "Unassigned token identities remaining in the pool.",
			}),
			requestsQueued: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "mint_requests_queued_total",
				Help: "Count of pending mint requests ever queued.",
			}),
			drawsResolved: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "mint_draws_resolved_total",
				Help: "Count of pending requests resolved into minted tokens.",
			}),
		}
		prometheus.MustRegister(
			mintRegistry.queueDepth,
			mintRegistry.poolSize,
			mintRegistry.requestsQueued,
			mintRegistry.drawsResolved,
		)
	})
	return mintRegistry
}

// Observe records the current queue depth and pool size.
func (m *MintMetrics) Observe(queueDepth, poolSize int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(queueDepth))
	m.poolSize.Set(float64(poolSize))
}

// RequestsQueued counts newly queued pending requests.
func (m *MintMetrics) RequestsQueued(n int) {
	if m == nil {
		return
	}
	m.requestsQueued.Add(float64(n))
}

// DrawsResolved counts requests resolved by a batch draw.
func (m *MintMetrics) DrawsResolved(n int) {
	if m == nil {
		return
	}
	m.drawsResolved.Add(float64(n))
}
