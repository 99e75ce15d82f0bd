package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics tracks marketplace settlement activity.
type MarketMetrics struct {
	listingsActive prometheus.Gauge
	salesSettled   *prometheus.CounterVec
	bidsAccepted   prometheus.Counter
	bidsRejected   prometheus.Counter
	offersPending  prometheus.Gauge
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the lazily-initialised marketplace metrics registry.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			listingsActive: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "market_listings_active",
				Help: "Number of currently active marketplace listings.",
			}),
			salesSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_sales_settled_total",
				Help: "Count of settled sales by path (direct, offer, auction).",
			}, []string{"path"}),
			bidsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_bids_accepted_total",
				Help: "Count of bids that became the winning bid.",
			}),
			bidsRejected: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_bids_rejected_total",
				Help: "Count of bids rejected by the winning-bid rule.",
			}),
			offersPending: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "market_offers_pending",
				Help: "Number of escrowed offers awaiting acceptance or cancellation.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.listingsActive,
			marketRegistry.salesSettled,
			marketRegistry.bidsAccepted,
			marketRegistry.bidsRejected,
			marketRegistry.offersPending,
		)
	})
	return marketRegistry
}

// ListingOpened counts a listing entering the registry.
func (m *MarketMetrics) ListingOpened() {
	if m == nil {
		return
	}
	m.listingsActive.Inc()
}

// ListingClosed counts a listing leaving the registry.
func (m *MarketMetrics) ListingClosed() {
	if m == nil {
		return
	}
	m.listingsActive.Dec()
}

// SaleSettled counts one settled sale on the given path.
func (m *MarketMetrics) SaleSettled(path string) {
	if m == nil {
		return
	}
	m.salesSettled.WithLabelValues(path).Inc()
}

// BidAccepted counts one accepted winning bid.
func (m *MarketMetrics) BidAccepted() {
	if m == nil {
		return
	}
	m.bidsAccepted.Inc()
}

// BidRejected counts one bid refused by the replacement rule.
func (m *MarketMetrics) BidRejected() {
	if m == nil {
		return
	}
	m.bidsRejected.Inc()
}

// OfferOpened counts an offer entering escrow.
func (m *MarketMetrics) OfferOpened() {
	if m == nil {
		return
	}
	m.offersPending.Inc()
}

// OfferClosed counts an offer leaving escrow.
func (m *MarketMetrics) OfferClosed() {
	if m == nil {
		return
	}
	m.offersPending.Dec()
}
