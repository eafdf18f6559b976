// Package metrics exposes Prometheus collectors for the scraper, the live
// fan-out and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Visit outcomes recorded by ObserveVisit.
const (
	VisitSuccess      = "success"
	VisitFetchError   = "fetch_error"
	VisitStorageError = "storage_error"
)

var (
	scraperCyclesTotal          *prometheus.CounterVec
	scraperCycleDurationSeconds prometheus.Histogram
	scraperVisitsTotal          *prometheus.CounterVec
	scraperItemsTotal           *prometheus.CounterVec
	scraperPacerDelaySeconds    prometheus.Histogram
	fanoutDeliveriesTotal       *prometheus.CounterVec
	fanoutSubscribers           prometheus.Gauge
	relayEventsDroppedTotal     prometheus.Counter
	relaySinkBatchesTotal       *prometheus.CounterVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call repeatedly and every observer calls it first.
func Init() {
	once.Do(func() {
		scraperCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicstreams_scraper_cycles_total",
				Help: "Completed scrape cycles, labeled by result.",
			},
			[]string{"result"},
		)

		scraperCycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "topicstreams_scraper_cycle_duration_seconds",
				Help:    "Wall time of one pass over the topic snapshot.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
			},
		)

		scraperVisitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicstreams_scraper_visits_total",
				Help: "Topic visits, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scraperItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicstreams_scraper_items_total",
				Help: "Candidate items seen by the scraper, labeled by result (inserted, duplicate, invalid).",
			},
			[]string{"result"},
		)

		scraperPacerDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "topicstreams_scraper_pacer_delay_seconds",
				Help:    "Time spent waiting on the visit pacer.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
		)

		fanoutDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicstreams_fanout_deliveries_total",
				Help: "Live deliveries attempted, labeled by result (delivered, dropped).",
			},
			[]string{"result"},
		)

		fanoutSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "topicstreams_fanout_subscribers",
				Help: "Currently registered live subscriptions.",
			},
		)

		relayEventsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "topicstreams_relay_events_dropped_total",
				Help: "Relay events discarded because the relay buffer was full.",
			},
		)

		relaySinkBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicstreams_relay_sink_batches_total",
				Help: "Relay batches handed to sinks, labeled by sink and result.",
			},
			[]string{"sink", "result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records one finished cycle. A cycle whose topic snapshot
// failed is labeled "error".
func ObserveCycle(failed bool, duration time.Duration) {
	Init()
	result := "ok"
	if failed {
		result = "error"
	}
	scraperCyclesTotal.WithLabelValues(result).Inc()
	scraperCycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveVisit counts one visit outcome.
func ObserveVisit(outcome string) {
	Init()
	scraperVisitsTotal.WithLabelValues(outcome).Inc()
}

// ObserveItems adds the per-visit candidate counts.
func ObserveItems(inserted, duplicate, invalid int) {
	Init()
	if inserted > 0 {
		scraperItemsTotal.WithLabelValues("inserted").Add(float64(inserted))
	}
	if duplicate > 0 {
		scraperItemsTotal.WithLabelValues("duplicate").Add(float64(duplicate))
	}
	if invalid > 0 {
		scraperItemsTotal.WithLabelValues("invalid").Add(float64(invalid))
	}
}

// ObservePacerDelay records the time a visit waited for its pacing slot.
func ObservePacerDelay(duration time.Duration) {
	Init()
	scraperPacerDelaySeconds.Observe(duration.Seconds())
}

// ObserveDeliveries counts live deliveries for one publish call.
func ObserveDeliveries(delivered, dropped int) {
	Init()
	if delivered > 0 {
		fanoutDeliveriesTotal.WithLabelValues("delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		fanoutDeliveriesTotal.WithLabelValues("dropped").Add(float64(dropped))
	}
}

// AddSubscribers moves the live subscriber gauge by delta.
func AddSubscribers(delta int) {
	Init()
	fanoutSubscribers.Add(float64(delta))
}

// IncRelayDropped counts one relay event lost to backpressure.
func IncRelayDropped() {
	Init()
	relayEventsDroppedTotal.Inc()
}

// ObserveRelayBatch records a sink's handling of one batch.
func ObserveRelayBatch(sink string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	relaySinkBatchesTotal.WithLabelValues(sink, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
