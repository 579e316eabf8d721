// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the engine reports to. Services, the bus and the HTTP
// layer depend on this rather than on Prometheus.
type Recorder interface {
	RecordCacheHit(key string)
	RecordCacheMiss(key string)
	RecordSideEffectFailure(stage string)
	RecordEventPublished(topic string)
	RecordEventDropped(topic string)
	RecordDecryptFailure()
	RecordHTTPRequest(method string, status int, duration time.Duration)
}

type Collector struct {
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	effectFailures *prometheus.CounterVec
	published      *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	decryptFail    prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpLatency    prometheus.Histogram
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lobby_cache_hits_total",
			Help: "Cache reads served from Redis, by key kind.",
		}, []string{"kind"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lobby_cache_misses_total",
			Help: "Cache reads that fell through to the store, by key kind.",
		}, []string{"kind"}),
		effectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lobby_side_effect_failures_total",
			Help: "Post-commit steps that failed and were swallowed, by stage.",
		}, []string{"stage"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lobby_events_published_total",
			Help: "Events published on the bus, by topic.",
		}, []string{"topic"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lobby_events_dropped_total",
			Help: "Events dropped for a subscriber with a full buffer, by topic.",
		}, []string{"topic"}),
		decryptFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lobby_decrypt_failures_total",
			Help: "Messages that could not be decrypted with the current key.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lobby_http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lobby_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.cacheHits,
		c.cacheMisses,
		c.effectFailures,
		c.published,
		c.dropped,
		c.decryptFail,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

func (c *Collector) RecordCacheHit(key string) {
	c.cacheHits.WithLabelValues(KeyKind(key)).Inc()
}

func (c *Collector) RecordCacheMiss(key string) {
	c.cacheMisses.WithLabelValues(KeyKind(key)).Inc()
}

func (c *Collector) RecordSideEffectFailure(stage string) {
	c.effectFailures.WithLabelValues(stage).Inc()
}

func (c *Collector) RecordEventPublished(topic string) {
	c.published.WithLabelValues(topic).Inc()
}

func (c *Collector) RecordEventDropped(topic string) {
	c.dropped.WithLabelValues(topic).Inc()
}

func (c *Collector) RecordDecryptFailure() {
	c.decryptFail.Inc()
}

func (c *Collector) RecordHTTPRequest(method string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// KeyKind collapses a cache key to its kind so ids don't become labels.
func KeyKind(key string) string {
	switch {
	case key == "channels:list":
		return "channels"
	case strings.HasPrefix(key, "channel:") && strings.HasSuffix(key, ":messages"):
		return "messages"
	case strings.HasPrefix(key, "channel:"):
		return "channel"
	case strings.HasPrefix(key, "session:"):
		return "session"
	default:
		return "other"
	}
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordCacheHit(string) {}
func (Nop) RecordCacheMiss(string) {}
func (Nop) RecordSideEffectFailure(string) {}
func (Nop) RecordEventPublished(string) {}
func (Nop) RecordEventDropped(string) {}
func (Nop) RecordDecryptFailure() {}
func (Nop) RecordHTTPRequest(string, int, time.Duration) {}
