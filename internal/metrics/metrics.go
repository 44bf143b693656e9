// Package metrics exposes Prometheus collectors for the queue engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	enqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamtts_messages_enqueued_total",
		Help: "Total number of messages enqueued",
	}, []string{"lane"})

	evicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamtts_messages_evicted_total",
		Help: "Messages soft-deleted by overflow eviction",
	}, []string{"lane"})

	evictedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamtts_evicted_audio_bytes_total",
		Help: "Audio bytes released by overflow eviction",
	}, []string{"lane"})

	cleared = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamtts_messages_cleared_total",
		Help: "Messages soft-deleted by lane clears",
	}, []string{"lane"})

	laneSwitches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamtts_lane_switches_total",
		Help: "Total number of active lane switches",
	})

	activeLane = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamtts_active_lane",
		Help: "1 for the lane currently active, 0 otherwise",
	}, []string{"lane"})

	readyBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamtts_ready_audio_bytes",
		Help: "Audio bytes held by READY messages",
	}, []string{"lane"})

	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamtts_synthesis_total",
		Help: "Total number of synthesis attempts",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamtts_synthesis_latency_seconds",
		Help:    "Synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamtts_synthesis_cache_lookups_total",
		Help: "Synthesis cache lookups",
	}, []string{"result"})

	// Worker metrics
	reclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamtts_artifacts_reclaimed_total",
		Help: "Audio artifacts reclaimed from deleted messages",
	}, []string{"result"}) // result: removed, missing, failed

	workerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamtts_worker_errors_total",
		Help: "Unexpected worker loop errors followed by backoff",
	})

	// Playback metrics
	playbackTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamtts_playback_transitions_total",
		Help: "Playback status transitions",
	}, []string{"status", "source"}) // source: api, autoplay

	// HTTP metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamtts_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"method", "route", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamtts_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamtts_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEnqueue counts one enqueued message.
func RecordEnqueue(lane string) {
	enqueued.WithLabelValues(lane).Inc()
}

// RecordEviction counts messages and bytes released by overflow eviction.
func RecordEviction(lane string, count int, bytes int64) {
	evicted.WithLabelValues(lane).Add(float64(count))
	evictedBytes.WithLabelValues(lane).Add(float64(bytes))
}

// RecordClear counts messages removed by a lane clear.
func RecordClear(lane string, count int) {
	cleared.WithLabelValues(lane).Add(float64(count))
}

// SetActiveLane records a lane switch and flips the active lane gauge.
func SetActiveLane(lane string, lanes []string) {
	laneSwitches.Inc()
	for _, l := range lanes {
		v := 0.0
		if l == lane {
			v = 1
		}
		activeLane.WithLabelValues(l).Set(v)
	}
}

// SetReadyBytes records the current READY byte total for a lane.
func SetReadyBytes(lane string, bytes int64) {
	readyBytes.WithLabelValues(lane).Set(float64(bytes))
}

// RecordSynthesis records the outcome and latency of one synthesis call.
func RecordSynthesis(success bool, d time.Duration) {
	synthesisLatency.Observe(d.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	synthesisRequests.WithLabelValues(status).Inc()
}

// RecordCacheLookup records a synthesis cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordReclaim records the outcome of one artifact reclamation.
func RecordReclaim(result string) {
	reclaimed.WithLabelValues(result).Inc()
}

// RecordWorkerError counts an unexpected worker iteration failure.
func RecordWorkerError() {
	workerErrors.Inc()
}

// RecordPlayback counts a playback transition.
func RecordPlayback(status, source string) {
	playbackTransitions.WithLabelValues(status, source).Inc()
}

// RecordHTTPRequest records one served request. route is the matched
// pattern, not the raw path.
func RecordHTTPRequest(method, route string, code int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
