// Registers the whalewatch_* Prometheus collectors together with the go_*
// and process_* runtime collectors. Handler exposes them; the dashboard
// mounts it on /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	snapshotsProcessed *prometheus.CounterVec
	snapshotErrors     *prometheus.CounterVec
	updateGaps         *prometheus.CounterVec
	whalesCreated      *prometheus.CounterVec
	whalesReactivated  *prometheus.CounterVec
	whalesDisappeared  *prometheus.CounterVec
	whalesEvicted      *prometheus.CounterVec
	spoofDetections    *prometheus.CounterVec
	eventsDropped      *prometheus.CounterVec
	sinkErrors         *prometheus.CounterVec
	reconnects         *prometheus.CounterVec
	activeWhales       *prometheus.GaugeVec
	streamState        *prometheus.GaugeVec
)

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "whalewatch", Name: name, Help: help}, labels)
}

func gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "whalewatch", Name: name, Help: help}, labels)
}

// Init registers the collectors once. Recording helpers are no-ops before Init.
func Init() {
	once.Do(func() {
		snapshotsProcessed = counter("snapshots_processed_total", "Order book snapshots processed", "symbol")
		snapshotErrors = counter("snapshot_errors_total", "Depth updates that failed to process", "symbol")
		updateGaps = counter("update_gaps_total", "Depth updates with a skipped update id", "symbol")
		whalesCreated = counter("whales_created_total", "Whales first seen", "symbol", "side")
		whalesReactivated = counter("whales_reactivated_total", "Whales that reappeared", "symbol", "side")
		whalesDisappeared = counter("whales_disappeared_total", "Whales that left the book", "symbol", "side")
		whalesEvicted = counter("whales_evicted_total", "Whales evicted from bounded buffers", "symbol", "reason")
		spoofDetections = counter("spoof_detections_total", "Scored disappearances by tier and pattern", "symbol", "confidence", "pattern")
		eventsDropped = counter("events_dropped_total", "Events dropped by a full sink queue", "sink")
		sinkErrors = counter("sink_errors_total", "Failed sink writes", "sink")
		reconnects = counter("stream_reconnects_total", "Depth stream reconnect attempts", "symbol")
		activeWhales = gauge("active_whales", "Whales currently on the book", "symbol")
		streamState = gauge("stream_state", "Current stream state, 1 for the active state", "symbol", "state")

		for _, c := range []prometheus.Collector{
			snapshotsProcessed, snapshotErrors, updateGaps,
			whalesCreated, whalesReactivated, whalesDisappeared, whalesEvicted,
			spoofDetections, eventsDropped, sinkErrors, reconnects,
			activeWhales, streamState,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		} {
			_ = prometheus.Register(c)
		}
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func SnapshotProcessed(symbol string) {
	if snapshotsProcessed != nil {
		snapshotsProcessed.WithLabelValues(symbol).Inc()
	}
}

func SnapshotError(symbol string) {
	if snapshotErrors != nil {
		snapshotErrors.WithLabelValues(symbol).Inc()
	}
}

func UpdateGap(symbol string) {
	if updateGaps != nil {
		updateGaps.WithLabelValues(symbol).Inc()
	}
}

func WhaleCreated(symbol, side string) {
	if whalesCreated != nil {
		whalesCreated.WithLabelValues(symbol, side).Inc()
	}
}

func WhaleReactivated(symbol, side string) {
	if whalesReactivated != nil {
		whalesReactivated.WithLabelValues(symbol, side).Inc()
	}
}

func WhaleDisappeared(symbol, side string) {
	if whalesDisappeared != nil {
		whalesDisappeared.WithLabelValues(symbol, side).Inc()
	}
}

// WhalesEvicted adds n evictions; reason is "recent", "expired" or "forced".
func WhalesEvicted(symbol, reason string, n int64) {
	if whalesEvicted != nil && n > 0 {
		whalesEvicted.WithLabelValues(symbol, reason).Add(float64(n))
	}
}

func SpoofDetected(symbol, confidence, pattern string) {
	if spoofDetections != nil {
		spoofDetections.WithLabelValues(symbol, confidence, pattern).Inc()
	}
}

func EventDropped(sink string) {
	if eventsDropped != nil {
		eventsDropped.WithLabelValues(sink).Inc()
	}
}

func SinkError(sink string) {
	if sinkErrors != nil {
		sinkErrors.WithLabelValues(sink).Inc()
	}
}

func Reconnect(symbol string) {
	if reconnects != nil {
		reconnects.WithLabelValues(symbol).Inc()
	}
}

func SetActiveWhales(symbol string, n int) {
	if activeWhales != nil {
		activeWhales.WithLabelValues(symbol).Set(float64(n))
	}
}

// SetStreamState marks state as the only active state of symbol.
func SetStreamState(symbol, state string) {
	if streamState == nil {
		return
	}
	streamState.DeletePartialMatch(prometheus.Labels{"symbol": symbol})
	streamState.WithLabelValues(symbol, state).Set(1)
}
