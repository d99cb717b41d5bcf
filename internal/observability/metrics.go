package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for DeepReplay.
// Every component accepts a nil *Metrics; the Record helpers are nil-safe.
type Metrics struct {
	// --- Coordinator ---
	CoordinatorRequests   *prometheus.CounterVec
	CoordinatorDuration   *prometheus.HistogramVec
	CoordinatorQueueDepth prometheus.Gauge
	CoordinatorState      prometheus.Gauge
	BootstrapDuration     prometheus.Histogram
	ReconcileRepairs      *prometheus.CounterVec
	ChildFieldsRegistered prometheus.Counter

	// --- Codec & Loader ---
	CodecConversions *prometheus.CounterVec
	CodecFallbacks   *prometheus.CounterVec
	LoaderObjects    *prometheus.GaugeVec
	LoaderMissing    *prometheus.GaugeVec

	// --- Order books ---
	BookLevels    *prometheus.GaugeVec
	BookSpreadBps *prometheus.GaugeVec
	BookCrossed   *prometheus.GaugeVec

	// --- Sessions ---
	SessionsActive prometheus.Gauge
	SwapsExecuted  *prometheus.CounterVec
	MintsExecuted  *prometheus.CounterVec

	// --- Outbound ---
	PublishDrops  prometheus.Counter
	PublishErrors prometheus.Counter
}

// NewMetrics registers every metric on reg. Pass prometheus.DefaultRegisterer
// in the process and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CoordinatorRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_coordinator_requests_total",
			Help: "Coordinator requests processed, by kind and outcome",
		}, []string{"kind", "outcome"}),
		CoordinatorDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "replay_coordinator_request_duration_seconds",
			Help:    "Time a request spent executing on the coordinator worker",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"kind"}),
		CoordinatorQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "replay_coordinator_queue_depth",
			Help: "Requests waiting for the coordinator worker",
		}),
		CoordinatorState: f.NewGauge(prometheus.GaugeOpts{
			Name: "replay_coordinator_state",
			Help: "0=uninitialized 1=bootstrapping 2=ready 3=shutting_down",
		}),
		BootstrapDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "replay_bootstrap_duration_seconds",
			Help:    "Wall time from bootstrap start to Ready",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		ReconcileRepairs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_reconcile_repairs_total",
			Help: "Wrapper version repairs applied after execution, by venue",
		}, []string{"venue"}),
		ChildFieldsRegistered: f.NewCounter(prometheus.CounterOpts{
			Name: "replay_child_fields_registered_total",
			Help: "Child-keyed fields registered from execution effects",
		}),
		CodecConversions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_codec_conversions_total",
			Help: "Snapshot records converted to canonical form, by outcome",
		}, []string{"outcome"}),
		CodecFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_codec_fallbacks_total",
			Help: "Placeholder encodings used for non-critical objects, by module",
		}, []string{"module"}),
		LoaderObjects: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replay_loader_objects",
			Help: "Deduplicated export objects held per venue",
		}, []string{"venue"}),
		LoaderMissing: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replay_loader_missing_slices",
			Help: "Big-vector slices referenced but absent from the export, per venue",
		}, []string{"venue"}),
		BookLevels: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replay_book_levels",
			Help: "Price levels in the global materialized book",
		}, []string{"venue", "side"}),
		BookSpreadBps: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replay_book_spread_bps",
			Help: "Spread of the global materialized book in basis points",
		}, []string{"venue"}),
		BookCrossed: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replay_book_crossed",
			Help: "1 when the materialized book has best bid >= best ask",
		}, []string{"venue"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "replay_sessions_active",
			Help: "Trading sessions currently held in memory",
		}),
		SwapsExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_swaps_total",
			Help: "Session swaps, by venue and outcome",
		}, []string{"venue", "outcome"}),
		MintsExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_mints_total",
			Help: "Reserve mints delivered to sessions, by asset",
		}, []string{"asset"}),
		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "replay_publish_drops_total",
			Help: "Swap events dropped because the publish buffer was full",
		}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "replay_publish_errors_total",
			Help: "Swap events that failed to publish",
		}),
	}
}

// RecordRequest counts one coordinator request and its latency.
func (m *Metrics) RecordRequest(kind, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.CoordinatorRequests.WithLabelValues(kind, outcome).Inc()
	m.CoordinatorDuration.WithLabelValues(kind).Observe(seconds)
}

// SetQueueDepth reports the number of queued coordinator requests.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.CoordinatorQueueDepth.Set(float64(n))
}

// SetCoordinatorState reports the coordinator lifecycle state.
func (m *Metrics) SetCoordinatorState(state int) {
	if m == nil {
		return
	}
	m.CoordinatorState.Set(float64(state))
}

// RecordConversion counts a codec conversion outcome ("ok", "fallback", "error").
func (m *Metrics) RecordConversion(outcome string) {
	if m == nil {
		return
	}
	m.CodecConversions.WithLabelValues(outcome).Inc()
}

// RecordFallback counts a placeholder encoding for the given Move module.
func (m *Metrics) RecordFallback(module string) {
	if m == nil {
		return
	}
	m.CodecFallbacks.WithLabelValues(module).Inc()
}

// RecordRepair counts a wrapper version repair.
func (m *Metrics) RecordRepair(venue string) {
	if m == nil {
		return
	}
	m.ReconcileRepairs.WithLabelValues(venue).Inc()
}

// RecordChildFields counts child-keyed fields registered from effects.
func (m *Metrics) RecordChildFields(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ChildFieldsRegistered.Add(float64(n))
}

// SetLoaderStats reports per-venue loader gauges.
func (m *Metrics) SetLoaderStats(venue string, objects, missing int) {
	if m == nil {
		return
	}
	m.LoaderObjects.WithLabelValues(venue).Set(float64(objects))
	m.LoaderMissing.WithLabelValues(venue).Set(float64(missing))
}

// SetBookStats reports the shape of a materialized book.
func (m *Metrics) SetBookStats(venue string, bids, asks int, spreadBps float64, crossed bool) {
	if m == nil {
		return
	}
	m.BookLevels.WithLabelValues(venue, "bid").Set(float64(bids))
	m.BookLevels.WithLabelValues(venue, "ask").Set(float64(asks))
	m.BookSpreadBps.WithLabelValues(venue).Set(spreadBps)
	crossedVal := 0.0
	if crossed {
		crossedVal = 1
	}
	m.BookCrossed.WithLabelValues(venue).Set(crossedVal)
}

// SetSessions reports the number of live sessions.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

// RecordSwap counts a swap outcome ("ok", "failed", "fallback", "insufficient").
func (m *Metrics) RecordSwap(venue, outcome string) {
	if m == nil {
		return
	}
	m.SwapsExecuted.WithLabelValues(venue, outcome).Inc()
}

// RecordMint counts a delivered reserve mint.
func (m *Metrics) RecordMint(asset string) {
	if m == nil {
		return
	}
	m.MintsExecuted.WithLabelValues(asset).Inc()
}

// RecordPublishDrop counts an event dropped before publishing.
func (m *Metrics) RecordPublishDrop() {
	if m == nil {
		return
	}
	m.PublishDrops.Inc()
}

// RecordPublishError counts a failed publish.
func (m *Metrics) RecordPublishError() {
	if m == nil {
		return
	}
	m.PublishErrors.Inc()
}
