package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"SignalFlow/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
// It also keeps plain totals so the status broadcast can read them back.
type Recorder struct {
	events        *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	signals       *prometheus.CounterVec
	signalScore   prometheus.Histogram
	rejected      *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	returns       *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	subscribers   prometheus.Gauge
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec

	mu     sync.Mutex
	totals map[string]float64
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in production
// and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalflow_events_detected_total",
			Help: "Events detected, by symbol and kind",
		}, []string{"symbol", "kind"}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalflow_events_dropped_total",
			Help: "Events dropped before scoring or logging",
		}, []string{"reason"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalflow_signals_emitted_total",
			Help: "Signals persisted and distributed",
		}, []string{"symbol", "direction"}),
		signalScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalflow_signal_score",
			Help:    "Aggregate score of emitted signals",
			Buckets: prometheus.LinearBuckets(0.5, 0.05, 10),
		}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalflow_signals_rejected_total",
			Help: "Evaluations that did not produce a signal, by gate",
		}, []string{"reason"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalflow_outcomes_total",
			Help: "Terminal outcomes recorded",
		}, []string{"symbol", "outcome"}),
		returns: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalflow_outcome_return_pct",
			Help:    "Return percent at close",
			Buckets: []float64{-5, -2, -1, -0.5, 0, 0.5, 1, 2, 5},
		}, []string{"outcome"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalflow_notifications_total",
			Help: "Notification pipeline results",
		}, []string{"result"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalflow_queue_depth",
			Help: "Current depth of internal queues",
		}, []string{"queue"}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalflow_ws_subscribers",
			Help: "Connected websocket subscribers",
		}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalflow_errors_total",
			Help: "Errors encountered, by kind",
		}, []string{"type"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalflow_last_price",
			Help: "Last observed price for a symbol",
		}, []string{"symbol"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalflow_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		totals: make(map[string]float64),
	}
}

func (r *Recorder) add(key string, v float64) {
	r.mu.Lock()
	r.totals[key] += v
	r.mu.Unlock()
}

func (r *Recorder) set(key string, v float64) {
	r.mu.Lock()
	r.totals[key] = v
	r.mu.Unlock()
}

func (r *Recorder) RecordEvent(symbol string, kind models.EventKind) {
	r.events.WithLabelValues(symbol, string(kind)).Inc()
	r.add("events_detected", 1)
}

func (r *Recorder) RecordEventDropped(reason string) {
	r.eventsDropped.WithLabelValues(reason).Inc()
	r.add("events_dropped_"+reason, 1)
}

func (r *Recorder) RecordSignal(symbol string, dir models.Direction, score float64) {
	r.signals.WithLabelValues(symbol, string(dir)).Inc()
	r.signalScore.Observe(score)
	r.add("signals_emitted", 1)
}

func (r *Recorder) RecordSignalRejected(reason string) {
	r.rejected.WithLabelValues(reason).Inc()
	r.add("signals_rejected_"+reason, 1)
}

func (r *Recorder) RecordOutcome(symbol string, outcome models.Outcome, returnPct float64) {
	r.outcomes.WithLabelValues(symbol, string(outcome)).Inc()
	r.returns.WithLabelValues(string(outcome)).Observe(returnPct)
	r.add("outcomes_"+string(outcome), 1)
}

func (r *Recorder) RecordNotification(result string) {
	r.notifications.WithLabelValues(result).Inc()
	r.add("notifications_"+result, 1)
}

func (r *Recorder) RecordQueueDepth(queue string, depth int) {
	r.queueDepth.WithLabelValues(queue).Set(float64(depth))
	r.set("queue_depth_"+queue, float64(depth))
}

func (r *Recorder) RecordSubscribers(n int) {
	r.subscribers.Set(float64(n))
	r.set("ws_subscribers", float64(n))
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
	r.add("errors_"+kind, 1)
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Snapshot copies the running totals.
func (r *Recorder) Snapshot() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.totals))
	for k, v := range r.totals {
		out[k] = v
	}
	return out
}
