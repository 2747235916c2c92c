// Package metrics exposes server counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sheerbytes/chunkcast/internal/transfer"
)

const namespace = "chunkcast"

// Metrics implements transfer.Observer on top of a set of Prometheus
// collectors, plus session lifecycle counters used by the server.
type Metrics struct {
	gatherer prometheus.Gatherer

	sessionsActive   *prometheus.GaugeVec
	sessionsTotal    *prometheus.CounterVec
	sessionErrors    *prometheus.CounterVec
	requestsAccepted *prometheus.CounterVec
	requestsRejected *prometheus.CounterVec
	chunksSent       prometheus.Counter
	bytesSent        prometheus.Counter
	filesCompleted   *prometheus.CounterVec
}

var _ transfer.Observer = (*Metrics)(nil)

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	m := &Metrics{
		gatherer: reg,
		sessionsActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of currently open client sessions, per transport.",
		}, []string{"transport"}),
		sessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "opened_total",
			Help:      "Total number of client sessions opened, per transport.",
		}, []string{"transport"}),
		sessionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "errors_total",
			Help:      "Total number of sessions that ended with an error, per error kind.",
		}, []string{"kind"}),
		requestsAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "accepted_total",
			Help:      "Total number of accepted file requests, per priority class.",
		}, []string{"priority"}),
		requestsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "rejected_total",
			Help:      "Total number of requests answered with ERR, per reason.",
		}, []string{"reason"}),
		chunksSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "chunks_total",
			Help:      "Total number of file chunks sent.",
		}),
		bytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "sent_bytes_total",
			Help:      "Total amount of file data sent, excluding padding.",
		}),
		filesCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "files_completed_total",
			Help:      "Total number of files sent to the end, per priority class.",
		}, []string{"priority"}),
	}
	// so that rejection counters are present even when zero
	m.requestsRejected.WithLabelValues(transfer.RejectNotFound)
	m.requestsRejected.WithLabelValues(transfer.RejectPriority)
	return m
}

// Register pre-creates per-class series for the given priority classes.
func (m *Metrics) Register(classes []string) {
	for _, c := range classes {
		m.requestsAccepted.WithLabelValues(c)
		m.filesCompleted.WithLabelValues(c)
	}
}

func (m *Metrics) SessionOpened(transport string) {
	m.sessionsActive.WithLabelValues(transport).Inc()
	m.sessionsTotal.WithLabelValues(transport).Inc()
}

// SessionClosed records the end of a session. kind is empty for a clean close.
func (m *Metrics) SessionClosed(transport, kind string) {
	m.sessionsActive.WithLabelValues(transport).Dec()
	if kind != "" {
		m.sessionErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) RequestAccepted(priority string) {
	m.requestsAccepted.WithLabelValues(priority).Inc()
}

func (m *Metrics) RequestRejected(reason string) {
	m.requestsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ChunksSent(chunks int, bytes int64) {
	m.chunksSent.Add(float64(chunks))
	m.bytesSent.Add(float64(bytes))
}

func (m *Metrics) FileCompleted(priority string) {
	m.filesCompleted.WithLabelValues(priority).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
