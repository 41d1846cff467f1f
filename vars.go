package ndns

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ndns",
		Name:      "queries_total",
		Help:      "Queries received by listeners or sent by upstream clients.",
	}, []string{"base", "id"})

	responseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ndns",
		Name:      "responses_total",
		Help:      "Responses by response code.",
	}, []string{"base", "id", "rcode"})

	errorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ndns",
		Name:      "errors_total",
		Help:      "Failures by reason.",
	}, []string{"base", "id", "reason"})

	decisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ndns",
		Name:      "decisions_total",
		Help:      "Blocklist decisions.",
	}, []string{"decision"})

	decisionCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ndns",
		Name:      "decision_cache_total",
		Help:      "Decision cache lookups by result.",
	}, []string{"result"})
)

// ListenerMetrics holds the counters of a listener or an upstream client.
type ListenerMetrics struct {
	// Queries received or sent.
	query prometheus.Counter
	// Responses by rcode.
	response *prometheus.CounterVec
	// Failures by reason.
	err *prometheus.CounterVec
}

// NewListenerMetrics returns the counters for the listener or client with the
// given id. Calling it twice with the same arguments returns the same counters.
func NewListenerMetrics(base string, id string) *ListenerMetrics {
	labels := prometheus.Labels{"base": base, "id": id}
	return &ListenerMetrics{
		query:    queryTotal.With(labels),
		response: responseTotal.MustCurryWith(labels),
		err:      errorTotal.MustCurryWith(labels),
	}
}

// ClassifierMetrics counts blocklist decisions.
type ClassifierMetrics struct {
	allowed prometheus.Counter
	blocked prometheus.Counter
	cache   *prometheus.CounterVec
}

func NewClassifierMetrics() *ClassifierMetrics {
	return &ClassifierMetrics{
		allowed: decisionTotal.WithLabelValues("allow"),
		blocked: decisionTotal.WithLabelValues("deny"),
		cache:   decisionCacheTotal,
	}
}

func (m *ClassifierMetrics) count(blocked bool) {
	if blocked {
		m.blocked.Inc()
		return
	}
	m.allowed.Inc()
}
