package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsAnalyzedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bastion_requests_analyzed_total",
		Help: "Total number of requests run through the analysis engine",
	})
	requestsBlockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bastion_requests_blocked_total",
		Help: "Total number of requests denied because the source address is blocked",
	})
	requestsRateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bastion_requests_rate_limited_total",
		Help: "Total number of requests that crossed a rate or volume ceiling",
	})
	eventsRecordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bastion_security_events_total",
		Help: "Total number of security events persisted, by event type",
	}, []string{"type"})
	autoBlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bastion_auto_blocks_total",
		Help: "Total number of automatic IP blocks created by the escalation policy",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		requestsAnalyzedTotal,
		requestsBlockedTotal,
		requestsRateLimitedTotal,
		eventsRecordedTotal,
		autoBlocksTotal,
	)
}

// IncAnalyzed increments the analyzed requests counter.
func IncAnalyzed() { requestsAnalyzedTotal.Inc() }

// IncBlocked increments the blocked requests counter.
func IncBlocked() { requestsBlockedTotal.Inc() }

// IncRateLimited increments the rate-limited requests counter.
func IncRateLimited() { requestsRateLimitedTotal.Inc() }

// IncEventRecorded increments the persisted events counter for a type.
func IncEventRecorded(eventType string) { eventsRecordedTotal.WithLabelValues(eventType).Inc() }

// IncAutoBlock increments the automatic blocks counter.
func IncAutoBlock() { autoBlocksTotal.Inc() }
