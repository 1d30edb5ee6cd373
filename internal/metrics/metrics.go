// Package metrics exposes the gateway's Prometheus counters.
//
// All Recorder methods are safe to call on a nil *Recorder, so components can take an optional
// recorder without guarding every call site.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Recorder holds the gateway collectors.
type Recorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
	payments        *prometheus.CounterVec
	signatureChecks *prometheus.CounterVec
	demotions       *prometheus.CounterVec
	storeFallbacks  *prometheus.CounterVec
	mirrorFailures  prometheus.Counter
}

// New creates a Recorder registered on a fresh registry that also carries the Go and
// process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "API requests by trust tier.",
		}, []string{"tier"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "API request latency by status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests refused with 429 by trust tier.",
		}, []string{"tier"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Payment gate outcomes by network.",
		}, []string{"network", "outcome"}),
		signatureChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signature_checks_total",
			Help:      "Request signature verifications by wallet family and result.",
		}, []string{"family", "result"}),
		demotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_demotions_total",
			Help:      "Requests whose elevated credentials were ignored, by reason.",
		}, []string{"reason"}),
		storeFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_fallbacks_total",
			Help:      "Shared store failures that fell back to in-process state.",
		}, []string{"component"}),
		mirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revenue_mirror_failures_total",
			Help:      "Revenue events that could not be written to the durable store.",
		}),
	}

	reg.MustRegister(
		r.requests,
		r.requestDuration,
		r.rateLimited,
		r.payments,
		r.signatureChecks,
		r.demotions,
		r.storeFallbacks,
		r.mirrorFailures,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) Request(tier string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(tier).Inc()
}

func (r *Recorder) ObserveRequest(status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.requestDuration.WithLabelValues(strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (r *Recorder) RateLimited(tier string) {
	if r == nil {
		return
	}
	r.rateLimited.WithLabelValues(tier).Inc()
}

// Payment counts a payment gate outcome such as "challenged", "verified" or "rejected".
func (r *Recorder) Payment(network, outcome string) {
	if r == nil {
		return
	}
	r.payments.WithLabelValues(network, outcome).Inc()
}

// SignatureCheck counts a signature verification; result is "ok" or a failure reason.
func (r *Recorder) SignatureCheck(family, result string) {
	if r == nil {
		return
	}
	r.signatureChecks.WithLabelValues(family, result).Inc()
}

func (r *Recorder) Demotion(reason string) {
	if r == nil {
		return
	}
	r.demotions.WithLabelValues(reason).Inc()
}

func (r *Recorder) StoreFallback(component string) {
	if r == nil {
		return
	}
	r.storeFallbacks.WithLabelValues(component).Inc()
}

func (r *Recorder) RevenueMirrorFailure() {
	if r == nil {
		return
	}
	r.mirrorFailures.Inc()
}
