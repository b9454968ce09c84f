package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/tierlist-core/internal/auth"
)

const namespace = "tierlist"

// EventSink receives a copy of every security event. Implementations must
// not block; *influxdb.Client satisfies it.
type EventSink interface {
	WriteAuthEvent(kind, detail string)
	WriteRevocationStats(tracked, swept int)
}

// Registry owns a private Prometheus registry and the collectors recorded
// by the auth core and the HTTP layer.
type Registry struct {
	reg  *prometheus.Registry
	sink EventSink

	LoginAttempts   *prometheus.CounterVec
	AuthFailures    *prometheus.CounterVec
	PolicyDenials   *prometheus.CounterVec
	RevokedTokens   prometheus.Gauge
	RevocationSwept prometheus.Counter
	RateLimited     *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

var _ auth.Recorder = (*Registry)(nil)

// New creates a Registry with Go runtime and process collectors attached.
// sink may be nil.
func New(sink EventSink) *Registry {
	r := &Registry{
		reg:  prometheus.NewRegistry(),
		sink: sink,

		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),

		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected bearer tokens by reason.",
		}, []string{"reason"}),

		PolicyDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_denials_total",
			Help:      "Authorization denials by action and reason.",
		}, []string{"action", "reason"}),

		RevokedTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "revoked_tokens",
			Help:      "Tokens currently held in the revocation store.",
		}),

		RevocationSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocation_swept_total",
			Help:      "Revoked tokens removed by the sweeper after expiry.",
		}),

		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route pattern, and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.LoginAttempts,
		r.AuthFailures,
		r.PolicyDenials,
		r.RevokedTokens,
		r.RevocationSwept,
		r.RateLimited,
		r.RequestDuration,
	)
	return r
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// LoginAttempt implements auth.Recorder.
func (r *Registry) LoginAttempt(outcome string) {
	r.LoginAttempts.WithLabelValues(outcome).Inc()
	r.emit("login", outcome)
}

// AuthFailure implements auth.Recorder.
func (r *Registry) AuthFailure(reason string) {
	r.AuthFailures.WithLabelValues(reason).Inc()
	r.emit("auth_failure", reason)
}

// PolicyDenial implements auth.Recorder.
func (r *Registry) PolicyDenial(action auth.Action, reason string) {
	r.PolicyDenials.WithLabelValues(action.String(), reason).Inc()
	r.emit("policy_denial", action.String()+":"+reason)
}

// TokenRevoked implements auth.Recorder.
func (r *Registry) TokenRevoked(tracked int) {
	r.RevokedTokens.Set(float64(tracked))
	r.emit("logout", "")
}

// RevocationsSwept implements auth.Recorder.
func (r *Registry) RevocationsSwept(removed, remaining int) {
	r.RevocationSwept.Add(float64(removed))
	r.RevokedTokens.Set(float64(remaining))
	if r.sink != nil {
		r.sink.WriteRevocationStats(remaining, removed)
	}
}

// RateLimitHit records a request rejected on route.
func (r *Registry) RateLimitHit(route string) {
	r.RateLimited.WithLabelValues(route).Inc()
	r.emit("rate_limited", route)
}

// ObserveRequest records one completed HTTP request.
func (r *Registry) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	r.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (r *Registry) emit(kind, detail string) {
	if r.sink != nil {
		r.sink.WriteAuthEvent(kind, detail)
	}
}
