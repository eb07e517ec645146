package obs

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие gRPC-метрики
var (
	grpcInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grpc_in_flight_requests",
		Help: "In-flight gRPC requests.",
	})

	grpcRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_requests_total",
			Help: "Total number of gRPC requests.",
		},
		[]string{"method", "code"},
	)

	grpcRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_request_duration_seconds",
			Help:    "gRPC request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	abacDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abac_decisions_total",
			Help: "Access decisions made by the policy guard.",
		},
		[]string{"effect"},
	)

	checkAccessCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "check_access_cache_total",
			Help: "check_access cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	initOnce sync.Once
)

// Init регистрирует метрики в default-регистре (однократно).
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(grpcInFlight, grpcRequestsTotal, grpcRequestDuration, abacDecisions, checkAccessCache)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RPCStarted marks a request in flight and returns the function that records
// its completion.
func RPCStarted(method string) func(code string) {
	method = CanonicalMethod(method)
	grpcInFlight.Inc()
	start := time.Now()
	return func(code string) {
		grpcRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		grpcRequestsTotal.WithLabelValues(method, code).Inc()
		grpcInFlight.Dec()
	}
}

// ObserveDecision counts a guard decision.
func ObserveDecision(effect string) {
	abacDecisions.WithLabelValues(effect).Inc()
}

// ObserveCacheLookup counts a check_access cache lookup.
func ObserveCacheLookup(result string) {
	checkAccessCache.WithLabelValues(result).Inc()
}

// CanonicalMethod keeps label cardinality bounded: only well-formed
// "/package.Service/Method" names pass through.
func CanonicalMethod(fullMethod string) string {
	if !strings.HasPrefix(fullMethod, "/") {
		return "unknown"
	}
	parts := strings.Split(fullMethod[1:], "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "unknown"
	}
	return fullMethod
}
