package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the Yummy real-time session backend.
//
// Naming convention: namespace_subsystem_name
// - namespace: yummy (application-level grouping)
// - subsystem: websocket, room, auth, plugin, circuit_breaker, rate_limit, redis
// - name: specific metric (connections_active, events_total, etc.)
var (
	// ActiveWebSocketConnections tracks the current number of active client sinks.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "yummy",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of rooms with at least one member.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "yummy",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the number of members in each room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "yummy",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// WebsocketEvents tracks the total number of request-envelope types processed.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total request envelopes processed",
	}, []string{"request_type", "status"})

	// MessageProcessingDuration tracks the time spent processing a request envelope.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "yummy",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing a request envelope",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"request_type"})

	// AuthAttempts tracks authentication attempts by credential kind and outcome.
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "auth",
		Name:      "attempts_total",
		Help:      "Total authentication attempts",
	}, []string{"credential_kind", "status"})

	// PluginHookDuration tracks the time spent executing a pre/post plugin hook.
	PluginHookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "yummy",
		Subsystem: "plugin",
		Name:      "hook_duration_seconds",
		Help:      "Time spent executing a single plugin hook",
		Buckets:   prometheus.DefBuckets,
	}, []string{"hook"})

	// PluginHookErrors tracks plugin hook failures by kind.
	PluginHookErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "plugin",
		Name:      "hook_errors_total",
		Help:      "Total plugin hook errors",
	}, []string{"hook", "kind"})

	// FanOutMessages tracks messages delivered to room members.
	FanOutMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "room",
		Name:      "fanout_messages_total",
		Help:      "Total fan-out messages delivered or dropped",
	}, []string{"outcome"})

	// CircuitBreakerState tracks the current state of the circuit breaker.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "yummy",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by the circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of requests checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal tracks the total number of Redis operations.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "yummy",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
