package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the relay's Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "relay").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for persist duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the relay's Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "relay",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the relay's Prometheus collectors. It implements
// session.Metrics for registry events and records connection level
// events for the server.
type Metrics struct {
	roomsResident      prometheus.Gauge
	roomLoads          *prometheus.CounterVec
	roomEvictions      *prometheus.CounterVec
	persists           *prometheus.CounterVec
	persistDuration    prometheus.Histogram
	broadcasts         prometheus.Counter
	broadcastFrames    prometheus.Counter
	broadcastDropped   prometheus.Counter
	connections        prometheus.Gauge
	connectionsTotal   prometheus.Counter
	messages           *prometheus.CounterVec
	decodeErrors       *prometheus.CounterVec
	applyErrors        prometheus.Counter
	healthTerminations prometheus.Counter
	panics             prometheus.Counter
}

// NewMetrics creates and registers the relay's collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	if len(config.Buckets) == 0 {
		config.Buckets = prometheus.DefBuckets
	}

	factory := promauto.With(config.Registry)
	ns, sub, labels := config.Namespace, config.Subsystem, config.ConstLabels

	return &Metrics{
		roomsResident: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "rooms_resident",
			Help:        "Number of rooms currently held in memory",
			ConstLabels: labels,
		}),
		roomLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "room_loads_total",
			Help:        "Rooms made resident, by source",
			ConstLabels: labels,
		}, []string{"source"}),
		roomEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "room_evictions_total",
			Help:        "Rooms evicted from memory, by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		persists: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "persists_total",
			Help:        "Room persist attempts, by result",
			ConstLabels: labels,
		}, []string{"result"}),
		persistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "persist_duration_seconds",
			Help:        "Time spent writing a room to the store",
			ConstLabels: labels,
			Buckets:     config.Buckets,
		}),
		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "broadcasts_total",
			Help:        "Frames fanned out to a room",
			ConstLabels: labels,
		}),
		broadcastFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "broadcast_frames_total",
			Help:        "Frames enqueued to individual peers by broadcasts",
			ConstLabels: labels,
		}),
		broadcastDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "broadcast_dropped_total",
			Help:        "Broadcast frames dropped because a peer could not accept them",
			ConstLabels: labels,
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "connections",
			Help:        "Number of open WebSocket connections",
			ConstLabels: labels,
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "connections_total",
			Help:        "WebSocket connections accepted",
			ConstLabels: labels,
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "messages_total",
			Help:        "Inbound messages, by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "decode_errors_total",
			Help:        "Inbound messages that failed to decode, by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		applyErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "apply_errors_total",
			Help:        "Document updates rejected by the room",
			ConstLabels: labels,
		}),
		healthTerminations: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "health_terminations_total",
			Help:        "Connections terminated for missing a heartbeat",
			ConstLabels: labels,
		}),
		panics: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "handler_panics_total",
			Help:        "Panics recovered while handling a message",
			ConstLabels: labels,
		}),
	}
}

// RoomLoaded implements session.Metrics.
func (m *Metrics) RoomLoaded(source string) {
	m.roomLoads.WithLabelValues(source).Inc()
}

// RoomEvicted implements session.Metrics.
func (m *Metrics) RoomEvicted(reason string) {
	m.roomEvictions.WithLabelValues(reason).Inc()
}

// RoomsResident implements session.Metrics.
func (m *Metrics) RoomsResident(n int) {
	m.roomsResident.Set(float64(n))
}

// Persisted implements session.Metrics.
func (m *Metrics) Persisted(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.persists.WithLabelValues(result).Inc()
	m.persistDuration.Observe(d.Seconds())
}

// Broadcast implements session.Metrics. Room ids are not used as labels
// to keep cardinality bounded.
func (m *Metrics) Broadcast(_ string, recipients int) {
	m.broadcasts.Inc()
	m.broadcastFrames.Add(float64(recipients))
}

// BroadcastDropped implements session.Metrics.
func (m *Metrics) BroadcastDropped(string) {
	m.broadcastDropped.Inc()
}

func (m *Metrics) connectionOpened() {
	m.connections.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) connectionClosed() {
	m.connections.Dec()
}

func (m *Metrics) message(kind string) {
	m.messages.WithLabelValues(kind).Inc()
}

func (m *Metrics) decodeError(kind string) {
	m.decodeErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) applyError() {
	m.applyErrors.Inc()
}

func (m *Metrics) healthTerminated() {
	m.healthTerminations.Inc()
}

func (m *Metrics) panicked() {
	m.panics.Inc()
}
