// Package metrics exports protocol activity as Prometheus metrics.
//
// A Collector is a log.Logger: attach it to channels, the connection
// manager, or the agent server next to (or instead of) a file logger.
//
//	reg := prometheus.NewRegistry()
//	c := metrics.New(metrics.WithRegistry(reg))
//	logger := log.NewMultiLogger(fileLogger, c)
//	http.Handle("/metrics", metrics.Handler(reg))
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yuha-project/yuha-go/pkg/log"
)

// Namespace prefixes every metric name.
const Namespace = "yuha"

// Config holds collector settings.
type Config struct {
	// Registry receives the metrics. Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Buckets for the round trip histogram. Default: prometheus.DefBuckets.
	Buckets []float64
}

// Option configures a Collector.
type Option func(*Config)

// WithRegistry sets the registerer.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = reg }
}

// WithConstLabels sets labels added to every metric.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithBuckets sets the round trip histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) { c.Buckets = buckets }
}

// Collector turns protocol events into metrics.
type Collector struct {
	frames      *prometheus.CounterVec
	frameBytes  *prometheus.CounterVec
	messages    *prometheus.CounterVec
	responses   *prometheus.CounterVec
	roundTrip   prometheus.Histogram
	transitions *prometheus.CounterVec
	connected   prometheus.Gauge
	errors      *prometheus.CounterVec
}

// New creates a collector and registers its metrics. Registering twice on
// the same registry panics, as with promauto.
func New(opts ...Option) *Collector {
	cfg := Config{
		Registry: prometheus.DefaultRegisterer,
		Buckets:  prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)
	return &Collector{
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "transport",
			Name:        "frames_total",
			Help:        "Frames sent and received.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"direction"}),

		frameBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "transport",
			Name:        "frame_bytes_total",
			Help:        "Frame bytes sent and received, length prefix included.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"direction"}),

		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "wire",
			Name:        "requests_total",
			Help:        "Requests sent and received by operation.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"direction", "operation"}),

		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "wire",
			Name:        "responses_total",
			Help:        "Responses sent and received by type.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"direction", "type"}),

		roundTrip: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   Namespace,
			Subsystem:   "wire",
			Name:        "round_trip_seconds",
			Help:        "Time from sending a request to receiving its response.",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}),

		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "connection",
			Name:        "state_transitions_total",
			Help:        "Connection state transitions by new state.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"state"}),

		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Subsystem:   "connection",
			Name:        "connected",
			Help:        "Connections currently in the connected state.",
			ConstLabels: cfg.ConstLabels,
		}),

		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "errors_total",
			Help:        "Errors by layer.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"layer"}),
	}
}

// Log implements log.Logger.
func (c *Collector) Log(event log.Event) {
	dir := label(event.Direction.String())

	if f := event.Frame; f != nil {
		c.frames.WithLabelValues(dir).Inc()
		c.frameBytes.WithLabelValues(dir).Add(float64(f.Size))
	}

	if m := event.Message; m != nil {
		switch m.Type {
		case log.MessageTypeRequest:
			c.messages.WithLabelValues(dir, m.Operation).Inc()
		case log.MessageTypeResponse:
			c.responses.WithLabelValues(dir, m.ResponseType).Inc()
			if m.Duration != nil {
				c.roundTrip.Observe(m.Duration.Seconds())
			}
		}
	}

	if s := event.StateChange; s != nil {
		c.transitions.WithLabelValues(s.NewState).Inc()
		const connected = "connected"
		if s.NewState == connected && s.OldState != connected {
			c.connected.Inc()
		} else if s.OldState == connected && s.NewState != connected {
			c.connected.Dec()
		}
	}

	if e := event.Error; e != nil {
		c.errors.WithLabelValues(label(e.Layer.String())).Inc()
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func label(s string) string {
	return strings.ToLower(s)
}

var _ log.Logger = (*Collector)(nil)
