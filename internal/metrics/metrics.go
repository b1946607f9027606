// Package metrics exposes Store pipeline measurements as Prometheus series.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/statecore/internal/core"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "statecore").
	Namespace string

	// Subsystem is the metrics subsystem (default: "store").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry receives the collectors.
	// Default: a fresh registry owned by the Collector.
	Registry *prometheus.Registry
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "statecore",
		Subsystem: "store",
	}
}

// Collector implements core.Recorder on Prometheus counters and a gauge.
//
// Series:
//   - statecore_store_mutations_total{module}
//   - statecore_store_notifications_scheduled_total{view}
//   - statecore_store_notifications_delivered_total{view}
//   - statecore_store_notifications_dropped_total{view}
//   - statecore_store_handler_panics_total{view}  ("middleware" for middlewares)
//   - statecore_store_queue_depth
type Collector struct {
	registry *prometheus.Registry

	mutations     *prometheus.CounterVec
	scheduled     *prometheus.CounterVec
	delivered     *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	handlerPanics *prometheus.CounterVec
	queueDepth    prometheus.Gauge
}

var _ core.Recorder = (*Collector)(nil)

// New creates a Collector and registers its series.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	factory := promauto.With(config.Registry)

	counter := func(name, help, label string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, []string{label})
	}

	return &Collector{
		registry:      config.Registry,
		mutations:     counter("mutations_total", "Total number of accepted mutations", "module"),
		scheduled:     counter("notifications_scheduled_total", "Total number of subscriber notifications queued", "view"),
		delivered:     counter("notifications_delivered_total", "Total number of subscriber notifications delivered", "view"),
		dropped:       counter("notifications_dropped_total", "Total number of notifications dropped for removed subscriptions or a stopped store", "view"),
		handlerPanics: counter("handler_panics_total", "Total number of recovered handler and middleware panics", "view"),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "queue_depth",
			Help:        "Notifications waiting for the dispatcher",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// MutationApplied implements core.Recorder.
func (c *Collector) MutationApplied(moduleID, _ string) {
	c.mutations.WithLabelValues(moduleID).Inc()
}

// NotificationScheduled implements core.Recorder.
func (c *Collector) NotificationScheduled(viewID string) {
	c.scheduled.WithLabelValues(viewID).Inc()
}

// NotificationDelivered implements core.Recorder.
func (c *Collector) NotificationDelivered(viewID string) {
	c.delivered.WithLabelValues(viewID).Inc()
}

// NotificationDropped implements core.Recorder.
func (c *Collector) NotificationDropped(viewID string) {
	c.dropped.WithLabelValues(viewID).Inc()
}

// HandlerPanicked implements core.Recorder.
func (c *Collector) HandlerPanicked(scope string) {
	c.handlerPanics.WithLabelValues(scope).Inc()
}

// QueueDepth implements core.Recorder.
func (c *Collector) QueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

// Registry returns the registry holding the Collector's series.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteText writes every series in the Prometheus text exposition format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	for _, mf := range families {
		if err := writeFamily(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func writeFamily(w io.Writer, mf *dto.MetricFamily) error {
	if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
		return fmt.Errorf("write %s: %w", mf.GetName(), err)
	}
	return nil
}
