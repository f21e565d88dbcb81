// Package metrics owns the kplane binary's prometheus registry: admin HTTP
// request metrics, group registry progress, and the per client kgo hooks
// from kprom.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
)

const namespace = "kplane"

// Config configures a Registry.
type Config struct {
	// GoCollectors registers the go runtime and process collectors.
	GoCollectors bool

	// Buckets are the request duration histogram buckets, in seconds.
	Buckets []float64
}

// DefaultConfig returns the binary's metrics configuration.
func DefaultConfig() Config {
	return Config{
		GoCollectors: true,
		Buckets: []float64{
			0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
		},
	}
}

// GroupStats is the progress of the coordinator group registry.
type GroupStats interface {
	Groups() int
	Ingested() int64
	Skipped() int64
}

// Registry holds every kplane metric.
type Registry struct {
	reg *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRegistry returns a registry with the HTTP request metrics registered.
func NewRegistry(cfg Config) *Registry {
	reg := prometheus.NewRegistry()
	if cfg.GoCollectors {
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	factory := promauto.With(reg)
	return &Registry{
		reg: reg,

		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of admin requests, by method, route, and status code",
		}, []string{"method", "route", "code"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin request latency, by method and route",
			Buckets:   cfg.Buckets,
		}, []string{"method", "route"}),
	}
}

// ObserveRequest records one served admin request.
func (r *Registry) ObserveRequest(method, route string, code int, took time.Duration) {
	r.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	r.duration.WithLabelValues(method, route).Observe(took.Seconds())
}

// KgoHooks returns kprom hooks for one kgo client. Every client needs its own
// subsystem: kprom registers per client gauges that would otherwise collide.
func (r *Registry) KgoHooks(subsystem string) kgo.Hook {
	return kprom.NewMetrics(namespace+"_"+subsystem, kprom.Registry(r.reg))
}

// WatchGroups exports the registry's group count and ingestion progress.
func (r *Registry) WatchGroups(s GroupStats) {
	factory := promauto.With(r.reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "groups",
		Help:      "Number of coordinator groups with committed offsets",
	}, func() float64 { return float64(s.Groups()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "records_ingested_total",
		Help:      "Total number of offset commits and tombstones applied",
	}, func() float64 { return float64(s.Ingested()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "records_skipped_total",
		Help:      "Total number of offsets topic records that could not be decoded",
	}, func() float64 { return float64(s.Skipped()) })
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer returns the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
