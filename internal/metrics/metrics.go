// Package metrics exposes scan, analyzer, render pool and queue
// measurements in the Prometheus format.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielnaab/site-scanning-engine/internal/model"
)

type Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Runtime adds the Go and process collectors.
	Runtime bool `mapstructure:"runtime" yaml:"runtime"`
}

func DefaultConfig() Config {
	return Config{Enabled: true, Runtime: true}
}

const namespace = "site_scanner"

// Collector owns a private registry. It satisfies scanner.Recorder and
// queue.DepthRecorder.
type Collector struct {
	registry *prometheus.Registry

	scans            *prometheus.CounterVec
	scanDuration     *prometheus.HistogramVec
	analyzerDuration *prometheus.HistogramVec
	degraded         *prometheus.CounterVec
	poolInUse        prometheus.Gauge
	queueDepth       prometheus.Gauge
	httpRequests     *prometheus.CounterVec
}

func New(cfg Config) *Collector {
	reg := prometheus.NewRegistry()
	if cfg.Runtime {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg.MustRegister(collectors.NewGoCollector())
	}

	c := &Collector{
		registry: reg,
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "scans_total",
			Help: "Finished scans by terminal status.",
		}, []string{"status"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "scan_duration_seconds",
			Help:    "Wall-clock duration of a scan.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 240},
		}, []string{"status"}),
		analyzerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "analyzer_duration_seconds",
			Help:    "Duration of each analyzer group within a scan.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"group"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "analyzer_degraded_total",
			Help: "Analyzer groups that ended not evaluated.",
		}, []string{"group"}),
		poolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "render_pool_in_use",
			Help: "Rendering contexts currently held.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Jobs ready to run, as last seen by a worker.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "API requests by method and status code.",
		}, []string{"method", "code"}),
	}
	reg.MustRegister(c.scans, c.scanDuration, c.analyzerDuration, c.degraded, c.poolInUse, c.queueDepth, c.httpRequests)
	return c
}

func (c *Collector) ScanFinished(status model.ScanStatus, seconds float64) {
	c.scans.WithLabelValues(string(status)).Inc()
	c.scanDuration.WithLabelValues(string(status)).Observe(seconds)
}

func (c *Collector) AnalyzerFinished(group string, seconds float64, degraded bool) {
	c.analyzerDuration.WithLabelValues(group).Observe(seconds)
	if degraded {
		c.degraded.WithLabelValues(group).Inc()
	}
}

// PoolInUse matches the webclient.Pool observer signature.
func (c *Collector) PoolInUse(n int) {
	c.poolInUse.Set(float64(n))
}

func (c *Collector) QueueDepth(n int64) {
	c.queueDepth.Set(float64(n))
}

// Registry returns the underlying registry, e.g. for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware counts API requests.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		c.httpRequests.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack is needed by the websocket upgrade.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
