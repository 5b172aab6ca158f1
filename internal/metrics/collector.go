package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"drive2youtube/internal/progress"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Item outcome labels
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusInvalid = "invalid"
)

// Collector collects and exposes metrics
type Collector struct {
	registry        *prometheus.Registry
	itemsTotal      *prometheus.CounterVec
	uploadPercent   prometheus.Gauge
	duration        prometheus.Histogram
	progressTracker *progress.Tracker

	serverMu sync.Mutex
	server   *http.Server
	stopped  bool
}

// New creates a new metrics collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrate_items_total",
				Help: "Total number of work items by outcome",
			},
			[]string{"status"},
		),
		uploadPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "migrate_upload_percent",
				Help: "Upload progress of the item currently in flight",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "migrate_item_duration_seconds",
				Help:    "Time taken to migrate an item",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
		),
		progressTracker: progress.NewTracker(),
	}

	c.registry.MustRegister(c.itemsTotal, c.uploadPercent, c.duration)

	return c
}

// IncSuccess increments the successful item counter
func (c *Collector) IncSuccess() {
	c.itemsTotal.WithLabelValues(StatusSuccess).Inc()
	c.progressTracker.AddSuccess()
}

// IncFailed increments the failed item counter
func (c *Collector) IncFailed() {
	c.itemsTotal.WithLabelValues(StatusFailed).Inc()
	c.progressTracker.AddFailed()
}

// IncSkipped increments the already-completed item counter
func (c *Collector) IncSkipped() {
	c.itemsTotal.WithLabelValues(StatusSkipped).Inc()
	c.progressTracker.AddSkipped()
}

// IncInvalid increments the unparseable row counter
func (c *Collector) IncInvalid() {
	c.itemsTotal.WithLabelValues(StatusInvalid).Inc()
	c.progressTracker.AddInvalid()
}

// StartItem marks an item as in flight
func (c *Collector) StartItem(id string) {
	c.uploadPercent.Set(0)
	c.progressTracker.StartItem(id)
}

// SetUploadPercent records the in-flight upload progress
func (c *Collector) SetUploadPercent(percent float64) {
	c.uploadPercent.Set(percent)
	c.progressTracker.SetCurrentPercent(percent)
}

// ObserveDuration observes item migration duration
func (c *Collector) ObserveDuration(duration time.Duration) {
	c.duration.Observe(duration.Seconds())
}

// Registry exposes the registry backing this collector
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// StartServer serves /metrics on addr until the server fails or Shutdown is called
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.serverMu.Lock()
	if c.stopped {
		c.serverMu.Unlock()
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	c.server = srv
	c.serverMu.Unlock()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the metrics server. A server started afterwards returns at once.
func (c *Collector) Shutdown(ctx context.Context) error {
	c.serverMu.Lock()
	defer c.serverMu.Unlock()

	c.stopped = true
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// GetProgressTracker returns the progress tracker
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}

// SetTotalItems sets the number of data rows for progress tracking
func (c *Collector) SetTotalItems(items int64) {
	c.progressTracker.SetTotal(items)
}
