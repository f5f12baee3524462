// Package metrics exposes the service's Prometheus collectors. Metric names
// are a monitoring contract; dashboards and alerts reference them verbatim.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Error types used as the processing_errors label. Pre-registered so the
// series exist at value 0 before the first failure.
const (
	ErrorTypeSync    = "sync"
	ErrorTypeOCR     = "ocr"
	ErrorTypeEnqueue = "enqueue"
	ErrorTypeStore   = "store"
	ErrorTypeMailbox = "mailbox"
)

var errorTypes = []string{
	ErrorTypeSync, ErrorTypeOCR, ErrorTypeEnqueue, ErrorTypeStore, ErrorTypeMailbox,
}

// Metrics bundles every collector on a private registry so tests can build
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	NotificationsReceived prometheus.Counter
	EmailsProcessed       prometheus.Counter
	EmailsSkipped         prometheus.Counter
	AttachmentsExtracted  prometheus.Counter
	ProcessingErrors      *prometheus.CounterVec
	OCRCalls              prometheus.Counter
	OCRErrors             prometheus.Counter

	WebhookDuration     prometheus.Histogram
	OCRDuration         prometheus.Histogram
	OCRConfidence       prometheus.Histogram
	HTTPRequestDuration *prometheus.HistogramVec
	BlobPutDuration     prometheus.Histogram

	ActiveWatches prometheus.Gauge
}

// New registers all collectors and initializes every series to zero so
// rate() works from the first scrape.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		NotificationsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_received",
			Help: "Push notifications accepted by the webhook.",
		}),
		EmailsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emails_processed",
			Help: "Messages fully processed by the mailbox sync worker.",
		}),
		EmailsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emails_skipped",
			Help: "Messages skipped as already processed or in flight.",
		}),
		AttachmentsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attachments_extracted",
			Help: "Attachments with a completed extraction document.",
		}),
		ProcessingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processing_errors",
			Help: "Pipeline failures by stage.",
		}, []string{"type"}),
		OCRCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocr_calls",
			Help: "Document analysis requests issued.",
		}),
		OCRErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocr_errors",
			Help: "Document analysis requests that failed.",
		}),
		WebhookDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "webhook_duration_seconds",
			Help:    "Webhook handling time.",
			Buckets: prometheus.DefBuckets,
		}),
		OCRDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ocr_duration_seconds",
			Help:    "End-to-end document analysis time, including async polling.",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		OCRConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ocr_confidence",
			Help:    "Aggregate confidence of completed extractions (0-100).",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 100},
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "API request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		BlobPutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blob_put_duration_seconds",
			Help:    "Staging bucket upload time.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveWatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_watches",
			Help: "Mailboxes with a live push watch.",
		}),
	}

	reg.MustRegister(
		m.NotificationsReceived, m.EmailsProcessed, m.EmailsSkipped,
		m.AttachmentsExtracted, m.ProcessingErrors, m.OCRCalls, m.OCRErrors,
		m.WebhookDuration, m.OCRDuration, m.OCRConfidence,
		m.HTTPRequestDuration, m.BlobPutDuration, m.ActiveWatches,
	)

	for _, typ := range errorTypes {
		m.ProcessingErrors.WithLabelValues(typ).Add(0)
	}
	m.ActiveWatches.Set(0)

	return m
}

// Registry exposes the underlying registry for test gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a plain scrape listener on addr until ctx ends, then closes
// the listener. Run it in its own goroutine next to the main server.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", addr).Msg("metrics listener started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
