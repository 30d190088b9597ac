package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MichaelUrman/bookstore/internal/domain/model"
)

type Recorder struct {
	registry      *prometheus.Registry
	purchases     *prometheus.CounterVec
	reconcile     *prometheus.CounterVec
	verifyLatency *prometheus.HistogramVec
	downloads     *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookstore",
			Name:      "purchase_events_total",
			Help:      "Committed purchase changes by event type, resulting status and source.",
		}, []string{"type", "status", "source"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookstore",
			Name:      "payment_notifications_total",
			Help:      "Inbound payment notifications by reconcile outcome.",
		}, []string{"outcome"}),
		verifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookstore",
			Name:      "payment_verify_duration_seconds",
			Help:      "Latency of the processor verification postback.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookstore",
			Name:      "downloads_total",
			Help:      "Publication downloads by purchase kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.purchases,
		r.reconcile,
		r.verifyLatency,
		r.downloads,
	)
	return r
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Name() string {
	return "metrics"
}

func (r *Recorder) OnPurchaseEvent(_ context.Context, event model.PurchaseEvent) error {
	if r == nil {
		return nil
	}
	r.purchases.WithLabelValues(string(event.Type), string(event.Purchase.Status), event.Source).Inc()
	return nil
}

func (r *Recorder) ReconcileOutcome(outcome string) {
	if r == nil {
		return
	}
	r.reconcile.WithLabelValues(outcome).Inc()
}

func (r *Recorder) VerifyDuration(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.verifyLatency.WithLabelValues(result).Observe(d.Seconds())
}

func (r *Recorder) Download(kind string) {
	if r == nil {
		return
	}
	r.downloads.WithLabelValues(kind).Inc()
}
