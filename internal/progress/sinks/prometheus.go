package sinks

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tributolabs/iptu-scraper/internal/progress"
)

// PrometheusSink exports progress events as Prometheus metrics.
type PrometheusSink struct {
	events         *prometheus.CounterVec
	rateLimited    prometheus.Counter
	scrapeDuration prometheus.Histogram
	batchProcessed prometheus.Gauge
	batchTotal     prometheus.Gauge
	batchSucceeded prometheus.Gauge
	batchFailed    prometheus.Gauge
}

var _ progress.Sink = (*PrometheusSink)(nil)

// NewPrometheusSink registers the progress metrics on reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iptu_progress_events_total",
			Help: "Progress events observed, by stage.",
		}, []string{"stage"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iptu_rate_limited_errors_total",
			Help: "Scrape failures attributed to site throttling.",
		}),
		scrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "iptu_scrape_duration_seconds",
			Help:    "Time spent per finished scrape, success or failure.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 8),
		}),
		batchProcessed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iptu_batch_processed",
			Help: "Jobs processed in the current batch.",
		}),
		batchTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iptu_batch_total",
			Help: "Jobs in the current batch.",
		}),
		batchSucceeded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iptu_batch_succeeded",
			Help: "Successful jobs in the current batch.",
		}),
		batchFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iptu_batch_failed",
			Help: "Failed jobs in the current batch.",
		}),
	}

	for _, c := range []prometheus.Collector{
		s.events, s.rateLimited, s.scrapeDuration,
		s.batchProcessed, s.batchTotal, s.batchSucceeded, s.batchFailed,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Consume updates the metrics from each event.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Stage)).Inc()
		switch evt.Stage {
		case progress.StageScrapeDone:
			s.scrapeDuration.Observe(evt.Dur.Seconds())
		case progress.StageScrapeError:
			s.scrapeDuration.Observe(evt.Dur.Seconds())
			if evt.RateLimited {
				s.rateLimited.Inc()
			}
		case progress.StageBatchProgress:
			s.batchProcessed.Set(float64(evt.Processed))
			s.batchTotal.Set(float64(evt.Total))
			s.batchSucceeded.Set(float64(evt.Succeeded))
			s.batchFailed.Set(float64(evt.Failed))
		}
	}
	return nil
}

// Close is a no-op; metrics stay registered for scraping.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
