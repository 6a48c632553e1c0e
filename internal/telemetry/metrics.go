package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/event"
	"github.com/victornm/testlink/internal/score"
)

const namespace = "testlink"

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Latency of HTTP requests by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	linksIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "links_issued_total",
		Help:      "Test links issued.",
	})

	testsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tests_started_total",
		Help:      "Test links consumed by a start.",
	})

	resultsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "results_recorded_total",
		Help:      "Results recorded by test name.",
	}, []string{"test"})

	resultPercentage = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "result_percentage",
		Help:      "Distribution of result percentages.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})
)

// MonitorEvents counts domain events published on eb.
func MonitorEvents(eb *event.Bus) {
	eb.Subscribe(domain.EventNameLinkIssued, func(context.Context, event.Event) error {
		linksIssued.Inc()
		return nil
	})

	eb.Subscribe(domain.EventNameTestStarted, func(context.Context, event.Event) error {
		testsStarted.Inc()
		return nil
	})

	eb.Subscribe(domain.EventNameResultRecorded, func(_ context.Context, e event.Event) error {
		r := e.(domain.EventResultRecorded).Result
		resultsRecorded.WithLabelValues(r.TestName).Inc()
		resultPercentage.Observe(float64(score.Percentage(r.Score, r.TotalQuestions)))
		return nil
	})
}
