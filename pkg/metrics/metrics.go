// Package metrics exposes crawl and collection counters to Prometheus.
//
// Every method is safe to call on a nil *Metrics so components can run without metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for postpulse.
type Metrics struct {
	CrawlSteps         *prometheus.CounterVec
	CrawlStepDuration  prometheus.Histogram
	AccountsDownloaded prometheus.Counter
	FrontierSize       *prometheus.GaugeVec
	RateLimited        *prometheus.CounterVec
	AccountsCollected  *prometheus.CounterVec
	PostsFetched       prometheus.Counter
	FetchDuration      prometheus.Histogram
	APIRequests        *prometheus.CounterVec
	GraphErrors        prometheus.Counter
}

// New registers the metrics with reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		CrawlSteps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postpulse_crawl_steps_total",
			Help: "Follow-chain steps by outcome.",
		}, []string{"outcome"}), // ok, unavailable, error
		CrawlStepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "postpulse_crawl_step_duration_seconds",
			Help:    "Duration of follow-chain steps, rate-limit waits included.",
			Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900},
		}),
		AccountsDownloaded: f.NewCounter(prometheus.CounterOpts{
			Name: "postpulse_accounts_downloaded_total",
			Help: "Account profiles persisted by the crawler.",
		}),
		FrontierSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "postpulse_frontier_size",
			Help: "Handles waiting in the current and next generation.",
		}, []string{"generation"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postpulse_rate_limited_total",
			Help: "Rate-limit responses by operation.",
		}, []string{"operation"}),
		AccountsCollected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postpulse_accounts_collected_total",
			Help: "Timeline collection jobs by outcome.",
		}, []string{"outcome"}), // fetched, skipped, unavailable, failed
		PostsFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "postpulse_posts_fetched_total",
			Help: "Posts downloaded from timelines.",
		}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "postpulse_timeline_fetch_duration_seconds",
			Help:    "Duration of full timeline fetches.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postpulse_api_requests_total",
			Help: "Requests sent to the data source by endpoint and status.",
		}, []string{"endpoint", "status"}),
		GraphErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "postpulse_graph_errors_total",
			Help: "Failed follow-graph writes.",
		}),
	}
}

func (m *Metrics) ObserveStep(outcome string, d time.Duration, newAccounts int) {
	if m == nil {
		return
	}
	m.CrawlSteps.WithLabelValues(outcome).Inc()
	m.CrawlStepDuration.Observe(d.Seconds())
	m.AccountsDownloaded.Add(float64(newAccounts))
}

func (m *Metrics) SetFrontier(current, next int) {
	if m == nil {
		return
	}
	m.FrontierSize.WithLabelValues("current").Set(float64(current))
	m.FrontierSize.WithLabelValues("next").Set(float64(next))
}

func (m *Metrics) IncRateLimited(operation string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncCollected(outcome string) {
	if m == nil {
		return
	}
	m.AccountsCollected.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFetch(posts int, d time.Duration) {
	if m == nil {
		return
	}
	m.PostsFetched.Add(float64(posts))
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) IncAPIRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func (m *Metrics) IncGraphError() {
	if m == nil {
		return
	}
	m.GraphErrors.Inc()
}
