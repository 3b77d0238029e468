package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	vidcut = "vidcut"

	jobsStartedTotal        = "jobs_started_total"
	jobsFinishedTotal       = "jobs_finished_total"
	jobsRunning             = "jobs_running"
	externalProcessSeconds  = "external_process_duration_seconds"
	credentialRefreshTotal  = "credential_refresh_total"
	credentialLastRefreshTS = "credential_last_refresh_timestamp_seconds"

	// Labels
	kindLabel     = "kind"
	statusLabel   = "status"
	commandLabel  = "command"
	outcomeLabel  = "outcome"
	platformLabel = "platform"
	resultLabel   = "result"
)

var jobsStartedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: vidcut,
		Name:      jobsStartedTotal,
		Help:      "number of jobs dispatched",
	},
	[]string{kindLabel},
)

var jobsFinishedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: vidcut,
		Name:      jobsFinishedTotal,
		Help:      "number of jobs that reached a terminal state",
	},
	[]string{kindLabel, statusLabel},
)

var jobsRunningMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: vidcut,
		Name:      jobsRunning,
		Help:      "number of jobs currently in flight",
	},
	[]string{kindLabel},
)

var externalProcessSecondsMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: vidcut,
		Name:      externalProcessSeconds,
		Help:      "wall-clock duration of external download and cut processes",
		Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
	},
	[]string{commandLabel, outcomeLabel},
)

var credentialRefreshTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: vidcut,
		Name:      credentialRefreshTotal,
		Help:      "number of credential refresh attempts per platform",
	},
	[]string{platformLabel, resultLabel},
)

var credentialLastRefreshMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: vidcut,
		Name:      credentialLastRefreshTS,
		Help:      "unix time of the last successful credential refresh",
	},
	[]string{platformLabel},
)

func IncreaseJobsStartedMetric(kind string) {
	jobsStartedTotalMetric.With(prometheus.Labels{kindLabel: kind}).Inc()
	jobsRunningMetric.With(prometheus.Labels{kindLabel: kind}).Inc()
}

func IncreaseJobsFinishedMetric(kind, status string) {
	jobsFinishedTotalMetric.With(prometheus.Labels{kindLabel: kind, statusLabel: status}).Inc()
	jobsRunningMetric.With(prometheus.Labels{kindLabel: kind}).Dec()
}

func ObserveExternalProcessMetric(command, outcome string, d time.Duration) {
	externalProcessSecondsMetric.With(prometheus.Labels{commandLabel: command, outcomeLabel: outcome}).Observe(d.Seconds())
}

func IncreaseCredentialRefreshMetric(platform string, ok bool) {
	result := "failed"
	if ok {
		result = "successful"
		credentialLastRefreshMetric.With(prometheus.Labels{platformLabel: platform}).SetToCurrentTime()
	}
	credentialRefreshTotalMetric.With(prometheus.Labels{platformLabel: platform, resultLabel: result}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsStartedTotalMetric)
	prometheus.MustRegister(jobsFinishedTotalMetric)
	prometheus.MustRegister(jobsRunningMetric)
	prometheus.MustRegister(externalProcessSecondsMetric)
	prometheus.MustRegister(credentialRefreshTotalMetric)
	prometheus.MustRegister(credentialLastRefreshMetric)
}
