// Package metrics exposes Prometheus counters and histograms for the
// update pipeline's outcomes. This is ambient observability: nothing in
// the update path depends on it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry singleton for this process.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(prometheus.NewGoCollector())
}

var (
	// ChecksTotal counts checkForUpdates outcomes by result.
	ChecksTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "updater_checks_total",
		Help: "Update checks performed, labeled by outcome.",
	}, []string{"outcome"})

	// DownloadsTotal counts DownloadBundle outcomes by result.
	DownloadsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "updater_downloads_total",
		Help: "Bundle downloads performed, labeled by outcome.",
	}, []string{"outcome"})

	// DownloadDuration records how long DownloadBundle takes end to end.
	DownloadDuration = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "updater_download_duration_seconds",
		Help:    "Time to fetch, verify, and extract a bundle.",
		Buckets: prometheus.DefBuckets,
	})

	// RollbacksTotal counts BundleRegistry.Rollback invocations.
	RollbacksTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "updater_rollbacks_total",
		Help: "Automatic or manual rollbacks to the fallback/builtin bundle.",
	})

	// AppReadyWatchdogTimeouts counts app-ready watchdog deadlines that fired before notifyAppReady.
	AppReadyWatchdogTimeouts = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "updater_app_ready_watchdog_timeouts_total",
		Help: "App-ready watchdog deadlines reached without a confirming notifyAppReady call.",
	})
)

// Handler returns an http.Handler serving this registry in the
// Prometheus exposition format, for hosts that want to mount /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
