// Package metrics exposes Prometheus instrumentation for supervised
// programs.
package metrics

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	processRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "warden",
		Name:      "process_running",
		Help:      "Whether the supervised process is currently running (1=running, 0=not).",
	}, []string{"program"})

	processStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "process_starts_total",
		Help:      "Total number of processes started per program.",
	}, []string{"program"})

	processExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "process_exits_total",
		Help:      "Total number of process exits per program, labelled by outcome.",
	}, []string{"program", "outcome"})

	processFaults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "faults_total",
		Help:      "Total number of internal supervisor failures, labelled by kind.",
	}, []string{"program", "kind"})

	signalDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "signal_deliveries_total",
		Help:      "Total number of logical signal deliveries attempted per program.",
	}, []string{"program", "signal"})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "warden",
		Name:      "run_duration_seconds",
		Help:      "Wall time of completed run generations in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
	}, []string{"program"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "warden",
		Name:      "build_info",
		Help:      "Build metadata for the running warden binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(processRunning, processStarts, processExits,
		processFaults, signalDeliveries, runDuration, buildInfo)
}

// Registry returns the Prometheus registry containing all warden metrics.
func Registry() *prometheus.Registry {
	return registry
}

// Handler returns an HTTP handler serving the warden registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SetProcessRunning records whether a program's process is live.
func SetProcessRunning(program string, running bool) {
	if program == "" {
		return
	}
	value := 0.0
	if running {
		value = 1.0
	}
	processRunning.WithLabelValues(program).Set(value)
}

// IncrementProcessStart counts one started process for a program.
func IncrementProcessStart(program string) {
	if program == "" {
		return
	}
	processStarts.WithLabelValues(program).Inc()
}

// ObserveProcessExit counts a process exit and records its run duration.
func ObserveProcessExit(program string, success bool, d time.Duration) {
	if program == "" {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	processExits.WithLabelValues(program, outcome).Inc()
	runDuration.WithLabelValues(program).Observe(d.Seconds())
}

// IncrementFault counts an internal failure of the given kind.
func IncrementFault(program, kind string) {
	if program == "" || kind == "" {
		return
	}
	processFaults.WithLabelValues(program, kind).Inc()
}

// IncrementSignalDelivery counts one attempted logical signal delivery.
func IncrementSignalDelivery(program, signal string) {
	if program == "" || signal == "" {
		return
	}
	signalDeliveries.WithLabelValues(program, signal).Inc()
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
