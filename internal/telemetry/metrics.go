// Package telemetry exposes DroneD's optional Prometheus metrics:
// module-level promauto vars under a shared namespace, with the blaster
// server, supervisor, and journal code calling straight into them
// rather than threading a metrics handle everywhere.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Commands ───────────────────────────────────────────────────────────

// CommandsAccepted counts blaster commands that passed verification, per
// action name.
var CommandsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "droned",
	Name:      "commands_accepted_total",
	Help:      "Total blaster commands that passed signature and magic verification.",
}, []string{"action"})

// CommandsRejected counts blaster commands rejected at verification, by
// cause.
var CommandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "droned",
	Name:      "commands_rejected_total",
	Help:      "Total blaster commands rejected before dispatch.",
}, []string{"reason"})

// CommandLatency tracks how long a dispatched action takes to run.
var CommandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "droned",
	Name:      "command_latency_seconds",
	Help:      "Action execution duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"action"})

// ─── Applications ───────────────────────────────────────────────────────

// AppCrashes counts detected crashes, per instance key ("<app>/<label>").
var AppCrashes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "droned",
	Name:      "app_crashes_total",
	Help:      "Total crashes detected across all supervised applications.",
}, []string{"label"})

// AppRestarts counts automatic restarts triggered by the crash-detection
// sweep, per instance key ("<app>/<label>").
var AppRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "droned",
	Name:      "app_restarts_total",
	Help:      "Total automatic restarts performed by the crash sweep.",
}, []string{"label"})

// AppsRunning tracks the current count of applications in the "up" state.
var AppsRunning = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "droned",
	Name:      "apps_running",
	Help:      "Number of supervised applications currently running.",
})

// ─── Primes ──────────────────────────────────────────────────────────────

// PrimesIssued counts nonces issued via /_getprime.
var PrimesIssued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "droned",
	Name:      "primes_issued_total",
	Help:      "Total one-shot primes issued.",
})

// PrimesActive tracks currently redeemable primes.
var PrimesActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "droned",
	Name:      "primes_active",
	Help:      "Number of currently active, redeemable primes.",
})

// ─── Journal ────────────────────────────────────────────────────────────

// JournalSnapshots counts successful periodic snapshots.
var JournalSnapshots = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "droned",
	Name:      "journal_snapshots_total",
	Help:      "Total journal snapshots written.",
})

// JournalErrors counts corrupt-snapshot detections.
var JournalErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "droned",
	Name:      "journal_errors_total",
	Help:      "Total corrupt snapshot files quarantined.",
})
