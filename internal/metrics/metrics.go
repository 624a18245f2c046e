package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance", Name: "submissions_total", Help: "Live submission batches by outcome",
	}, []string{"outcome"})
	RecordsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance", Name: "records_written_total", Help: "Submission records written by source",
	}, []string{"source"})
	LockConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance", Name: "lock_conflicts_total", Help: "Submissions rejected by an existing lock",
	})
	LockResets = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance", Name: "lock_resets_total", Help: "Manual lock resets",
	})
	DetectionScanned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance", Name: "detection_slots_scanned_total", Help: "Schedule slots examined by the detector",
	})
	MissedDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance", Name: "missed_sessions_detected_total", Help: "Newly queued missed sessions",
	})
	DetectionFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance", Name: "detection_item_failures_total", Help: "Per-slot failures during detection",
	})
	MakeupsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance", Name: "makeups_completed_total", Help: "Missed sessions completed by makeup",
	})
	IntegrityWarnings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance", Name: "integrity_warnings_total", Help: "Non-fatal data integrity warnings",
	}, []string{"subject"})
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendance", Name: "http_request_seconds", Help: "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "code"})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "attendance", Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(Submissions, RecordsWritten, LockConflicts, LockResets,
		DetectionScanned, MissedDetected, DetectionFailures, MakeupsCompleted,
		IntegrityWarnings, HTTPDuration, DBPing)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }
