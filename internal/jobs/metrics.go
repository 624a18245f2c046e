package jobs

import "github.com/prometheus/client_golang/prometheus"

// Метрики фоновых задач; метка job — имя из Every/Daily/Run.
var (
	jobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_job_runs_total",
		Help: "Background job runs by outcome",
	}, []string{"job", "outcome"})

	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attendance_job_duration_seconds",
		Help:    "Background job duration in seconds",
		Buckets: []float64{.05, .1, .5, 1, 5, 15, 60, 300},
	}, []string{"job"})

	// время последнего успешного прогона: алерт, если ночная сверка застряла
	jobLastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "attendance_job_last_success_timestamp_seconds",
		Help: "Unix time of the last successful job run",
	}, []string{"job"})
)

func init() {
	prometheus.MustRegister(jobRuns, jobDuration, jobLastSuccess)
}
