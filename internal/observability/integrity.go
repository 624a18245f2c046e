package observability

import (
	"go.uber.org/zap"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/metrics"
)

// ReportIntegrity — лог + метрика + sentry. Запрос при этом не падает.
func ReportIntegrity(log *zap.Logger, w apperr.IntegrityWarning) {
	if log != nil {
		log.Warn("integrity warning",
			zap.String("subject", w.Subject),
			zap.String("detail", w.Detail),
			zap.Int64s("ids", w.IDs),
		)
	}
	metrics.IntegrityWarnings.WithLabelValues(w.Subject).Inc()
	CaptureWarning(w)
}
