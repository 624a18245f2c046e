package observability

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/Spok95/attendance-engine/internal/apperr"
)

func InitSentry(dsn, env, release string) (func(), error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
		Release:     release,
	}); err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// CaptureErr — в sentry уходят только системные ошибки; отказ валидации,
// конфликт и not found — нормальная работа.
func CaptureErr(err error) {
	if err == nil {
		return
	}
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidArgument, apperr.CodeConflict, apperr.CodeNotFound,
		apperr.CodeAlreadyCompleted, apperr.CodeUnauthenticated:
		return
	}
	sentry.CaptureException(err)
}

// CaptureWarning — нарушение целостности для разбора оператором.
func CaptureWarning(w apperr.IntegrityWarning) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("subject", w.Subject)
		sentry.CaptureMessage(w.String())
	})
}
