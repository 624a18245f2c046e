// Package lock — замки финализации сессий: просмотр, ручная установка
// и аудируемый сброс.
package lock

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/ctxutil"
	"github.com/Spok95/attendance-engine/internal/logging"
	"github.com/Spok95/attendance-engine/internal/metrics"
	"github.com/Spok95/attendance-engine/internal/models"
)

type Store interface {
	AcquireLock(ctx context.Context, m models.LockMarker) error
	GetLock(ctx context.Context, date time.Time, unit models.Unit, scope string) (*models.LockMarker, error)
	ListLocks(ctx context.Context, date time.Time) ([]models.LockMarker, error)
	ResetLock(ctx context.Context, r models.LockReset) (models.LockReset, error)
	LockResets(ctx context.Context, date time.Time) ([]models.LockReset, error)
}

type Service struct {
	store Store
	log   *zap.Logger

	Now func() time.Time
	// OnReset вызывается после успешного сброса (перерасчёт пропусков).
	OnReset func(ctx context.Context, r models.LockReset)
}

func New(store Store, log *zap.Logger) *Service {
	return &Service{store: store, log: logging.OrNop(log), Now: time.Now}
}

func validKey(date time.Time, unit models.Unit, scope string) error {
	var fields []apperr.FieldError
	if date.IsZero() {
		fields = append(fields, apperr.Field("date", "required"))
	}
	if !unit.Valid() {
		fields = append(fields, apperr.Field("unit", "must be a period number or a prayer"))
	}
	if scope == "" {
		fields = append(fields, apperr.Field("scope", "required"))
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid lock key", fields...)
	}
	return nil
}

func (s *Service) IsLocked(ctx context.Context, date time.Time, unit models.Unit, scope string) (bool, error) {
	m, err := s.Get(ctx, date, unit, scope)
	return m != nil, err
}

func (s *Service) Get(ctx context.Context, date time.Time, unit models.Unit, scope string) (*models.LockMarker, error) {
	if err := validKey(date, unit, scope); err != nil {
		return nil, err
	}
	return s.store.GetLock(ctx, models.Day(date), unit, scope)
}

func (s *Service) List(ctx context.Context, date time.Time) ([]models.LockMarker, error) {
	if date.IsZero() {
		return nil, apperr.Validation("invalid lock key", apperr.Field("date", "required"))
	}
	return s.store.ListLocks(ctx, models.Day(date))
}

// Resets — журнал сбросов за дату.
func (s *Service) Resets(ctx context.Context, date time.Time) ([]models.LockReset, error) {
	if date.IsZero() {
		return nil, apperr.Validation("invalid lock key", apperr.Field("date", "required"))
	}
	return s.store.LockResets(ctx, models.Day(date))
}

// Lock ставит замок без записей; занятый замок — CONFLICT.
func (s *Service) Lock(ctx context.Context, date time.Time, unit models.Unit, scope string, recordCount int) (models.LockMarker, error) {
	actor, err := ctxutil.RequireActor(ctx)
	if err != nil {
		return models.LockMarker{}, err
	}
	if err := validKey(date, unit, scope); err != nil {
		return models.LockMarker{}, err
	}
	m := models.LockMarker{
		Date:        models.Day(date),
		Unit:        unit,
		Scope:       scope,
		RecordCount: recordCount,
		LockedBy:    actor,
		LockedAt:    s.Now().UTC(),
	}
	if err := s.store.AcquireLock(ctx, m); err != nil {
		if apperr.IsConflict(err) {
			metrics.LockConflicts.Inc()
		}
		return models.LockMarker{}, err
	}
	return m, nil
}

// Unlock снимает замок и удаляет записанное под ним; отработки на этом слоте
// возвращаются в очередь. Причина обязательна.
func (s *Service) Unlock(ctx context.Context, date time.Time, unit models.Unit, scope, reason string) (models.LockReset, error) {
	actor, err := ctxutil.RequireActor(ctx)
	if err != nil {
		return models.LockReset{}, err
	}
	if err := validKey(date, unit, scope); err != nil {
		return models.LockReset{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.LockReset{}, apperr.Validation("invalid lock reset", apperr.Field("reason", "required"))
	}

	r, err := s.store.ResetLock(ctx, models.LockReset{
		Date:    models.Day(date),
		Unit:    unit,
		Scope:   scope,
		Reason:  reason,
		ResetBy: actor,
		ResetAt: s.Now().UTC(),
	})
	if err != nil {
		return models.LockReset{}, err
	}
	metrics.LockResets.Inc()
	logging.With(ctx, s.log).Warn("lock reset",
		zap.String("date", models.FormatDate(r.Date)),
		zap.String("unit", r.Unit.Key()),
		zap.String("scope", r.Scope),
		zap.String("reason", r.Reason),
		zap.Int("deleted_records", r.DeletedRecords),
		zap.Int("reopened_makeups", r.ReopenedMakeups),
	)
	if s.OnReset != nil {
		s.OnReset(ctx, r)
	}
	return r, nil
}
