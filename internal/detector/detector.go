// Package detector — ночной поиск пропущенных занятий: что стояло в расписании,
// не было закрыто и так и не было отмечено.
package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/ctxutil"
	"github.com/Spok95/attendance-engine/internal/logging"
	"github.com/Spok95/attendance-engine/internal/metrics"
	"github.com/Spok95/attendance-engine/internal/models"
	"github.com/Spok95/attendance-engine/internal/override"
)

type Store interface {
	SessionConducted(ctx context.Context, class models.ClassIdentity, date time.Time, period int) (bool, error)
	QueueMissed(ctx context.Context, e models.MissedSessionEntry) (bool, error)
	RefreshDaysPending(ctx context.Context, today time.Time) (int, error)
}

type Schedule interface {
	IsWeeklyHoliday(day time.Weekday) bool
	SlotsOn(ctx context.Context, day time.Weekday) ([]models.ScheduleSlot, error)
}

type Closures interface {
	ClosuresOn(ctx context.Context, date time.Time) (*override.DayClosures, error)
}

type Service struct {
	store    Store
	sched    Schedule
	closures Closures
	loc      *time.Location
	log      *zap.Logger

	Now func() time.Time
	// OnComplete — после прогона за дату (уведомления).
	OnComplete func(ctx context.Context, r Result)
}

func New(store Store, sched Schedule, closures Closures, loc *time.Location, log *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, sched: sched, closures: closures, loc: loc, log: logging.OrNop(log), Now: time.Now}
}

// Result — сводка прогона. Ошибки по отдельным ячейкам не прерывают прогон.
type Result struct {
	RunID         string    `json:"runId"`
	Date          time.Time `json:"date"`
	Skipped       bool      `json:"skipped"`
	SkipReason    string    `json:"skipReason,omitempty"`
	Scanned       int       `json:"scanned"`
	NewlyMissed   int       `json:"newlyMissed"`
	AlreadyQueued int       `json:"alreadyQueued"`
	Closed        int       `json:"closed"`
	Failed        int       `json:"failed"`
	Warnings      int       `json:"warnings"`
	Errors        []string  `json:"errors,omitempty"`
}

func (s *Service) today() time.Time { return models.Today(s.Now(), s.loc) }

// RunDailyDetection — прогон за день, предшествующий asOf («правило полуночи»).
func (s *Service) RunDailyDetection(ctx context.Context, asOf time.Time) (Result, error) {
	return s.DetectDate(ctx, models.Day(asOf).AddDate(0, 0, -1))
}

// DetectDate — прогон за конкретную прошедшую дату. Повторный прогон безопасен.
func (s *Service) DetectDate(ctx context.Context, date time.Time) (Result, error) {
	res, err := s.detect(ctx, models.Day(date), nil)
	if err == nil && s.OnComplete != nil {
		s.OnComplete(ctx, res)
	}
	return res, err
}

// DetectClass — повторный прогон по одной группе (после сброса замка).
func (s *Service) DetectClass(ctx context.Context, date time.Time, class models.ClassIdentity) (Result, error) {
	c := class.Normalize()
	return s.detect(ctx, models.Day(date), &c)
}

// RunRange — догоняющий прогон по каждой прошедшей дате [from, to].
// Сбой одной даты не останавливает остальные: он попадает в её Result.Errors
// и в общую ошибку.
func (s *Service) RunRange(ctx context.Context, from, to time.Time) ([]Result, error) {
	yesterday := s.today().AddDate(0, 0, -1)
	if to.IsZero() || models.Day(to).After(yesterday) {
		to = yesterday
	}
	var (
		out  []Result
		errs []error
	)
	for _, d := range models.DateRange(from, to) {
		if err := ctx.Err(); err != nil {
			return out, errors.Join(append(errs, err)...)
		}
		res, err := s.DetectDate(ctx, d)
		if err != nil {
			err = fmt.Errorf("detect %s: %w", models.FormatDate(d), err)
			res.Date = models.Day(d)
			res.Failed++
			res.Errors = append(res.Errors, err.Error())
			errs = append(errs, err)
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

func (s *Service) detect(ctx context.Context, date time.Time, only *models.ClassIdentity) (Result, error) {
	res := Result{RunID: uuid.NewString(), Date: date}
	if !date.Before(s.today()) {
		return res, apperr.Validation("detection is only allowed for past dates",
			apperr.Field("date", "must be before today"))
	}

	ctx = ctxutil.WithOp(ctx, "detector.detect")
	log := logging.With(ctx, s.log).With(zap.String("run_id", res.RunID), zap.String("date", models.FormatDate(date)))
	if only != nil {
		log = log.With(zap.String("class", only.Key()))
	}

	if s.sched.IsWeeklyHoliday(date.Weekday()) {
		res.Skipped, res.SkipReason = true, "weekly holiday"
		log.Info("detection skipped", zap.String("reason", res.SkipReason))
		return res, nil
	}
	dc, err := s.closures.ClosuresOn(ctx, date)
	if err != nil {
		return res, err
	}
	res.Warnings = len(dc.Warnings)
	if o := dc.SchoolWide(); o != nil {
		res.Skipped, res.SkipReason = true, "closed: "+o.Name
		log.Info("detection skipped", zap.String("reason", res.SkipReason), zap.Int64("override_id", o.ID))
		return res, nil
	}

	slots, err := s.sched.SlotsOn(ctx, date.Weekday())
	if err != nil {
		return res, err
	}
	detectedAt := s.Now().UTC()
	for _, sl := range slots {
		if only != nil && sl.Class.Key() != only.Key() {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, err.Error())
			break
		}
		res.Scanned++
		if dc.ForPeriod(sl.Class, sl.PeriodNumber) != nil {
			res.Closed++
			continue
		}
		held, err := s.store.SessionConducted(ctx, sl.Class, date, sl.PeriodNumber)
		if err != nil {
			s.fail(&res, log, sl, err)
			continue
		}
		if held {
			continue
		}
		created, err := s.store.QueueMissed(ctx, models.MissedSessionEntry{
			Class:        sl.Class,
			SubjectID:    sl.SubjectID,
			MissedDate:   date,
			PeriodNumber: sl.PeriodNumber,
			DayOfWeek:    date.Weekday(),
			DetectedAt:   detectedAt,
			Priority:     models.PriorityNormal,
			DaysPending:  models.DaysBetween(date, s.today()),
		})
		if err != nil {
			s.fail(&res, log, sl, err)
			continue
		}
		if created {
			res.NewlyMissed++
		} else {
			res.AlreadyQueued++
		}
	}

	if _, err := s.store.RefreshDaysPending(ctx, s.today()); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("refresh days pending: %v", err))
	}

	metrics.DetectionScanned.Add(float64(res.Scanned))
	metrics.MissedDetected.Add(float64(res.NewlyMissed))
	log.Info("detection finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("newly_missed", res.NewlyMissed),
		zap.Int("already_queued", res.AlreadyQueued),
		zap.Int("closed", res.Closed),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (s *Service) fail(res *Result, log *zap.Logger, sl models.ScheduleSlot, err error) {
	res.Failed++
	res.Errors = append(res.Errors, fmt.Sprintf("%s period %d: %v", sl.Class.Key(), sl.PeriodNumber, err))
	metrics.DetectionFailures.Inc()
	log.Warn("detection item failed",
		zap.String("class", sl.Class.Key()),
		zap.Int("period", sl.PeriodNumber),
		zap.Error(err),
	)
}
