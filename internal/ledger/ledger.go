// Package ledger — журнал отметок и живой путь их записи под замком.
package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/ctxutil"
	"github.com/Spok95/attendance-engine/internal/logging"
	"github.com/Spok95/attendance-engine/internal/metrics"
	"github.com/Spok95/attendance-engine/internal/models"
	"github.com/Spok95/attendance-engine/internal/override"
)

type Store interface {
	Student(ctx context.Context, id int64) (models.Student, error)
	StudentsInClass(ctx context.Context, class models.ClassIdentity) ([]models.Student, error)
	SubmitLocked(ctx context.Context, m models.LockMarker, recs []models.SubmissionRecord) error
	SessionConducted(ctx context.Context, class models.ClassIdentity, date time.Time, period int) (bool, error)
	RecordsFor(ctx context.Context, f models.RecordFilter) ([]models.SubmissionRecord, error)
}

type Schedule interface {
	IsWeeklyHoliday(day time.Weekday) bool
	SlotAt(ctx context.Context, class models.ClassIdentity, day time.Weekday, period int) (*models.ScheduleSlot, error)
}

// Overrides — закрытия и отпуска на дату.
type Overrides interface {
	ClosuresOn(ctx context.Context, date time.Time) (*override.DayClosures, error)
	LeavesOn(ctx context.Context, date time.Time, studentIDs []int64) (map[int64]models.LeaveGrant, error)
}

type Service struct {
	store     Store
	sched     Schedule
	overrides Overrides
	loc       *time.Location
	log       *zap.Logger

	Now func() time.Time
}

func New(store Store, sched Schedule, overrides Overrides, loc *time.Location, log *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, sched: sched, overrides: overrides, loc: loc, log: logging.OrNop(log), Now: time.Now}
}

type Entry struct {
	StudentID int64                   `json:"studentId" validate:"required,gt=0"`
	Status    models.AttendanceStatus `json:"status" validate:"required"`
}

// Batch — одна отправка преподавателя: все ученики одной сессии.
type Batch struct {
	Date    time.Time
	Unit    models.Unit
	Class   *models.ClassIdentity // nil — общий замок (молитвы)
	Entries []Entry

	Source     models.RecordSource // по умолчанию teacher
	SubjectID  string              // для отработки — предмет пропущенного занятия
	RecordedAt time.Time
}

// Prepared — проверенная отправка, готовая к атомарной записи.
type Prepared struct {
	Marker  models.LockMarker
	Records []models.SubmissionRecord
	Excused []int64
	Slot    *models.ScheduleSlot
}

type Result struct {
	Marker  models.LockMarker `json:"lock"`
	Written int               `json:"written"`
	Excused []int64           `json:"excused,omitempty"`
}

func (b Batch) validate(today time.Time) error {
	var fields []apperr.FieldError
	if b.Date.IsZero() {
		fields = append(fields, apperr.Field("date", "required"))
	} else if models.Day(b.Date).After(today) {
		fields = append(fields, apperr.Field("date", "must not be in the future"))
	}
	if !b.Unit.Valid() {
		fields = append(fields, apperr.Field("unit", "must be a period number or a prayer"))
	}
	if b.Unit.IsPeriod() && (b.Class == nil || b.Class.IsZero()) {
		fields = append(fields, apperr.Field("class", "required for a period"))
	}
	if len(b.Entries) == 0 {
		fields = append(fields, apperr.Field("entries", "required"))
	}
	seen := make(map[int64]struct{}, len(b.Entries))
	for i, e := range b.Entries {
		if e.StudentID <= 0 {
			fields = append(fields, apperr.Field(fmt.Sprintf("entries[%d].studentId", i), "required"))
			continue
		}
		if _, dup := seen[e.StudentID]; dup {
			fields = append(fields, apperr.Field(fmt.Sprintf("entries[%d].studentId", i), "duplicate student"))
		}
		seen[e.StudentID] = struct{}{}
		if !e.Status.Manual() {
			fields = append(fields, apperr.Field(fmt.Sprintf("entries[%d].status", i), "must be present or absent"))
		}
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid submission", fields...)
	}
	return nil
}

// Prepare проверяет отправку: выходной (только для уроков), расписание, закрытия, контингент, отпуска.
// Ничего не пишет.
func (s *Service) Prepare(ctx context.Context, b Batch) (Prepared, error) {
	actor, err := ctxutil.RequireActor(ctx)
	if err != nil {
		return Prepared{}, err
	}
	now := s.Now()
	if err := b.validate(models.Today(now, s.loc)); err != nil {
		return Prepared{}, err
	}
	if b.Source == "" {
		b.Source = models.SourceTeacher
	}
	if b.RecordedAt.IsZero() {
		b.RecordedAt = now.UTC()
	}
	date := models.Day(b.Date)
	var class *models.ClassIdentity
	if b.Class != nil && !b.Class.IsZero() {
		c := b.Class.Normalize()
		class = &c
	}
	sessionID := map[string]any{"date": models.FormatDate(date), "unit": b.Unit.Key(), "scope": models.LockScopeFor(class)}

	// молитвы идут и в выходной; уроков по расписанию в этот день нет
	if b.Unit.IsPeriod() && s.sched.IsWeeklyHoliday(date.Weekday()) && b.Source != models.SourceMakeup {
		return Prepared{}, apperr.Conflict("date is the weekly holiday", sessionID)
	}

	p := Prepared{}
	subject := b.SubjectID
	if b.Unit.IsPeriod() {
		slot, err := s.sched.SlotAt(ctx, *class, date.Weekday(), b.Unit.Period)
		if err != nil {
			return Prepared{}, err
		}
		p.Slot = slot
		if b.Source != models.SourceMakeup {
			if slot == nil {
				return Prepared{}, apperr.Validation("invalid submission", apperr.Field("unit", "no such period in the schedule"))
			}
			if slot.Free() {
				return Prepared{}, apperr.Validation("invalid submission", apperr.Field("unit", "free period"))
			}
		}
		if subject == "" && slot != nil && !slot.Free() {
			subject = slot.SubjectID
		}
	}

	dc, err := s.overrides.ClosuresOn(ctx, date)
	if err != nil {
		return Prepared{}, err
	}
	if o := closureFor(dc, class, b.Unit); o != nil {
		sessionID["overrideId"] = o.ID
		sessionID["override"] = o.Name
		return Prepared{}, apperr.Conflict("session is closed by a calendar override", sessionID)
	}

	roster, err := s.roster(ctx, class, b.Entries)
	if err != nil {
		return Prepared{}, err
	}
	ids := make([]int64, 0, len(b.Entries))
	for _, e := range b.Entries {
		ids = append(ids, e.StudentID)
	}
	leaves, err := s.overrides.LeavesOn(ctx, date, ids)
	if err != nil {
		return Prepared{}, err
	}

	for _, e := range b.Entries {
		if _, ok := leaves[e.StudentID]; ok {
			p.Excused = append(p.Excused, e.StudentID)
			continue
		}
		p.Records = append(p.Records, models.SubmissionRecord{
			StudentID:  e.StudentID,
			Class:      roster[e.StudentID].Class,
			Date:       date,
			Unit:       b.Unit,
			SubjectID:  subject,
			Status:     e.Status,
			Source:     b.Source,
			RecordedAt: b.RecordedAt,
			RecordedBy: actor,
		})
	}
	p.Marker = models.LockMarker{
		Date:        date,
		Unit:        b.Unit,
		Scope:       models.LockScopeFor(class),
		RecordCount: len(p.Records),
		LockedBy:    actor,
		LockedAt:    now.UTC(),
	}
	return p, nil
}

// closureFor: пара закрыта, если закрытие покрывает её номер; молитвы —
// только закрытием на весь день.
func closureFor(dc *override.DayClosures, class *models.ClassIdentity, unit models.Unit) *models.CalendarOverride {
	if unit.IsPeriod() {
		return dc.ForPeriod(*class, unit.Period)
	}
	if class == nil {
		return dc.SchoolWide()
	}
	if o := dc.For(*class); o != nil && len(o.Scope.Periods) == 0 {
		return o
	}
	return nil
}

// roster проверяет, что все ученики из отправки числятся (в группе, если она задана).
func (s *Service) roster(ctx context.Context, class *models.ClassIdentity, entries []Entry) (map[int64]models.Student, error) {
	out := make(map[int64]models.Student, len(entries))
	if class != nil {
		list, err := s.store.StudentsInClass(ctx, *class)
		if err != nil {
			return nil, err
		}
		for _, st := range list {
			out[st.ID] = st
		}
	}
	var fields []apperr.FieldError
	for i, e := range entries {
		if _, ok := out[e.StudentID]; ok {
			continue
		}
		if class != nil {
			fields = append(fields, apperr.Field(fmt.Sprintf("entries[%d].studentId", i), "not enrolled in class"))
			continue
		}
		st, err := s.store.Student(ctx, e.StudentID)
		if apperr.IsNotFound(err) {
			fields = append(fields, apperr.Field(fmt.Sprintf("entries[%d].studentId", i), "unknown student"))
			continue
		}
		if err != nil {
			return nil, err
		}
		out[st.ID] = st
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid submission", fields...)
	}
	return out, nil
}

// Submit — живая отправка: проверка, затем замок и записи одной транзакцией.
// Повторная отправка той же сессии — CONFLICT с данными существующего замка.
func (s *Service) Submit(ctx context.Context, b Batch) (Result, error) {
	ctx = ctxutil.WithOp(ctx, "ledger.submit")
	log := logging.With(ctx, s.log)

	p, err := s.Prepare(ctx, b)
	if err != nil {
		metrics.Submissions.WithLabelValues(string(apperr.CodeOf(err))).Inc()
		return Result{}, err
	}
	if err := s.store.SubmitLocked(ctx, p.Marker, p.Records); err != nil {
		if apperr.IsConflict(err) {
			metrics.LockConflicts.Inc()
			log.Info("submission rejected: already recorded",
				zap.String("date", models.FormatDate(p.Marker.Date)),
				zap.String("unit", p.Marker.Unit.Key()),
				zap.String("scope", p.Marker.Scope),
			)
		}
		metrics.Submissions.WithLabelValues(string(apperr.CodeOf(err))).Inc()
		return Result{}, err
	}

	source := b.Source
	if source == "" {
		source = models.SourceTeacher
	}
	metrics.Submissions.WithLabelValues("ok").Inc()
	metrics.RecordsWritten.WithLabelValues(string(source)).Add(float64(len(p.Records)))
	log.Info("attendance submitted",
		zap.String("date", models.FormatDate(p.Marker.Date)),
		zap.String("unit", p.Marker.Unit.Key()),
		zap.String("scope", p.Marker.Scope),
		zap.Int("records", len(p.Records)),
		zap.Int("excused", len(p.Excused)),
	)
	return Result{Marker: p.Marker, Written: len(p.Records), Excused: p.Excused}, nil
}

// SessionConducted — была ли сессия отмечена: замок группы или запись
// преподавателя/отработки. Записи отпусков проведением не считаются.
func (s *Service) SessionConducted(ctx context.Context, class models.ClassIdentity, date time.Time, period int) (bool, error) {
	return s.store.SessionConducted(ctx, class, date, period)
}

func (s *Service) Records(ctx context.Context, f models.RecordFilter) ([]models.SubmissionRecord, error) {
	return s.store.RecordsFor(ctx, f)
}
