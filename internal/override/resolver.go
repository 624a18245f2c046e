// Package override отвечает на вопрос «почему занятие не требует отметки»:
// праздник, экстренное закрытие или отпуск ученика.
package override

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/logging"
	"github.com/Spok95/attendance-engine/internal/models"
	"github.com/Spok95/attendance-engine/internal/observability"
)

// Store — то, что резолверу нужно от хранилища.
type Store interface {
	OverridesOn(ctx context.Context, date time.Time) ([]models.CalendarOverride, error)
	CreateOverride(ctx context.Context, o models.CalendarOverride) (models.CalendarOverride, error)
	DeleteOverride(ctx context.Context, id int64) error
	ListOverrides(ctx context.Context, f models.OverrideFilter) ([]models.CalendarOverride, error)

	CreateLeave(ctx context.Context, g models.LeaveGrant) (models.LeaveGrant, error)
	GetLeave(ctx context.Context, id int64) (models.LeaveGrant, error)
	ActiveLeaves(ctx context.Context, studentIDs []int64, on *time.Time) ([]models.LeaveGrant, error)
	CancelLeave(ctx context.Context, id int64, at time.Time) (models.LeaveGrant, error)
	CompleteExpiredLeaves(ctx context.Context, today time.Time) (int, error)
	ListLeaves(ctx context.Context, f models.LeaveFilter) ([]models.LeaveGrant, error)

	Student(ctx context.Context, id int64) (models.Student, error)
	StudentsInClass(ctx context.Context, class models.ClassIdentity) ([]models.Student, error)

	MaterializeRecords(ctx context.Context, recs []models.SubmissionRecord) (int, error)
	RetractLeaveSync(ctx context.Context, grantID int64) (int, error)
	RetractCancelledLeaveSync(ctx context.Context) (int, error)
	SessionConducted(ctx context.Context, class models.ClassIdentity, date time.Time, period int) (bool, error)
}

// Schedule — часть модели расписания, нужная резолверу.
type Schedule interface {
	IsWeeklyHoliday(day time.Weekday) bool
	SlotsFor(ctx context.Context, class models.ClassIdentity, day time.Weekday) ([]models.ScheduleSlot, error)
}

// DefaultChunkSize — размер пачки при материализации записей.
const DefaultChunkSize = 500

type Resolver struct {
	store Store
	sched Schedule
	loc   *time.Location
	log   *zap.Logger

	Now       func() time.Time
	ChunkSize int
}

func New(store Store, sched Schedule, loc *time.Location, log *zap.Logger) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{
		store:     store,
		sched:     sched,
		loc:       loc,
		log:       logging.OrNop(log),
		Now:       time.Now,
		ChunkSize: DefaultChunkSize,
	}
}

func (r *Resolver) today() time.Time { return models.Today(r.Now(), r.loc) }

// DayClosures — все действующие закрытия одной даты.
// Порядок — по id, при пересечении охватов побеждает первое.
type DayClosures struct {
	Date      time.Time
	Overrides []models.CalendarOverride
	Warnings  []apperr.IntegrityWarning
}

// ClosuresOn загружает закрытия на дату. Пересекающиеся закрытия не ошибка:
// результат детерминирован, а оператор получает предупреждение.
func (r *Resolver) ClosuresOn(ctx context.Context, date time.Time) (*DayClosures, error) {
	list, err := r.store.OverridesOn(ctx, models.Day(date))
	if err != nil {
		return nil, err
	}
	dc := &DayClosures{Date: models.Day(date), Overrides: list}
	for i := 0; i < len(list); i++ {
		for j := i + 1; j < len(list); j++ {
			if !scopesIntersect(list[i].Scope, list[j].Scope) {
				continue
			}
			w := apperr.IntegrityWarning{
				Subject: "calendar_override",
				Detail:  fmt.Sprintf("overlapping overrides on %s", models.FormatDate(date)),
				IDs:     []int64{list[i].ID, list[j].ID},
			}
			dc.Warnings = append(dc.Warnings, w)
			observability.ReportIntegrity(logging.With(ctx, r.log), w)
		}
	}
	return dc, nil
}

// SchoolWide — закрытие всего учреждения на весь день.
func (dc *DayClosures) SchoolWide() *models.CalendarOverride {
	for i := range dc.Overrides {
		if dc.Overrides[i].Scope.SchoolWide() {
			return &dc.Overrides[i]
		}
	}
	return nil
}

// For — первое закрытие, охватывающее группу (целиком или частично).
func (dc *DayClosures) For(class models.ClassIdentity) *models.CalendarOverride {
	for i := range dc.Overrides {
		if dc.Overrides[i].Scope.Includes(class) {
			return &dc.Overrides[i]
		}
	}
	return nil
}

// ForPeriod — закрытие, под которое попадает конкретная пара группы.
func (dc *DayClosures) ForPeriod(class models.ClassIdentity, period int) *models.CalendarOverride {
	for i := range dc.Overrides {
		s := dc.Overrides[i].Scope
		if s.Includes(class) && s.CoversPeriod(period) {
			return &dc.Overrides[i]
		}
	}
	return nil
}

// IsClosedFor — действующее закрытие для группы на дату или nil.
func (r *Resolver) IsClosedFor(ctx context.Context, date time.Time, class models.ClassIdentity) (*models.CalendarOverride, error) {
	dc, err := r.ClosuresOn(ctx, date)
	if err != nil {
		return nil, err
	}
	return dc.For(class), nil
}

// LeaveStatusFor — активный отпуск ученика, содержащий дату, или nil.
func (r *Resolver) LeaveStatusFor(ctx context.Context, studentID int64, date time.Time) (*models.LeaveGrant, error) {
	d := models.Day(date)
	list, err := r.store.ActiveLeaves(ctx, []int64{studentID}, &d)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	if len(list) > 1 {
		ids := make([]int64, 0, len(list))
		for _, g := range list {
			ids = append(ids, g.ID)
		}
		observability.ReportIntegrity(logging.With(ctx, r.log), apperr.IntegrityWarning{
			Subject: "leave_grant",
			Detail:  fmt.Sprintf("student %d has overlapping active grants on %s", studentID, models.FormatDate(d)),
			IDs:     ids,
		})
	}
	return &list[0], nil
}

// LeavesOn — активные отпуска на дату по набору учеников.
func (r *Resolver) LeavesOn(ctx context.Context, date time.Time, studentIDs []int64) (map[int64]models.LeaveGrant, error) {
	out := make(map[int64]models.LeaveGrant)
	if len(studentIDs) == 0 {
		return out, nil
	}
	d := models.Day(date)
	list, err := r.store.ActiveLeaves(ctx, studentIDs, &d)
	if err != nil {
		return nil, err
	}
	for _, g := range list {
		if _, seen := out[g.StudentID]; !seen {
			out[g.StudentID] = g
		}
	}
	return out, nil
}

// scopesIntersect — есть ли (группа, пара), попадающая под оба охвата.
func scopesIntersect(a, b models.OverrideScope) bool {
	if len(a.Periods) > 0 && len(b.Periods) > 0 {
		shared := false
		for _, p := range a.Periods {
			if b.CoversPeriod(p) {
				shared = true
				break
			}
		}
		if !shared {
			return false
		}
	}
	if a.All || b.All {
		return true
	}
	if a.Class != nil && b.Includes(*a.Class) {
		return true
	}
	if b.Class != nil && a.Includes(*b.Class) {
		return true
	}
	for _, ct := range a.CourseTypes {
		if b.Includes(models.ClassIdentity{CourseType: ct}) {
			return true
		}
	}
	return false
}
