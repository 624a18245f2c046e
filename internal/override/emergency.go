package override

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

type EmergencyRequest struct {
	Date  time.Time // нулевая — сегодня
	Name  string
	Class models.ClassIdentity
}

type EmergencyResult struct {
	Override models.CalendarOverride `json:"override"`
	Periods  []int                   `json:"periods"`
	Records  int                     `json:"records"`
	Failed   int                     `json:"failed"`
	Errors   []string                `json:"errors,omitempty"`
}

func overrideIdentity(o *models.CalendarOverride) map[string]any {
	return map[string]any{
		"overrideId": o.ID,
		"date":       models.FormatDate(o.Date),
		"name":       o.Name,
		"kind":       o.Kind,
	}
}

// DeclareEmergency закрывает оставшиеся пары группы на дату и сразу пишет
// emergency-записи, в том числе для уже прошедших, но не отмеченных пар.
func (r *Resolver) DeclareEmergency(ctx context.Context, req EmergencyRequest) (EmergencyResult, error) {
	actor, err := ctxutil.RequireActor(ctx)
	if err != nil {
		return EmergencyResult{}, err
	}
	if req.Class.IsZero() {
		return EmergencyResult{}, apperr.Validation("invalid emergency declaration", apperr.Field("class", "required"))
	}
	class := req.Class.Normalize()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Emergency leave"
	}

	now := r.Now()
	today := r.today()
	date := today
	if !req.Date.IsZero() {
		date = models.Day(req.Date)
	}
	if date.Before(today) {
		return EmergencyResult{}, apperr.Validation("invalid emergency declaration", apperr.Field("date", "must not be in the past"))
	}
	if r.sched.IsWeeklyHoliday(date.Weekday()) {
		return EmergencyResult{}, apperr.Validation("invalid emergency declaration", apperr.Field("date", "falls on the weekly holiday"))
	}

	dc, err := r.ClosuresOn(ctx, date)
	if err != nil {
		return EmergencyResult{}, err
	}
	if o := dc.For(class); o != nil && (o.Kind == models.OverrideEmergency || len(o.Scope.Periods) == 0) {
		return EmergencyResult{}, apperr.Conflict("class already closed on this date", overrideIdentity(o))
	}

	slots, err := r.sched.SlotsFor(ctx, class, date.Weekday())
	if err != nil {
		return EmergencyResult{}, err
	}
	clock := now.In(r.loc).Format("15:04")
	var periods []int
	for _, sl := range slots {
		if dc.ForPeriod(class, sl.PeriodNumber) != nil {
			continue
		}
		if date.Equal(today) && sl.EndsBefore(clock) {
			held, err := r.store.SessionConducted(ctx, class, date, sl.PeriodNumber)
			if err != nil {
				return EmergencyResult{}, err
			}
			if held {
				continue
			}
		}
		periods = append(periods, sl.PeriodNumber)
	}
	if len(periods) == 0 {
		return EmergencyResult{}, apperr.Validation("no remaining periods to close", apperr.Field("date", "no open periods"))
	}

	o, err := r.store.CreateOverride(ctx, models.CalendarOverride{
		Date:      date,
		Name:      name,
		Kind:      models.OverrideEmergency,
		Scope:     models.OverrideScope{Class: &class, Periods: periods},
		CreatedBy: actor,
		CreatedAt: now.UTC(),
	})
	if err != nil {
		return EmergencyResult{}, err
	}
	res := EmergencyResult{Override: o, Periods: periods}

	students, err := r.store.StudentsInClass(ctx, class)
	if err != nil {
		// закрытие уже действует, записи необязательны для его силы
		res.Errors = append(res.Errors, err.Error())
		return res, nil
	}
	subjects := make(map[int]string, len(slots))
	for _, sl := range slots {
		subjects[sl.PeriodNumber] = sl.SubjectID
	}
	at := now.UTC()
	recs := make([]models.SubmissionRecord, 0, len(students)*len(periods))
	for _, p := range periods {
		for _, st := range students {
			recs = append(recs, models.SubmissionRecord{
				StudentID:  st.ID,
				Class:      class,
				Date:       date,
				Unit:       models.PeriodUnit(p),
				SubjectID:  subjects[p],
				Status:     models.StatusEmergency,
				Source:     models.SourceEmergency,
				RecordedAt: at,
				RecordedBy: actor,
			})
		}
	}
	res.Records, res.Failed, res.Errors = r.materialize(ctx, recs)
	metrics.RecordsWritten.WithLabelValues(string(models.SourceEmergency)).Add(float64(res.Records))

	logging.With(ctx, r.log).Info("emergency declared",
		zap.Int64("override_id", o.ID),
		zap.String("class", class.Key()),
		zap.String("date", models.FormatDate(date)),
		zap.Ints("periods", periods),
		zap.Int("records", res.Records),
	)
	return res, nil
}

// CheckEmergency — действующее закрытие группы на дату (любого вида) или nil.
func (r *Resolver) CheckEmergency(ctx context.Context, date time.Time, class models.ClassIdentity) (*models.CalendarOverride, error) {
	if date.IsZero() {
		date = r.today()
	}
	return r.IsClosedFor(ctx, date, class)
}
