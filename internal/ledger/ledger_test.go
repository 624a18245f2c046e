package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/ctxutil"
	"github.com/Spok95/attendance-engine/internal/inmem"
	"github.com/Spok95/attendance-engine/internal/models"
	"github.com/Spok95/attendance-engine/internal/override"
	"github.com/Spok95/attendance-engine/internal/schedule"
)

var classA = models.ClassIdentity{CourseType: "bs", Year: 1, Section: "A"}

func day(s string) time.Time {
	t, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

type env struct {
	store *inmem.Store
	svc   *Service
	res   *override.Resolver
	ctx   context.Context
	ali   int64
	sara  int64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := inmem.New()
	st.PutSlot(models.ScheduleSlot{Class: classA, DayOfWeek: time.Monday, PeriodNumber: 1, SubjectID: "MATH"})
	st.PutSlot(models.ScheduleSlot{Class: classA, DayOfWeek: time.Monday, PeriodNumber: 2, SubjectID: "CHEM"})
	st.PutSlot(models.ScheduleSlot{Class: classA, DayOfWeek: time.Monday, PeriodNumber: 3, SubjectID: "-"})
	st.PutSlot(models.ScheduleSlot{Class: classA, DayOfWeek: time.Friday, PeriodNumber: 1, SubjectID: "MATH"})

	e := &env{store: st, ctx: ctxutil.WithActor(context.Background(), 7)}
	e.ali = st.PutStudent(models.Student{Name: "Ali", Class: classA, Active: true})
	e.sara = st.PutStudent(models.Student{Name: "Sara", Class: classA, Active: true})

	now := func() time.Time { return day("2025-07-14").Add(12 * time.Hour) }
	sched := schedule.New(st, time.Friday)
	e.res = override.New(st, sched, time.UTC, nil)
	e.res.Now = now
	e.svc = New(st, sched, e.res, time.UTC, nil)
	e.svc.Now = now
	return e
}

func (e *env) batch(d string, unit models.Unit) Batch {
	c := classA
	return Batch{
		Date:  day(d),
		Unit:  unit,
		Class: &c,
		Entries: []Entry{
			{StudentID: e.ali, Status: models.StatusPresent},
			{StudentID: e.sara, Status: models.StatusAbsent},
		},
	}
}

func TestSubmitThenConflict(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.Submit(e.ctx, e.batch("2025-07-07", models.PeriodUnit(2)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Written != 2 || res.Marker.RecordCount != 2 || res.Marker.Scope != classA.Key() || res.Marker.LockedBy != 7 {
		t.Fatalf("result: %+v", res)
	}
	recs, _ := e.svc.Records(e.ctx, models.RecordFilter{Class: &classA})
	for _, r := range recs {
		if r.SubjectID != "CHEM" || r.Source != models.SourceTeacher || r.RecordedBy != 7 {
			t.Fatalf("record: %+v", r)
		}
	}

	_, err = e.svc.Submit(e.ctx, e.batch("2025-07-07", models.PeriodUnit(2)))
	if !apperr.IsConflict(err) {
		t.Fatalf("want conflict, got %v", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Conflict["lockedBy"] != int64(7) {
		t.Fatalf("conflict must name the existing lock: %+v", ae)
	}
	held, _ := e.svc.SessionConducted(e.ctx, classA, day("2025-07-07"), 2)
	if !held {
		t.Fatal("session must be conducted")
	}
}

func TestConcurrentSubmitExactlyOneWins(t *testing.T) {
	e := newEnv(t)
	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Submit(e.ctx, e.batch("2025-07-07", models.PeriodUnit(1)))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case !apperr.IsConflict(err):
			t.Fatalf("unexpected: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("successes: %d", ok)
	}
	u := models.PeriodUnit(1)
	recs, _ := e.svc.Records(e.ctx, models.RecordFilter{Unit: &u})
	if len(recs) != 2 {
		t.Fatalf("records: %d", len(recs))
	}
}

func TestSubmitRejects(t *testing.T) {
	e := newEnv(t)

	cases := []struct {
		name  string
		batch func() Batch
		code  apperr.Code
	}{
		{"weekly holiday", func() Batch { return e.batch("2025-07-11", models.PeriodUnit(1)) }, apperr.CodeConflict},
		{"future date", func() Batch { return e.batch("2025-07-21", models.PeriodUnit(1)) }, apperr.CodeInvalidArgument},
		{"free period", func() Batch { return e.batch("2025-07-07", models.PeriodUnit(3)) }, apperr.CodeInvalidArgument},
		{"unscheduled period", func() Batch { return e.batch("2025-07-07", models.PeriodUnit(6)) }, apperr.CodeInvalidArgument},
		{"system status", func() Batch {
			b := e.batch("2025-07-07", models.PeriodUnit(1))
			b.Entries[0].Status = models.StatusOnLeave
			return b
		}, apperr.CodeInvalidArgument},
		{"duplicate student", func() Batch {
			b := e.batch("2025-07-07", models.PeriodUnit(1))
			b.Entries[1].StudentID = e.ali
			return b
		}, apperr.CodeInvalidArgument},
		{"period without class", func() Batch {
			b := e.batch("2025-07-07", models.PeriodUnit(1))
			b.Class = nil
			return b
		}, apperr.CodeInvalidArgument},
		{"not enrolled", func() Batch {
			b := e.batch("2025-07-07", models.PeriodUnit(1))
			b.Entries[0].StudentID = 999
			return b
		}, apperr.CodeInvalidArgument},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := e.svc.Submit(e.ctx, c.batch())
			if apperr.CodeOf(err) != c.code {
				t.Fatalf("want %s, got %v", c.code, err)
			}
		})
	}

	if _, err := e.svc.Submit(context.Background(), e.batch("2025-07-07", models.PeriodUnit(1))); !apperr.IsCode(err, apperr.CodeUnauthenticated) {
		t.Fatalf("no actor: %v", err)
	}
	recs, _ := e.svc.Records(e.ctx, models.RecordFilter{})
	if len(recs) != 0 {
		t.Fatalf("rejected submissions wrote %d records", len(recs))
	}
}

func TestSubmitClosedSlot(t *testing.T) {
	e := newEnv(t)
	if _, err := e.res.CreateHoliday(e.ctx, override.NewHoliday{
		Date: day("2025-07-07"), Name: "Sports day", Scope: models.OverrideScope{Class: &classA, Periods: []int{2}},
	}); err != nil {
		t.Fatal(err)
	}
	_, err := e.svc.Submit(e.ctx, e.batch("2025-07-07", models.PeriodUnit(2)))
	if !apperr.IsConflict(err) {
		t.Fatalf("closed period: %v", err)
	}
	if _, err := e.svc.Submit(e.ctx, e.batch("2025-07-07", models.PeriodUnit(1))); err != nil {
		t.Fatalf("open period: %v", err)
	}
}

func TestSubmitExcusesStudentsOnLeave(t *testing.T) {
	e := newEnv(t)
	if _, _, err := e.res.CreateLeave(e.ctx, override.NewLeave{StudentID: e.sara, FromDate: day("2025-07-07"), ToDate: day("2025-07-07")}); err != nil {
		t.Fatal(err)
	}
	res, err := e.svc.Submit(e.ctx, e.batch("2025-07-07", models.PeriodUnit(1)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Written != 1 || len(res.Excused) != 1 || res.Excused[0] != e.sara {
		t.Fatalf("result: %+v", res)
	}
	u := models.PeriodUnit(1)
	recs, _ := e.svc.Records(e.ctx, models.RecordFilter{StudentID: &e.sara, Unit: &u})
	if len(recs) != 1 || recs[0].Status != models.StatusOnLeave {
		t.Fatalf("leave record overwritten: %+v", recs)
	}
}

func TestPrayerLastWriteWins(t *testing.T) {
	e := newEnv(t)
	fajr := models.PrayerUnit(models.Fajr)
	late := day("2025-07-07").Add(6 * time.Hour)

	global := Batch{Date: day("2025-07-07"), Unit: fajr, RecordedAt: late,
		Entries: []Entry{{StudentID: e.ali, Status: models.StatusPresent}}}
	if _, err := e.svc.Submit(e.ctx, global); err != nil {
		t.Fatal(err)
	}

	// повтор с более ранним временем (ретрай по сети) не перетирает позднюю запись
	c := classA
	retried := Batch{Date: day("2025-07-07"), Unit: fajr, Class: &c, RecordedAt: late.Add(-time.Hour),
		Entries: []Entry{{StudentID: e.ali, Status: models.StatusAbsent}}}
	if _, err := e.svc.Submit(e.ctx, retried); err != nil {
		t.Fatal(err)
	}
	recs, _ := e.svc.Records(e.ctx, models.RecordFilter{StudentID: &e.ali, Unit: &fajr})
	if len(recs) != 1 || recs[0].Status != models.StatusPresent {
		t.Fatalf("records: %+v", recs)
	}
}

func TestMakeupBypassesSchedule(t *testing.T) {
	e := newEnv(t)
	b := e.batch("2025-07-11", models.PeriodUnit(5))
	b.Source = models.SourceMakeup
	b.SubjectID = "CHEM"
	p, err := e.svc.Prepare(e.ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if p.Slot != nil || len(p.Records) != 2 || p.Records[0].SubjectID != "CHEM" || p.Records[0].Source != models.SourceMakeup {
		t.Fatalf("prepared: %+v", p)
	}
}

func TestWeeklyHolidayAcceptsPrayersOnly(t *testing.T) {
	e := newEnv(t)
	// 2025-07-11 — пятница, выходной
	if _, err := e.svc.Submit(e.ctx, e.batch("2025-07-11", models.PrayerUnit(models.Maghrib))); err != nil {
		t.Fatalf("prayer on holiday: %v", err)
	}
	maghrib := models.PrayerUnit(models.Maghrib)
	recs, _ := e.svc.Records(e.ctx, models.RecordFilter{StudentID: &e.sara, Unit: &maghrib})
	if len(recs) != 1 || recs[0].Status != models.StatusAbsent {
		t.Fatalf("records: %+v", recs)
	}

	_, err := e.svc.Submit(e.ctx, e.batch("2025-07-11", models.PeriodUnit(1)))
	if apperr.CodeOf(err) != apperr.CodeConflict {
		t.Fatalf("period on holiday: got %v, want conflict", err)
	}
}
