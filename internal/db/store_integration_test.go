//go:build testutil
// +build testutil

package db_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/db"
	"github.com/Spok95/attendance-engine/internal/models"
	"github.com/Spok95/attendance-engine/internal/testutil/testdb"
)

var class10A = models.ClassIdentity{CourseType: "hifz", Year: 10, Section: "A"}

func startStore(t *testing.T) (*db.Store, *testdb.DBHandle) {
	t.Helper()
	h, err := testdb.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Close)
	return db.NewStore(h.DB, nil), h
}

func mustStudent(t *testing.T, s *db.Store, name string) int64 {
	t.Helper()
	id, err := s.UpsertStudent(context.Background(), models.Student{Name: name, Class: class10A, Active: true})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestStore_LockIsExclusive(t *testing.T) {
	s, _ := startStore(t)
	ctx := context.Background()
	st := mustStudent(t, s, "Ученик 1")
	date := models.Day(time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC))
	unit := models.PeriodUnit(2)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, confl int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(actor int64) {
			defer wg.Done()
			m := models.LockMarker{Date: date, Unit: unit, Scope: class10A.Key(), RecordCount: 1, LockedBy: actor}
			rec := models.SubmissionRecord{
				StudentID: st, Class: class10A, Date: date, Unit: unit, SubjectID: "CHEM",
				Status: models.StatusPresent, Source: models.SourceTeacher,
				RecordedAt: time.Now().UTC(), RecordedBy: actor,
			}
			err := s.SubmitLocked(ctx, m, []models.SubmissionRecord{rec})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case apperr.IsConflict(err):
				confl++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(100 + i))
	}
	wg.Wait()

	if ok != 1 || confl != 9 {
		t.Fatalf("ok=%d conflict=%d, want 1/9", ok, confl)
	}
	recs, err := s.RecordsFor(ctx, models.RecordFilter{Date: &date, Unit: &unit})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("records=%d, want 1", len(recs))
	}
	lock, err := s.GetLock(ctx, date, unit, class10A.Key())
	if err != nil || lock == nil {
		t.Fatalf("lock: %v %v", lock, err)
	}
	if lock.LockedBy != recs[0].RecordedBy {
		t.Fatalf("lock owner %d differs from record author %d", lock.LockedBy, recs[0].RecordedBy)
	}
}

func TestStore_ResetLockDeletesTeacherRecords(t *testing.T) {
	s, _ := startStore(t)
	ctx := context.Background()
	st := mustStudent(t, s, "Ученик 1")
	date := models.Day(time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC))
	unit := models.PeriodUnit(1)

	m := models.LockMarker{Date: date, Unit: unit, Scope: class10A.Key(), RecordCount: 1, LockedBy: 7}
	rec := models.SubmissionRecord{
		StudentID: st, Class: class10A, Date: date, Unit: unit, SubjectID: "MATH",
		Status: models.StatusAbsent, Source: models.SourceTeacher, RecordedAt: time.Now().UTC(), RecordedBy: 7,
	}
	if err := s.SubmitLocked(ctx, m, []models.SubmissionRecord{rec}); err != nil {
		t.Fatal(err)
	}

	r, err := s.ResetLock(ctx, models.LockReset{Date: date, Unit: unit, Scope: class10A.Key(), Reason: "ошибка", ResetBy: 1})
	if err != nil {
		t.Fatal(err)
	}
	if r.DeletedRecords != 1 || r.ID == 0 {
		t.Fatalf("reset = %+v", r)
	}
	if _, err := s.ResetLock(ctx, models.LockReset{Date: date, Unit: unit, Scope: class10A.Key(), Reason: "x", ResetBy: 1}); !apperr.IsNotFound(err) {
		t.Fatalf("second reset err = %v, want NOT_FOUND", err)
	}
	if err := s.SubmitLocked(ctx, m, []models.SubmissionRecord{rec}); err != nil {
		t.Fatalf("resubmit after reset: %v", err)
	}
	audit, err := s.LockResets(ctx, date)
	if err != nil || len(audit) != 1 {
		t.Fatalf("audit = %v, %v", audit, err)
	}
}

func TestStore_LeaveOverlapExcluded(t *testing.T) {
	s, _ := startStore(t)
	ctx := context.Background()
	st := mustStudent(t, s, "Ученик 1")
	d := func(day int) time.Time { return time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC) }

	first, err := s.CreateLeave(ctx, models.LeaveGrant{StudentID: st, FromDate: d(3), ToDate: d(7), Reason: "болезнь", CreatedBy: 1})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.CreateLeave(ctx, models.LeaveGrant{StudentID: st, FromDate: d(7), ToDate: d(9), Reason: "поездка", CreatedBy: 1})
	if !apperr.IsConflict(err) {
		t.Fatalf("overlap err = %v, want CONFLICT", err)
	}
	if _, err := s.CreateLeave(ctx, models.LeaveGrant{StudentID: st, FromDate: d(8), ToDate: d(9), Reason: "поездка", CreatedBy: 1}); err != nil {
		t.Fatalf("adjacent leave: %v", err)
	}

	if _, err := s.CancelLeave(ctx, first.ID, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	// отменённый отпуск больше не мешает
	if _, err := s.CreateLeave(ctx, models.LeaveGrant{StudentID: st, FromDate: d(4), ToDate: d(5), Reason: "болезнь", CreatedBy: 1}); err != nil {
		t.Fatalf("after cancel: %v", err)
	}
}

func TestStore_MaterializeKeepsTeacherRecords(t *testing.T) {
	s, _ := startStore(t)
	ctx := context.Background()
	st := mustStudent(t, s, "Ученик 1")
	date := models.Day(time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC))
	unit := models.PeriodUnit(1)
	now := time.Now().UTC()

	teacher := models.SubmissionRecord{
		StudentID: st, Class: class10A, Date: date, Unit: unit, SubjectID: "MATH",
		Status: models.StatusPresent, Source: models.SourceTeacher, RecordedAt: now, RecordedBy: 5,
	}
	if err := s.SubmitLocked(ctx, models.LockMarker{Date: date, Unit: unit, Scope: class10A.Key(), LockedBy: 5}, []models.SubmissionRecord{teacher}); err != nil {
		t.Fatal(err)
	}

	g, err := s.CreateLeave(ctx, models.LeaveGrant{StudentID: st, FromDate: date, ToDate: date, Reason: "болезнь", Status: models.LeaveActive, CreatedBy: 1})
	if err != nil {
		t.Fatal(err)
	}
	grant := g.ID
	leaveRec := teacher
	leaveRec.Status, leaveRec.Source, leaveRec.LeaveGrantID = models.StatusOnLeave, models.SourceLeaveSync, &grant
	leaveRec.RecordedAt = now.Add(time.Minute)
	other := leaveRec
	other.Unit = models.PeriodUnit(2)

	n, err := s.MaterializeRecords(ctx, []models.SubmissionRecord{leaveRec, other})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("materialized=%d, want 1", n)
	}
	recs, err := s.RecordsFor(ctx, models.RecordFilter{StudentID: &st, Date: &date})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Source != models.SourceTeacher || recs[1].Source != models.SourceLeaveSync {
		t.Fatalf("records = %+v", recs)
	}

	// отпуск не делает пару проведённой, отметка преподавателя — делает
	if held, err := s.SessionConducted(ctx, class10A, date, 2); err != nil || held {
		t.Fatalf("leave-only period conducted = %v, %v", held, err)
	}
	if held, err := s.SessionConducted(ctx, class10A, date, 1); err != nil || !held {
		t.Fatalf("taught period conducted = %v, %v", held, err)
	}

	if n, err := s.RetractLeaveSync(ctx, grant); err != nil || n != 1 {
		t.Fatalf("retract = %d, %v", n, err)
	}
}

func TestStore_QueueMissedIdempotent(t *testing.T) {
	s, _ := startStore(t)
	ctx := context.Background()
	date := models.Day(time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC))
	e := models.MissedSessionEntry{
		Class: class10A, SubjectID: "CHEM", MissedDate: date, PeriodNumber: 2,
		DayOfWeek: date.Weekday(), DetectedAt: time.Now().UTC(),
	}

	for i, want := range []bool{true, false, false} {
		got, err := s.QueueMissed(ctx, e)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("run %d inserted=%v, want %v", i, got, want)
		}
	}

	list, err := s.ListMissed(ctx, models.MissedSessionFilter{Status: models.MissedPending})
	if err != nil || len(list) != 1 {
		t.Fatalf("pending = %v, %v", list, err)
	}
	if list[0].Priority != models.PriorityNormal {
		t.Fatalf("priority = %s", list[0].Priority)
	}
}

func TestStore_CompleteMakeupOnce(t *testing.T) {
	s, _ := startStore(t)
	ctx := context.Background()
	st := mustStudent(t, s, "Ученик 1")
	missed := models.Day(time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC))
	makeupDay := missed.AddDate(0, 0, 3)

	if _, err := s.QueueMissed(ctx, models.MissedSessionEntry{
		Class: class10A, SubjectID: "CHEM", MissedDate: missed, PeriodNumber: 2,
		DayOfWeek: missed.Weekday(), DetectedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListMissed(ctx, models.MissedSessionFilter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, %v", list, err)
	}
	id := list[0].ID

	complete := func(period int) (models.MissedSessionEntry, error) {
		unit := models.PeriodUnit(period)
		m := models.LockMarker{Date: makeupDay, Unit: unit, Scope: class10A.Key(), RecordCount: 1, LockedBy: 9}
		rec := models.SubmissionRecord{
			StudentID: st, Class: class10A, Date: makeupDay, Unit: unit, SubjectID: "CHEM",
			Status: models.StatusPresent, Source: models.SourceMakeup, RecordedAt: time.Now().UTC(), RecordedBy: 9,
		}
		c := models.MakeupCompletion{MakeupDate: makeupDay, MakeupPeriod: period, CompletedBy: 9, CompletedAt: makeupDay.Add(10 * time.Hour)}
		return s.CompleteMakeup(ctx, id, c, m, []models.SubmissionRecord{rec})
	}

	e, err := complete(5)
	if err != nil {
		t.Fatal(err)
	}
	if !e.IsCompleted || e.DaysPending != 3 || e.MakeupPeriod == nil || *e.MakeupPeriod != 5 {
		t.Fatalf("completed entry = %+v", e)
	}
	if _, err := complete(6); !apperr.IsAlreadyCompleted(err) {
		t.Fatalf("second completion err = %v, want ALREADY_COMPLETED", err)
	}
	if _, err := s.CompleteMakeup(ctx, 999, models.MakeupCompletion{}, models.LockMarker{}, nil); !apperr.IsNotFound(err) {
		t.Fatalf("unknown id err = %v, want NOT_FOUND", err)
	}

	// закрытая запись не возвращается повторным детектированием
	again, err := s.QueueMissed(ctx, models.MissedSessionEntry{
		Class: class10A, SubjectID: "CHEM", MissedDate: missed, PeriodNumber: 2,
		DayOfWeek: missed.Weekday(), DetectedAt: time.Now().UTC(),
	})
	if err != nil || again {
		t.Fatalf("requeue = %v, %v", again, err)
	}

	// сброс замка слота отработки возвращает запись в очередь
	r, err := s.ResetLock(ctx, models.LockReset{Date: makeupDay, Unit: models.PeriodUnit(5), Scope: class10A.Key(), Reason: "не та группа", ResetBy: 1})
	if err != nil {
		t.Fatal(err)
	}
	if r.DeletedRecords != 1 || r.ReopenedMakeups != 1 {
		t.Fatalf("reset = %+v", r)
	}
	e, err = s.GetMissed(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if e.IsCompleted || e.MakeupDate != nil || e.MakeupPeriod != nil || e.CompletedAt != nil {
		t.Fatalf("reopened entry = %+v", e)
	}
	audit, err := s.LockResets(ctx, makeupDay)
	if err != nil || len(audit) != 1 || audit[0].ReopenedMakeups != 1 {
		t.Fatalf("audit = %+v, %v", audit, err)
	}
	if e, err = complete(6); err != nil || !e.IsCompleted {
		t.Fatalf("completion after reopen = %+v, %v", e, err)
	}
}
