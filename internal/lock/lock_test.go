package lock

import (
	"context"
	"testing"
	"time"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/ctxutil"
	"github.com/Spok95/attendance-engine/internal/inmem"
	"github.com/Spok95/attendance-engine/internal/models"
)

func TestLockUnlock(t *testing.T) {
	st := inmem.New()
	svc := New(st, nil)
	ctx := ctxutil.WithActor(context.Background(), 3)
	d, _ := models.ParseDate("2025-07-07")
	isha := models.PrayerUnit(models.Isha)

	if ok, err := svc.IsLocked(ctx, d, isha, models.GlobalScope); err != nil || ok {
		t.Fatalf("fresh: %v %v", ok, err)
	}
	if _, err := svc.Lock(ctx, d, isha, models.GlobalScope, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Lock(ctx, d, isha, models.GlobalScope, 0); !apperr.IsConflict(err) {
		t.Fatalf("second lock: %v", err)
	}
	if ok, _ := svc.IsLocked(ctx, d, isha, models.GlobalScope); !ok {
		t.Fatal("must be locked")
	}

	if _, err := svc.Unlock(ctx, d, isha, models.GlobalScope, " "); !apperr.IsValidation(err) {
		t.Fatalf("reset without reason: %v", err)
	}
	if _, err := svc.Unlock(context.Background(), d, isha, models.GlobalScope, "typo"); !apperr.IsCode(err, apperr.CodeUnauthenticated) {
		t.Fatalf("reset without actor: %v", err)
	}

	var hooked []models.LockReset
	svc.OnReset = func(_ context.Context, r models.LockReset) { hooked = append(hooked, r) }
	r, err := svc.Unlock(ctx, d, isha, models.GlobalScope, "typo")
	if err != nil {
		t.Fatal(err)
	}
	if r.ResetBy != 3 || r.Reason != "typo" || len(hooked) != 1 {
		t.Fatalf("reset: %+v hooked=%d", r, len(hooked))
	}
	if _, err := svc.Unlock(ctx, d, isha, models.GlobalScope, "again"); !apperr.IsNotFound(err) {
		t.Fatalf("reset of free key: %v", err)
	}
	audit, _ := svc.Resets(ctx, d)
	if len(audit) != 1 {
		t.Fatalf("audit rows: %d", len(audit))
	}
}

func TestListLocks(t *testing.T) {
	st := inmem.New()
	svc := New(st, nil)
	svc.Now = func() time.Time { return time.Date(2025, 7, 7, 9, 0, 0, 0, time.UTC) }
	ctx := ctxutil.WithActor(context.Background(), 3)
	d, _ := models.ParseDate("2025-07-07")

	for _, p := range []int{2, 1} {
		if _, err := svc.Lock(ctx, d, models.PeriodUnit(p), "bs/1//A", 10); err != nil {
			t.Fatal(err)
		}
	}
	list, err := svc.List(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Unit.Period != 1 || list[1].RecordCount != 10 {
		t.Fatalf("list: %+v", list)
	}
	if _, err := svc.List(ctx, time.Time{}); !apperr.IsValidation(err) {
		t.Fatalf("zero date: %v", err)
	}
}

func TestUnlockReopensMakeupCompletedUnderLock(t *testing.T) {
	st := inmem.New()
	svc := New(st, nil)
	ctx := ctxutil.WithActor(context.Background(), 3)
	class := models.ClassIdentity{CourseType: "bs", Year: 1, Section: "A"}
	missed, _ := models.ParseDate("2025-07-07")
	makeupDay, _ := models.ParseDate("2025-07-10")
	stID := st.PutStudent(models.Student{Name: "Ali", Class: class, Active: true})

	complete := func(subject string, period int) models.MissedSessionEntry {
		t.Helper()
		e := models.MissedSessionEntry{Class: class, SubjectID: subject, MissedDate: missed, PeriodNumber: 2, DayOfWeek: missed.Weekday()}
		if _, err := st.QueueMissed(ctx, e); err != nil {
			t.Fatal(err)
		}
		s := class
		list, _ := st.ListMissed(ctx, models.MissedSessionFilter{Class: &s, SubjectID: subject})
		unit := models.PeriodUnit(period)
		m := models.LockMarker{Date: makeupDay, Unit: unit, Scope: class.Key(), RecordCount: 1, LockedBy: 3}
		rec := models.SubmissionRecord{
			StudentID: stID, Class: class, Date: makeupDay, Unit: unit, SubjectID: subject,
			Status: models.StatusPresent, Source: models.SourceMakeup, RecordedAt: time.Now().UTC(), RecordedBy: 3,
		}
		c := models.MakeupCompletion{MakeupDate: makeupDay, MakeupPeriod: period, CompletedBy: 3, CompletedAt: time.Now().UTC()}
		done, err := st.CompleteMakeup(ctx, list[0].ID, c, m, []models.SubmissionRecord{rec})
		if err != nil {
			t.Fatal(err)
		}
		return done
	}
	chem := complete("CHEM", 5)
	phys := complete("PHYS", 6)

	r, err := svc.Unlock(ctx, makeupDay, models.PeriodUnit(5), class.Key(), "wrong class")
	if err != nil {
		t.Fatal(err)
	}
	if r.DeletedRecords != 1 || r.ReopenedMakeups != 1 {
		t.Fatalf("reset: %+v", r)
	}

	got, _ := st.GetMissed(ctx, chem.ID)
	if got.IsCompleted || got.MakeupDate != nil || got.MakeupPeriod != nil || got.CompletedAt != nil || got.CompletedBy != nil {
		t.Fatalf("makeup entry not reopened: %+v", got)
	}
	unit5 := models.PeriodUnit(5)
	recs, _ := st.RecordsFor(ctx, models.RecordFilter{Date: &makeupDay, Unit: &unit5})
	if len(recs) != 0 {
		t.Fatalf("makeup records left: %+v", recs)
	}
	if other, _ := st.GetMissed(ctx, phys.ID); !other.IsCompleted {
		t.Fatalf("makeup on another period reopened: %+v", other)
	}
	audit, _ := svc.Resets(ctx, makeupDay)
	if len(audit) != 1 || audit[0].ReopenedMakeups != 1 {
		t.Fatalf("audit: %+v", audit)
	}
}
