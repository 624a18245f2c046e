package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/attendance-engine/internal/models"
)

func TestMissedSessions_Sheets(t *testing.T) {
	class := models.ClassIdentity{CourseType: "bs", Year: 1, Section: "A"}
	missed := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	done := missed.AddDate(0, 0, 2)
	period, by := 5, int64(9)
	remark := "с опозданием"

	entries := []models.MissedSessionEntry{
		{ID: 1, Class: class, SubjectID: "MATH", MissedDate: missed, PeriodNumber: 1, DayOfWeek: time.Monday, Priority: models.PriorityNormal, DaysPending: 9},
		{ID: 2, Class: class, SubjectID: "CHEM", MissedDate: missed, PeriodNumber: 2, DayOfWeek: time.Monday, Priority: models.PriorityNormal, DaysPending: 1},
		{ID: 3, Class: class, SubjectID: "PHYS", MissedDate: missed, PeriodNumber: 3, DayOfWeek: time.Monday, DaysPending: 2,
			IsCompleted: true, CompletedAt: &done, CompletedBy: &by, MakeupDate: &done, MakeupPeriod: &period, Remarks: &remark},
	}

	var buf bytes.Buffer
	if err := WriteMissedSessions(&buf, entries, Options{OverdueDays: 7}); err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	pending, err := f.GetRows(SheetPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending rows=%d, want header+2", len(pending))
	}
	if pending[1][1] != "BS Year 1 - A" || pending[1][7] != "high" || pending[2][7] != "normal" {
		t.Fatalf("pending = %v", pending)
	}

	history, err := f.GetRows(SheetHistory)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history rows=%d", len(history))
	}
	if history[1][2] != "PHYS" || history[1][7] != "2025-03-05" || history[1][8] != "5" || history[1][11] != remark {
		t.Fatalf("history = %v", history[1])
	}
}

func TestMissedSessionsFilename(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	if got := MissedSessionsFilename(Options{From: &from, To: &to}); got != "missed-sessions 2025-03-01..2025-03-31.xlsx" {
		t.Fatalf("name=%q", got)
	}
	now := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	if got := MissedSessionsFilename(Options{Now: now}); got != "missed-sessions 2025-04-02.xlsx" {
		t.Fatalf("name=%q", got)
	}
	if columnName(28) != "AB" {
		t.Fatal("column name")
	}
}
