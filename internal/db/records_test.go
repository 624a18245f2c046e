package db

import (
	"testing"
	"time"

	"github.com/Spok95/attendance-engine/internal/models"
)

func TestColumnsOf_LatestWins(t *testing.T) {
	class := models.ClassIdentity{CourseType: "hifz", Year: 10, Section: "a"}
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	at := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	grant := int64(3)

	recs := []models.SubmissionRecord{
		{StudentID: 1, Class: class, Date: day, Unit: models.PeriodUnit(1), Status: models.StatusAbsent, RecordedAt: at.Add(time.Minute)},
		{StudentID: 1, Class: class, Date: day, Unit: models.PeriodUnit(1), Status: models.StatusPresent, RecordedAt: at},
		{StudentID: 2, Class: class, Date: day, Unit: models.PrayerUnit(models.Fajr), Status: models.StatusOnLeave, LeaveGrantID: &grant, RecordedAt: at},
	}
	c := columnsOf(recs)

	if len(c.students) != 2 {
		t.Fatalf("rows=%d, want 2", len(c.students))
	}
	if c.statuses[0] != string(models.StatusAbsent) {
		t.Fatalf("status=%s, want the later write", c.statuses[0])
	}
	if c.grants[0] != 0 || c.grants[1] != grant {
		t.Fatalf("grants=%v", c.grants)
	}
	if c.dates[0] != "2025-03-03" || c.units[1] != "prayer:fajr" || c.classes[0] != "hifz/10//A" {
		t.Fatalf("columns = %+v", c)
	}
	if len(c.args()) != 10 {
		t.Fatal("unnest expects 10 arrays")
	}
}
