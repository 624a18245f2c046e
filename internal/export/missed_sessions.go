// Package export выгружает очередь пропущенных занятий в xlsx.
package export

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/attendance-engine/internal/models"
)

const (
	SheetPending = "Pending"
	SheetHistory = "History"

	overdueColor = "#F8CBAD"
)

type Options struct {
	OverdueDays int
	Loc         *time.Location
	From, To    *time.Time
	Now         time.Time
}

var (
	pendingHeader = []any{"ID", "Class", "Subject", "Missed date", "Day", "Period", "Days pending", "Priority", "Detected at"}
	historyHeader = []any{"ID", "Class", "Subject", "Missed date", "Day", "Period", "Days pending",
		"Makeup date", "Makeup period", "Completed at", "Completed by", "Remarks"}
)

// MissedSessions — книга из двух листов: открытые записи и история отработок.
// Просроченные открытые записи подсвечены.
func MissedSessions(entries []models.MissedSessionEntry, opt Options) (*excelize.File, error) {
	loc := opt.Loc
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetPending); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetHistory); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(SheetPending, "A1", &pendingHeader); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(SheetHistory, "A1", &historyHeader); err != nil {
		return nil, err
	}

	pRow, hRow := 2, 2
	var overdue []int
	for _, e := range entries {
		if e.IsCompleted {
			row := []any{
				e.ID, e.Class.Label(), e.SubjectID, models.FormatDate(e.MissedDate), e.DayOfWeek.String(),
				e.PeriodNumber, e.DaysPending,
				dateOrEmpty(e.MakeupDate), intOrEmpty(e.MakeupPeriod), timeOrEmpty(e.CompletedAt, loc),
				int64OrEmpty(e.CompletedBy), strOrEmpty(e.Remarks),
			}
			if err := f.SetSheetRow(SheetHistory, fmt.Sprintf("A%d", hRow), &row); err != nil {
				return nil, err
			}
			hRow++
			continue
		}

		prio, late := e.Urgency(opt.OverdueDays)
		row := []any{
			e.ID, e.Class.Label(), e.SubjectID, models.FormatDate(e.MissedDate), e.DayOfWeek.String(),
			e.PeriodNumber, e.DaysPending, string(prio), e.DetectedAt.In(loc).Format("2006-01-02 15:04"),
		}
		if err := f.SetSheetRow(SheetPending, fmt.Sprintf("A%d", pRow), &row); err != nil {
			return nil, err
		}
		if late {
			overdue = append(overdue, pRow)
		}
		pRow++
	}

	for _, sh := range []string{SheetPending, SheetHistory} {
		if err := formatSheet(f, sh); err != nil {
			return nil, err
		}
	}
	highlightRows(f, SheetPending, len(pendingHeader), overdue, overdueColor)
	f.SetActiveSheet(0)
	return f, nil
}

// WriteMissedSessions пишет книгу в w (тело HTTP-ответа).
func WriteMissedSessions(w io.Writer, entries []models.MissedSessionEntry, opt Options) error {
	f, err := MissedSessions(entries, opt)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.WriteTo(w)
	return err
}

// MissedSessionsFilename — "missed-sessions 2025-03-01..2025-03-31.xlsx".
func MissedSessionsFilename(opt Options) string {
	loc := opt.Loc
	if loc == nil {
		loc = time.UTC
	}
	span := models.FormatDate(models.Today(opt.Now, loc))
	switch {
	case opt.From != nil && opt.To != nil:
		span = models.FormatDate(*opt.From) + ".." + models.FormatDate(*opt.To)
	case opt.From != nil:
		span = "from " + models.FormatDate(*opt.From)
	case opt.To != nil:
		span = "to " + models.FormatDate(*opt.To)
	}
	return sanitizeFileName("missed-sessions " + span + ".xlsx")
}

func dateOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return models.FormatDate(*t)
}

func timeOrEmpty(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format("2006-01-02 15:04")
}

func intOrEmpty(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func int64OrEmpty(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
