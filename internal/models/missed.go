package models

import "time"

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// MissedSessionEntry — пара по расписанию, которая не состоялась и не была отменена.
type MissedSessionEntry struct {
	ID           int64         `json:"id"`
	Class        ClassIdentity `json:"class"`
	SubjectID    string        `json:"subjectId"`
	MissedDate   time.Time     `json:"missedDate"`
	PeriodNumber int           `json:"periodNumber"`
	DayOfWeek    time.Weekday  `json:"dayOfWeek"`
	DetectedAt   time.Time     `json:"detectedAt"`
	Priority     Priority      `json:"priority"`
	DaysPending  int           `json:"daysPending"`
	IsCompleted  bool          `json:"isCompleted"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
	CompletedBy  *int64        `json:"completedBy,omitempty"`
	MakeupDate   *time.Time    `json:"makeupDate,omitempty"`
	MakeupPeriod *int          `json:"makeupPeriod,omitempty"`
	Remarks      *string       `json:"remarks,omitempty"`
}

// MissedKey — ключ уникальности открытой записи.
type MissedKey struct {
	ClassKey     string
	SubjectID    string
	MissedDate   time.Time
	PeriodNumber int
}

func (e MissedSessionEntry) Key() MissedKey {
	return MissedKey{ClassKey: e.Class.Key(), SubjectID: e.SubjectID, MissedDate: Day(e.MissedDate), PeriodNumber: e.PeriodNumber}
}

// WithDaysPending пересчитывает производное поле на дату today.
// У закрытой записи значение заморожено в момент закрытия.
func (e MissedSessionEntry) WithDaysPending(today time.Time) MissedSessionEntry {
	if e.IsCompleted {
		return e
	}
	e.DaysPending = max(DaysBetween(e.MissedDate, today), 0)
	return e
}

// MakeupCompletion — данные о проведённой отработке.
type MakeupCompletion struct {
	MakeupDate   time.Time
	MakeupPeriod int
	CompletedBy  int64
	CompletedAt  time.Time
	CompletedOn  time.Time // учебный день закрытия в зоне учреждения
	Remarks      *string
}

// Day — день, на который замораживается daysPending.
func (c MakeupCompletion) Day() time.Time {
	if !c.CompletedOn.IsZero() {
		return Day(c.CompletedOn)
	}
	return Day(c.CompletedAt)
}

type MissedStatus string

const (
	MissedPending   MissedStatus = "pending"
	MissedCompleted MissedStatus = "completed"
	MissedAll       MissedStatus = "all"
)

type MissedSessionFilter struct {
	Class      *ClassIdentity
	CourseType string
	SubjectID  string
	From, To   *time.Time
	Status     MissedStatus
	Limit      int
	Offset     int
}

// Urgency — отображаемый приоритет: открытая запись старше overdueDays
// поднимается до high. В хранилище не пишется.
func (e MissedSessionEntry) Urgency(overdueDays int) (Priority, bool) {
	p := e.Priority
	if p == "" {
		p = PriorityNormal
	}
	if e.IsCompleted || overdueDays <= 0 {
		return p, false
	}
	if e.DaysPending >= overdueDays {
		return PriorityHigh, true
	}
	return p, false
}
