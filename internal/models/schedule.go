package models

import (
	"strings"
	"time"
)

// NoSubject — плейсхолдеры "свободной пары" в расписании.
var noSubjectCodes = map[string]struct{}{
	"":     {},
	"none": {},
	"-":    {},
	"—":    {},
	"free": {},
}

// IsNoSubject — код предмета означает свободную пару.
func IsNoSubject(code string) bool {
	_, ok := noSubjectCodes[strings.ToLower(strings.TrimSpace(code))]
	return ok
}

// ScheduleSlot — ячейка недельной сетки: группа × день × пара → предмет.
type ScheduleSlot struct {
	Class        ClassIdentity `json:"class"`
	DayOfWeek    time.Weekday  `json:"dayOfWeek"`
	PeriodNumber int           `json:"periodNumber"`
	SubjectID    string        `json:"subjectId"`
	StartTime    string        `json:"startTime"` // "HH:MM"
	EndTime      string        `json:"endTime"`
}

func (s ScheduleSlot) Unit() Unit { return PeriodUnit(s.PeriodNumber) }

// Free — свободная пара, учёту не подлежит.
func (s ScheduleSlot) Free() bool { return IsNoSubject(s.SubjectID) }

// EndsBefore — пара закончилась к моменту clock ("HH:MM").
func (s ScheduleSlot) EndsBefore(clock string) bool {
	return s.EndTime != "" && s.EndTime <= clock
}

// Student — строка контингента (внешний справочник, только чтение).
type Student struct {
	ID     int64         `json:"id"`
	Name   string        `json:"name"`
	Class  ClassIdentity `json:"class"`
	Active bool          `json:"active"`
}
