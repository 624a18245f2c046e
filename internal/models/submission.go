package models

import "time"

type AttendanceStatus string

const (
	StatusPresent   AttendanceStatus = "present"
	StatusAbsent    AttendanceStatus = "absent"
	StatusOnLeave   AttendanceStatus = "onLeave"
	StatusEmergency AttendanceStatus = "emergency"
)

func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusOnLeave, StatusEmergency:
		return true
	}
	return false
}

// Manual — статусы, которые может проставить преподаватель.
func (s AttendanceStatus) Manual() bool { return s == StatusPresent || s == StatusAbsent }

// RecordSource — происхождение записи (provenance).
type RecordSource string

const (
	SourceTeacher   RecordSource = "teacher"
	SourceLeaveSync RecordSource = "leaveSync"
	SourceEmergency RecordSource = "emergency"
	SourceMakeup    RecordSource = "makeup"
)

// Conducted — запись подтверждает, что занятие было проведено.
// leaveSync и emergency лишь отражают отпуск или закрытие.
func (s RecordSource) Conducted() bool { return s == SourceTeacher || s == SourceMakeup }

// SubmissionRecord — запись журнала; ключ (StudentID, Date, Unit).
type SubmissionRecord struct {
	ID           int64            `json:"id"`
	StudentID    int64            `json:"studentId"`
	Class        ClassIdentity    `json:"class"`
	Date         time.Time        `json:"date"`
	Unit         Unit             `json:"unit"`
	SubjectID    string           `json:"subjectId,omitempty"`
	Status       AttendanceStatus `json:"status"`
	Source       RecordSource     `json:"source"`
	LeaveGrantID *int64           `json:"leaveGrantId,omitempty"`
	RecordedAt   time.Time        `json:"recordedAt"`
	RecordedBy   int64            `json:"recordedBy"`
}

// Supersedes — r вытесняет old по правилу last-write-wins.
func (r SubmissionRecord) Supersedes(old SubmissionRecord) bool {
	return !r.RecordedAt.Before(old.RecordedAt)
}

// RecordKey — идентичность записи журнала.
type RecordKey struct {
	StudentID int64
	Date      time.Time
	Unit      string
}

func (r SubmissionRecord) Key() RecordKey {
	return RecordKey{StudentID: r.StudentID, Date: Day(r.Date), Unit: r.Unit.Key()}
}

// RecordFilter — типизированный фильтр журнала; nil-поля не участвуют.
type RecordFilter struct {
	StudentID *int64
	Class     *ClassIdentity
	Date      *time.Time
	Unit      *Unit
	Source    *RecordSource
}
