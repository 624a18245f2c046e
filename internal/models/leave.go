package models

import "time"

type LeaveStatus string

const (
	LeaveActive    LeaveStatus = "active"
	LeaveCancelled LeaveStatus = "cancelled"
	LeaveCompleted LeaveStatus = "completed"
)

// LeaveGrant — одобренный отпуск ученика на [FromDate, ToDate] включительно.
type LeaveGrant struct {
	ID          int64       `json:"id"`
	StudentID   int64       `json:"studentId"`
	FromDate    time.Time   `json:"fromDate"`
	ToDate      time.Time   `json:"toDate"`
	Reason      string      `json:"reason"`
	Status      LeaveStatus `json:"status"`
	CreatedBy   int64       `json:"createdBy"`
	CreatedAt   time.Time   `json:"createdAt"`
	CancelledAt *time.Time  `json:"cancelledAt,omitempty"`
}

// Contains — дата внутри отпуска (границы включительно).
func (g LeaveGrant) Contains(d time.Time) bool {
	d = Day(d)
	return !d.Before(Day(g.FromDate)) && !d.After(Day(g.ToDate))
}

// Overlaps — классический предикат пересечения интервалов.
func (g LeaveGrant) Overlaps(from, to time.Time) bool {
	return !Day(from).After(Day(g.ToDate)) && !Day(to).Before(Day(g.FromDate))
}

func (g LeaveGrant) Days() []time.Time { return DateRange(g.FromDate, g.ToDate) }

type LeaveFilter struct {
	StudentID *int64
	Status    *LeaveStatus
}
