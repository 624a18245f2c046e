package models

import (
	"slices"
	"strings"
	"time"
)

type OverrideKind string

const (
	OverrideAcademic  OverrideKind = "academic"
	OverrideEmergency OverrideKind = "emergency"
)

func (k OverrideKind) Valid() bool { return k == OverrideAcademic || k == OverrideEmergency }

// OverrideScope — на кого действует закрытие.
// Periods пуст — закрыт весь день.
type OverrideScope struct {
	All         bool           `json:"all"`
	CourseTypes []string       `json:"courseTypes,omitempty"`
	Class       *ClassIdentity `json:"class,omitempty"`
	Periods     []int          `json:"periods,omitempty"`
}

// Includes — группа попадает в охват закрытия.
func (s OverrideScope) Includes(c ClassIdentity) bool {
	if s.All {
		return true
	}
	c = c.Normalize()
	if s.Class != nil && s.Class.Key() == c.Key() {
		return true
	}
	for _, ct := range s.CourseTypes {
		if strings.EqualFold(strings.TrimSpace(ct), c.CourseType) {
			return true
		}
	}
	return false
}

// CoversPeriod — закрыта конкретная пара.
func (s OverrideScope) CoversPeriod(period int) bool {
	return len(s.Periods) == 0 || slices.Contains(s.Periods, period)
}

// SchoolWide — закрытие всего учреждения на весь день.
func (s OverrideScope) SchoolWide() bool { return s.All && len(s.Periods) == 0 }

// CalendarOverride — праздник или экстренное закрытие на дату.
type CalendarOverride struct {
	ID        int64         `json:"id"`
	Date      time.Time     `json:"date"`
	Name      string        `json:"name"`
	Kind      OverrideKind  `json:"kind"`
	Scope     OverrideScope `json:"scope"`
	Deleted   bool          `json:"deleted"`
	CreatedBy int64         `json:"createdBy"`
	CreatedAt time.Time     `json:"createdAt"`
}

type OverrideFilter struct {
	Date           *time.Time
	From, To       *time.Time
	IncludeDeleted bool
}
