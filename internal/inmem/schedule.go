package inmem

import (
	"context"
	"sort"
	"time"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/models"
)

// PutSlot добавляет или заменяет ячейку (группа, день, пара).
func (s *Store) PutSlot(sl models.ScheduleSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.Class = sl.Class.Normalize()
	for i, cur := range s.slots {
		if cur.Class.Key() == sl.Class.Key() && cur.DayOfWeek == sl.DayOfWeek && cur.PeriodNumber == sl.PeriodNumber {
			s.slots[i] = sl
			return
		}
	}
	s.slots = append(s.slots, sl)
}

// PutStudent возвращает id (назначается, если ID == 0).
func (s *Store) PutStudent(st models.Student) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == 0 {
		st.ID = s.nextID()
	} else if st.ID > s.seq {
		s.seq = st.ID
	}
	st.Class = st.Class.Normalize()
	s.students[st.ID] = st
	return st.ID
}

func (s *Store) SlotsForDay(_ context.Context, day time.Weekday) ([]models.ScheduleSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SlotsForDay"); err != nil {
		return nil, err
	}
	var out []models.ScheduleSlot
	for _, sl := range s.slots {
		if sl.DayOfWeek == day {
			out = append(out, sl)
		}
	}
	return out, nil
}

func (s *Store) Student(_ context.Context, id int64) (models.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	if !ok {
		return models.Student{}, apperr.NotFound("student not found")
	}
	return st, nil
}

func (s *Store) StudentsInClass(_ context.Context, class models.ClassIdentity) ([]models.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := class.Key()
	var out []models.Student
	for _, st := range s.students {
		if st.Active && st.Class.Key() == key {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
