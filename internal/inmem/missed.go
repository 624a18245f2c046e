package inmem

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/models"
)

// QueueMissed ставит запись в очередь, если по ключу ещё нет ни открытой,
// ни закрытой записи. Закрытые не воскрешаем.
func (s *Store) QueueMissed(_ context.Context, e models.MissedSessionEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("QueueMissed"); err != nil {
		return false, err
	}
	e.Class = e.Class.Normalize()
	e.MissedDate = models.Day(e.MissedDate)
	k := e.Key()
	for _, cur := range s.missed {
		if cur.Key() == k {
			return false, nil
		}
	}
	e.ID = s.nextID()
	if e.Priority == "" {
		e.Priority = models.PriorityNormal
	}
	cp := e
	s.missed[e.ID] = &cp
	return true, nil
}

func (s *Store) RefreshDaysPending(_ context.Context, today time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("RefreshDaysPending"); err != nil {
		return 0, err
	}
	n := 0
	for _, e := range s.missed {
		if e.IsCompleted {
			continue
		}
		*e = e.WithDaysPending(today)
		n++
	}
	return n, nil
}

func (s *Store) GetMissed(_ context.Context, id int64) (models.MissedSessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetMissed"); err != nil {
		return models.MissedSessionEntry{}, err
	}
	e, ok := s.missed[id]
	if !ok {
		return models.MissedSessionEntry{}, apperr.NotFound("missed session not found")
	}
	return *e, nil
}

func (s *Store) ListMissed(_ context.Context, f models.MissedSessionFilter) ([]models.MissedSessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ListMissed"); err != nil {
		return nil, err
	}
	var out []models.MissedSessionEntry
	for _, e := range s.missed {
		switch f.Status {
		case models.MissedPending, "":
			if e.IsCompleted {
				continue
			}
		case models.MissedCompleted:
			if !e.IsCompleted {
				continue
			}
		}
		if f.Class != nil && e.Class.Key() != f.Class.Key() {
			continue
		}
		if f.CourseType != "" && !strings.EqualFold(e.Class.CourseType, f.CourseType) {
			continue
		}
		if f.SubjectID != "" && e.SubjectID != f.SubjectID {
			continue
		}
		if f.From != nil && e.MissedDate.Before(models.Day(*f.From)) {
			continue
		}
		if f.To != nil && e.MissedDate.After(models.Day(*f.To)) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MissedDate.Equal(out[j].MissedDate) {
			return out[i].MissedDate.Before(out[j].MissedDate)
		}
		return out[i].ID < out[j].ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// CompleteMakeup — перевод pending → completed вместе с записью отработки и замком.
// Любой отказ — без частичных изменений.
func (s *Store) CompleteMakeup(_ context.Context, id int64, c models.MakeupCompletion, m models.LockMarker, recs []models.SubmissionRecord) (models.MissedSessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CompleteMakeup"); err != nil {
		return models.MissedSessionEntry{}, err
	}
	e, ok := s.missed[id]
	if !ok {
		return models.MissedSessionEntry{}, apperr.NotFound("missed session not found")
	}
	if e.IsCompleted {
		return models.MissedSessionEntry{}, apperr.AlreadyCompleted("missed session already completed")
	}
	if err := s.tryLock(m); err != nil {
		return models.MissedSessionEntry{}, err
	}
	s.upsertLWW(recs)

	md, mp, at, by := models.Day(c.MakeupDate), c.MakeupPeriod, c.CompletedAt, c.CompletedBy
	e.IsCompleted = true
	e.CompletedAt = &at
	e.CompletedBy = &by
	e.MakeupDate = &md
	e.MakeupPeriod = &mp
	if c.Remarks != nil {
		e.Remarks = c.Remarks
	}
	e.DaysPending = max(models.DaysBetween(e.MissedDate, c.Day()), 0)
	return *e, nil
}
