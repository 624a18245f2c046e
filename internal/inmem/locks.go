package inmem

import (
	"context"
	"sort"
	"time"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/models"
)

func keyOf(m models.LockMarker) lockKey {
	return lockKey{date: models.Day(m.Date), unit: m.Unit.Key(), scope: m.Scope}
}

func lockConflict(m models.LockMarker) error {
	return apperr.Conflict("attendance already recorded", map[string]any{
		"date":        models.FormatDate(m.Date),
		"unit":        m.Unit.Key(),
		"scope":       m.Scope,
		"lockedBy":    m.LockedBy,
		"lockedAt":    m.LockedAt,
		"recordCount": m.RecordCount,
	})
}

// tryLock — test-and-set. Вызывается под s.mu.
func (s *Store) tryLock(m models.LockMarker) error {
	k := keyOf(m)
	if cur, ok := s.locks[k]; ok {
		return lockConflict(cur)
	}
	m.Date = k.date
	s.locks[k] = m
	return nil
}

func (s *Store) AcquireLock(_ context.Context, m models.LockMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("AcquireLock"); err != nil {
		return err
	}
	return s.tryLock(m)
}

// SubmitLocked — замок и записи атомарно: либо всё, либо ничего.
func (s *Store) SubmitLocked(_ context.Context, m models.LockMarker, recs []models.SubmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SubmitLocked"); err != nil {
		return err
	}
	if err := s.tryLock(m); err != nil {
		return err
	}
	s.upsertLWW(recs)
	return nil
}

func (s *Store) GetLock(_ context.Context, date time.Time, unit models.Unit, scope string) (*models.LockMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetLock"); err != nil {
		return nil, err
	}
	m, ok := s.locks[lockKey{date: models.Day(date), unit: unit.Key(), scope: scope}]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *Store) ListLocks(_ context.Context, date time.Time) ([]models.LockMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := models.Day(date)
	var out []models.LockMarker
	for k, m := range s.locks {
		if k.date.Equal(d) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].Unit.Key() < out[j].Unit.Key()
	})
	return out, nil
}

// ResetLock снимает замок и откатывает записанное под ним (teacher/makeup);
// отработки, проведённые под этим замком, снова становятся pending.
func (s *Store) ResetLock(_ context.Context, r models.LockReset) (models.LockReset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ResetLock"); err != nil {
		return models.LockReset{}, err
	}
	k := lockKey{date: models.Day(r.Date), unit: r.Unit.Key(), scope: r.Scope}
	if _, ok := s.locks[k]; !ok {
		return models.LockReset{}, apperr.NotFound("lock not found")
	}
	delete(s.locks, k)

	n := 0
	for rk, rec := range s.records {
		if !rec.Date.Equal(k.date) || rec.Unit.Key() != k.unit {
			continue
		}
		if rec.Source != models.SourceTeacher && rec.Source != models.SourceMakeup {
			continue
		}
		if r.Scope != models.GlobalScope && rec.Class.Key() != r.Scope {
			continue
		}
		delete(s.records, rk)
		n++
	}

	reopened := 0
	if r.Unit.IsPeriod() {
		for _, e := range s.missed {
			if !e.IsCompleted || e.MakeupDate == nil || e.MakeupPeriod == nil {
				continue
			}
			if !e.MakeupDate.Equal(k.date) || *e.MakeupPeriod != r.Unit.Period {
				continue
			}
			if r.Scope != models.GlobalScope && e.Class.Key() != r.Scope {
				continue
			}
			e.IsCompleted = false
			e.CompletedAt, e.CompletedBy, e.MakeupDate, e.MakeupPeriod = nil, nil, nil, nil
			reopened++
		}
	}

	r.ID = s.nextID()
	r.Date = k.date
	r.DeletedRecords = n
	r.ReopenedMakeups = reopened
	if r.ResetAt.IsZero() {
		r.ResetAt = time.Now().UTC()
	}
	s.resets = append(s.resets, r)
	return r, nil
}

func (s *Store) LockResets(_ context.Context, date time.Time) ([]models.LockReset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := models.Day(date)
	var out []models.LockReset
	for _, r := range s.resets {
		if r.Date.Equal(d) {
			out = append(out, r)
		}
	}
	return out, nil
}
