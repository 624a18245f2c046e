package inmem

import (
	"context"
	"sort"
	"time"

	"github.com/Spok95/attendance-engine/internal/models"
)

func sameGrant(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// MaterializeRecords — пакетная вставка системных записей (leaveSync, emergency).
// Существующая запись перезаписывается только записью того же происхождения,
// так что повторный прогон идемпотентен, а записи преподавателя не трогаются.
func (s *Store) MaterializeRecords(_ context.Context, recs []models.SubmissionRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("MaterializeRecords"); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range recs {
		k := r.Key()
		cur, ok := s.records[k]
		if ok && (cur.Source != r.Source || !sameGrant(cur.LeaveGrantID, r.LeaveGrantID)) {
			continue
		}
		s.put(r, cur)
		n++
	}
	return n, nil
}

// put вызывается под s.mu.
func (s *Store) put(r models.SubmissionRecord, cur *models.SubmissionRecord) {
	r.Date = models.Day(r.Date)
	r.Class = r.Class.Normalize()
	if cur != nil {
		r.ID = cur.ID
	} else {
		r.ID = s.nextID()
	}
	cp := r
	s.records[r.Key()] = &cp
}

// upsertLWW — last-write-wins по RecordedAt. Вызывается под s.mu.
func (s *Store) upsertLWW(recs []models.SubmissionRecord) int {
	n := 0
	for _, r := range recs {
		cur, ok := s.records[r.Key()]
		if ok && !r.Supersedes(*cur) {
			continue
		}
		if r.Source != models.SourceLeaveSync {
			r.LeaveGrantID = nil
		}
		s.put(r, cur)
		n++
	}
	return n
}

func (s *Store) RetractLeaveSync(_ context.Context, grantID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("RetractLeaveSync"); err != nil {
		return 0, err
	}
	n := 0
	for k, r := range s.records {
		if r.Source == models.SourceLeaveSync && r.LeaveGrantID != nil && *r.LeaveGrantID == grantID {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

// RetractCancelledLeaveSync добирает записи отменённых отпусков,
// если отмена когда-то прервалась между сменой статуса и удалением.
func (s *Store) RetractCancelledLeaveSync(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, r := range s.records {
		if r.Source != models.SourceLeaveSync || r.LeaveGrantID == nil {
			continue
		}
		if g, ok := s.leaves[*r.LeaveGrantID]; ok && g.Status == models.LeaveCancelled {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) SessionConducted(_ context.Context, class models.ClassIdentity, date time.Time, period int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SessionConducted"); err != nil {
		return false, err
	}
	key, d, unit := class.Key(), models.Day(date), models.PeriodUnit(period).Key()
	// замок есть и тогда, когда все ученики группы были в отпуске
	if _, ok := s.locks[lockKey{date: d, unit: unit, scope: key}]; ok {
		return true, nil
	}
	for _, r := range s.records {
		if r.Date.Equal(d) && r.Unit.Key() == unit && r.Class.Key() == key && r.Source.Conducted() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) RecordsFor(_ context.Context, f models.RecordFilter) ([]models.SubmissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("RecordsFor"); err != nil {
		return nil, err
	}
	var out []models.SubmissionRecord
	for _, r := range s.records {
		if f.StudentID != nil && r.StudentID != *f.StudentID {
			continue
		}
		if f.Class != nil && r.Class.Key() != f.Class.Key() {
			continue
		}
		if f.Date != nil && !r.Date.Equal(models.Day(*f.Date)) {
			continue
		}
		if f.Unit != nil && r.Unit.Key() != f.Unit.Key() {
			continue
		}
		if f.Source != nil && r.Source != *f.Source {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Unit.Key() != b.Unit.Key() {
			return a.Unit.Key() < b.Unit.Key()
		}
		return a.StudentID < b.StudentID
	})
	return out, nil
}
