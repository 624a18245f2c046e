package inmem

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/models"
)

// CreateLeave — проверка пересечения и вставка под одним мьютексом.
func (s *Store) CreateLeave(_ context.Context, g models.LeaveGrant) (models.LeaveGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateLeave"); err != nil {
		return models.LeaveGrant{}, err
	}
	g.FromDate, g.ToDate = models.Day(g.FromDate), models.Day(g.ToDate)
	for _, cur := range s.leaves {
		if cur.Status == models.LeaveActive && cur.StudentID == g.StudentID && cur.Overlaps(g.FromDate, g.ToDate) {
			return models.LeaveGrant{}, apperr.Conflict("leave grant overlaps an active grant", map[string]any{
				"leaveGrantId": cur.ID,
				"fromDate":     models.FormatDate(cur.FromDate),
				"toDate":       models.FormatDate(cur.ToDate),
			})
		}
	}
	g.ID = s.nextID()
	if g.Status == "" {
		g.Status = models.LeaveActive
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	cp := g
	s.leaves[g.ID] = &cp
	return g, nil
}

func (s *Store) GetLeave(_ context.Context, id int64) (models.LeaveGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.leaves[id]
	if !ok {
		return models.LeaveGrant{}, apperr.NotFound("leave grant not found")
	}
	return *g, nil
}

// ActiveLeaves — активные отпуска; studentIDs == nil — по всем ученикам,
// on != nil — только содержащие дату.
func (s *Store) ActiveLeaves(_ context.Context, studentIDs []int64, on *time.Time) ([]models.LeaveGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ActiveLeaves"); err != nil {
		return nil, err
	}
	var out []models.LeaveGrant
	for _, g := range s.leaves {
		if g.Status != models.LeaveActive {
			continue
		}
		if studentIDs != nil && !slices.Contains(studentIDs, g.StudentID) {
			continue
		}
		if on != nil && !g.Contains(*on) {
			continue
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CancelLeave(_ context.Context, id int64, at time.Time) (models.LeaveGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.leaves[id]
	if !ok || g.Status != models.LeaveActive {
		return models.LeaveGrant{}, apperr.NotFound("active leave grant not found")
	}
	g.Status = models.LeaveCancelled
	g.CancelledAt = &at
	return *g, nil
}

func (s *Store) CompleteExpiredLeaves(_ context.Context, today time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, g := range s.leaves {
		if g.Status == models.LeaveActive && g.ToDate.Before(models.Day(today)) {
			g.Status = models.LeaveCompleted
			n++
		}
	}
	return n, nil
}

func (s *Store) ListLeaves(_ context.Context, f models.LeaveFilter) ([]models.LeaveGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LeaveGrant
	for _, g := range s.leaves {
		if f.StudentID != nil && g.StudentID != *f.StudentID {
			continue
		}
		if f.Status != nil && g.Status != *f.Status {
			continue
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
