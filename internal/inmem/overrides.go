package inmem

import (
	"context"
	"sort"
	"time"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/models"
)

func (s *Store) OverridesOn(_ context.Context, date time.Time) ([]models.CalendarOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("OverridesOn"); err != nil {
		return nil, err
	}
	d := models.Day(date)
	var out []models.CalendarOverride
	for _, o := range s.overrides {
		if !o.Deleted && o.Date.Equal(d) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateOverride(_ context.Context, o models.CalendarOverride) (models.CalendarOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateOverride"); err != nil {
		return models.CalendarOverride{}, err
	}
	o.ID = s.nextID()
	o.Date = models.Day(o.Date)
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	cp := o
	s.overrides[o.ID] = &cp
	return o, nil
}

func (s *Store) DeleteOverride(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overrides[id]
	if !ok || o.Deleted {
		return apperr.NotFound("override not found")
	}
	o.Deleted = true
	return nil
}

func (s *Store) ListOverrides(_ context.Context, f models.OverrideFilter) ([]models.CalendarOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CalendarOverride
	for _, o := range s.overrides {
		if o.Deleted && !f.IncludeDeleted {
			continue
		}
		if f.Date != nil && !o.Date.Equal(models.Day(*f.Date)) {
			continue
		}
		if f.From != nil && o.Date.Before(models.Day(*f.From)) {
			continue
		}
		if f.To != nil && o.Date.After(models.Day(*f.To)) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
