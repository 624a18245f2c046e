// Package schedule — недельная сетка занятий: что должно было состояться.
package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Spok95/attendance-engine/internal/models"
)

// Repository — источник сетки (CRUD расписания живёт вне движка).
type Repository interface {
	SlotsForDay(ctx context.Context, day time.Weekday) ([]models.ScheduleSlot, error)
}

// Service отдаёт ячейки сетки. Читаем через кэш по дням недели,
// сбрасывается явно через Invalidate после правок расписания.
type Service struct {
	repo    Repository
	holiday time.Weekday

	mu    sync.RWMutex
	cache map[time.Weekday][]models.ScheduleSlot
}

func New(repo Repository, weeklyHoliday time.Weekday) *Service {
	return &Service{
		repo:    repo,
		holiday: weeklyHoliday,
		cache:   make(map[time.Weekday][]models.ScheduleSlot),
	}
}

// IsWeeklyHoliday — постоянный выходной (по умолчанию пятница).
func (s *Service) IsWeeklyHoliday(day time.Weekday) bool { return day == s.holiday }

func (s *Service) WeeklyHoliday() time.Weekday { return s.holiday }

// Invalidate сбрасывает кэш целиком.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[time.Weekday][]models.ScheduleSlot)
	s.mu.Unlock()
}

func (s *Service) day(ctx context.Context, day time.Weekday) ([]models.ScheduleSlot, error) {
	s.mu.RLock()
	slots, ok := s.cache[day]
	s.mu.RUnlock()
	if ok {
		return slots, nil
	}

	slots, err := s.repo.SlotsForDay(ctx, day)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(slots, func(i, j int) bool {
		ki, kj := slots[i].Class.Key(), slots[j].Class.Key()
		if ki != kj {
			return ki < kj
		}
		return slots[i].PeriodNumber < slots[j].PeriodNumber
	})

	s.mu.Lock()
	s.cache[day] = slots
	s.mu.Unlock()
	return slots, nil
}

// SlotsOn — все ячейки дня по всем группам, требующие учёта.
// В выходной и для свободных пар — пусто.
func (s *Service) SlotsOn(ctx context.Context, day time.Weekday) ([]models.ScheduleSlot, error) {
	if s.IsWeeklyHoliday(day) {
		return nil, nil
	}
	all, err := s.day(ctx, day)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScheduleSlot, 0, len(all))
	for _, sl := range all {
		if sl.Free() {
			continue
		}
		out = append(out, sl)
	}
	return out, nil
}

// SlotsFor — ячейки одной группы в день недели (без свободных пар).
func (s *Service) SlotsFor(ctx context.Context, class models.ClassIdentity, day time.Weekday) ([]models.ScheduleSlot, error) {
	all, err := s.SlotsOn(ctx, day)
	if err != nil {
		return nil, err
	}
	key := class.Key()
	var out []models.ScheduleSlot
	for _, sl := range all {
		if sl.Class.Key() == key {
			out = append(out, sl)
		}
	}
	return out, nil
}

// SlotAt — ячейка (группа, день, пара). Свободная пара возвращается как есть,
// решение за вызывающим (см. ScheduleSlot.Free). nil — ячейки нет или выходной.
func (s *Service) SlotAt(ctx context.Context, class models.ClassIdentity, day time.Weekday, period int) (*models.ScheduleSlot, error) {
	if s.IsWeeklyHoliday(day) {
		return nil, nil
	}
	all, err := s.day(ctx, day)
	if err != nil {
		return nil, err
	}
	key := class.Key()
	for _, sl := range all {
		if sl.PeriodNumber == period && sl.Class.Key() == key {
			sl := sl
			return &sl, nil
		}
	}
	return nil, nil
}

// UnitsFor — все единицы учёта ученика группы class на дату: пары + молитвы.
func (s *Service) UnitsFor(ctx context.Context, class models.ClassIdentity, date time.Time) ([]models.ScheduleSlot, []models.Prayer, error) {
	slots, err := s.SlotsFor(ctx, class, date.Weekday())
	if err != nil {
		return nil, nil, err
	}
	return slots, models.Prayers, nil
}
