// Package inmem — хранилище в памяти с теми же контрактами, что и internal/db.
// Используется в dev-режиме (STORE_DRIVER=memory) и в юнит-тестах.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/models"
)

type lockKey struct {
	date  time.Time
	unit  string
	scope string
}

type Store struct {
	mu  sync.Mutex
	seq int64

	slots     []models.ScheduleSlot
	students  map[int64]models.Student
	overrides map[int64]*models.CalendarOverride
	leaves    map[int64]*models.LeaveGrant
	records   map[models.RecordKey]*models.SubmissionRecord
	locks     map[lockKey]models.LockMarker
	resets    []models.LockReset
	missed    map[int64]*models.MissedSessionEntry

	faults map[string]error
}

func New() *Store {
	return &Store{
		students:  make(map[int64]models.Student),
		overrides: make(map[int64]*models.CalendarOverride),
		leaves:    make(map[int64]*models.LeaveGrant),
		records:   make(map[models.RecordKey]*models.SubmissionRecord),
		locks:     make(map[lockKey]models.LockMarker),
		missed:    make(map[int64]*models.MissedSessionEntry),
		faults:    make(map[string]error),
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// Fail — следующие вызовы операции op вернут err (nil снимает отказ).
// Нужен для проверки поведения при недоступном хранилище.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// fault вызывается под s.mu.
func (s *Store) fault(op string) error {
	if err, ok := s.faults[op]; ok {
		return apperr.Unavailable(err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Ping"); err != nil {
		return err
	}
	return ctx.Err()
}
