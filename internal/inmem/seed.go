package inmem

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Spok95/attendance-engine/internal/models"
)

// Seed — начальные данные dev-режима: сетка и контингент.
type Seed struct {
	Slots    []models.ScheduleSlot `json:"slots"`
	Students []models.Student      `json:"students"`
}

// LoadSeed читает JSON и заполняет хранилище.
func (s *Store) LoadSeed(r io.Reader) (slots, students int, err error) {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return 0, 0, fmt.Errorf("decode seed: %w", err)
	}
	for i, sl := range seed.Slots {
		if sl.Class.IsZero() || sl.PeriodNumber <= 0 {
			return 0, 0, fmt.Errorf("seed slot %d: class and periodNumber are required", i)
		}
		s.PutSlot(sl)
	}
	for _, st := range seed.Students {
		s.PutStudent(st)
	}
	return len(seed.Slots), len(seed.Students), nil
}
