package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/models"
)

func (s *Store) SlotsForDay(ctx context.Context, day time.Weekday) ([]models.ScheduleSlot, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT class_key, day_of_week, period_number, subject_id, start_time, end_time
		FROM schedule_slots
		WHERE day_of_week = $1
		ORDER BY class_key, period_number
	`, int(day))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []models.ScheduleSlot
	for rows.Next() {
		var (
			sl  models.ScheduleSlot
			key string
			dow int
		)
		if err := rows.Scan(&key, &dow, &sl.PeriodNumber, &sl.SubjectID, &sl.StartTime, &sl.EndTime); err != nil {
			return nil, mapErr(err)
		}
		sl.Class, sl.DayOfWeek = parseClass(key), time.Weekday(dow)
		out = append(out, sl)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) Student(ctx context.Context, id int64) (models.Student, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	var (
		st  models.Student
		key string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, class_key, is_active FROM students WHERE id = $1
	`, id).Scan(&st.ID, &st.Name, &key, &st.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Student{}, apperr.NotFound("student not found")
	}
	if err != nil {
		return models.Student{}, mapErr(err)
	}
	st.Class = parseClass(key)
	return st, nil
}

func (s *Store) StudentsInClass(ctx context.Context, class models.ClassIdentity) ([]models.Student, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, class_key, is_active
		FROM students
		WHERE class_key = $1 AND is_active
		ORDER BY id
	`, class.Key())
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []models.Student
	for rows.Next() {
		var (
			st  models.Student
			key string
		)
		if err := rows.Scan(&st.ID, &st.Name, &key, &st.Active); err != nil {
			return nil, mapErr(err)
		}
		st.Class = parseClass(key)
		out = append(out, st)
	}
	return out, mapErr(rows.Err())
}

// UpsertSlot / UpsertStudent — загрузка справочников (seed, интеграционные тесты).
func (s *Store) UpsertSlot(ctx context.Context, sl models.ScheduleSlot) error {
	ctx, cancel := op(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_slots (class_key, day_of_week, period_number, subject_id, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (class_key, day_of_week, period_number) DO UPDATE
		SET subject_id = EXCLUDED.subject_id, start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time
	`, sl.Class.Key(), int(sl.DayOfWeek), sl.PeriodNumber, sl.SubjectID, sl.StartTime, sl.EndTime)
	return mapErr(err)
}

func (s *Store) UpsertStudent(ctx context.Context, st models.Student) (int64, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	if st.ID == 0 {
		var id int64
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO students (name, class_key, is_active) VALUES ($1, $2, $3) RETURNING id
		`, st.Name, st.Class.Key(), st.Active).Scan(&id)
		return id, mapErr(err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, name, class_key, is_active) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, class_key = EXCLUDED.class_key, is_active = EXCLUDED.is_active
	`, st.ID, st.Name, st.Class.Key(), st.Active)
	return st.ID, mapErr(err)
}
