package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/models"
)

const lockCols = `lock_date, unit, scope, record_count, locked_by, locked_at`

func scanLock(sc scanner) (models.LockMarker, error) {
	var (
		m    models.LockMarker
		unit string
	)
	if err := sc.Scan(&m.Date, &unit, &m.Scope, &m.RecordCount, &m.LockedBy, &m.LockedAt); err != nil {
		return m, err
	}
	m.Date, m.Unit = models.Day(m.Date), parseUnit(unit)
	return m, nil
}

// insertLock — test-and-set одной условной вставкой. Занято — CONFLICT
// с идентичностью существующего замка.
func insertLock(ctx context.Context, tx DBTX, m models.LockMarker) error {
	if m.LockedAt.IsZero() {
		m.LockedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_locks (lock_date, unit, scope, record_count, locked_by, locked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (lock_date, unit, scope) DO NOTHING
	`, models.Day(m.Date), m.Unit.Key(), m.Scope, m.RecordCount, m.LockedBy, m.LockedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	cur, err := scanLock(tx.QueryRowContext(ctx, `
		SELECT `+lockCols+` FROM attendance_locks WHERE lock_date = $1 AND unit = $2 AND scope = $3
	`, models.Day(m.Date), m.Unit.Key(), m.Scope))
	if err != nil {
		cur = m
	}
	return apperr.Conflict("attendance already recorded", map[string]any{
		"date":        models.FormatDate(cur.Date),
		"unit":        cur.Unit.Key(),
		"scope":       cur.Scope,
		"lockedBy":    cur.LockedBy,
		"lockedAt":    cur.LockedAt,
		"recordCount": cur.RecordCount,
	})
}

func (s *Store) AcquireLock(ctx context.Context, m models.LockMarker) error {
	ctx, cancel := op(ctx)
	defer cancel()
	return mapErr(insertLock(ctx, s.db, m))
}

// SubmitLocked — замок и записи в одной транзакции.
func (s *Store) SubmitLocked(ctx context.Context, m models.LockMarker, recs []models.SubmissionRecord) error {
	ctx, cancel := op(ctx)
	defer cancel()
	err := RunInTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx DBTX) error {
		if err := insertLock(ctx, tx, m); err != nil {
			return err
		}
		_, err := upsertLWW(ctx, tx, recs)
		return err
	})
	return mapErr(err)
}

func (s *Store) GetLock(ctx context.Context, date time.Time, unit models.Unit, scope string) (*models.LockMarker, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	m, err := scanLock(s.db.QueryRowContext(ctx, `
		SELECT `+lockCols+` FROM attendance_locks WHERE lock_date = $1 AND unit = $2 AND scope = $3
	`, models.Day(date), unit.Key(), scope))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func (s *Store) ListLocks(ctx context.Context, date time.Time) ([]models.LockMarker, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+lockCols+` FROM attendance_locks WHERE lock_date = $1 ORDER BY scope, unit
	`, models.Day(date))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []models.LockMarker
	for rows.Next() {
		m, err := scanLock(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, m)
	}
	return out, mapErr(rows.Err())
}

// ResetLock: снять замок, удалить записанное под ним, оставить запись аудита.
func (s *Store) ResetLock(ctx context.Context, r models.LockReset) (models.LockReset, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	r.Date = models.Day(r.Date)
	if r.ResetAt.IsZero() {
		r.ResetAt = time.Now().UTC()
	}
	err := RunInTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM attendance_locks WHERE lock_date = $1 AND unit = $2 AND scope = $3
		`, r.Date, r.Unit.Key(), r.Scope)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("lock not found")
		}

		res, err = tx.ExecContext(ctx, `
			DELETE FROM submission_records
			WHERE record_date = $1 AND unit = $2
			  AND source IN ('teacher', 'makeup')
			  AND ($3 = 'global' OR class_key = $3)
		`, r.Date, r.Unit.Key(), r.Scope)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		r.DeletedRecords = int(n)

		// отработка без своих записей снова ждёт проведения
		if r.Unit.IsPeriod() {
			res, err = tx.ExecContext(ctx, `
				UPDATE missed_sessions
				SET is_completed = FALSE, completed_at = NULL, completed_by = NULL,
				    makeup_date = NULL, makeup_period = NULL
				WHERE is_completed AND makeup_date = $1 AND makeup_period = $2
				  AND ($3 = 'global' OR class_key = $3)
			`, r.Date, r.Unit.Period, r.Scope)
			if err != nil {
				return err
			}
			n, _ = res.RowsAffected()
			r.ReopenedMakeups = int(n)
		}

		return tx.QueryRowContext(ctx, `
			INSERT INTO attendance_lock_resets (lock_date, unit, scope, reason, reset_by, reset_at, deleted_records, reopened_makeups)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, r.Date, r.Unit.Key(), r.Scope, r.Reason, r.ResetBy, r.ResetAt, r.DeletedRecords, r.ReopenedMakeups).Scan(&r.ID)
	})
	if err != nil {
		return models.LockReset{}, mapErr(err)
	}
	return r, nil
}

func (s *Store) LockResets(ctx context.Context, date time.Time) ([]models.LockReset, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lock_date, unit, scope, reason, reset_by, reset_at, deleted_records, reopened_makeups
		FROM attendance_lock_resets WHERE lock_date = $1 ORDER BY id
	`, models.Day(date))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []models.LockReset
	for rows.Next() {
		var (
			r    models.LockReset
			unit string
		)
		if err := rows.Scan(&r.ID, &r.Date, &unit, &r.Scope, &r.Reason, &r.ResetBy, &r.ResetAt, &r.DeletedRecords, &r.ReopenedMakeups); err != nil {
			return nil, mapErr(err)
		}
		r.Date, r.Unit = models.Day(r.Date), parseUnit(unit)
		out = append(out, r)
	}
	return out, mapErr(rows.Err())
}
