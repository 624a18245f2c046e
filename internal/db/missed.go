package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/models"
)

const missedCols = `id, class_key, subject_id, missed_date, period_number, day_of_week, detected_at,
	priority, days_pending, is_completed, completed_at, completed_by, makeup_date, makeup_period, remarks`

func scanMissed(sc scanner) (models.MissedSessionEntry, error) {
	var (
		e               models.MissedSessionEntry
		classKey, prio  string
		dow             int
		completedAt, md sql.NullTime
		completedBy, mp sql.NullInt64
		remarks         sql.NullString
	)
	if err := sc.Scan(&e.ID, &classKey, &e.SubjectID, &e.MissedDate, &e.PeriodNumber, &dow, &e.DetectedAt,
		&prio, &e.DaysPending, &e.IsCompleted, &completedAt, &completedBy, &md, &mp, &remarks); err != nil {
		return e, err
	}
	e.Class = parseClass(classKey)
	e.MissedDate = models.Day(e.MissedDate)
	e.DayOfWeek = time.Weekday(dow)
	e.Priority = models.Priority(prio)
	e.CompletedAt = nullTime(completedAt)
	e.CompletedBy = nullInt64(completedBy)
	if md.Valid {
		d := models.Day(md.Time)
		e.MakeupDate = &d
	}
	if mp.Valid {
		p := int(mp.Int64)
		e.MakeupPeriod = &p
	}
	if remarks.Valid {
		e.Remarks = &remarks.String
	}
	return e, nil
}

// QueueMissed вставляет запись, только если по ключу нет ни открытой, ни
// закрытой. Частичный уникальный индекс страхует от гонки двух прогонов.
func (s *Store) QueueMissed(ctx context.Context, e models.MissedSessionEntry) (bool, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	if e.Priority == "" {
		e.Priority = models.PriorityNormal
	}
	c := e.Class.Normalize()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO missed_sessions
			(class_key, course_type, subject_id, missed_date, period_number, day_of_week, detected_at, priority, days_pending)
		SELECT $1::text, $2::text, $3::text, $4::date, $5::int, $6::smallint, $7::timestamptz, $8::text, $9::int
		WHERE NOT EXISTS (
			SELECT 1 FROM missed_sessions
			WHERE class_key = $1 AND subject_id = $3 AND missed_date = $4 AND period_number = $5
		)
		ON CONFLICT (class_key, subject_id, missed_date, period_number) WHERE NOT is_completed DO NOTHING
	`, c.Key(), c.CourseType, e.SubjectID, models.Day(e.MissedDate), e.PeriodNumber, int(e.DayOfWeek),
		e.DetectedAt, string(e.Priority), e.DaysPending)
	if err != nil {
		return false, mapErr(err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) RefreshDaysPending(ctx context.Context, today time.Time) (int, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		UPDATE missed_sessions
		SET days_pending = GREATEST($1::date - missed_date, 0)
		WHERE NOT is_completed AND days_pending <> GREATEST($1::date - missed_date, 0)
	`, models.Day(today))
	if err != nil {
		return 0, mapErr(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) GetMissed(ctx context.Context, id int64) (models.MissedSessionEntry, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	e, err := scanMissed(s.db.QueryRowContext(ctx, `SELECT `+missedCols+` FROM missed_sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.MissedSessionEntry{}, apperr.NotFound("missed session not found")
	}
	return e, mapErr(err)
}

func (s *Store) ListMissed(ctx context.Context, f models.MissedSessionFilter) ([]models.MissedSessionEntry, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	q := `SELECT ` + missedCols + ` FROM missed_sessions WHERE TRUE`
	var args []any
	idx := 1
	switch f.Status {
	case models.MissedPending, "":
		q += " AND NOT is_completed"
	case models.MissedCompleted:
		q += " AND is_completed"
	}
	if f.Class != nil {
		q += fmt.Sprintf(" AND class_key = $%d", idx)
		args = append(args, f.Class.Key())
		idx++
	}
	if f.CourseType != "" {
		q += fmt.Sprintf(" AND course_type = $%d", idx)
		args = append(args, models.ClassIdentity{CourseType: f.CourseType}.Normalize().CourseType)
		idx++
	}
	if f.SubjectID != "" {
		q += fmt.Sprintf(" AND subject_id = $%d", idx)
		args = append(args, f.SubjectID)
		idx++
	}
	if f.From != nil {
		q += fmt.Sprintf(" AND missed_date >= $%d", idx)
		args = append(args, models.Day(*f.From))
		idx++
	}
	if f.To != nil {
		q += fmt.Sprintf(" AND missed_date <= $%d", idx)
		args = append(args, models.Day(*f.To))
		idx++
	}
	q += " ORDER BY missed_date, id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, f.Limit)
		idx++
	}
	if f.Offset > 0 {
		q += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, f.Offset)
		idx++
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []models.MissedSessionEntry
	for rows.Next() {
		e, err := scanMissed(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

// CompleteMakeup — условный перевод pending → completed, замок слота отработки
// и её записи в одной транзакции.
func (s *Store) CompleteMakeup(ctx context.Context, id int64, c models.MakeupCompletion, m models.LockMarker, recs []models.SubmissionRecord) (models.MissedSessionEntry, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	var out models.MissedSessionEntry
	err := RunInTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx DBTX) error {
		e, err := scanMissed(tx.QueryRowContext(ctx, `
			UPDATE missed_sessions
			SET is_completed = TRUE, completed_at = $2, completed_by = $3,
			    makeup_date = $4, makeup_period = $5, remarks = COALESCE($6, remarks),
			    days_pending = GREATEST($7::date - missed_date, 0)
			WHERE id = $1 AND NOT is_completed
			RETURNING `+missedCols,
			id, c.CompletedAt, c.CompletedBy, models.Day(c.MakeupDate), c.MakeupPeriod, c.Remarks, c.Day()))
		if errors.Is(err, sql.ErrNoRows) {
			var done bool
			qerr := tx.QueryRowContext(ctx, `SELECT is_completed FROM missed_sessions WHERE id = $1`, id).Scan(&done)
			switch {
			case errors.Is(qerr, sql.ErrNoRows):
				return apperr.NotFound("missed session not found")
			case qerr != nil:
				return qerr
			}
			return apperr.AlreadyCompleted("missed session already completed")
		}
		if err != nil {
			return err
		}
		if err := insertLock(ctx, tx, m); err != nil {
			return err
		}
		if _, err := upsertLWW(ctx, tx, recs); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return models.MissedSessionEntry{}, mapErr(err)
	}
	return out, nil
}
