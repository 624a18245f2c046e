package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Spok95/attendance-engine/internal/models"
)

const recordCols = `id, student_id, class_key, record_date, unit, subject_id, status, source,
	leave_grant_id, recorded_at, recorded_by`

// recordColumns — пачка записей в виде параллельных массивов для unnest.
type recordColumns struct {
	students, grants, by            pq.Int64Array
	classes, dates, units, subjects pq.StringArray
	statuses, sources, recordedAt   pq.StringArray
}

// columnsOf — дубликаты ключа внутри пачки схлопываются (побеждает более поздняя).
func columnsOf(recs []models.SubmissionRecord) recordColumns {
	idx := make(map[models.RecordKey]int, len(recs))
	uniq := make([]models.SubmissionRecord, 0, len(recs))
	for _, r := range recs {
		if i, ok := idx[r.Key()]; ok {
			if r.Supersedes(uniq[i]) {
				uniq[i] = r
			}
			continue
		}
		idx[r.Key()] = len(uniq)
		uniq = append(uniq, r)
	}

	var c recordColumns
	for _, r := range uniq {
		var grant int64
		if r.LeaveGrantID != nil {
			grant = *r.LeaveGrantID
		}
		c.students = append(c.students, r.StudentID)
		c.classes = append(c.classes, r.Class.Key())
		c.dates = append(c.dates, models.FormatDate(r.Date))
		c.units = append(c.units, r.Unit.Key())
		c.subjects = append(c.subjects, r.SubjectID)
		c.statuses = append(c.statuses, string(r.Status))
		c.sources = append(c.sources, string(r.Source))
		c.grants = append(c.grants, grant)
		c.recordedAt = append(c.recordedAt, r.RecordedAt.UTC().Format(time.RFC3339Nano))
		c.by = append(c.by, r.RecordedBy)
	}
	return c
}

func (c recordColumns) args() []any {
	return []any{c.students, c.classes, c.dates, c.units, c.subjects, c.statuses, c.sources, c.grants, c.recordedAt, c.by}
}

const recordsFromUnnest = `
	INSERT INTO submission_records
		(student_id, class_key, record_date, unit, subject_id, status, source, leave_grant_id, recorded_at, recorded_by)
	SELECT u.student_id, u.class_key, u.record_date::date, u.unit, u.subject_id, u.status, u.source,
	       NULLIF(u.grant_id, 0), u.recorded_at::timestamptz, u.recorded_by
	FROM unnest($1::bigint[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[],
	            $8::bigint[], $9::text[], $10::bigint[])
	     AS u(student_id, class_key, record_date, unit, subject_id, status, source, grant_id, recorded_at, recorded_by)
	ON CONFLICT (student_id, record_date, unit) DO UPDATE
	SET class_key = EXCLUDED.class_key, subject_id = EXCLUDED.subject_id, status = EXCLUDED.status,
	    recorded_at = EXCLUDED.recorded_at, recorded_by = EXCLUDED.recorded_by`

// MaterializeRecords — системные записи перезаписывают только записи того же
// происхождения, записи преподавателя и отработки не трогаются.
func (s *Store) MaterializeRecords(ctx context.Context, recs []models.SubmissionRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	ctx, cancel := op(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, recordsFromUnnest+`
	WHERE submission_records.source = EXCLUDED.source
	  AND submission_records.leave_grant_id IS NOT DISTINCT FROM EXCLUDED.leave_grant_id
	`, columnsOf(recs).args()...)
	if err != nil {
		return 0, mapErr(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// upsertLWW — last-write-wins по recorded_at.
func upsertLWW(ctx context.Context, tx DBTX, recs []models.SubmissionRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	res, err := tx.ExecContext(ctx, recordsFromUnnest+`,
	    source = EXCLUDED.source, leave_grant_id = EXCLUDED.leave_grant_id
	WHERE submission_records.recorded_at <= EXCLUDED.recorded_at
	`, columnsOf(recs).args()...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) RetractLeaveSync(ctx context.Context, grantID int64) (int, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM submission_records WHERE source = 'leaveSync' AND leave_grant_id = $1
	`, grantID)
	if err != nil {
		return 0, mapErr(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) RetractCancelledLeaveSync(ctx context.Context) (int, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM submission_records r
		USING leave_grants g
		WHERE r.leave_grant_id = g.id AND r.source = 'leaveSync' AND g.status = 'cancelled'
	`)
	if err != nil {
		return 0, mapErr(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) SessionConducted(ctx context.Context, class models.ClassIdentity, date time.Time, period int) (bool, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_locks WHERE scope = $1 AND lock_date = $2 AND unit = $3
		) OR EXISTS (
			SELECT 1 FROM submission_records
			WHERE class_key = $1 AND record_date = $2 AND unit = $3 AND source IN ('teacher', 'makeup')
		)
	`, class.Key(), models.Day(date), models.PeriodUnit(period).Key()).Scan(&ok)
	return ok, mapErr(err)
}

func (s *Store) RecordsFor(ctx context.Context, f models.RecordFilter) ([]models.SubmissionRecord, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	q := `SELECT ` + recordCols + ` FROM submission_records WHERE TRUE`
	var args []any
	idx := 1
	if f.StudentID != nil {
		q += fmt.Sprintf(" AND student_id = $%d", idx)
		args = append(args, *f.StudentID)
		idx++
	}
	if f.Class != nil {
		q += fmt.Sprintf(" AND class_key = $%d", idx)
		args = append(args, f.Class.Key())
		idx++
	}
	if f.Date != nil {
		q += fmt.Sprintf(" AND record_date = $%d", idx)
		args = append(args, models.Day(*f.Date))
		idx++
	}
	if f.Unit != nil {
		q += fmt.Sprintf(" AND unit = $%d", idx)
		args = append(args, f.Unit.Key())
		idx++
	}
	if f.Source != nil {
		q += fmt.Sprintf(" AND source = $%d", idx)
		args = append(args, string(*f.Source))
		idx++
	}
	q += " ORDER BY record_date, unit, student_id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []models.SubmissionRecord
	for rows.Next() {
		var (
			r                              models.SubmissionRecord
			classKey, unit, status, source string
			grant                          sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.StudentID, &classKey, &r.Date, &unit, &r.SubjectID, &status, &source,
			&grant, &r.RecordedAt, &r.RecordedBy); err != nil {
			return nil, mapErr(err)
		}
		r.Class, r.Unit, r.Date = parseClass(classKey), parseUnit(unit), models.Day(r.Date)
		r.Status, r.Source = models.AttendanceStatus(status), models.RecordSource(source)
		r.LeaveGrantID = nullInt64(grant)
		out = append(out, r)
	}
	return out, mapErr(rows.Err())
}
