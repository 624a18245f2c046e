package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/models"
)

const leaveCols = `id, student_id, from_date, to_date, reason, status, created_by, created_at, cancelled_at`

func scanLeave(sc scanner) (models.LeaveGrant, error) {
	var (
		g         models.LeaveGrant
		status    string
		cancelled sql.NullTime
	)
	if err := sc.Scan(&g.ID, &g.StudentID, &g.FromDate, &g.ToDate, &g.Reason, &status, &g.CreatedBy, &g.CreatedAt, &cancelled); err != nil {
		return g, err
	}
	g.FromDate, g.ToDate = models.Day(g.FromDate), models.Day(g.ToDate)
	g.Status = models.LeaveStatus(status)
	g.CancelledAt = nullTime(cancelled)
	return g, nil
}

// CreateLeave — пересечение активных отпусков запрещает EXCLUDE-ограничение,
// так что проверка и вставка атомарны.
func (s *Store) CreateLeave(ctx context.Context, g models.LeaveGrant) (models.LeaveGrant, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	if g.Status == "" {
		g.Status = models.LeaveActive
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO leave_grants (student_id, from_date, to_date, reason, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+leaveCols,
		g.StudentID, models.Day(g.FromDate), models.Day(g.ToDate), g.Reason, string(g.Status), g.CreatedBy, g.CreatedAt)
	out, err := scanLeave(row)
	if isPgCode(err, pgExclusionViolation) {
		return models.LeaveGrant{}, s.leaveConflict(ctx, g)
	}
	return out, mapErr(err)
}

func (s *Store) leaveConflict(ctx context.Context, g models.LeaveGrant) error {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+leaveCols+`
		FROM leave_grants
		WHERE student_id = $1 AND status = 'active' AND from_date <= $3 AND to_date >= $2
		ORDER BY id LIMIT 1
	`, g.StudentID, models.Day(g.FromDate), models.Day(g.ToDate))
	cur, err := scanLeave(row)
	if err != nil {
		return apperr.Conflict("leave grant overlaps an active grant", nil)
	}
	return apperr.Conflict("leave grant overlaps an active grant", map[string]any{
		"leaveGrantId": cur.ID,
		"fromDate":     models.FormatDate(cur.FromDate),
		"toDate":       models.FormatDate(cur.ToDate),
	})
}

func (s *Store) GetLeave(ctx context.Context, id int64) (models.LeaveGrant, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	g, err := scanLeave(s.db.QueryRowContext(ctx, `SELECT `+leaveCols+` FROM leave_grants WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.LeaveGrant{}, apperr.NotFound("leave grant not found")
	}
	return g, mapErr(err)
}

func (s *Store) ActiveLeaves(ctx context.Context, studentIDs []int64, on *time.Time) ([]models.LeaveGrant, error) {
	q := `SELECT ` + leaveCols + ` FROM leave_grants WHERE status = 'active'`
	var args []any
	idx := 1
	if studentIDs != nil {
		q += fmt.Sprintf(" AND student_id = ANY($%d)", idx)
		args = append(args, pq.Array(studentIDs))
		idx++
	}
	if on != nil {
		q += fmt.Sprintf(" AND $%d BETWEEN from_date AND to_date", idx)
		args = append(args, models.Day(*on))
		idx++
	}
	return s.queryLeaves(ctx, q+" ORDER BY id", args...)
}

func (s *Store) CancelLeave(ctx context.Context, id int64, at time.Time) (models.LeaveGrant, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	g, err := scanLeave(s.db.QueryRowContext(ctx, `
		UPDATE leave_grants SET status = 'cancelled', cancelled_at = $2
		WHERE id = $1 AND status = 'active'
		RETURNING `+leaveCols, id, at))
	if errors.Is(err, sql.ErrNoRows) {
		return models.LeaveGrant{}, apperr.NotFound("active leave grant not found")
	}
	return g, mapErr(err)
}

func (s *Store) CompleteExpiredLeaves(ctx context.Context, today time.Time) (int, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		UPDATE leave_grants SET status = 'completed' WHERE status = 'active' AND to_date < $1
	`, models.Day(today))
	if err != nil {
		return 0, mapErr(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) ListLeaves(ctx context.Context, f models.LeaveFilter) ([]models.LeaveGrant, error) {
	q := `SELECT ` + leaveCols + ` FROM leave_grants WHERE TRUE`
	var args []any
	idx := 1
	if f.StudentID != nil {
		q += fmt.Sprintf(" AND student_id = $%d", idx)
		args = append(args, *f.StudentID)
		idx++
	}
	if f.Status != nil {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, string(*f.Status))
		idx++
	}
	return s.queryLeaves(ctx, q+" ORDER BY id", args...)
}

func (s *Store) queryLeaves(ctx context.Context, q string, args ...any) ([]models.LeaveGrant, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []models.LeaveGrant
	for rows.Next() {
		g, err := scanLeave(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, g)
	}
	return out, mapErr(rows.Err())
}
