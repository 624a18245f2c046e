package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/models"
)

const overrideCols = `id, override_date, name, kind, scope_all, scope_course_types, scope_class_key,
	scope_periods, is_deleted, created_by, created_at`

func scanOverride(sc scanner) (models.CalendarOverride, error) {
	var (
		o        models.CalendarOverride
		kind     string
		courses  pq.StringArray
		classKey sql.NullString
		periods  pq.Int64Array
	)
	if err := sc.Scan(&o.ID, &o.Date, &o.Name, &kind, &o.Scope.All, &courses, &classKey,
		&periods, &o.Deleted, &o.CreatedBy, &o.CreatedAt); err != nil {
		return o, err
	}
	o.Kind = models.OverrideKind(kind)
	o.Date = models.Day(o.Date)
	o.Scope.CourseTypes = []string(courses)
	if classKey.Valid && classKey.String != "" {
		c := parseClass(classKey.String)
		o.Scope.Class = &c
	}
	for _, p := range periods {
		o.Scope.Periods = append(o.Scope.Periods, int(p))
	}
	return o, nil
}

func scopeArgs(sc models.OverrideScope) (pq.StringArray, sql.NullString, pq.Int64Array) {
	courses := pq.StringArray{}
	for _, ct := range sc.CourseTypes {
		courses = append(courses, models.ClassIdentity{CourseType: ct}.Normalize().CourseType)
	}
	var classKey sql.NullString
	if sc.Class != nil && !sc.Class.IsZero() {
		classKey = sql.NullString{String: sc.Class.Key(), Valid: true}
	}
	periods := pq.Int64Array{}
	for _, p := range sc.Periods {
		periods = append(periods, int64(p))
	}
	return courses, classKey, periods
}

func (s *Store) OverridesOn(ctx context.Context, date time.Time) ([]models.CalendarOverride, error) {
	d := models.Day(date)
	return s.ListOverrides(ctx, models.OverrideFilter{Date: &d})
}

func (s *Store) CreateOverride(ctx context.Context, o models.CalendarOverride) (models.CalendarOverride, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	courses, classKey, periods := scopeArgs(o.Scope)
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO calendar_overrides
			(override_date, name, kind, scope_all, scope_course_types, scope_class_key, scope_periods, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+overrideCols,
		models.Day(o.Date), o.Name, string(o.Kind), o.Scope.All, courses, classKey, periods, o.CreatedBy, o.CreatedAt)
	out, err := scanOverride(row)
	return out, mapErr(err)
}

func (s *Store) DeleteOverride(ctx context.Context, id int64) error {
	ctx, cancel := op(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		UPDATE calendar_overrides SET is_deleted = TRUE WHERE id = $1 AND NOT is_deleted
	`, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("override not found")
	}
	return nil
}

func (s *Store) ListOverrides(ctx context.Context, f models.OverrideFilter) ([]models.CalendarOverride, error) {
	ctx, cancel := op(ctx)
	defer cancel()
	q := `SELECT ` + overrideCols + ` FROM calendar_overrides WHERE TRUE`
	var args []any
	idx := 1
	if !f.IncludeDeleted {
		q += " AND NOT is_deleted"
	}
	if f.Date != nil {
		q += fmt.Sprintf(" AND override_date = $%d", idx)
		args = append(args, models.Day(*f.Date))
		idx++
	}
	if f.From != nil {
		q += fmt.Sprintf(" AND override_date >= $%d", idx)
		args = append(args, models.Day(*f.From))
		idx++
	}
	if f.To != nil {
		q += fmt.Sprintf(" AND override_date <= $%d", idx)
		args = append(args, models.Day(*f.To))
		idx++
	}
	q += " ORDER BY override_date, id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []models.CalendarOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, o)
	}
	return out, mapErr(rows.Err())
}
