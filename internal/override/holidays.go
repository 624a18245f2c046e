package override

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/ctxutil"
	"github.com/Spok95/attendance-engine/internal/logging"
	"github.com/Spok95/attendance-engine/internal/models"
)

type NewHoliday struct {
	Date  time.Time
	Name  string
	Kind  models.OverrideKind
	Scope models.OverrideScope
}

func (n NewHoliday) validate() error {
	var fields []apperr.FieldError
	if n.Date.IsZero() {
		fields = append(fields, apperr.Field("date", "required"))
	}
	if strings.TrimSpace(n.Name) == "" {
		fields = append(fields, apperr.Field("name", "required"))
	}
	if n.Kind != "" && !n.Kind.Valid() {
		fields = append(fields, apperr.Field("kind", "must be academic or emergency"))
	}
	s := n.Scope
	if !s.All && len(s.CourseTypes) == 0 && (s.Class == nil || s.Class.IsZero()) {
		fields = append(fields, apperr.Field("scope", "must be all, course types or a class"))
	}
	for _, p := range s.Periods {
		if p <= 0 {
			fields = append(fields, apperr.Field("scope.periods", "must be positive"))
			break
		}
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid override", fields...)
	}
	return nil
}

// CreateHoliday — закрытие на дату. Пересечение с действующим закрытием
// той же даты — конфликт.
func (r *Resolver) CreateHoliday(ctx context.Context, n NewHoliday) (models.CalendarOverride, error) {
	actor, err := ctxutil.RequireActor(ctx)
	if err != nil {
		return models.CalendarOverride{}, err
	}
	if err := n.validate(); err != nil {
		return models.CalendarOverride{}, err
	}
	if n.Kind == "" {
		n.Kind = models.OverrideAcademic
	}
	if n.Scope.Class != nil {
		c := n.Scope.Class.Normalize()
		n.Scope.Class = &c
	}
	date := models.Day(n.Date)

	existing, err := r.store.OverridesOn(ctx, date)
	if err != nil {
		return models.CalendarOverride{}, err
	}
	for i := range existing {
		if scopesIntersect(existing[i].Scope, n.Scope) {
			return models.CalendarOverride{}, apperr.Conflict("override already exists for this date and scope", overrideIdentity(&existing[i]))
		}
	}

	o, err := r.store.CreateOverride(ctx, models.CalendarOverride{
		Date:      date,
		Name:      strings.TrimSpace(n.Name),
		Kind:      n.Kind,
		Scope:     n.Scope,
		CreatedBy: actor,
		CreatedAt: r.Now().UTC(),
	})
	if err != nil {
		return models.CalendarOverride{}, err
	}
	logging.With(ctx, r.log).Info("override created",
		zap.Int64("override_id", o.ID),
		zap.String("date", models.FormatDate(o.Date)),
		zap.String("kind", string(o.Kind)),
	)
	return o, nil
}

// DeleteOverride — мягкое удаление.
func (r *Resolver) DeleteOverride(ctx context.Context, id int64) error {
	if _, err := ctxutil.RequireActor(ctx); err != nil {
		return err
	}
	if err := r.store.DeleteOverride(ctx, id); err != nil {
		return err
	}
	logging.With(ctx, r.log).Info("override deleted", zap.Int64("override_id", id))
	return nil
}

func (r *Resolver) ListOverrides(ctx context.Context, f models.OverrideFilter) ([]models.CalendarOverride, error) {
	return r.store.ListOverrides(ctx, f)
}
