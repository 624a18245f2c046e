package override

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/ctxutil"
	"github.com/Spok95/attendance-engine/internal/logging"
	"github.com/Spok95/attendance-engine/internal/metrics"
	"github.com/Spok95/attendance-engine/internal/models"
)

type NewLeave struct {
	StudentID int64
	FromDate  time.Time
	ToDate    time.Time
	Reason    string
}

func (n NewLeave) validate() error {
	var fields []apperr.FieldError
	if n.StudentID <= 0 {
		fields = append(fields, apperr.Field("studentId", "required"))
	}
	if n.FromDate.IsZero() {
		fields = append(fields, apperr.Field("fromDate", "required"))
	}
	if n.ToDate.IsZero() {
		fields = append(fields, apperr.Field("toDate", "required"))
	}
	if !n.FromDate.IsZero() && !n.ToDate.IsZero() && models.Day(n.ToDate).Before(models.Day(n.FromDate)) {
		fields = append(fields, apperr.Field("toDate", "must not be before fromDate"))
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid leave grant", fields...)
	}
	return nil
}

// PropagationResult — итог материализации одного отпуска.
type PropagationResult struct {
	GrantID      int64    `json:"grantId"`
	Days         int      `json:"days"`
	Units        int      `json:"units"`
	Materialized int      `json:"materialized"`
	Skipped      int      `json:"skipped"`
	Failed       int      `json:"failed"`
	Errors       []string `json:"errors,omitempty"`
}

// CreateLeave — новый активный отпуск + немедленная материализация onLeave-записей.
// Ошибка материализации отпуск не отменяет: её доделает leave_sync.
func (r *Resolver) CreateLeave(ctx context.Context, n NewLeave) (models.LeaveGrant, PropagationResult, error) {
	actor, err := ctxutil.RequireActor(ctx)
	if err != nil {
		return models.LeaveGrant{}, PropagationResult{}, err
	}
	if err := n.validate(); err != nil {
		return models.LeaveGrant{}, PropagationResult{}, err
	}
	if _, err := r.store.Student(ctx, n.StudentID); err != nil {
		return models.LeaveGrant{}, PropagationResult{}, err
	}

	g, err := r.store.CreateLeave(ctx, models.LeaveGrant{
		StudentID: n.StudentID,
		FromDate:  models.Day(n.FromDate),
		ToDate:    models.Day(n.ToDate),
		Reason:    n.Reason,
		Status:    models.LeaveActive,
		CreatedBy: actor,
		CreatedAt: r.Now().UTC(),
	})
	if err != nil {
		return models.LeaveGrant{}, PropagationResult{}, err
	}

	log := logging.With(ctx, r.log).With(zap.Int64("grant_id", g.ID), zap.Int64("student_id", g.StudentID))
	res, err := r.Propagate(ctx, g)
	if err != nil {
		log.Warn("leave propagation failed", zap.Error(err))
		res.Errors = append(res.Errors, err.Error())
	}
	log.Info("leave granted",
		zap.String("from", models.FormatDate(g.FromDate)),
		zap.String("to", models.FormatDate(g.ToDate)),
		zap.Int("materialized", res.Materialized),
		zap.Int("failed", res.Failed),
	)
	return g, res, nil
}

// Propagate пишет onLeave-запись на каждую пару и молитву каждого дня отпуска.
// Повторный вызов ничего не дублирует. В постоянный выходной только молитвы.
func (r *Resolver) Propagate(ctx context.Context, g models.LeaveGrant) (PropagationResult, error) {
	res := PropagationResult{GrantID: g.ID}
	if g.Status != models.LeaveActive {
		return res, nil
	}
	st, err := r.store.Student(ctx, g.StudentID)
	if err != nil {
		return res, err
	}

	gid := g.ID
	at := r.Now().UTC()
	var recs []models.SubmissionRecord
	add := func(d time.Time, u models.Unit, subject string) {
		recs = append(recs, models.SubmissionRecord{
			StudentID:    g.StudentID,
			Class:        st.Class,
			Date:         d,
			Unit:         u,
			SubjectID:    subject,
			Status:       models.StatusOnLeave,
			Source:       models.SourceLeaveSync,
			LeaveGrantID: &gid,
			RecordedAt:   at,
			RecordedBy:   g.CreatedBy,
		})
	}
	for _, d := range g.Days() {
		res.Days++
		if !r.sched.IsWeeklyHoliday(d.Weekday()) {
			slots, err := r.sched.SlotsFor(ctx, st.Class, d.Weekday())
			if err != nil {
				return res, err
			}
			for _, sl := range slots {
				add(d, sl.Unit(), sl.SubjectID)
			}
		}
		for _, p := range models.Prayers {
			add(d, models.PrayerUnit(p), "")
		}
	}
	res.Units = len(recs)

	n, failed, errs := r.materialize(ctx, recs)
	res.Materialized, res.Failed, res.Errors = n, failed, errs
	res.Skipped = res.Units - n - failed
	metrics.RecordsWritten.WithLabelValues(string(models.SourceLeaveSync)).Add(float64(n))
	return res, nil
}

// materialize пишет пачками; упавшая пачка не останавливает остальные.
func (r *Resolver) materialize(ctx context.Context, recs []models.SubmissionRecord) (written, failed int, errs []string) {
	size := r.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	for start := 0; start < len(recs); start += size {
		if err := ctx.Err(); err != nil {
			failed += len(recs) - start
			errs = append(errs, err.Error())
			return
		}
		end := min(start+size, len(recs))
		n, err := r.store.MaterializeRecords(ctx, recs[start:end])
		if err != nil {
			failed += end - start
			errs = append(errs, err.Error())
			continue
		}
		written += n
	}
	return
}

// CancelLeave отменяет отпуск и удаляет только его leaveSync-записи.
func (r *Resolver) CancelLeave(ctx context.Context, id int64) (models.LeaveGrant, int, error) {
	if _, err := ctxutil.RequireActor(ctx); err != nil {
		return models.LeaveGrant{}, 0, err
	}
	g, err := r.store.CancelLeave(ctx, id, r.Now().UTC())
	if err != nil {
		return models.LeaveGrant{}, 0, err
	}
	log := logging.With(ctx, r.log).With(zap.Int64("grant_id", id))
	removed, err := r.store.RetractLeaveSync(ctx, id)
	if err != nil {
		// статус уже cancelled — хвосты уберёт leave_sync
		log.Error("leave retraction failed", zap.Error(err))
		return g, 0, err
	}
	log.Info("leave cancelled", zap.Int("retracted", removed))
	return g, removed, nil
}

func (r *Resolver) ListLeaves(ctx context.Context, f models.LeaveFilter) ([]models.LeaveGrant, error) {
	return r.store.ListLeaves(ctx, f)
}

// SyncResult — итог одного прогона leave_sync.
type SyncResult struct {
	Completed    int      `json:"completed"`
	Retracted    int      `json:"retracted"`
	Grants       int      `json:"grants"`
	Materialized int      `json:"materialized"`
	Failed       int      `json:"failed"`
	Errors       []string `json:"errors,omitempty"`
}

// SyncActiveLeaves — периодическое самовосстановление: закрыть истёкшие отпуска,
// добрать хвосты отменённых и заново (идемпотентно) материализовать активные.
func (r *Resolver) SyncActiveLeaves(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	n, err := r.store.CompleteExpiredLeaves(ctx, r.today())
	if err != nil {
		return res, err
	}
	res.Completed = n
	if res.Retracted, err = r.store.RetractCancelledLeaveSync(ctx); err != nil {
		return res, err
	}
	grants, err := r.store.ActiveLeaves(ctx, nil, nil)
	if err != nil {
		return res, err
	}
	for _, g := range grants {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Grants++
		p, err := r.Propagate(ctx, g)
		res.Materialized += p.Materialized
		res.Failed += p.Failed
		res.Errors = append(res.Errors, p.Errors...)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, err.Error())
		}
	}
	return res, nil
}
