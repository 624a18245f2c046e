// Package makeup — перевод пропущенного занятия в «отработано».
// Переход pending → completed единственный и окончательный.
package makeup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/ctxutil"
	"github.com/Spok95/attendance-engine/internal/ledger"
	"github.com/Spok95/attendance-engine/internal/logging"
	"github.com/Spok95/attendance-engine/internal/metrics"
	"github.com/Spok95/attendance-engine/internal/models"
)

type Store interface {
	GetMissed(ctx context.Context, id int64) (models.MissedSessionEntry, error)
	ListMissed(ctx context.Context, f models.MissedSessionFilter) ([]models.MissedSessionEntry, error)
	CompleteMakeup(ctx context.Context, id int64, c models.MakeupCompletion, m models.LockMarker, recs []models.SubmissionRecord) (models.MissedSessionEntry, error)
}

// Preparer — проверка отправки отработки тем же путём, что и живые отметки.
type Preparer interface {
	Prepare(ctx context.Context, b ledger.Batch) (ledger.Prepared, error)
}

type Service struct {
	store  Store
	ledger Preparer
	loc    *time.Location
	log    *zap.Logger

	Now func() time.Time
}

func New(store Store, l Preparer, loc *time.Location, log *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, ledger: l, loc: loc, log: logging.OrNop(log), Now: time.Now}
}

type CompleteRequest struct {
	EntryID      int64
	MakeupDate   time.Time
	MakeupPeriod int
	Remarks      *string
	Entries      []ledger.Entry
}

func (r CompleteRequest) validate() error {
	var fields []apperr.FieldError
	if r.EntryID <= 0 {
		fields = append(fields, apperr.Field("id", "required"))
	}
	if r.MakeupDate.IsZero() {
		fields = append(fields, apperr.Field("makeupDate", "required"))
	}
	if r.MakeupPeriod <= 0 {
		fields = append(fields, apperr.Field("makeupPeriod", "must be positive"))
	}
	if len(r.Entries) == 0 {
		fields = append(fields, apperr.Field("records", "makeup must come with the submitted attendance"))
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid makeup", fields...)
	}
	return nil
}

// Complete пишет отметки отработки под предметом пропущенного занятия и
// закрывает запись. Всё или ничего: при любой ошибке записи не остаются.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (models.MissedSessionEntry, error) {
	ctx = ctxutil.WithOp(ctx, "makeup.complete")
	actor, err := ctxutil.RequireActor(ctx)
	if err != nil {
		return models.MissedSessionEntry{}, err
	}
	if err := req.validate(); err != nil {
		return models.MissedSessionEntry{}, err
	}

	entry, err := s.store.GetMissed(ctx, req.EntryID)
	if err != nil {
		return models.MissedSessionEntry{}, err
	}
	if entry.IsCompleted {
		return models.MissedSessionEntry{}, apperr.AlreadyCompleted("missed session already completed")
	}
	md := models.Day(req.MakeupDate)
	if md.Before(entry.MissedDate) {
		return models.MissedSessionEntry{}, apperr.Validation("invalid makeup",
			apperr.Field("makeupDate", "must not be before the missed date"))
	}

	class := entry.Class
	p, err := s.ledger.Prepare(ctx, ledger.Batch{
		Date:      md,
		Unit:      models.PeriodUnit(req.MakeupPeriod),
		Class:     &class,
		Entries:   req.Entries,
		Source:    models.SourceMakeup,
		SubjectID: entry.SubjectID,
	})
	if err != nil {
		return models.MissedSessionEntry{}, err
	}

	done, err := s.store.CompleteMakeup(ctx, entry.ID, models.MakeupCompletion{
		MakeupDate:   md,
		MakeupPeriod: req.MakeupPeriod,
		CompletedBy:  actor,
		CompletedAt:  s.Now().UTC(),
		CompletedOn:  models.Today(s.Now(), s.loc),
		Remarks:      req.Remarks,
	}, p.Marker, p.Records)
	if err != nil {
		return models.MissedSessionEntry{}, err
	}

	metrics.MakeupsCompleted.Inc()
	metrics.RecordsWritten.WithLabelValues(string(models.SourceMakeup)).Add(float64(len(p.Records)))
	logging.With(ctx, s.log).Info("makeup completed",
		zap.Int64("entry_id", done.ID),
		zap.String("class", done.Class.Key()),
		zap.String("subject", done.SubjectID),
		zap.String("missed_date", models.FormatDate(done.MissedDate)),
		zap.String("makeup_date", models.FormatDate(md)),
		zap.Int("makeup_period", req.MakeupPeriod),
		zap.Int("records", len(p.Records)),
	)
	return done, nil
}

// List — очередь с пересчитанным daysPending на сегодня.
func (s *Service) List(ctx context.Context, f models.MissedSessionFilter) ([]models.MissedSessionEntry, error) {
	list, err := s.store.ListMissed(ctx, f)
	if err != nil {
		return nil, err
	}
	today := models.Today(s.Now(), s.loc)
	for i := range list {
		list[i] = list[i].WithDaysPending(today)
	}
	return list, nil
}

func (s *Service) Get(ctx context.Context, id int64) (models.MissedSessionEntry, error) {
	e, err := s.store.GetMissed(ctx, id)
	if err != nil {
		return models.MissedSessionEntry{}, err
	}
	return e.WithDaysPending(models.Today(s.Now(), s.loc)), nil
}
