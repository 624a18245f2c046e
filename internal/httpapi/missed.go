package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/export"
	"github.com/Spok95/attendance-engine/internal/ledger"
	"github.com/Spok95/attendance-engine/internal/makeup"
	"github.com/Spok95/attendance-engine/internal/models"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// missedView — запись очереди для интерфейса: подпись группы и приоритет
// с учётом просрочки.
type missedView struct {
	models.MissedSessionEntry
	ClassLabel string          `json:"classLabel"`
	Priority   models.Priority `json:"priority"`
	Overdue    bool            `json:"overdue"`
}

func (s *Server) view(e models.MissedSessionEntry) missedView {
	p, overdue := e.Urgency(s.OverdueDays)
	return missedView{MissedSessionEntry: e, ClassLabel: e.Class.Label(), Priority: p, Overdue: overdue}
}

func missedFilter(q url.Values, defStatus models.MissedStatus, defLimit int) (models.MissedSessionFilter, error) {
	var f models.MissedSessionFilter
	class, err := classQuery(q)
	if err != nil {
		return f, err
	}
	if class != nil {
		f.Class = class
	} else {
		f.CourseType = strings.TrimSpace(q.Get("courseType"))
	}
	f.SubjectID = strings.TrimSpace(q.Get("subject"))
	if f.From, err = optDate(q, "from"); err != nil {
		return f, err
	}
	if f.To, err = optDate(q, "to"); err != nil {
		return f, err
	}

	switch st := models.MissedStatus(strings.ToLower(strings.TrimSpace(q.Get("status")))); st {
	case "":
		f.Status = defStatus
	case models.MissedPending, models.MissedCompleted, models.MissedAll:
		f.Status = st
	default:
		return f, apperr.Validation("invalid query", apperr.Field("status", "must be one of: pending completed all"))
	}

	if f.Limit, err = optInt(q, "limit", defLimit); err != nil {
		return f, err
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	f.Offset, err = optInt(q, "offset", 0)
	return f, err
}

func (s *Server) handleListMissed(w http.ResponseWriter, r *http.Request) {
	f, err := missedFilter(r.URL.Query(), models.MissedPending, defaultLimit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	list, err := s.Makeup.List(r.Context(), f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out := make([]missedView, 0, len(list))
	for _, e := range list {
		out = append(out, s.view(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "count": len(out)})
}

func (s *Server) handleGetMissed(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	e, err := s.Makeup.Get(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(e))
}

// handleExportMissed — xlsx: без фильтра статуса выгружаются обе вкладки.
func (s *Server) handleExportMissed(w http.ResponseWriter, r *http.Request) {
	f, err := missedFilter(r.URL.Query(), models.MissedAll, 0)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	list, err := s.Makeup.List(r.Context(), f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	opt := export.Options{OverdueDays: s.OverdueDays, Loc: s.Loc, From: f.From, To: f.To, Now: s.now()}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.MissedSessionsFilename(opt)+`"`)
	if err := export.WriteMissedSessions(w, list, opt); err != nil {
		s.writeErr(w, r, apperr.Internal("export failed", err))
	}
}

type detectRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// handleDetect — ручной прогон; без даты — за вчера.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if r.ContentLength != 0 {
		if err := s.decode(r, &req); err != nil {
			s.writeErr(w, r, err)
			return
		}
	}
	var (
		res any
		err error
	)
	if req.Date != "" {
		d, _ := models.ParseDate(req.Date)
		res, err = s.Detector.DetectDate(r.Context(), d)
	} else {
		res, err = s.Detector.RunDailyDetection(r.Context(), s.now().In(s.Loc))
	}
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type completeRequest struct {
	MakeupDate   string         `json:"makeupDate" validate:"required,datetime=2006-01-02"`
	MakeupPeriod int            `json:"makeupPeriod" validate:"required,gt=0"`
	Remarks      *string        `json:"remarks" validate:"omitempty,max=1000"`
	Records      []ledger.Entry `json:"records" validate:"required,min=1,dive"`
}

func (s *Server) handleCompleteMakeup(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	var req completeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	d, _ := models.ParseDate(req.MakeupDate)
	e, err := s.Makeup.Complete(r.Context(), makeup.CompleteRequest{
		EntryID:      id,
		MakeupDate:   d,
		MakeupPeriod: req.MakeupPeriod,
		Remarks:      req.Remarks,
		Entries:      req.Records,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(e))
}
