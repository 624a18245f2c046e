package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/ledger"
	"github.com/Spok95/attendance-engine/internal/models"
)

type submissionRequest struct {
	Date    string                `json:"date" validate:"required,datetime=2006-01-02"`
	Unit    string                `json:"unit" validate:"required"`
	Class   *models.ClassIdentity `json:"class"`
	Entries []ledger.Entry        `json:"entries" validate:"required,min=1,dive"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	unit, err := models.ParseUnit(req.Unit)
	if err != nil {
		s.writeErr(w, r, apperr.Validation("invalid submission", apperr.Field("unit", "must be a period number or a prayer")))
		return
	}
	d, _ := models.ParseDate(req.Date)
	res, err := s.Ledger.Submit(r.Context(), ledger.Batch{Date: d, Unit: unit, Class: req.Class, Entries: req.Entries})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f   models.RecordFilter
		err error
	)
	if f.Date, err = optDate(q, "date"); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if f.Unit, err = unitQuery(q, "unit"); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if f.Class, err = classQuery(q); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if v := strings.TrimSpace(q.Get("studentId")); v != "" {
		id, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || id <= 0 {
			s.writeErr(w, r, apperr.Validation("invalid query", apperr.Field("studentId", "must be a positive integer")))
			return
		}
		f.StudentID = &id
	}
	if f.Date == nil && f.StudentID == nil {
		s.writeErr(w, r, apperr.Validation("invalid query", apperr.Field("date", "date or studentId is required")))
		return
	}
	list, err := s.Ledger.Records(r.Context(), f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []models.SubmissionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

// handleListLocks — замки даты (с фильтром по unit и группе) и журнал сбросов.
func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := reqDate(q, "date")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	unit, err := unitQuery(q, "unit")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	class, err := classQuery(q)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	all, err := s.Locks.List(r.Context(), date)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	locks := make([]models.LockMarker, 0, len(all))
	for _, m := range all {
		if unit != nil && m.Unit != *unit {
			continue
		}
		if class != nil && m.Scope != class.Key() {
			continue
		}
		locks = append(locks, m)
	}
	resets, err := s.Locks.Resets(r.Context(), date)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if resets == nil {
		resets = []models.LockReset{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locks": locks, "resets": resets})
}

// handleResetLock — ручной сброс; без группы сбрасывается общий замок.
func (s *Server) handleResetLock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := reqDate(q, "date")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	unit, err := unitQuery(q, "unit")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if unit == nil {
		s.writeErr(w, r, apperr.Validation("invalid query", apperr.Field("unit", "required")))
		return
	}
	class, err := classQuery(q)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	res, err := s.Locks.Unlock(r.Context(), date, *unit, models.LockScopeFor(class), q.Get("reason"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
