package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/models"
	"github.com/Spok95/attendance-engine/internal/override"
)

type leaveRequest struct {
	StudentID int64  `json:"studentId" validate:"required,gt=0"`
	FromDate  string `json:"fromDate" validate:"required,datetime=2006-01-02"`
	ToDate    string `json:"toDate" validate:"required,datetime=2006-01-02"`
	Reason    string `json:"reason" validate:"max=500"`
}

// handleCreateLeave — 201 даже при частично неудачной материализации:
// отпуск сохранён, хвост доделает leave_sync.
func (s *Server) handleCreateLeave(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if err := s.decode(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	from, _ := models.ParseDate(req.FromDate)
	to, _ := models.ParseDate(req.ToDate)
	g, prop, err := s.Resolver.CreateLeave(r.Context(), override.NewLeave{
		StudentID: req.StudentID, FromDate: from, ToDate: to, Reason: req.Reason,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"leave": g, "propagation": prop})
}

func (s *Server) handleCancelLeave(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	g, retracted, err := s.Resolver.CancelLeave(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leave": g, "retracted": retracted})
}

func (s *Server) handleListLeaves(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f models.LeaveFilter
	if v := strings.TrimSpace(q.Get("studentId")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			s.writeErr(w, r, apperr.Validation("invalid query", apperr.Field("studentId", "must be a positive integer")))
			return
		}
		f.StudentID = &id
	}
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		st := models.LeaveStatus(strings.ToLower(v))
		switch st {
		case models.LeaveActive, models.LeaveCancelled, models.LeaveCompleted:
			f.Status = &st
		default:
			s.writeErr(w, r, apperr.Validation("invalid query", apperr.Field("status", "must be one of: active cancelled completed")))
			return
		}
	}
	list, err := s.Resolver.ListLeaves(r.Context(), f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []models.LeaveGrant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}
