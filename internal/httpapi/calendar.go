package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/models"
	"github.com/Spok95/attendance-engine/internal/override"
)

func (s *Server) handleCheckEmergency(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	d, err := optDate(q, "date")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	class, err := classQuery(q)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if class == nil {
		s.writeErr(w, r, apperr.Validation("invalid query", apperr.Field("class", "courseType, year and section are required")))
		return
	}
	var date time.Time
	if d != nil {
		date = *d
	}
	o, err := s.Resolver.CheckEmergency(r.Context(), date, *class)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":     o != nil,
		"override":   o,
		"classLabel": class.Label(),
	})
}

type declareRequest struct {
	Date  string               `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Name  string               `json:"name" validate:"max=200"`
	Class models.ClassIdentity `json:"class" validate:"required"`
}

func (s *Server) handleDeclareEmergency(w http.ResponseWriter, r *http.Request) {
	var req declareRequest
	if err := s.decode(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	in := override.EmergencyRequest{Name: req.Name, Class: req.Class}
	if req.Date != "" {
		in.Date, _ = models.ParseDate(req.Date)
	}
	res, err := s.Resolver.DeclareEmergency(r.Context(), in)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type holidayRequest struct {
	Date  string               `json:"date" validate:"required,datetime=2006-01-02"`
	Name  string               `json:"name" validate:"required,max=200"`
	Kind  models.OverrideKind  `json:"kind" validate:"omitempty,oneof=academic emergency"`
	Scope models.OverrideScope `json:"scope"`
}

func (s *Server) handleCreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req holidayRequest
	if err := s.decode(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	d, _ := models.ParseDate(req.Date)
	o, err := s.Resolver.CreateHoliday(r.Context(), override.NewHoliday{Date: d, Name: req.Name, Kind: req.Kind, Scope: req.Scope})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleDeleteHoliday(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := s.Resolver.DeleteOverride(r.Context(), id); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListHolidays(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f   models.OverrideFilter
		err error
	)
	if f.Date, err = optDate(q, "date"); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if f.From, err = optDate(q, "from"); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if f.To, err = optDate(q, "to"); err != nil {
		s.writeErr(w, r, err)
		return
	}
	f.IncludeDeleted, _ = strconv.ParseBool(q.Get("includeDeleted"))

	list, err := s.Resolver.ListOverrides(r.Context(), f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []models.CalendarOverride{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}
