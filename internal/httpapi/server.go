// Package httpapi — REST-поверхность движка посещаемости.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Spok95/attendance-engine/internal/detector"
	"github.com/Spok95/attendance-engine/internal/ledger"
	"github.com/Spok95/attendance-engine/internal/lock"
	"github.com/Spok95/attendance-engine/internal/logging"
	"github.com/Spok95/attendance-engine/internal/makeup"
	"github.com/Spok95/attendance-engine/internal/metrics"
	"github.com/Spok95/attendance-engine/internal/override"
	"github.com/Spok95/attendance-engine/internal/schedule"
)

// Pinger — проверка доступности хранилища для /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Resolver *override.Resolver
	Ledger   *ledger.Service
	Locks    *lock.Service
	Detector *detector.Service
	Makeup   *makeup.Service
	Schedule *schedule.Service
	Store    Pinger

	Log         *zap.Logger
	Loc         *time.Location
	OverdueDays int
}

type Server struct {
	Deps
	validate *validator.Validate
	now      func() time.Time
}

func New(d Deps) *Server {
	if d.Loc == nil {
		d.Loc = time.UTC
	}
	d.Log = logging.OrNop(d.Log)
	return &Server{Deps: d, validate: newValidator(), now: time.Now}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)
	r.Use(s.observe)
	r.Use(s.actor)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/missed-sessions", func(r chi.Router) {
		r.Get("/", s.handleListMissed)
		r.Get("/export", s.handleExportMissed)
		r.Get("/{id}", s.handleGetMissed)
		r.Post("/detect", s.handleDetect)
		r.Put("/{id}/complete", s.handleCompleteMakeup)
	})

	r.Route("/emergency-leave", func(r chi.Router) {
		r.Get("/check", s.handleCheckEmergency)
		r.Post("/declare", s.handleDeclareEmergency)
	})

	r.Route("/holidays", func(r chi.Router) {
		r.Get("/", s.handleListHolidays)
		r.Post("/", s.handleCreateHoliday)
		r.Delete("/{id}", s.handleDeleteHoliday)
	})

	r.Route("/leaves", func(r chi.Router) {
		r.Get("/", s.handleListLeaves)
		r.Post("/", s.handleCreateLeave)
		r.Post("/{id}/cancel", s.handleCancelLeave)
	})

	r.Route("/attendance", func(r chi.Router) {
		r.Post("/submissions", s.handleSubmit)
		r.Get("/records", s.handleListRecords)
		r.Get("/locks", s.handleListLocks)
		r.Delete("/locks", s.handleResetLock)
	})

	r.Post("/schedule/invalidate", s.handleInvalidateSchedule)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 800*time.Millisecond)
		defer cancel()
		if err := s.Store.Ping(ctx); err != nil {
			s.writeErr(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInvalidateSchedule(w http.ResponseWriter, r *http.Request) {
	s.Schedule.Invalidate()
	logging.With(r.Context(), s.Log).Info("schedule cache invalidated")
	w.WriteHeader(http.StatusNoContent)
}
