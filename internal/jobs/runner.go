// Package jobs — фоновые задачи движка: ежедневное детектирование и leave_sync.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/attendance-engine/internal/ctxutil"
	"github.com/Spok95/attendance-engine/internal/logging"
	"github.com/Spok95/attendance-engine/internal/observability"
)

type Job func(ctx context.Context) error

type Runner struct {
	ctx context.Context
	log *zap.Logger
	wg  sync.WaitGroup

	now func() time.Time
}

func New(ctx context.Context, log *zap.Logger) *Runner {
	return &Runner{ctx: ctx, log: logging.OrNop(log), now: time.Now}
}

// Every — запуск с фиксированным интервалом.
func (r *Runner) Every(interval time.Duration, name string, fn Job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-t.C:
				r.Run(name, fn)
			}
		}
	}()
}

// Daily — раз в сутки в at ("HH:MM") по времени loc.
func (r *Runner) Daily(at string, loc *time.Location, name string, fn Job) error {
	if _, err := time.Parse("15:04", at); err != nil {
		return fmt.Errorf("job %s: bad time %q: %w", name, at, err)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			next := NextDaily(r.now(), at, loc)
			t := time.NewTimer(time.Until(next))
			select {
			case <-r.ctx.Done():
				t.Stop()
				return
			case <-t.C:
				r.Run(name, fn)
			}
		}
	}()
	return nil
}

// Run — один запуск с метриками; паника задачи не роняет процесс.
func (r *Runner) Run(name string, fn Job) {
	start := time.Now()
	ctx := ctxutil.WithOp(r.ctx, "job."+name)
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic in job %s: %v", name, p)
			}
		}()
		return fn(ctx)
	}()
	jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		jobRuns.WithLabelValues(name, "error").Inc()
		r.log.Error("job failed", zap.String("job", name), zap.Error(err))
		observability.CaptureErr(err)
		return
	}
	jobRuns.WithLabelValues(name, "ok").Inc()
	jobLastSuccess.WithLabelValues(name).SetToCurrentTime()
}

// Go — разовый запуск в фоне; Wait его дождётся.
func (r *Runner) Go(name string, fn Job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(name, fn)
	}()
}

// Wait — дождаться остановки всех циклов после отмены контекста.
func (r *Runner) Wait() { r.wg.Wait() }

// NextDaily — ближайший момент at ("HH:MM") в зоне loc строго после now.
func NextDaily(now time.Time, at string, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	clock, err := time.Parse("15:04", at)
	if err != nil {
		clock = time.Time{}
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, clock.Hour(), clock.Minute(), 0, 0, loc)
	}
	return next
}
