package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Spok95/attendance-engine/internal/config"
	"github.com/Spok95/attendance-engine/internal/ctxutil"
	"github.com/Spok95/attendance-engine/internal/db"
	"github.com/Spok95/attendance-engine/internal/detector"
	"github.com/Spok95/attendance-engine/internal/httpapi"
	"github.com/Spok95/attendance-engine/internal/inmem"
	"github.com/Spok95/attendance-engine/internal/jobs"
	"github.com/Spok95/attendance-engine/internal/ledger"
	"github.com/Spok95/attendance-engine/internal/lock"
	"github.com/Spok95/attendance-engine/internal/logging"
	"github.com/Spok95/attendance-engine/internal/makeup"
	"github.com/Spok95/attendance-engine/internal/models"
	"github.com/Spok95/attendance-engine/internal/notify"
	"github.com/Spok95/attendance-engine/internal/observability"
	"github.com/Spok95/attendance-engine/internal/override"
	"github.com/Spok95/attendance-engine/internal/schedule"
)

// engineStore — всё, что сервисы ждут от хранилища. Реализуют db.Store и inmem.Store.
type engineStore interface {
	override.Store
	ledger.Store
	lock.Store
	detector.Store
	makeup.Store
	schedule.Repository
	httpapi.Pinger
}

var (
	_ engineStore = (*db.Store)(nil)
	_ engineStore = (*inmem.Store)(nil)
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not found, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Closer()
	logger := lg.Base

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, cfg.Release)
	if err != nil {
		logger.Warn("sentry init failed", zap.Error(err))
	} else {
		defer flush()
	}

	ctxutil.DefaultDBTimeout = cfg.DBTimeout

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	sched := schedule.New(store, cfg.WeeklyHoliday)
	resolver := override.New(store, sched, cfg.Location, logger)
	ldg := ledger.New(store, sched, resolver, cfg.Location, logger)
	det := detector.New(store, sched, resolver, cfg.Location, logger)
	locks := lock.New(store, logger)
	mk := makeup.New(store, ldg, cfg.Location, logger)

	notifier, err := notify.NewTelegram(cfg.BotToken, cfg.AdminIDs, logger)
	if err != nil {
		logger.Warn("telegram notifier disabled", zap.Error(err))
	}
	if notifier != nil {
		det.OnComplete = notifier.DetectionDone
	}

	// после сброса замка за прошедший день группу перепроверяем
	locks.OnReset = func(ctx context.Context, r models.LockReset) {
		if r.Scope == models.GlobalScope || !r.Date.Before(models.Today(time.Now(), cfg.Location)) {
			return
		}
		class, err := models.ParseClassKey(r.Scope)
		if err != nil {
			logger.Warn("lock reset: bad scope", zap.String("scope", r.Scope), zap.Error(err))
			return
		}
		res, err := det.DetectClass(ctx, r.Date, class)
		if err != nil {
			logger.Error("lock reset: redetect failed", zap.String("scope", r.Scope), zap.Error(err))
			return
		}
		logger.Info("lock reset: redetected",
			zap.String("scope", r.Scope),
			zap.String("date", models.FormatDate(r.Date)),
			zap.Int("newly_missed", res.NewlyMissed),
		)
	}

	runner := jobs.New(ctx, logger)
	if err := runner.Daily(cfg.DetectAt, cfg.Location, "missed_detection", func(ctx context.Context) error {
		_, err := det.RunDailyDetection(ctx, time.Now().In(cfg.Location))
		return err
	}); err != nil {
		logger.Fatal("schedule detection", zap.Error(err))
	}
	runner.Every(cfg.LeaveSyncInterval, "leave_sync", func(ctx context.Context) error {
		_, err := resolver.SyncActiveLeaves(ctx)
		return err
	})
	if cfg.DetectBackfillDays > 0 {
		runner.Go("detection_backfill", func(ctx context.Context) error {
			from := models.Today(time.Now(), cfg.Location).AddDate(0, 0, -cfg.DetectBackfillDays)
			_, err := det.RunRange(ctx, from, time.Time{})
			return err
		})
	}

	srv := httpapi.New(httpapi.Deps{
		Resolver:    resolver,
		Ledger:      ldg,
		Locks:       locks,
		Detector:    det,
		Makeup:      mk,
		Schedule:    sched,
		Store:       store,
		Log:         logger,
		Loc:         cfg.Location,
		OverdueDays: cfg.OverdueDays,
	})
	hs := httpapi.StartHTTP(ctx, cfg.HTTPAddr, srv.Router(), logger)

	logger.Info("attendance engine started",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("store", cfg.StoreDriver),
		zap.String("tz", cfg.Location.String()),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	<-hs.Done()
	runner.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (engineStore, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		s := inmem.New()
		if cfg.SeedFile != "" {
			f, err := os.Open(cfg.SeedFile)
			if err != nil {
				return nil, nil, fmt.Errorf("open seed: %w", err)
			}
			defer f.Close()
			slots, students, err := s.LoadSeed(f)
			if err != nil {
				return nil, nil, fmt.Errorf("load seed: %w", err)
			}
			logger.Info("seed loaded", zap.Int("slots", slots), zap.Int("students", students))
		}
		return s, func() {}, nil
	default:
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(conn); err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return db.NewStore(conn, logger), func() { _ = conn.Close() }, nil
	}
}
