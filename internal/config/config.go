package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Spok95/attendance-engine/internal/models"
)

type Config struct {
	DatabaseURL string
	StoreDriver string // postgres|memory
	SeedFile    string // JSON с сеткой и контингентом для memory
	HTTPAddr    string
	LogLevel    string
	Env         string // dev|prod
	SentryDSN   string
	Release     string
	Location    *time.Location

	DetectAt           string // "HH:MM" в Location
	DetectBackfillDays int
	LeaveSyncInterval  time.Duration
	OverdueDays        int
	WeeklyHoliday      time.Weekday
	DBTimeout          time.Duration

	// Уведомления в Telegram — опционально.
	BotToken string
	AdminIDs []int64
}

func Load() (*Config, error) {
	tz := getenv("TZ", "Asia/Karachi")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.Local
	}

	adminIDs, err := parseIDs(os.Getenv("ADMIN_IDS"))
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS: %w", err)
	}
	holiday, err := models.ParseWeekday(getenv("WEEKLY_HOLIDAY", "friday"))
	if err != nil {
		return nil, fmt.Errorf("WEEKLY_HOLIDAY: %w", err)
	}
	detectAt := getenv("DETECT_AT", "00:05")
	if _, err := time.Parse("15:04", detectAt); err != nil {
		return nil, fmt.Errorf("DETECT_AT: %w", err)
	}
	backfill, err := getint("DETECT_BACKFILL_DAYS", 7)
	if err != nil {
		return nil, err
	}
	overdue, err := getint("OVERDUE_DAYS", 7)
	if err != nil {
		return nil, err
	}
	syncEvery, err := getduration("LEAVE_SYNC_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	dbTimeout, err := getduration("DB_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		StoreDriver:        strings.ToLower(getenv("STORE_DRIVER", "postgres")),
		SeedFile:           os.Getenv("SEED_FILE"),
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		Env:                getenv("ENV", "dev"),
		SentryDSN:          os.Getenv("SENTRY_DSN"),
		Release:            getenv("RELEASE", "dev"),
		Location:           loc,
		DetectAt:           detectAt,
		DetectBackfillDays: backfill,
		LeaveSyncInterval:  syncEvery,
		OverdueDays:        overdue,
		WeeklyHoliday:      holiday,
		DBTimeout:          dbTimeout,
		BotToken:           os.Getenv("BOT_TOKEN"),
		AdminIDs:           adminIDs,
	}
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("STORE_DRIVER: unknown driver %q", cfg.StoreDriver)
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: bad number %q", k, v)
	}
	return n, nil
}

func getduration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: bad duration %q", k, v)
	}
	return d, nil
}

func parseIDs(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad id %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
