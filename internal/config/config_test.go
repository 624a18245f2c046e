package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("WEEKLY_HOLIDAY", "")
	t.Setenv("ADMIN_IDS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WeeklyHoliday != time.Friday {
		t.Fatalf("weekly holiday: want friday, got %s", cfg.WeeklyHoliday)
	}
	if cfg.DetectAt != "00:05" || cfg.OverdueDays != 7 || cfg.LeaveSyncInterval != time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad_PostgresNeedsURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoad_BadValues(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DETECT_AT", "25:99")
	if _, err := Load(); err == nil {
		t.Fatal("expected DETECT_AT error")
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs("1, 2 3")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[2] != 3 {
		t.Fatalf("got %v", ids)
	}
	if _, err := parseIDs("1,x"); err == nil {
		t.Fatal("expected error")
	}
}
