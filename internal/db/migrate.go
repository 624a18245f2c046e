package db

import (
	"database/sql"

	"github.com/pressly/goose/v3"

	"github.com/Spok95/attendance-engine/internal/db/migrations"
)

// Migrate применяет встроенные миграции.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}
