// Package db — хранилище движка на PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/attendance-engine/internal/ctxutil"
	"github.com/Spok95/attendance-engine/internal/logging"
	"github.com/Spok95/attendance-engine/internal/models"
)

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

func NewStore(db *sql.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: logging.OrNop(log)}
}

func (s *Store) DB() *sql.DB { return s.db }

// op — стандартный таймаут на каждый вызов хранилища.
func op(ctx context.Context) (context.Context, context.CancelFunc) {
	return ctxutil.WithDBTimeout(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func parseClass(key string) models.ClassIdentity {
	c, err := models.ParseClassKey(key)
	if err != nil {
		return models.ClassIdentity{}
	}
	return c
}

func parseUnit(key string) models.Unit {
	u, _ := models.ParseUnit(key)
	return u
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
