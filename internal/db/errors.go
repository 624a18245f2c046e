package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/Spok95/attendance-engine/internal/apperr"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

// sqlState — код ошибки сервера для обоих драйверов (pgx и lib/pq).
func sqlState(err error) (code, constraint, msg string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName, pgErr.Message, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, pqErr.Message, true
	}
	return "", "", "", false
}

func isPgCode(err error, code string) bool {
	c, _, _, ok := sqlState(err)
	return ok && c == code
}

// mapErr переводит ошибки драйвера в таксономию apperr.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) || errors.Is(err, context.Canceled) {
		return err
	}

	if code, constraint, msg, ok := sqlState(err); ok {
		switch {
		case code == pgUniqueViolation, code == pgExclusionViolation:
			return apperr.Conflict(msg, map[string]any{"constraint": constraint})
		case strings.HasPrefix(code, "08"), code == "57P01", code == "53300":
			return apperr.Unavailable(err)
		}
		return apperr.Internal("database error", err)
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connErr),
		errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded):
		return apperr.Unavailable(err)
	}
	return apperr.Internal("database error", err)
}
