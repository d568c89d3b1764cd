package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/vietddude/mealog/internal/infra/storage"
)

// classify wraps a database error in *storage.Error. A nil err returns nil.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return storage.NewError(op, kindOf(err), err)
}

func kindOf(err error) storage.Kind {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return kindFromSQLState(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return kindFromSQLState(string(pqErr.Code))
	}

	switch {
	case errors.Is(err, context.Canceled):
		return storage.KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return storage.KindDeadlineExceeded
	case errors.Is(err, sql.ErrNoRows):
		return storage.KindNotFound
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return storage.KindUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return storage.KindUnavailable
	}
	if pgconn.SafeToRetry(err) {
		return storage.KindUnavailable
	}
	return storage.KindUnknown
}

// kindFromSQLState maps SQLSTATE codes onto storage kinds.
func kindFromSQLState(code string) storage.Kind {
	switch code {
	case "42501":
		return storage.KindPermissionDenied
	case "23505":
		return storage.KindAlreadyExists
	case "57014":
		return storage.KindCanceled
	case "57P01", "57P02", "57P03":
		return storage.KindUnavailable
	}

	switch {
	case strings.HasPrefix(code, "08"):
		return storage.KindUnavailable
	case strings.HasPrefix(code, "53"):
		return storage.KindResourceExhausted
	case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"):
		return storage.KindInvalidArgument
	case strings.HasPrefix(code, "28"):
		return storage.KindUnauthenticated
	case strings.HasPrefix(code, "XX"):
		return storage.KindInternal
	default:
		return storage.KindUnknown
	}
}
