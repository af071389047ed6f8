package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/territorial-engagement/backend/internal/apperr"
)

// classify turns a driver failure into a StorageError. A caller
// cancellation surfaces as apperr.ErrCanceled instead.
func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %v", apperr.ErrCanceled, err)
	}
	return apperr.NewStorageError(kindOf(ctx, err), err)
}

func kindOf(ctx context.Context, err error) apperr.StorageKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.StorageTimeout
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "57014":
			return apperr.StorageTimeout
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57", pqErr.Code == "53300":
			return apperr.StorageConnection
		}
		return apperr.StorageQuery
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrCantOpen, sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr:
			return apperr.StorageConnection
		case sqlite3.ErrInterrupt:
			return apperr.StorageTimeout
		}
		return apperr.StorageQuery
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return apperr.StorageConnection
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return apperr.StorageTimeout
		}
		return apperr.StorageConnection
	}

	if strings.Contains(err.Error(), "connection refused") {
		return apperr.StorageConnection
	}

	return apperr.StorageQuery
}
