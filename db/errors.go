package db

import (
	"strings"

	"github.com/greenlonk/chime/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed
// database. This happens during graceful shutdown when the connection is
// closed while the ticker is still draining its current cycle.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is
// closed, covering both wrapped ErrDatabaseClosed errors from this package
// and raw driver errors.
//
// The string matching fallback is necessary because the underlying sql driver
// returns its own error types that we cannot wrap at the source.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	errMsg := err.Error()
	return strings.Contains(errMsg, "database is closed") ||
		strings.Contains(errMsg, "sql: database is closed")
}
