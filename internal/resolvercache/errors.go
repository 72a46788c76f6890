package resolvercache

import (
	"strings"

	"github.com/0x4n6nerd/rtrtriage/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed cache.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err indicates the cache connection is closed,
// including raw driver errors that never passed through this package's wrapping.
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
