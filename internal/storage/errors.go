package storage

import (
	"errors"
	"time"
)

// ErrDuplicate is returned when an insert collides with an existing unique key.
var ErrDuplicate = errors.New("storage: duplicate record")

// nextTimestamp returns the stored timestamp for a message appended after last.
// Postgres keeps microseconds, so ts is truncated before it is compared.
func nextTimestamp(ts time.Time, last time.Time, hasLast bool) time.Time {
	ts = ts.Truncate(time.Microsecond)
	if hasLast && !ts.After(last) {
		return last.Add(time.Microsecond)
	}
	return ts
}
