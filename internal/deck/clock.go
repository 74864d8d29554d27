package deck

import "time"

// Clock supplies wall time for audit columns (sandbox timestamps, merge time).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
