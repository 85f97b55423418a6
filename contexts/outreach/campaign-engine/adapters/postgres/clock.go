package postgresadapter

import "time"

// SystemClock implements ports.Clock. All scheduling math and persisted
// timestamps are UTC; only the transport layer renders local time.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
