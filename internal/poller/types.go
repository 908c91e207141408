// internal/poller/types.go
package poller

import "time"

// PollResult is the outcome of one Poll request.
type PollResult struct {
	DeviceID string
	Buffer   byte
	At       time.Time

	// Length is the number of telemetry bytes the brick returned.
	// Zero means its buffer was empty.
	Length int

	Err error // non-nil means the poll failed
}
