package main

import "time"

// nowNanos returns the current time as nanoseconds since the epoch, the
// timestamp unit internal/auditlog stores rows under.
func nowNanos() int64 {
	return time.Now().UnixNano()
}
