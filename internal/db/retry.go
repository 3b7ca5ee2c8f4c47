package db

import (
	"strings"
	"time"
)

const (
	busyRetries = 5
	busyBackoff = 20 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn until it succeeds, fails with a non-busy error or
// the retries run out. The backoff doubles each attempt.
func retryOnBusy(fn func() error) error {
	wait := busyBackoff
	var err error
	for i := 0; i < busyRetries; i++ {
		if err = fn(); !isSQLiteBusy(err) {
			return err
		}
		time.Sleep(wait)
		wait *= 2
	}
	return err
}
