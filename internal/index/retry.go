package index

import (
	"math/rand"
	"strings"
	"time"
)

const (
	maxRetries   = 3
	retryBackoff = 50 * time.Millisecond
)

// retryOnContention runs fn, retrying with jittered backoff when SQLite
// reports lock contention. The recorder and analyzer daemons share the
// database, so transient SQLITE_BUSY is expected under WAL.
func retryOnContention(fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoff << uint(attempt-1)
			jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
			time.Sleep(backoff + jitter)
		}
		err = fn()
		if err == nil || !isContention(err) {
			return err
		}
	}
	return err
}

func isContention(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
