package cache

import (
	"fmt"
	"time"
)

// RateLimitKey names the counter for one API key in the window starting at window.
func RateLimitKey(keyPrefix string, window time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", keyPrefix, window.Unix())
}
