package messaging

import (
	"context"
	"time"
)

// SetWait replaces the pause between retries.
func SetWait(c *Consumer, wait func(ctx context.Context, d time.Duration) error) {
	c.wait = wait
}
