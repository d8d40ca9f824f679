package reliability

import (
	"sync"
	"time"
)

// Cooldown tracks consecutive rate-limit hits and maintains a block window
// that doubles per hit up to a cap, resetting after a quiet period.
type Cooldown struct {
	mu      sync.Mutex
	base    time.Duration
	max     time.Duration
	reset   time.Duration
	strikes int
	lastHit time.Time
	until   time.Time
	now     func() time.Time
}

func NewCooldown(base, max, reset time.Duration) *Cooldown {
	return &Cooldown{base: base, max: max, reset: reset, now: time.Now}
}

// Hit records one rate-limit response and returns the backoff now in force.
func (c *Cooldown) Hit() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.strikes > 0 && now.Sub(c.lastHit) > c.reset {
		c.strikes = 0
	}
	c.strikes++
	c.lastHit = now
	backoff := ExponentialBackoff(c.strikes-1, c.base, c.max)
	if until := now.Add(backoff); until.After(c.until) {
		c.until = until
	}
	return backoff
}

// Remaining reports how long the block window still holds, zero when clear.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.until.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
