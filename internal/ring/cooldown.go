package ring

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// cooldownPruneAt is the map size that triggers a pass over idle users.
	cooldownPruneAt = 500
	cooldownIdleAge = 30 * time.Minute
)

type cooldownEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Cooldown allows each user one ring per interval.
type Cooldown struct {
	mu       sync.Mutex
	users    map[string]*cooldownEntry
	interval time.Duration
}

// NewCooldown returns nil for a non-positive interval; a nil Cooldown allows
// everything.
func NewCooldown(interval time.Duration) *Cooldown {
	if interval <= 0 {
		return nil
	}
	return &Cooldown{
		users:    make(map[string]*cooldownEntry),
		interval: interval,
	}
}

// Allow consumes the user's token if available. Otherwise it reports how long
// until the next one.
func (c *Cooldown) Allow(userID string, now time.Time) (bool, time.Duration) {
	if c == nil {
		return true, 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.users) > cooldownPruneAt {
		cutoff := now.Add(-cooldownIdleAge)
		for k, e := range c.users {
			if e.lastSeen.Before(cutoff) {
				delete(c.users, k)
			}
		}
	}

	e, ok := c.users[userID]
	if !ok {
		e = &cooldownEntry{limiter: rate.NewLimiter(rate.Every(c.interval), 1)}
		c.users[userID] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}
