// Package ratelimit implements fixed-window request limiting per client IP
// and category.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"bothost/config"

	"github.com/sirupsen/logrus"
)

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds until the window resets, set when rejected
}

type Limiter struct {
	mu    sync.Mutex
	store Store
	rules map[string]config.RateRule
	now   func() time.Time
	log   logrus.FieldLogger
}

func NewLimiter(store Store, rules map[string]config.RateRule, log logrus.FieldLogger) *Limiter {
	return &Limiter{
		store: store,
		rules: rules,
		now:   time.Now,
		log:   log,
	}
}

// Check counts one request of ip in category. Unknown categories fall back
// to the global rule so a typo never disables limiting.
func (l *Limiter) Check(ip, category string) Decision {
	rule, ok := l.rules[category]
	if !ok {
		category = "global"
		rule = l.rules[category]
	}
	key := fmt.Sprintf("%s:%s", ip, category)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.store.Get(key)
	if !ok || now.After(rec.ResetAt) {
		rec = Record{ResetAt: now.Add(rule.Window)}
	}
	rec.Count++
	l.store.Set(key, rec)

	d := Decision{
		Allowed:   rec.Count <= rule.Max,
		Limit:     rule.Max,
		Remaining: max(0, rule.Max-rec.Count),
		ResetAt:   rec.ResetAt,
	}
	if !d.Allowed {
		d.RetryAfter = int(math.Ceil(rec.ResetAt.Sub(now).Seconds()))
	}
	return d
}

// Run sweeps expired records every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (l *Limiter) Sweep() int {
	n := l.store.Sweep(l.now())
	if n > 0 {
		l.log.WithField("removed", n).Debug("rate limit records swept")
	}
	return n
}
