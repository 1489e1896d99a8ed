package chat

import (
	"context"
	"sync"
	"time"
)

// SendHistory supplies a user's recent send times when their window is first needed.
type SendHistory interface {
	SentSince(ctx context.Context, author string, since time.Time, limit int) ([]time.Time, error)
}

type RateDecision struct {
	Allowed bool
	Wait    time.Duration
}

// RateLimiter keeps, per user, the times of the last limit+1 persisted messages.
// A send is denied when more than limit of them fall inside the trailing period.
type RateLimiter struct {
	period  time.Duration
	limit   int
	history SendHistory

	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewRateLimiter(period time.Duration, limit int, history SendHistory) *RateLimiter {
	if period <= 0 {
		period = 5 * time.Second
	}
	if limit <= 0 {
		limit = 4
	}
	return &RateLimiter{
		period:  period,
		limit:   limit,
		history: history,
		windows: make(map[string][]time.Time),
	}
}

func (l *RateLimiter) Check(ctx context.Context, username string, now time.Time) (RateDecision, error) {
	if err := l.load(ctx, username, now); err != nil {
		return RateDecision{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.period)
	count := 0
	var oldest time.Time
	for _, at := range l.windows[username] {
		if !at.After(cutoff) {
			continue
		}
		if count == 0 || at.Before(oldest) {
			oldest = at
		}
		count++
	}

	if count <= l.limit {
		return RateDecision{Allowed: true}, nil
	}
	wait := l.period - now.Sub(oldest)
	if wait < 0 {
		wait = 0
	}
	return RateDecision{Allowed: false, Wait: wait}, nil
}

// Record adds a persisted send to the user's window.
func (l *RateLimiter) Record(username string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := append(l.windows[username], at)
	if over := len(window) - (l.limit + 1); over > 0 {
		window = append(window[:0:0], window[over:]...)
	}
	l.windows[username] = window
}

// Sweep forgets users whose newest send has left the window.
func (l *RateLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.period)
	removed := 0
	for username, window := range l.windows {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(l.windows, username)
			removed++
		}
	}
	return removed
}

func (l *RateLimiter) load(ctx context.Context, username string, now time.Time) error {
	l.mu.Lock()
	_, ok := l.windows[username]
	l.mu.Unlock()
	if ok || l.history == nil {
		return nil
	}

	stamps, err := l.history.SentSince(ctx, username, now.Add(-l.period), l.limit+1)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.windows[username]; !ok {
		l.windows[username] = stamps
	}
	return nil
}
