package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubHistory struct {
	stamps []time.Time
	err    error
	calls  int
}

func (s *stubHistory) SentSince(_ context.Context, _ string, since time.Time, limit int) ([]time.Time, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out []time.Time
	for _, at := range s.stamps {
		if at.After(since) {
			out = append(out, at)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func seconds(base time.Time, s float64) time.Time {
	return base.Add(time.Duration(s * float64(time.Second)))
}

func TestRateLimiter_DeniesSixthSendInsideWindow(t *testing.T) {
	req := require.New(t)
	base := newFakeClock().Now()
	l := NewRateLimiter(5*time.Second, 4, nil)

	for _, s := range []float64{0, 1, 2, 3, 4} {
		d, err := l.Check(context.Background(), "alice", seconds(base, s))
		req.NoError(err)
		req.True(d.Allowed, "send at %v", s)
		l.Record("alice", seconds(base, s))
	}

	d, err := l.Check(context.Background(), "alice", seconds(base, 4.5))
	req.NoError(err)
	req.False(d.Allowed)
	req.Equal(500*time.Millisecond, d.Wait)
}

func TestRateLimiter_AllowsOnceOldestSendExpires(t *testing.T) {
	req := require.New(t)
	base := newFakeClock().Now()
	l := NewRateLimiter(5*time.Second, 4, nil)
	for _, s := range []float64{0, 1, 2, 3, 4} {
		l.Record("alice", seconds(base, s))
	}

	d, err := l.Check(context.Background(), "alice", seconds(base, 5))
	req.NoError(err)
	req.True(d.Allowed)
}

func TestRateLimiter_UsersAreIndependent(t *testing.T) {
	req := require.New(t)
	base := newFakeClock().Now()
	l := NewRateLimiter(5*time.Second, 4, nil)
	for i := 0; i < 5; i++ {
		l.Record("alice", base)
	}

	d, err := l.Check(context.Background(), "alice", base)
	req.NoError(err)
	req.False(d.Allowed)
	req.Equal(5*time.Second, d.Wait)

	d, err = l.Check(context.Background(), "bob", base)
	req.NoError(err)
	req.True(d.Allowed)
}

func TestRateLimiter_WindowIsBounded(t *testing.T) {
	base := newFakeClock().Now()
	l := NewRateLimiter(5*time.Second, 4, nil)
	for i := 0; i < 50; i++ {
		l.Record("alice", seconds(base, float64(i)/10))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.windows["alice"], 5)
	require.True(t, l.windows["alice"][4].Equal(seconds(base, 4.9)))
}

func TestRateLimiter_SeedsFromHistoryOnce(t *testing.T) {
	req := require.New(t)
	base := newFakeClock().Now()
	history := &stubHistory{stamps: []time.Time{
		seconds(base, -10), seconds(base, 0), seconds(base, 1), seconds(base, 2), seconds(base, 3), seconds(base, 4),
	}}
	l := NewRateLimiter(5*time.Second, 4, history)

	d, err := l.Check(context.Background(), "alice", seconds(base, 4.5))
	req.NoError(err)
	req.False(d.Allowed)
	req.Equal(500*time.Millisecond, d.Wait)

	_, err = l.Check(context.Background(), "alice", seconds(base, 4.6))
	req.NoError(err)
	req.Equal(1, history.calls)
}

func TestRateLimiter_SeedFailureIsReported(t *testing.T) {
	l := NewRateLimiter(5*time.Second, 4, &stubHistory{err: errors.New("db down")})

	_, err := l.Check(context.Background(), "alice", time.Now())
	require.Error(t, err)
}

func TestRateLimiter_Sweep(t *testing.T) {
	req := require.New(t)
	base := newFakeClock().Now()
	l := NewRateLimiter(5*time.Second, 4, nil)
	l.Record("alice", base)
	l.Record("bob", seconds(base, 4))

	req.Equal(1, l.Sweep(seconds(base, 6)))

	l.mu.Lock()
	_, aliceKept := l.windows["alice"]
	_, bobKept := l.windows["bob"]
	l.mu.Unlock()
	req.False(aliceKept)
	req.True(bobKept)
}
