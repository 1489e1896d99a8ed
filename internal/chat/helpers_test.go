package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chatroom/internal/db"

	"github.com/stretchr/testify/require"
)

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (r received) notification(t *testing.T) Notification {
	t.Helper()
	var n Notification
	require.NoError(t, json.Unmarshal(r.Data, &n))
	return n
}

func (r received) message(t *testing.T) ReceiveMsg {
	t.Helper()
	var m ReceiveMsg
	require.NoError(t, json.Unmarshal(r.Data, &m))
	return m
}

type fakePeer struct {
	id string

	mu     sync.Mutex
	events []received
	closed bool
	full   bool
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Deliver(payload []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.full {
		return false
	}
	var r received
	if err := json.Unmarshal(payload, &r); err != nil {
		panic(err)
	}
	p.events = append(p.events, r)
	return true
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) all() []received {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]received(nil), p.events...)
}

func (p *fakePeer) named(event string) []received {
	var out []received
	for _, r := range p.all() {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

func (p *fakePeer) contents(t *testing.T) []string {
	var out []string
	for _, r := range p.named("receivemsg") {
		out = append(out, r.message(t).MsgContent)
	}
	return out
}

// fakeClock starts at a fixed instant and only moves when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDatabase(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.NewDatabase(db.DriverSQLite, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.AutoMigrate())
	return database
}

func newTestRepository(t *testing.T, clock *fakeClock) *Repository {
	t.Helper()
	opts := []RepositoryOption{WithTimeout(5 * time.Second)}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	return NewRepository(newTestDatabase(t), opts...)
}

type testEngine struct {
	*Engine
	registry *Registry
	hub      *Hub
	store    MessageStore
	clock    *fakeClock
}

func newTestEngine(t *testing.T, store MessageStore, clock *fakeClock, opts Options) *testEngine {
	t.Helper()
	if opts.DefaultPast == 0 {
		opts.DefaultPast = 100
	}
	if opts.MsgLenLim == 0 {
		opts.MsgLenLim = 1500
	}
	if opts.GuestLoginURL == "" {
		opts.GuestLoginURL = "/login_guest"
	}
	opts.Now = clock.Now

	log := slog.Default()
	registry := NewRegistry()
	hub := NewHub(registry, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	engine := NewEngine(
		store,
		NewRateLimiter(5*time.Second, 4, store),
		NewCommandInterpreter("/", "swag"),
		registry,
		hub,
		log,
		opts,
	)
	return &testEngine{Engine: engine, registry: registry, hub: hub, store: store, clock: clock}
}

// joinGuest connects a guest peer and joins it to room.
func (te *testEngine) joinGuest(t *testing.T, id, room string) *fakePeer {
	t.Helper()
	peer := newFakePeer(id)
	te.Connect(peer, "", true)
	require.NoError(t, te.OnJoin(context.Background(), peer, room))
	return peer
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
