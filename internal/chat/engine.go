package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
)

// MessageStore is the persistence the engine needs. *Repository implements it.
type MessageStore interface {
	SendHistory
	Append(ctx context.Context, author, content string) (*Message, error)
	Recent(ctx context.Context, n int) ([]*Message, error)
	Range(ctx context.Context, offsetFromEnd, count int) ([]*Message, error)
}

type Options struct {
	DefaultPast   int
	MsgLenLim     int
	GuestLoginURL string
	SweepInterval time.Duration
	Now           func() time.Time
}

// Engine turns inbound connection events into stored messages, broadcasts and
// sender-only feedback.
type Engine struct {
	store    MessageStore
	limiter  *RateLimiter
	commands *CommandInterpreter
	registry *Registry
	hub      *Hub
	log      *slog.Logger
	opts     Options

	// seq orders store reads/appends with their hub jobs.
	seq   sync.Mutex
	users userLocks
}

func NewEngine(
	store MessageStore,
	limiter *RateLimiter,
	commands *CommandInterpreter,
	registry *Registry,
	hub *Hub,
	log *slog.Logger,
	opts Options,
) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Engine{
		store:    store,
		limiter:  limiter,
		commands: commands,
		registry: registry,
		hub:      hub,
		log:      log,
		opts:     opts,
	}
}

// Run sweeps idle rate windows until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.limiter.Sweep(e.opts.Now()); n > 0 {
				e.log.Debug("Swept rate windows", "count", n)
			}
		}
	}
}

func (e *Engine) Connect(peer Peer, identity string, guestAllowed bool) Session {
	s := e.registry.Connect(peer, identity, guestAllowed)
	e.log.Debug("Connection opened", "conn", s.ConnID, "identity", identity, "guest", guestAllowed)
	return s
}

func (e *Engine) Disconnect(peer Peer) {
	if e.registry.Disconnect(peer.ID()) {
		e.log.Debug("Connection closed", "conn", peer.ID())
	}
	peer.Close()
}

// CloseAll disconnects every connection, for shutdown.
func (e *Engine) CloseAll() {
	for _, peer := range e.registry.Peers() {
		e.Disconnect(peer)
	}
}

// Dispatch handles one event. A connection calls it serially, so its events
// are processed in the order they arrived.
func (e *Engine) Dispatch(ctx context.Context, peer Peer, ev InboundEvent) error {
	switch ev.Kind {
	case EventJoin:
		return e.OnJoin(ctx, peer, ev.Join.Room)
	case EventChat:
		return e.OnMessage(ctx, peer, ev.Chat.Message)
	case EventHistory:
		return e.OnRequestHistory(ctx, peer, ev.History.N, ev.History.ReqNum)
	default:
		return ErrMalformedEvent
	}
}

// OnJoin binds peer to room, sends it the recent history and announces it to the room.
// A connection without identity is redirected to the guest login and joins
// as a listener only.
func (e *Engine) OnJoin(ctx context.Context, peer Peer, room string) error {
	identity, err := e.registry.ResolveIdentity(peer.ID())
	switch {
	case errors.Is(err, ErrIdentityMissing):
		e.send(peer, redirectEvent(e.opts.GuestLoginURL))
	case err != nil:
		return err
	}

	// Already in this room: no second snapshot, no second announcement.
	if s, ok := e.registry.Session(peer.ID()); ok && s.State == StateJoined && s.Room == room {
		if identity == "" {
			return ErrIdentityMissing
		}
		return nil
	}

	ack, err := e.attach(ctx, peer, room, identity)
	if err != nil {
		return err
	}

	select {
	case err = <-ack:
	case <-e.hub.Done():
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	if identity == "" {
		return ErrIdentityMissing
	}
	e.log.Info("Joined room", "identity", identity, "room", room)
	return nil
}

func (e *Engine) attach(ctx context.Context, peer Peer, room, identity string) (<-chan error, error) {
	e.seq.Lock()
	defer e.seq.Unlock()

	history, err := e.store.Recent(ctx, e.opts.DefaultPast)
	if err != nil {
		return nil, e.storageFailure(peer, "", err)
	}

	ack, err := e.hub.Attach(ctx, peer, room, lo.Map(history, func(m *Message, _ int) OutboundEvent {
		return receiveMsgEvent(m)
	}))
	if err != nil {
		return nil, err
	}
	if identity != "" {
		if err := e.hub.Broadcast(ctx, room, loginEvent(identity, room)); err != nil {
			return nil, err
		}
	}
	return ack, nil
}

func (e *Engine) OnMessage(ctx context.Context, peer Peer, text string) error {
	if e.commands.IsCommand(text) {
		res := e.commands.Parse(text)
		e.send(peer, notificationEvent(NotificationCommand, res.Notice, text))
		return nil
	}

	identity, err := e.registry.ResolveIdentity(peer.ID())
	if errors.Is(err, ErrIdentityMissing) {
		e.send(peer, redirectEvent(e.opts.GuestLoginURL))
		return err
	}
	if err != nil {
		return err
	}
	session, ok := e.registry.Session(peer.ID())
	if !ok {
		return ErrUnknownConnection
	}
	if session.State != StateJoined {
		e.send(peer, notificationEvent(NotificationError, "Join a room before sending messages", text))
		return ErrNotJoined
	}

	unlock := e.users.lock(identity)
	defer unlock()

	decision, err := e.limiter.Check(ctx, identity, e.opts.Now())
	if err != nil {
		return e.storageFailure(peer, text, err)
	}
	if !decision.Allowed {
		e.send(peer, spamEvent(text, decision.Wait))
		return nil
	}

	msg, err := e.publish(ctx, identity, session.Room, truncate(text, e.opts.MsgLenLim))
	if err != nil {
		return e.storageFailure(peer, text, err)
	}
	e.limiter.Record(identity, msg.SentAt)
	return nil
}

func (e *Engine) publish(ctx context.Context, author, room, content string) (*Message, error) {
	e.seq.Lock()
	defer e.seq.Unlock()

	msg, err := e.store.Append(ctx, author, content)
	if err != nil {
		return nil, err
	}
	if err := e.hub.Broadcast(ctx, room, receiveMsgEvent(msg)); err != nil {
		e.log.Error("Stored message was not broadcast", "id", msg.ID, "error", err)
	}
	return msg, nil
}

// OnRequestHistory sends the reqNum messages that precede the n newest ones.
func (e *Engine) OnRequestHistory(ctx context.Context, peer Peer, n, reqNum int) error {
	if _, ok := e.registry.Session(peer.ID()); !ok {
		return ErrUnknownConnection
	}
	messages, err := e.store.Range(ctx, n, reqNum)
	if err != nil {
		return e.storageFailure(peer, "", err)
	}
	e.send(peer, historyEvent(messages))
	return nil
}

func (e *Engine) storageFailure(peer Peer, content string, err error) error {
	e.log.Error("Storage failure", "conn", peer.ID(), "error", err)
	e.send(peer, notificationEvent(NotificationError, "The server could not process your request, please try again", content))
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: "rate window", Err: err}
}

func (e *Engine) send(peer Peer, ev OutboundEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.log.Error("Encode failed", "event", ev.Event, "error", err)
		return
	}
	if !peer.Deliver(payload) {
		e.log.Warn("Dropping unresponsive connection", "conn", peer.ID())
		e.Disconnect(peer)
	}
}

func truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}
