package chat

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Peer is one live connection as seen by the registry and the hub.
type Peer interface {
	ID() string
	// Deliver queues an encoded event without blocking. It reports false when
	// the peer cannot take more data.
	Deliver(payload []byte) bool
	Close()
}

type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnected
	StateJoined
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

type Session struct {
	ConnID        string
	Identity      string
	Authenticated bool
	GuestAllowed  bool
	Room          string
	State         SessionState
	ConnectedAt   time.Time
}

type entry struct {
	peer    Peer
	session Session
}

// Registry owns connection sessions, room membership and guest numbering.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	rooms    map[string]map[string]Peer
	guests   atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		rooms:    make(map[string]map[string]Peer),
	}
}

// Connect records a new connection. An empty identity means unauthenticated.
func (r *Registry) Connect(peer Peer, identity string, guestAllowed bool) Session {
	s := Session{
		ConnID:        peer.ID(),
		Identity:      identity,
		Authenticated: identity != "",
		GuestAllowed:  guestAllowed,
		State:         StateConnected,
		ConnectedAt:   time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ConnID] = &entry{peer: peer, session: s}
	return s
}

// ResolveIdentity returns the identity bound to the connection, allocating a
// guest name when the connection arrived through the guest flow.
func (r *Registry) ResolveIdentity(connID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[connID]
	if !ok {
		return "", ErrUnknownConnection
	}
	if e.session.Identity != "" {
		return e.session.Identity, nil
	}
	if !e.session.GuestAllowed {
		return "", ErrIdentityMissing
	}
	e.session.Identity = fmt.Sprintf("Guest%d", r.guests.Add(1)-1)
	return e.session.Identity, nil
}

// Join binds the connection to room. Joining the current room again is a no-op.
func (r *Registry) Join(connID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if e.session.State == StateJoined && e.session.Room == room {
		return nil
	}
	r.leaveLocked(e)

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Peer)
		r.rooms[room] = members
	}
	members[connID] = e.peer
	e.session.Room = room
	e.session.State = StateJoined
	return nil
}

func (r *Registry) Members(room string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	peers := make([]Peer, 0, len(members))
	for _, p := range members {
		peers = append(peers, p)
	}
	return peers
}

func (r *Registry) Session(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// Disconnect removes the connection and its membership. It reports whether
// the connection was known.
func (r *Registry) Disconnect(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[connID]
	if !ok {
		return false
	}
	r.leaveLocked(e)
	delete(r.sessions, connID)
	return true
}

// Peers returns every connected peer, joined or not.
func (r *Registry) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]Peer, 0, len(r.sessions))
	for _, e := range r.sessions {
		peers = append(peers, e.peer)
	}
	return peers
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) leaveLocked(e *entry) {
	if e.session.State != StateJoined {
		return
	}
	if members, ok := r.rooms[e.session.Room]; ok {
		delete(members, e.session.ConnID)
		if len(members) == 0 {
			delete(r.rooms, e.session.Room)
		}
	}
	e.session.Room = ""
	e.session.State = StateConnected
}
