package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	hubQueueSize   = 256
	relayQueueSize = 256
	publishTimeout = 2 * time.Second
)

// hubJob is one unit of ordered fan-out. With attach set, the peer is bound to
// room and then receives history; otherwise payload goes to every member.
type hubJob struct {
	room    string
	payload []byte
	attach  Peer
	history [][]byte
	ack     chan error
	relay   bool
}

type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// Hub is the single fan-out loop. Jobs are processed strictly in the order
// they were enqueued, which is the order every member observes.
type Hub struct {
	registry *Registry
	jobs     chan hubJob
	done     chan struct{}
	log      *slog.Logger

	redis   *redis.Client
	channel string
	origin  string
	relay   chan relayEnvelope
}

type HubOption func(*Hub)

// WithRedis relays broadcasts to other instances subscribed to channel.
func WithRedis(client *redis.Client, channel string) HubOption {
	return func(h *Hub) {
		h.redis = client
		h.channel = channel
	}
}

func NewHub(registry *Registry, log *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		registry: registry,
		jobs:     make(chan hubJob, hubQueueSize),
		done:     make(chan struct{}),
		log:      log,
		origin:   uuid.NewString(),
		relay:    make(chan relayEnvelope, relayQueueSize),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) Origin() string {
	return h.origin
}

// Run processes jobs until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.redis != nil {
		go h.publishLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-h.jobs:
			h.process(job)
		}
	}
}

// Broadcast sends ev to every member of room, here and on relayed instances.
func (h *Hub) Broadcast(ctx context.Context, room string, ev OutboundEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Event, err)
	}
	return h.enqueue(ctx, hubJob{room: room, payload: payload, relay: true})
}

// Attach queues binding peer to room followed by its history, ahead of any
// later broadcast. The returned channel yields the outcome once the hub has
// processed it.
func (h *Hub) Attach(ctx context.Context, peer Peer, room string, history []OutboundEvent) (<-chan error, error) {
	payloads := make([][]byte, 0, len(history))
	for _, ev := range history {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", ev.Event, err)
		}
		payloads = append(payloads, payload)
	}
	ack := make(chan error, 1)
	if err := h.enqueue(ctx, hubJob{room: room, attach: peer, history: payloads, ack: ack}); err != nil {
		return nil, err
	}
	return ack, nil
}

// SubscribeToRedis listens for broadcasts from other instances.
func (h *Hub) SubscribeToRedis(ctx context.Context) error {
	if h.redis == nil {
		return nil
	}
	pubsub := h.redis.Subscribe(ctx, h.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", h.channel, err)
	}
	h.log.Info("Subscribed to relay channel", "channel", h.channel, "origin", h.origin)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.log.Warn("Dropping malformed relay message", "error", err)
				continue
			}
			if env.Origin == h.origin {
				continue
			}
			if err := h.enqueue(ctx, hubJob{room: env.Room, payload: env.Payload}); err != nil {
				return nil
			}
		}
	}
}

func (h *Hub) enqueue(ctx context.Context, job hubJob) error {
	select {
	case h.jobs <- job:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) process(job hubJob) {
	if job.attach != nil {
		job.ack <- h.attach(job)
		return
	}

	for _, peer := range h.registry.Members(job.room) {
		if !peer.Deliver(job.payload) {
			h.evict(peer)
		}
	}

	if job.relay && h.redis != nil {
		select {
		case h.relay <- relayEnvelope{Origin: h.origin, Room: job.room, Payload: job.payload}:
		default:
			h.log.Warn("Relay queue full, message not published", "room", job.room)
		}
	}
}

func (h *Hub) attach(job hubJob) error {
	if err := h.registry.Join(job.attach.ID(), job.room); err != nil {
		// The connection went away before its join reached the hub.
		h.log.Debug("Attach skipped", "conn", job.attach.ID(), "error", err)
		return err
	}
	for _, payload := range job.history {
		if !job.attach.Deliver(payload) {
			h.evict(job.attach)
			return ErrUnknownConnection
		}
	}
	return nil
}

func (h *Hub) evict(peer Peer) {
	if h.registry.Disconnect(peer.ID()) {
		h.log.Warn("Evicting slow connection", "conn", peer.ID())
	}
	peer.Close()
}

func (h *Hub) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-h.relay:
			data, err := json.Marshal(env)
			if err != nil {
				h.log.Error("Relay encode failed", "error", err)
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err = h.redis.Publish(pctx, h.channel, data).Err()
			cancel()
			if err != nil {
				h.log.Error("Redis publish failed", "channel", h.channel, "error", err)
			}
		}
	}
}
