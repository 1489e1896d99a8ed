package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// ---------------------------------------------
// 🗄️ Database Models
// ---------------------------------------------

type Message struct {
	ID      int64     `json:"id"`
	Author  string    `json:"author"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

// ---------------------------------------------
// 📥 Inbound Events (client -> server)
// ---------------------------------------------

type EventKind int

const (
	EventJoin EventKind = iota
	EventChat
	EventHistory
)

func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventChat:
		return "chatmsg"
	case EventHistory:
		return "request_history"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

type JoinPayload struct {
	Room string `json:"room" validate:"required,max=64"`
}

type ChatPayload struct {
	Message string `json:"message" validate:"required"`
}

type HistoryPayload struct {
	N      int `json:"n" validate:"min=0"`
	ReqNum int `json:"req_num" validate:"min=1,max=1000"`
}

// InboundEvent carries exactly one payload, selected by Kind.
type InboundEvent struct {
	Kind    EventKind
	Join    JoinPayload
	Chat    ChatPayload
	History HistoryPayload
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var validate = validator.New()

func DecodeInbound(raw []byte) (InboundEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return InboundEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(env.Data) == 0 {
		return InboundEvent{}, fmt.Errorf("%w: missing data for %q", ErrMalformedEvent, env.Event)
	}

	var (
		ev      InboundEvent
		payload any
	)
	switch env.Event {
	case "join":
		ev.Kind, payload = EventJoin, &ev.Join
	case "chatmsg":
		ev.Kind, payload = EventChat, &ev.Chat
	case "request_history":
		ev.Kind, payload = EventHistory, &ev.History
	default:
		return InboundEvent{}, fmt.Errorf("%w: unknown event %q", ErrMalformedEvent, env.Event)
	}

	if err := json.Unmarshal(env.Data, payload); err != nil {
		return InboundEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(payload); err != nil {
		return InboundEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, nil
}

// ---------------------------------------------
// 📤 Outbound Events (server -> client)
// ---------------------------------------------

const (
	NotificationCommand = "command"
	NotificationSpam    = "spam"
	NotificationError   = "error"
)

type OutboundEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type ReceiveMsg struct {
	ID         int64     `json:"id"`
	MsgContent string    `json:"msg_content"`
	MsgSender  string    `json:"msg_sender"`
	SentAt     time.Time `json:"sent_at"`
}

type Login struct {
	Message string `json:"message"`
	User    string `json:"user"`
}

type Notification struct {
	Type        string  `json:"type"`
	Notif       string  `json:"notif"`
	MsgContent  string  `json:"msg_content"`
	WaitSeconds float64 `json:"wait_seconds,omitempty"`
}

type ReceiveHistory struct {
	Messages []ReceiveMsg `json:"messages"`
}

type Redirect struct {
	URL string `json:"url"`
}

func toReceiveMsg(m *Message) ReceiveMsg {
	return ReceiveMsg{ID: m.ID, MsgContent: m.Content, MsgSender: m.Author, SentAt: m.SentAt}
}

func receiveMsgEvent(m *Message) OutboundEvent {
	return OutboundEvent{Event: "receivemsg", Data: toReceiveMsg(m)}
}

func historyEvent(messages []*Message) OutboundEvent {
	return OutboundEvent{Event: "receive_history", Data: ReceiveHistory{
		Messages: lo.Map(messages, func(m *Message, _ int) ReceiveMsg {
			return toReceiveMsg(m)
		}),
	}}
}

func loginEvent(identity, room string) OutboundEvent {
	return OutboundEvent{Event: "login", Data: Login{
		Message: fmt.Sprintf("@%s joined the room #%s", identity, room),
		User:    identity,
	}}
}

func notificationEvent(kind, notif, content string) OutboundEvent {
	return OutboundEvent{Event: "notification", Data: Notification{
		Type:       kind,
		Notif:      notif,
		MsgContent: content,
	}}
}

func spamEvent(content string, wait time.Duration) OutboundEvent {
	return OutboundEvent{Event: "notification", Data: Notification{
		Type:        NotificationSpam,
		Notif:       fmt.Sprintf("You are sending messages too fast. Wait %.1f seconds before sending again.", wait.Seconds()),
		MsgContent:  content,
		WaitSeconds: wait.Seconds(),
	}}
}

func redirectEvent(url string) OutboundEvent {
	return OutboundEvent{Event: "redirect", Data: Redirect{URL: url}}
}
