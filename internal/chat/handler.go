package chat

import (
	"log/slog"
	"net/http"
	"net/url"

	myMiddleware "chatroom/internal/middleware"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Page serving lives elsewhere; origins are not known here.
	},
}

type Handler struct {
	engine     *Engine
	log        *slog.Logger
	sendBuffer int
	chatURL    string
}

func NewHandler(engine *Engine, log *slog.Logger, sendBuffer int, chatURL string) *Handler {
	return &Handler{
		engine:     engine,
		log:        log,
		sendBuffer: sendBuffer,
		chatURL:    chatURL,
	}
}

// ServeWs upgrades the request. The identity comes from the auth middleware when
// a token was presented; ?guest=true lets the connection take a guest name.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	username, _ := r.Context().Value(myMiddleware.UsernameKey).(string)
	guest := r.URL.Query().Get("guest") == "true"

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Upgrade failed", "error", err)
		return
	}

	client := NewClient(h.engine, conn, h.log, h.sendBuffer)
	h.engine.Connect(client, username, guest)

	go client.WritePump()
	// The request context stays live for a hijacked connection until we return.
	client.ReadPump(r.Context())
}

// GuestLogin sends the browser to the chat page in guest mode.
func (h *Handler) GuestLogin(w http.ResponseWriter, r *http.Request) {
	target, err := url.Parse(h.chatURL)
	if err != nil {
		http.Error(w, "misconfigured chat url", http.StatusInternalServerError)
		return
	}
	q := target.Query()
	q.Set("guest", "true")
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}
