package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	myMiddleware "chatroom/internal/middleware"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*testEngine, *httptest.Server) {
	t.Helper()
	clock := newFakeClock()
	te := newTestEngine(t, newTestRepository(t, clock), clock, Options{})
	h := NewHandler(te.Engine, slog.Default(), 16, "/chat")

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWs)
	mux.HandleFunc("/login_guest", h.GuestLogin)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return te, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// readUntil reads frames until one named event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var r received
		require.NoError(t, conn.ReadJSON(&r))
		if r.Event == event {
			return r
		}
	}
}

func TestServeWs_GuestJoinsAndChats(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dial(t, srv, "?guest=true")

	writeEvent(t, conn, "join", map[string]any{"room": "chat"})
	var login Login
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "login").Data, &login))
	require.Equal(t, "Guest0", login.User)

	writeEvent(t, conn, "chatmsg", map[string]any{"message": "hello over the wire"})
	msg := readUntil(t, conn, "receivemsg").message(t)
	require.Equal(t, "hello over the wire", msg.MsgContent)
	require.Equal(t, "Guest0", msg.MsgSender)
}

func TestServeWs_AuthenticatedIdentityFromContext(t *testing.T) {
	clock := newFakeClock()
	te := newTestEngine(t, newTestRepository(t, clock), clock, Options{})
	h := NewHandler(te.Engine, slog.Default(), 16, "/chat")
	withUser := func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(context.WithValue(r.Context(), myMiddleware.UsernameKey, "alice"))
		h.ServeWs(w, r)
	}
	srv := httptest.NewServer(http.HandlerFunc(withUser))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	writeEvent(t, conn, "join", map[string]any{"room": "chat"})
	var login Login
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "login").Data, &login))
	require.Equal(t, "alice", login.User)
}

func TestServeWs_OversizedMessageIsTruncatedNotDropped(t *testing.T) {
	te, srv := newTestServer(t)
	conn := dial(t, srv, "?guest=true")
	writeEvent(t, conn, "join", map[string]any{"room": "chat"})
	readUntil(t, conn, "login")

	writeEvent(t, conn, "chatmsg", map[string]any{"message": strings.Repeat("a", 10000)})
	msg := readUntil(t, conn, "receivemsg").message(t)
	require.Equal(t, strings.Repeat("a", 1500), msg.MsgContent)

	// the connection is still usable afterwards
	te.clock.Advance(time.Second)
	writeEvent(t, conn, "chatmsg", map[string]any{"message": "still here"})
	require.Equal(t, "still here", readUntil(t, conn, "receivemsg").message(t).MsgContent)
	require.Equal(t, 1, te.registry.Len())
}

func TestServeWs_AnonymousIsRedirected(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dial(t, srv, "")

	writeEvent(t, conn, "join", map[string]any{"room": "chat"})
	var redirect Redirect
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "redirect").Data, &redirect))
	require.Equal(t, "/login_guest", redirect.URL)
}

func TestServeWs_MalformedEventIsReported(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dial(t, srv, "?guest=true")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"dance","data":{}}`)))
	n := readUntil(t, conn, "notification").notification(t)
	require.Equal(t, NotificationError, n.Type)
}

func TestServeWs_DisconnectLeavesRegistry(t *testing.T) {
	te, srv := newTestServer(t)
	conn := dial(t, srv, "?guest=true")
	writeEvent(t, conn, "join", map[string]any{"room": "chat"})
	readUntil(t, conn, "login")
	require.Equal(t, 1, te.registry.Len())

	conn.Close()
	eventually(t, func() bool { return te.registry.Len() == 0 })
}

func TestGuestLogin_RedirectsToChatInGuestMode(t *testing.T) {
	_, srv := newTestServer(t)
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	resp, err := client.Get(srv.URL + "/login_guest")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/chat?guest=true", resp.Header.Get("Location"))
}
