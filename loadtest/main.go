package main

import (
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type inbound struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	spam     atomic.Int64
	failed   atomic.Int64
}

func main() {
	wsURL := flag.String("url", "ws://localhost:8080/ws", "websocket endpoint")
	users := flag.Int("users", 200, "guest connections to open")
	rooms := flag.Int("rooms", 10, "rooms to spread the guests over")
	msgs := flag.Int("msgs", 20, "messages per guest")
	// The default limit is 4 sends per 5s; pace under it or expect spam notices.
	pace := flag.Duration("pace", 1500*time.Millisecond, "delay between sends of one guest")
	flag.Parse()

	log.Printf("🔥 STARTING STRESS TEST: %d guests in %d rooms, %d messages each...", *users, *rooms, *msgs)
	var (
		wg    sync.WaitGroup
		s     stats
		start = time.Now()
	)

	for i := 0; i < *users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room := fmt.Sprintf("load-%d", i%*rooms)
			if err := chatter(*wsURL, room, i, *msgs, *pace, &s); err != nil {
				s.failed.Add(1)
				log.Printf("❌ Guest %d: %v", i, err)
			}
		}(i)
	}

	wg.Wait()
	log.Printf("✅ LOAD TEST COMPLETE in %s: sent=%d received=%d spam=%d failed=%d",
		time.Since(start).Round(time.Millisecond), s.sent.Load(), s.received.Load(), s.spam.Load(), s.failed.Load())
}

func chatter(wsURL, room string, id, count int, pace time.Duration, s *stats) error {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?guest=true", nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var ev inbound
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			switch ev.Event {
			case "receivemsg":
				s.received.Add(1)
			case "notification":
				if ev.Data["type"] == "spam" {
					s.spam.Add(1)
				}
			}
		}
	}()

	if err := conn.WriteJSON(map[string]any{"event": "join", "data": map[string]any{"room": room}}); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	for i := 0; i < count; i++ {
		msg := map[string]any{
			"event": "chatmsg",
			"data":  map[string]any{"message": fmt.Sprintf("LoadTest Msg %d from guest %d", i, id)},
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		s.sent.Add(1)
		time.Sleep(pace)
	}

	// Let the last broadcasts land before hanging up.
	time.Sleep(time.Second)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	return nil
}
