package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"wol-go-home/internal/notify"
)

func newTestHub() *WSHub {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewWSHub(logger)
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *WSHub) has(c *wsClient) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[c]
	return ok
}

func (h *WSHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func readEvent(t *testing.T, c *wsClient) notify.Event {
	t.Helper()
	select {
	case msg := <-c.send:
		var ev notify.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("decode %q: %v", msg, err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
		return notify.Event{}
	}
}

func TestWSHubDeliversNotificationJSON(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	c := &wsClient{send: make(chan []byte, 4)}
	hub.register <- c
	waitFor(t, "registration", func() bool { return hub.has(c) })

	hub.Broadcast(notify.Event{
		Type:    notify.EventWakeFailed,
		Level:   notify.LevelError,
		Message: "Failed to wake nas: wake utility failed",
	})

	ev := readEvent(t, c)
	if ev.Type != notify.EventWakeFailed || ev.Level != notify.LevelError {
		t.Errorf("event = %+v", ev)
	}
	if !strings.Contains(ev.Message, "nas") {
		t.Errorf("message = %q", ev.Message)
	}

	hub.unregister <- c
	waitFor(t, "unregistration", func() bool { return !hub.has(c) })
	if _, ok := <-c.send; ok {
		t.Error("send channel still open after unregister")
	}
}

func TestWSHubEvictsSlowSubscriberOnly(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	// Same tiny buffer, but pinOnly never matches wake events, so it never
	// fills up.
	slow := &wsClient{send: make(chan []byte, 1)}
	pinOnly := &wsClient{send: make(chan []byte, 1)}
	pinOnly.subscribe([]string{notify.EventPinDone})

	hub.register <- slow
	hub.register <- pinOnly
	waitFor(t, "registration", func() bool { return hub.count() == 2 })

	hub.Broadcast(notify.Event{Type: notify.EventWakeStarted})
	hub.Broadcast(notify.Event{Type: notify.EventWakeSent})
	waitFor(t, "eviction", func() bool { return !hub.has(slow) })

	if !hub.has(pinOnly) {
		t.Fatal("filtered client was evicted")
	}
	hub.Broadcast(notify.Event{Type: notify.EventPinDone})
	if ev := readEvent(t, pinOnly); ev.Type != notify.EventPinDone {
		t.Errorf("filtered client got %q", ev.Type)
	}
}

func TestWSHubAsBusHandlerNeverBlocks(t *testing.T) {
	// Hub not running: its queue fills and further events are dropped.
	hub := newTestHub()
	defer hub.Stop()
	bus := notify.NewBus(hub.logger)
	bus.OnAll(hub.Broadcast)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			bus.Publish(notify.Event{Type: notify.EventPinState, Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("publishing blocked on a stalled hub")
	}
}

func TestWSHubStopClosesClients(t *testing.T) {
	hub := newTestHub()
	go hub.Run()

	c := &wsClient{send: make(chan []byte, 4)}
	hub.register <- c
	waitFor(t, "registration", func() bool { return hub.has(c) })

	hub.Stop()
	hub.Stop()
	waitFor(t, "shutdown", func() bool { return hub.count() == 0 })
	if _, ok := <-c.send; ok {
		t.Error("client.send should be closed after hub stop")
	}
}

func TestWSHubTypeFilter(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	pins := &wsClient{send: make(chan []byte, 16)}
	pins.subscribe([]string{notify.EventPinDone, " ", notify.EventPinFailed})
	all := &wsClient{send: make(chan []byte, 16)}

	hub.register <- pins
	hub.register <- all
	waitFor(t, "registration", func() bool { return hub.count() == 2 })

	hub.Broadcast(notify.Event{Type: notify.EventWakeSent})
	hub.Broadcast(notify.Event{Type: notify.EventPinDone})
	waitFor(t, "delivery", func() bool { return len(all.send) == 2 })

	if got := len(pins.send); got != 1 {
		t.Errorf("filtered client got %d messages, want 1", got)
	}

	// An empty subscription resets the filter.
	pins.subscribe(nil)
	if !pins.wants(notify.EventWakeFailed) {
		t.Error("empty subscription should accept every type")
	}
}

func dialWS(t *testing.T, env *testEnv, query string) (*websocket.Conn, *wsClient) {
	t.Helper()
	ts := httptest.NewServer(env.srv)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws"+query, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	hub := env.srv.wsHub
	waitFor(t, "ws registration", func() bool { return hub.count() == 1 })
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for c := range hub.clients {
		return conn, c
	}
	return conn, nil
}

func readWS(t *testing.T, conn *websocket.Conn) notify.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ev notify.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return ev
}

func TestWSEndpointFiltersFromQuery(t *testing.T) {
	env := setupTestServer(t, "")
	conn, _ := dialWS(t, env, "?types=pin_done,pin_failed")

	env.bus.Publish(notify.Event{Type: notify.EventWakeSent, Message: "Wake packet sent"})
	env.bus.Publish(notify.Event{Type: notify.EventPinDone, Message: "Host pinned"})

	ev := readWS(t, conn)
	if ev.Type != notify.EventPinDone || ev.Message != "Host pinned" {
		t.Errorf("first event = %+v, want pin_done", ev)
	}
}

func TestWSEndpointSubscribeMessage(t *testing.T) {
	env := setupTestServer(t, "")
	conn, client := dialWS(t, env, "?types=pin_done")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"types":["wake_sent"]}`)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "subscription change", func() bool { return client.wants(notify.EventWakeSent) })

	env.bus.Publish(notify.Event{Type: notify.EventPinDone})
	env.bus.Publish(notify.Event{Type: notify.EventWakeSent, Message: "Wake packet sent"})

	if ev := readWS(t, conn); ev.Type != notify.EventWakeSent {
		t.Errorf("event = %+v, want wake_sent only", ev)
	}
}
