package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

func testRealtimeLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeServer upgrades one websocket connection and exposes the frames it
// received plus a way to push frames back.
type fakeServer struct {
	*httptest.Server
	conns chan *websocket.Conn
	joins chan phoenixMessage
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		conns: make(chan *websocket.Conn, 1),
		joins: make(chan phoenixMessage, 8),
	}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		fs.conns <- conn
		for {
			var msg phoenixMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Event == "phx_join" {
				fs.joins <- msg
			}
		}
	}))
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func (fs *fakeServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fs.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection received")
		return nil
	}
}

func (fs *fakeServer) join(t *testing.T) phoenixMessage {
	t.Helper()
	select {
	case msg := <-fs.joins:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no phx_join received")
		return phoenixMessage{}
	}
}

func pushChange(t *testing.T, conn *websocket.Conn, table, event string, record map[string]any) {
	t.Helper()
	payload, _ := json.Marshal(changePayload{Type: event, Table: table, Record: record})
	err := conn.WriteJSON(phoenixMessage{
		Topic:   "realtime:public:" + table,
		Event:   "postgres_changes",
		Payload: payload,
	})
	if err != nil {
		t.Fatalf("push change: %v", err)
	}
}

func newConnectedClient(t *testing.T, fs *fakeServer) *Client {
	t.Helper()
	client := NewClient(&Config{
		URL:               fs.wsURL(),
		APIKey:            "anon-key",
		HeartbeatInterval: time.Hour,
	}, testRealtimeLogger())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClient_SubscribeSendsJoin(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.Close()
	client := newConnectedClient(t, fs)

	_, err := client.Subscribe("messages", "INSERT", func(map[string]any) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	join := fs.join(t)
	if join.Topic != "realtime:public:messages" {
		t.Errorf("topic = %q", join.Topic)
	}
	var cfg joinConfig
	if err := json.Unmarshal(join.Payload, &cfg); err != nil {
		t.Fatalf("decode join payload: %v", err)
	}
	changes := cfg.Config.PostgresChanges
	if len(changes) != 1 || changes[0].Table != "messages" || changes[0].Event != "INSERT" || changes[0].Schema != "public" {
		t.Errorf("postgres_changes = %+v", changes)
	}
}

func TestClient_DispatchesMatchingChanges(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.Close()
	client := newConnectedClient(t, fs)

	rows := make(chan map[string]any, 1)
	if _, err := client.Subscribe("messages", "INSERT", func(row map[string]any) {
		rows <- row
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	fs.join(t)

	conn := fs.conn(t)
	pushChange(t, conn, "conversations", "INSERT", map[string]any{"id": "wrong-table"})
	pushChange(t, conn, "messages", "UPDATE", map[string]any{"id": "wrong-event"})
	pushChange(t, conn, "messages", "INSERT", map[string]any{"id": "m1", "content": "hi"})

	select {
	case row := <-rows:
		if row["id"] != "m1" {
			t.Errorf("row = %+v", row)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	select {
	case row := <-rows:
		t.Errorf("unexpected extra dispatch: %+v", row)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_TableInferredFromTopic(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.Close()
	client := newConnectedClient(t, fs)

	rows := make(chan map[string]any, 1)
	if _, err := client.Subscribe("sla_violations", "INSERT", func(row map[string]any) {
		rows <- row
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	fs.join(t)

	// Older servers omit the table from the payload; it comes from the
	// topic instead.
	payload, _ := json.Marshal(changePayload{Type: "INSERT", Record: map[string]any{"id": "v1"}})
	conn := fs.conn(t)
	if err := conn.WriteJSON(phoenixMessage{
		Topic:   "realtime:public:sla_violations",
		Event:   "postgres_changes",
		Payload: payload,
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case row := <-rows:
		if row["id"] != "v1" {
			t.Errorf("row = %+v", row)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestClient_UnsubscribeStopsDelivery(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.Close()
	client := newConnectedClient(t, fs)

	rows := make(chan map[string]any, 1)
	unsubscribe, err := client.Subscribe("messages", "INSERT", func(row map[string]any) {
		rows <- row
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	fs.join(t)
	unsubscribe()

	pushChange(t, fs.conn(t), "messages", "INSERT", map[string]any{"id": "m1"})

	select {
	case row := <-rows:
		t.Errorf("handler called after unsubscribe: %+v", row)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClient_SubscribeWithoutConnect(t *testing.T) {
	client := NewClient(DefaultConfig(), testRealtimeLogger())
	if _, err := client.Subscribe("messages", "INSERT", func(map[string]any) {}); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.Close()
	client := newConnectedClient(t, fs)

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := client.Subscribe("messages", "INSERT", func(map[string]any) {}); err == nil {
		t.Fatal("expected error after close")
	}
}
