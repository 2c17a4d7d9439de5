package channel

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type echoServer struct {
	t      *testing.T
	server *httptest.Server
	frames chan Envelope

	mu   sync.Mutex
	conn *websocket.Conn
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()

	es := &echoServer{t: t, frames: make(chan Envelope, 16)}
	upgrader := websocket.Upgrader{}

	es.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		es.mu.Lock()
		es.conn = conn
		es.mu.Unlock()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var envelope Envelope
			if err := json.Unmarshal(raw, &envelope); err != nil {
				continue
			}
			es.frames <- envelope
		}
	}))
	t.Cleanup(es.server.Close)
	return es
}

func (es *echoServer) url() string {
	return "ws" + strings.TrimPrefix(es.server.URL, "http")
}

func (es *echoServer) push(raw string) {
	es.t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		es.mu.Lock()
		conn := es.conn
		es.mu.Unlock()
		if conn != nil {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
				es.t.Fatalf("server write failed: %v", err)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	es.t.Fatal("no client connection to push to")
}

func (es *echoServer) waitFrame(event string) Envelope {
	es.t.Helper()

	for {
		select {
		case envelope := <-es.frames:
			if envelope.Event == event {
				return envelope
			}
		case <-time.After(2 * time.Second):
			es.t.Fatalf("timed out waiting for %q frame", event)
		}
	}
}

func (es *echoServer) expectNoFrame(wait time.Duration) {
	es.t.Helper()

	select {
	case envelope := <-es.frames:
		es.t.Fatalf("unexpected frame %q", envelope.Event)
	case <-time.After(wait):
	}
}

func newConnectedClient(t *testing.T, es *echoServer) *Client {
	t.Helper()

	client, err := New(Options{URL: es.url(), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Connect(SetupPayload{ID: "u1", Username: "alice"}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return client
}

func TestConnectAnnouncesIdentityOnce(t *testing.T) {
	es := newEchoServer(t)
	client := newConnectedClient(t, es)

	frame := es.waitFrame(EventSetup)
	var payload SetupPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("setup data invalid: %v", err)
	}
	if payload.ID != "u1" || payload.Username != "alice" {
		t.Fatalf("unexpected setup payload: %+v", payload)
	}

	// a second Connect on a live channel is a no-op
	if err := client.Connect(SetupPayload{ID: "u1", Username: "alice"}); err != nil {
		t.Fatalf("repeat Connect failed: %v", err)
	}
	es.expectNoFrame(150 * time.Millisecond)
	if !client.Connected() {
		t.Fatal("client should report connected")
	}
}

func TestJoinAndSendEmitFrames(t *testing.T) {
	es := newEchoServer(t)
	client := newConnectedClient(t, es)
	es.waitFrame(EventSetup)

	if err := client.JoinConversation("c1"); err != nil {
		t.Fatalf("JoinConversation failed: %v", err)
	}
	join := es.waitFrame(EventJoinChat)
	var conversationID string
	if err := json.Unmarshal(join.Data, &conversationID); err != nil || conversationID != "c1" {
		t.Fatalf("unexpected join data %s: %v", join.Data, err)
	}

	if err := client.SendMessage(MessagePayload{ID: "m1", Message: "hi", Chat: WireChat{ID: "c1"}}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	send := es.waitFrame(EventSendMsg)
	var payload MessagePayload
	if err := json.Unmarshal(send.Data, &payload); err != nil {
		t.Fatalf("send data invalid: %v", err)
	}
	if payload.ID != "m1" || payload.Message != "hi" {
		t.Fatalf("unexpected send payload: %+v", payload)
	}
}

func TestEmitBeforeConnect(t *testing.T) {
	client, err := New(Options{URL: "ws://127.0.0.1:0", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := client.JoinConversation("c1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := client.SendMessage(MessagePayload{ID: "m1"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestInboundDeliveryAndMalformedDrop(t *testing.T) {
	es := newEchoServer(t)
	client := newConnectedClient(t, es)
	es.waitFrame(EventSetup)

	received := make(chan MessagePayload, 4)
	client.OnMessageReceived(func(payload MessagePayload) { received <- payload })

	// a frame missing the message id is dropped without tearing the channel down
	es.push(`{"event":"msg_recieve","data":{"message":"ghost","chat":{"_id":"c1"}}}`)
	// an unknown event is ignored
	es.push(`{"event":"typing","data":"c1"}`)
	// object-framed delivery
	es.push(`{"event":"msg_recieve","data":{"_id":"m1","from":"u2","name":"bob","message":"hi","time":"9:5","chat":{"_id":"c1"}}}`)
	// string-framed delivery, as the server sometimes serializes it
	es.push(`{"event":"msg_recieve","data":"{\"_id\":\"m2\",\"from\":\"u2\",\"message\":\"again\",\"chat\":{\"_id\":\"c1\"}}"}`)

	first := waitPayload(t, received)
	if first.ID != "m1" || first.Message != "hi" {
		t.Fatalf("unexpected first delivery: %+v", first)
	}
	second := waitPayload(t, received)
	if second.ID != "m2" || second.Message != "again" {
		t.Fatalf("unexpected second delivery: %+v", second)
	}

	select {
	case extra := <-received:
		t.Fatalf("malformed frame was delivered: %+v", extra)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestHandlerReplacementDeliversOnce(t *testing.T) {
	es := newEchoServer(t)
	client := newConnectedClient(t, es)
	es.waitFrame(EventSetup)

	stale := make(chan MessagePayload, 4)
	live := make(chan MessagePayload, 4)
	client.OnMessageReceived(func(payload MessagePayload) { stale <- payload })
	client.OnMessageReceived(func(payload MessagePayload) { live <- payload })

	es.push(`{"event":"msg_recieve","data":{"_id":"m1","message":"hi","chat":{"_id":"c1"}}}`)

	payload := waitPayload(t, live)
	if payload.ID != "m1" {
		t.Fatalf("unexpected delivery: %+v", payload)
	}
	select {
	case extra := <-stale:
		t.Fatalf("replaced handler still received %+v", extra)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestServerDisconnectClosesClient(t *testing.T) {
	es := newEchoServer(t)
	client := newConnectedClient(t, es)
	es.waitFrame(EventSetup)

	es.mu.Lock()
	_ = es.conn.Close()
	es.mu.Unlock()

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not observe the disconnect")
	}
	if client.Connected() {
		t.Fatal("client still reports connected after teardown")
	}
	if err := client.Connect(SetupPayload{ID: "u1"}); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed after teardown, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	es := newEchoServer(t)
	client := newConnectedClient(t, es)

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
	if client.LastError() != nil {
		t.Fatalf("clean close must not record an error: %v", client.LastError())
	}
}

func waitPayload(t *testing.T, ch <-chan MessagePayload) MessagePayload {
	t.Helper()

	select {
	case payload := <-ch:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound payload")
		return MessagePayload{}
	}
}
