package websocket_test

import (
	"context"
	"testing"
	"time"

	"blinkchat-client/internal/devserver/devservertest"
	"blinkchat-client/internal/observability"
	"blinkchat-client/internal/websocket"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type harness struct {
	ctrl   *websocket.Controller
	sender *websocket.CommandSender
	done   chan error
}

func startController(t *testing.T, cfg websocket.ControllerConfig, metrics *observability.Metrics) *harness {
	t.Helper()
	session := websocket.NewSession(nil, websocket.SessionConfig{HandshakeTimeout: 2 * time.Second}, zerolog.Nop(), metrics)
	ctrl := websocket.NewController(session, cfg, zerolog.Nop(), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{ctrl: ctrl, done: make(chan error, 1)}
	go func() { h.done <- ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	ready, ok := h.next(t).(websocket.Ready)
	if !ok || ready.Sender == nil {
		t.Fatal("first event must be Ready with a sender")
	}
	h.sender = ready.Sender
	return h
}

func (h *harness) next(t *testing.T) websocket.Event {
	t.Helper()
	select {
	case ev, ok := <-h.ctrl.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func (h *harness) send(t *testing.T, cmd websocket.Command) {
	t.Helper()
	if err := h.sender.Send(cmd); err != nil {
		t.Fatalf("enqueue %T: %v", cmd, err)
	}
}

func (h *harness) connect(t *testing.T, url, token string) {
	t.Helper()
	h.send(t, websocket.Connect{URL: url, AuthToken: token})
	if ev := h.next(t); ev != (websocket.Connected{}) {
		t.Fatalf("expected Connected, got %#v", ev)
	}
}

func expectError(t *testing.T, ev websocket.Event, kind websocket.ErrorKind, state websocket.State) {
	t.Helper()
	e, ok := ev.(websocket.ErrorEvent)
	if !ok {
		t.Fatalf("expected ErrorEvent, got %#v", ev)
	}
	if e.Err.Kind != kind || e.State != state {
		t.Fatalf("got kind=%s state=%s, want kind=%s state=%s (%v)", e.Err.Kind, e.State, kind, state, e.Err)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	env := devservertest.Start(t)
	h := startController(t, websocket.ControllerConfig{}, nil)

	h.send(t, websocket.SendMessage{UUID: uuid.New(), Target: env.Bob.User.ID, Content: "hi"})
	expectError(t, h.next(t), websocket.KindDisconnected, websocket.StateDisconnected)

	if n := env.Server.Hub().Received(env.Alice.User.ID); n != 0 {
		t.Fatalf("server received %d frames", n)
	}
}

func TestConnectSendAck(t *testing.T) {
	env := devservertest.Start(t)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	h := startController(t, websocket.ControllerConfig{}, metrics)

	h.connect(t, env.WSURL, env.Alice.Token)

	id := uuid.New()
	h.send(t, websocket.SendMessage{UUID: id, Target: env.Bob.User.ID, Content: "hello bob"})
	if ev := h.next(t); ev != (websocket.MessageSent{UUID: id}) {
		t.Fatalf("expected MessageSent, got %#v", ev)
	}

	if n, err := testutil.GatherAndCount(reg, "blinkchat_client_frames_sent_total"); err != nil || n != 1 {
		t.Fatalf("frames sent series=%d err=%v", n, err)
	}
}

func TestPeerExchange(t *testing.T) {
	env := devservertest.Start(t)
	alice := startController(t, websocket.ControllerConfig{}, nil)
	bob := startController(t, websocket.ControllerConfig{}, nil)

	alice.connect(t, env.WSURL, env.Alice.Token)
	bob.connect(t, env.WSURL, env.Bob.Token)
	env.WaitOnline(t, env.Bob, true)

	id := uuid.New()
	alice.send(t, websocket.SendMessage{UUID: id, Target: env.Bob.User.ID, Content: "ping"})
	if ev := alice.next(t); ev != (websocket.MessageSent{UUID: id}) {
		t.Fatalf("alice expected MessageSent, got %#v", ev)
	}
	if ev := alice.next(t); ev != (websocket.MessageDelivered{UUID: id}) {
		t.Fatalf("alice expected MessageDelivered, got %#v", ev)
	}

	got, ok := bob.next(t).(websocket.MessageReceived)
	if !ok || got.UUID != id || got.Sender != env.Alice.User.ID || got.Content != "ping" {
		t.Fatalf("bob got %#v", got)
	}

	bob.send(t, websocket.MarkRead{Target: env.Alice.User.ID, UUIDs: []uuid.UUID{id}})
	read, ok := alice.next(t).(websocket.MessagesRead)
	if !ok || read.Target != env.Bob.User.ID || len(read.UUIDs) != 1 || read.UUIDs[0] != id {
		t.Fatalf("alice expected MessagesRead, got %#v", read)
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	env := devservertest.Start(t)
	h := startController(t, websocket.ControllerConfig{}, nil)
	h.connect(t, env.WSURL, env.Alice.Token)
	env.WaitOnline(t, env.Alice, true)

	env.Server.Hub().SendRaw(env.Alice.User.ID, []byte(`{"type":"bogus"`))
	expectError(t, h.next(t), websocket.KindDeserialization, websocket.StateConnected)

	id := uuid.New()
	h.send(t, websocket.SendMessage{UUID: id, Target: env.Bob.User.ID, Content: "still here"})
	if ev := h.next(t); ev != (websocket.MessageSent{UUID: id}) {
		t.Fatalf("expected MessageSent after bad frame, got %#v", ev)
	}
}

func TestMalformedFrameDisconnectPolicy(t *testing.T) {
	env := devservertest.Start(t)
	h := startController(t, websocket.ControllerConfig{DecodeFailure: websocket.DecodeFailureDisconnect}, nil)
	h.connect(t, env.WSURL, env.Alice.Token)
	env.WaitOnline(t, env.Alice, true)

	env.Server.Hub().SendRaw(env.Alice.User.ID, []byte(`not json`))
	expectError(t, h.next(t), websocket.KindDeserialization, websocket.StateDisconnected)
	env.WaitOnline(t, env.Alice, false)
}

func TestServerErrorFrame(t *testing.T) {
	env := devservertest.Start(t)
	h := startController(t, websocket.ControllerConfig{}, nil)
	h.connect(t, env.WSURL, env.Alice.Token)

	h.send(t, websocket.SendMessage{UUID: uuid.New(), Target: uuid.New(), Content: "nobody"})
	expectError(t, h.next(t), websocket.KindUserNotFound, websocket.StateConnected)

	h.send(t, websocket.MarkRead{Target: env.Bob.User.ID, UUIDs: []uuid.UUID{uuid.New()}})
	expectError(t, h.next(t), websocket.KindMessageNotFound, websocket.StateConnected)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	env := devservertest.Start(t)
	h := startController(t, websocket.ControllerConfig{}, nil)

	// No event for a disconnect without a session; the next event belongs
	// to the following command.
	h.send(t, websocket.Disconnect{})
	h.send(t, websocket.MarkRead{Target: env.Bob.User.ID, UUIDs: []uuid.UUID{uuid.New()}})
	expectError(t, h.next(t), websocket.KindDisconnected, websocket.StateDisconnected)

	h.connect(t, env.WSURL, env.Alice.Token)
	env.WaitOnline(t, env.Alice, true)

	h.send(t, websocket.Disconnect{})
	if ev := h.next(t); ev != (websocket.Disconnected{}) {
		t.Fatalf("expected Disconnected, got %#v", ev)
	}
	env.WaitOnline(t, env.Alice, false)

	h.send(t, websocket.Disconnect{})
	h.send(t, websocket.Connect{URL: env.WSURL, AuthToken: env.Alice.Token})
	if ev := h.next(t); ev != (websocket.Connected{}) {
		t.Fatalf("expected Connected, got %#v", ev)
	}
}

func TestReconnectReplacesSession(t *testing.T) {
	env := devservertest.Start(t)
	h := startController(t, websocket.ControllerConfig{}, nil)
	h.connect(t, env.WSURL, env.Alice.Token)
	h.connect(t, env.WSURL, env.Alice.Token)

	id := uuid.New()
	h.send(t, websocket.SendMessage{UUID: id, Target: env.Bob.User.ID, Content: "after reconnect"})
	if ev := h.next(t); ev != (websocket.MessageSent{UUID: id}) {
		t.Fatalf("expected MessageSent, got %#v", ev)
	}
}

func TestConnectFailures(t *testing.T) {
	env := devservertest.Start(t)
	h := startController(t, websocket.ControllerConfig{}, nil)

	h.send(t, websocket.Connect{URL: env.WSURL, AuthToken: "garbage"})
	expectError(t, h.next(t), websocket.KindInvalidToken, websocket.StateDisconnected)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": env.Alice.User.ID.String(),
		"exp":     time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := expired.SignedString([]byte("whatever"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	h.send(t, websocket.Connect{URL: env.WSURL, AuthToken: signed})
	expectError(t, h.next(t), websocket.KindInvalidToken, websocket.StateDisconnected)

	h.send(t, websocket.Connect{URL: "ws://127.0.0.1:1/ws", AuthToken: env.Alice.Token})
	expectError(t, h.next(t), websocket.KindConnection, websocket.StateDisconnected)
}

func TestQueueClosedTerminates(t *testing.T) {
	h := startController(t, websocket.ControllerConfig{}, nil)
	h.sender.Close()

	expectError(t, h.next(t), websocket.KindUnknown, websocket.StateDisconnected)
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
		h.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop")
	}
	if _, ok := <-h.ctrl.Events(); ok {
		t.Fatal("event stream should be closed")
	}
}

func TestQueueClosedIdleKeepsRelaying(t *testing.T) {
	env := devservertest.Start(t)
	h := startController(t, websocket.ControllerConfig{QueueClosed: websocket.QueueClosedIdle}, nil)

	clone := h.sender.Clone()
	h.connect(t, env.WSURL, env.Alice.Token)
	env.WaitOnline(t, env.Alice, true)

	h.sender.Close()
	// The clone keeps the queue open.
	if err := clone.Send(websocket.Disconnect{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if ev := h.next(t); ev != (websocket.Disconnected{}) {
		t.Fatalf("expected Disconnected, got %#v", ev)
	}
	env.WaitOnline(t, env.Alice, false)

	if err := clone.Send(websocket.Connect{URL: env.WSURL, AuthToken: env.Alice.Token}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if ev := h.next(t); ev != (websocket.Connected{}) {
		t.Fatalf("expected Connected, got %#v", ev)
	}
	env.WaitOnline(t, env.Alice, true)
	clone.Close()
	expectError(t, h.next(t), websocket.KindUnknown, websocket.StateConnected)

	id := uuid.New()
	env.Server.Hub().SendRaw(env.Alice.User.ID, []byte(`{"type":"message_delivered","payload":{"uuid":"`+id.String()+`"}}`))
	if ev := h.next(t); ev != (websocket.MessageDelivered{UUID: id}) {
		t.Fatalf("expected MessageDelivered while idle, got %#v", ev)
	}
}
