package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type readResult struct {
	messageType int
	data        []byte
	err         error
}

// fakeConn records writes and serves reads from a channel.
type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	controls []int
	writeErr error
	closes   int

	reads     chan readResult
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:  make(chan readResult, 8),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case r := <-c.reads:
		return r.messageType, r.data, r.err
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, messageType)
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error         { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error        { return nil }
func (c *fakeConn) SetReadLimit(int64)                      {}
func (c *fakeConn) SetPongHandler(func(appData string) error) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) snapshot() (writes int, controls []int, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes), append([]int(nil), c.controls...), c.closes
}

type fakeDialer struct {
	conns []*fakeConn
	err   error
	dials int
	urls  []string
	hdrs  []http.Header
}

func (d *fakeDialer) Dial(_ context.Context, rawURL string, header http.Header) (Conn, error) {
	d.dials++
	d.urls = append(d.urls, rawURL)
	d.hdrs = append(d.hdrs, header)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func newTestSession(d Dialer) *Session {
	return NewSession(d, SessionConfig{PingPeriod: -1}, zerolog.Nop(), nil)
}

func TestSendWhileDisconnectedWritesNothing(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)

	err := s.Send(SendMessage{UUID: uuid.New(), Target: uuid.New(), Content: "hi"})
	if KindOf(err) != KindDisconnected {
		t.Fatalf("got %v", err)
	}
	if d.dials != 0 || s.State() != StateDisconnected {
		t.Fatalf("unexpected transport activity")
	}
	if _, err := s.Receive(context.Background()); KindOf(err) != KindDisconnected {
		t.Fatalf("receive got %v", err)
	}
}

func TestDisconnectWhileDisconnectedIsNoop(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	s.Disconnect()
	s.Disconnect()
	if d.dials != 0 || s.State() != StateDisconnected {
		t.Fatal("unexpected transport activity")
	}
}

func TestConnectSendDisconnect(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)

	if err := s.Connect(context.Background(), "ws://chat.local/ws", "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if s.State() != StateConnected {
		t.Fatal("expected connected")
	}
	if !strings.Contains(d.urls[0], "token=tok") || d.hdrs[0].Get("Authorization") != "Bearer tok" {
		t.Fatalf("token not attached: %s %v", d.urls[0], d.hdrs[0])
	}

	if err := s.Send(SendMessage{UUID: uuid.New(), Target: uuid.New(), Content: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	conn := d.conns[0]
	if writes, _, _ := conn.snapshot(); writes != 1 {
		t.Fatalf("writes got=%d", writes)
	}

	s.Disconnect()
	if s.State() != StateDisconnected {
		t.Fatal("expected disconnected")
	}
	_, controls, closes := conn.snapshot()
	if len(controls) != 1 || controls[0] != websocket.CloseMessage || closes != 1 {
		t.Fatalf("controls=%v closes=%d", controls, closes)
	}

	s.Disconnect()
	if _, controls, closes := conn.snapshot(); len(controls) != 1 || closes != 1 {
		t.Fatal("second disconnect touched the transport")
	}
}

func TestConnectReplacesPreviousLink(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	ctx := context.Background()

	if err := s.Connect(ctx, "ws://chat.local/ws", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Connect(ctx, "ws://chat.local/ws", ""); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	_, controls, closes := d.conns[0].snapshot()
	if closes != 1 {
		t.Fatalf("old conn closes=%d", closes)
	}
	if len(controls) != 1 || controls[0] != websocket.CloseMessage {
		t.Fatalf("old conn should get a close frame, controls=%v", controls)
	}
	if s.State() != StateConnected || s.link.conn != d.conns[1] {
		t.Fatal("new link not installed")
	}
	s.Disconnect()
}

func TestConnectFailureStaysDisconnected(t *testing.T) {
	d := &fakeDialer{err: NewError(KindAccessDenied, "denied", nil)}
	s := newTestSession(d)

	err := s.Connect(context.Background(), "ws://chat.local/ws", "")
	if KindOf(err) != KindAccessDenied || s.State() != StateDisconnected {
		t.Fatalf("got %v state=%s", err, s.State())
	}

	d.err = errors.New("refused")
	if err := s.Connect(context.Background(), "ws://chat.local/ws", ""); KindOf(err) != KindConnection {
		t.Fatalf("got %v", err)
	}

	if err := s.Connect(context.Background(), "http://chat.local/ws", ""); KindOf(err) != KindConnection {
		t.Fatalf("bad scheme got %v", err)
	}
}

func TestSerializationErrorKeepsLink(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	if err := s.Connect(context.Background(), "ws://chat.local/ws", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()

	if err := s.Send(Disconnect{}); KindOf(err) != KindSerialization {
		t.Fatalf("got %v", err)
	}
	if s.State() != StateConnected {
		t.Fatal("serialization failure must not close the link")
	}
}

func TestWriteFailureTearsDown(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"closed", websocket.ErrCloseSent, KindDisconnected},
		{"net closed", net.ErrClosed, KindDisconnected},
		{"other", errors.New("broken pipe"), KindSend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDialer{}
			s := newTestSession(d)
			if err := s.Connect(context.Background(), "ws://chat.local/ws", ""); err != nil {
				t.Fatalf("connect: %v", err)
			}
			d.conns[0].mu.Lock()
			d.conns[0].writeErr = tt.err
			d.conns[0].mu.Unlock()

			err := s.Send(MarkRead{Target: uuid.New(), UUIDs: []uuid.UUID{uuid.New()}})
			if KindOf(err) != tt.want {
				t.Fatalf("got %v want %s", err, tt.want)
			}
			if s.State() != StateDisconnected {
				t.Fatal("expected teardown")
			}
		})
	}
}

func TestReceiveDecodesAndSkipsBinary(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	if err := s.Connect(context.Background(), "ws://chat.local/ws", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()

	id := uuid.New()
	conn := d.conns[0]
	conn.reads <- readResult{messageType: websocket.BinaryMessage, data: []byte{1, 2}}
	conn.reads <- readResult{messageType: websocket.TextMessage, data: []byte(`{"type":"message_sent","payload":{"uuid":"` + id.String() + `"}}`)}
	conn.reads <- readResult{messageType: websocket.TextMessage, data: []byte(`garbage`)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ev, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if m, ok := ev.(MessageSent); !ok || m.UUID != id {
		t.Fatalf("got %#v", ev)
	}

	if _, err := s.Receive(ctx); KindOf(err) != KindDeserialization {
		t.Fatalf("got %v", err)
	}
	if s.State() != StateConnected {
		t.Fatal("decode failure must not close the link")
	}
}

func TestReadFailureTearsDown(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	if err := s.Connect(context.Background(), "ws://chat.local/ws", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d.conns[0].reads <- readResult{err: &websocket.CloseError{Code: websocket.CloseGoingAway}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.Receive(ctx); KindOf(err) != KindDisconnected {
		t.Fatalf("got %v", err)
	}
	if s.State() != StateDisconnected {
		t.Fatal("expected teardown")
	}
}

func TestGorillaDialerClassifiesHandshake(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusUnauthorized, KindInvalidToken},
		{http.StatusForbidden, KindAccessDenied},
		{http.StatusInternalServerError, KindConnection},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

		_, err := GorillaDialer{HandshakeTimeout: time.Second}.Dial(context.Background(), wsURL, nil)
		if KindOf(err) != tt.want {
			t.Fatalf("status %d: got %v want %s", tt.status, err, tt.want)
		}
		srv.Close()
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestKeepaliveTimeoutDisconnects(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	if err := s.Connect(context.Background(), "ws://chat.local/ws", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d.conns[0].reads <- readResult{err: timeoutError{}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.Receive(ctx)
	var chatErr *Error
	if !errors.As(err, &chatErr) || chatErr.Kind != KindDisconnected || chatErr.Message != "keepalive timed out" {
		t.Fatalf("got %v", err)
	}
	if s.State() != StateDisconnected {
		t.Fatal("expected teardown")
	}
}

func TestPingPumpSendsPings(t *testing.T) {
	d := &fakeDialer{}
	s := NewSession(d, SessionConfig{PingPeriod: 10 * time.Millisecond}, zerolog.Nop(), nil)
	if err := s.Connect(context.Background(), "ws://chat.local/ws", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, controls, _ := d.conns[0].snapshot()
		for _, c := range controls {
			if c == websocket.PingMessage {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no ping written")
}
