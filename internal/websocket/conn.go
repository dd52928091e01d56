package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the session relies on.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens a Conn.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error)
}

// GorillaDialer dials with gorilla/websocket and classifies handshake
// failures.
type GorillaDialer struct {
	HandshakeTimeout time.Duration
}

func (d GorillaDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, classifyHandshake(resp, err)
	}
	return conn, nil
}

func classifyHandshake(resp *http.Response, err error) *Error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return NewError(KindInvalidToken, "handshake rejected the token", err)
		case http.StatusForbidden:
			return NewError(KindAccessDenied, "handshake denied access", err)
		default:
			return NewError(KindConnection, fmt.Sprintf("handshake failed with status %d", resp.StatusCode), err)
		}
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		return NewError(KindConnection, "bad handshake", err)
	}
	return NewError(KindConnection, "dial failed", err)
}

// classifyWrite maps a failed write to its kind. Writes on a closed
// connection surface as Disconnected.
func classifyWrite(err error) *Error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || errors.Is(err, websocket.ErrCloseSent) || isClosedConnError(err) {
		return errDisconnected("connection closed", err)
	}
	return NewError(KindSend, "write failed", err)
}

// classifyRead maps a failed read to its kind.
func classifyRead(err error) *Error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || isClosedConnError(err) {
		return errDisconnected("connection closed by peer", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errDisconnected("keepalive timed out", err)
	}
	return errUnknown("read failed", err)
}

func isClosedConnError(err error) bool {
	return errors.Is(err, errLinkClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
