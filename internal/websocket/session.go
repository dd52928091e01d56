package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"blinkchat-client/internal/auth"
	"blinkchat-client/internal/observability"

	"github.com/rs/zerolog"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPingPeriod     = 54 * time.Second
	defaultHandshake      = 10 * time.Second
	defaultMaxMessageSize = 64 * 1024
)

// SessionConfig tunes one connection. Zero values take the defaults above;
// a negative PingPeriod disables keepalive.
type SessionConfig struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PingPeriod       time.Duration
	ReadLimit        int64
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshake
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PingPeriod == 0 {
		c.PingPeriod = defaultPingPeriod
	}
	if c.PingPeriod < 0 {
		c.PingPeriod = 0
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultMaxMessageSize
	}
	return c
}

// pongWait is how long the peer has to answer a ping.
func (c SessionConfig) pongWait() time.Duration {
	return (c.PingPeriod * 10) / 9
}

// Session is a two-state connection: Disconnected, or Connected with
// exactly one live link. It is owned by a single goroutine.
type Session struct {
	dialer  Dialer
	cfg     SessionConfig
	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	link *link
}

// NewSession returns a disconnected session. A nil dialer uses
// GorillaDialer.
func NewSession(dialer Dialer, cfg SessionConfig, logger zerolog.Logger, metrics *observability.Metrics) *Session {
	cfg = cfg.withDefaults()
	if dialer == nil {
		dialer = GorillaDialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	return &Session{
		dialer:  dialer,
		cfg:     cfg,
		log:     logger.With().Str("component", "session").Logger(),
		metrics: metrics,
		now:     time.Now,
	}
}

// State reports whether a link is installed.
func (s *Session) State() State {
	if s.link != nil {
		return StateConnected
	}
	return StateDisconnected
}

// Connect performs the handshake against rawURL. Any previous link is closed
// normally first; on failure the session stays disconnected.
func (s *Session) Connect(ctx context.Context, rawURL, authToken string) error {
	if s.link != nil {
		s.log.Debug().Msg("replacing existing connection")
		s.closeLink()
	}

	if authToken != "" {
		if err := auth.CheckExpiry(authToken, s.now()); errors.Is(err, auth.ErrTokenExpired) {
			return NewError(KindInvalidToken, "token expired", err)
		}
	}

	target, err := withToken(rawURL, authToken)
	if err != nil {
		return NewError(KindConnection, "invalid url", err)
	}
	header := http.Header{}
	if authToken != "" {
		header.Set("Authorization", "Bearer "+authToken)
	}

	conn, err := s.dialer.Dial(ctx, target, header)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return e
		}
		return NewError(KindConnection, "dial failed", err)
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	s.link = newLink(conn, s.cfg, s.log)
	s.link.start()
	s.metrics.RecordConnectionOpened()
	s.log.Info().Str("url", redact(target)).Msg("connected")
	return nil
}

// Send encodes cmd and writes it as one text frame. Encoding failures leave
// the link intact; write failures tear it down.
func (s *Session) Send(cmd Command) error {
	if s.link == nil {
		return errDisconnected("not connected", nil)
	}
	data, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if err := s.link.write(data); err != nil {
		e := classifyWrite(err)
		s.log.Warn().Err(err).Str("kind", string(e.Kind)).Msg("write failed, closing connection")
		s.teardown()
		return e
	}
	s.metrics.RecordFrameSent(cmd.commandName())
	return nil
}

// Receive waits for the next inbound frame and decodes it. It returns
// ctx.Err() if ctx ends first.
//
// Receive is the pull-style API for callers that own the session without a
// select loop. The Controller selects on inbound instead; both paths decode
// and classify through handleFrame.
func (s *Session) Receive(ctx context.Context) (Event, error) {
	if s.link == nil {
		return nil, errDisconnected("not connected", nil)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f := <-s.link.frames:
		return s.handleFrame(f)
	}
}

// Disconnect sends a close frame and closes the link. Close failures are
// logged. Without a link it does nothing.
func (s *Session) Disconnect() {
	if s.link == nil {
		return
	}
	s.closeLink()
	s.log.Info().Msg("disconnected")
}

// closeLink sends a normal closure to the peer before tearing the link down.
func (s *Session) closeLink() {
	if err := s.link.sendClose(); err != nil {
		s.log.Debug().Err(err).Msg("close frame not sent")
	}
	s.teardown()
}

// inbound is the frame stream of the current link, or nil while
// disconnected. A nil channel blocks forever in a select.
func (s *Session) inbound() <-chan frame {
	if s.link == nil {
		return nil
	}
	return s.link.frames
}

func (s *Session) handleFrame(f frame) (Event, error) {
	if f.err != nil {
		e := classifyRead(f.err)
		s.log.Warn().Err(f.err).Str("kind", string(e.Kind)).Msg("read failed, closing connection")
		s.teardown()
		return nil, e
	}
	ev, err := DecodeFrame(f.data)
	if err != nil {
		s.metrics.RecordFrameReceived("invalid")
		return nil, err
	}
	s.metrics.RecordFrameReceived(EventName(ev))
	return ev, nil
}

func (s *Session) teardown() {
	l := s.link
	if l == nil {
		return
	}
	s.link = nil
	if err := l.close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug().Err(err).Msg("close failed")
	}
	s.metrics.RecordConnectionClosed()
}

func withToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", errors.New("scheme must be ws or wss")
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "redacted")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
