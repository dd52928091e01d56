package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errLinkClosed = errors.New("websocket: link closed")

// frame is one result of the read pump: a message or the error that ended
// the connection.
type frame struct {
	messageType int
	data        []byte
	err         error
}

// link owns one live connection and the goroutines that service it. Only
// the read pump touches frames; only the owning session writes data frames.
type link struct {
	conn   Conn
	frames chan frame
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
	log        zerolog.Logger
}

func newLink(conn Conn, cfg SessionConfig, logger zerolog.Logger) *link {
	return &link{
		conn:       conn,
		frames:     make(chan frame),
		done:       make(chan struct{}),
		writeWait:  cfg.WriteWait,
		pongWait:   cfg.pongWait(),
		pingPeriod: cfg.PingPeriod,
		log:        logger,
	}
}

func (l *link) start() {
	if l.pingPeriod > 0 {
		_ = l.conn.SetReadDeadline(time.Now().Add(l.pongWait))
		l.conn.SetPongHandler(func(string) error {
			return l.conn.SetReadDeadline(time.Now().Add(l.pongWait))
		})
		l.wg.Add(1)
		go l.pingPump()
	}
	l.wg.Add(1)
	go l.readPump()
}

func (l *link) readPump() {
	defer l.wg.Done()
	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case l.frames <- frame{err: err}:
			case <-l.done:
			}
			return
		}
		if messageType != websocket.TextMessage {
			l.log.Debug().Int("message_type", messageType).Msg("skipping non-text frame")
			continue
		}
		select {
		case l.frames <- frame{messageType: messageType, data: data}:
		case <-l.done:
			return
		}
	}
}

func (l *link) pingPump() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(l.writeWait)); err != nil {
				l.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// write sends one text frame.
func (l *link) write(data []byte) error {
	if l.writeWait > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeWait))
	}
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

// sendClose writes a normal-closure control frame.
func (l *link) sendClose() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(l.writeWait))
}

// close stops the pumps and closes the connection. Safe to call more than
// once; only the first call reports the close error.
func (l *link) close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.conn.Close()
		l.wg.Wait()
	})
	return err
}
