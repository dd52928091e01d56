package websocket

import (
	"context"
	"fmt"
	"strings"

	"blinkchat-client/internal/observability"
	"blinkchat-client/internal/queue"

	"github.com/rs/zerolog"
)

// DecodeFailurePolicy decides what an undecodable inbound frame does to
// the connection.
type DecodeFailurePolicy int

const (
	// DecodeFailureNotify reports the error and keeps the connection.
	DecodeFailureNotify DecodeFailurePolicy = iota
	// DecodeFailureDisconnect reports the error and closes the connection.
	DecodeFailureDisconnect
)

func (p DecodeFailurePolicy) String() string {
	if p == DecodeFailureDisconnect {
		return "disconnect"
	}
	return "notify"
}

// ParseDecodeFailurePolicy accepts "notify" (or empty) and "disconnect".
func ParseDecodeFailurePolicy(s string) (DecodeFailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "notify":
		return DecodeFailureNotify, nil
	case "disconnect":
		return DecodeFailureDisconnect, nil
	default:
		return 0, fmt.Errorf("unknown decode failure policy %q", s)
	}
}

// QueueClosedPolicy decides whether the loop survives once every command
// handle has been closed.
type QueueClosedPolicy int

const (
	// QueueClosedTerminate ends Run after reporting the closed queue.
	QueueClosedTerminate QueueClosedPolicy = iota
	// QueueClosedIdle keeps relaying inbound frames until ctx ends.
	QueueClosedIdle
)

func (p QueueClosedPolicy) String() string {
	if p == QueueClosedIdle {
		return "idle"
	}
	return "terminate"
}

// ParseQueueClosedPolicy accepts "terminate" (or empty) and "idle".
func ParseQueueClosedPolicy(s string) (QueueClosedPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "terminate":
		return QueueClosedTerminate, nil
	case "idle":
		return QueueClosedIdle, nil
	default:
		return 0, fmt.Errorf("unknown queue closed policy %q", s)
	}
}

type ControllerConfig struct {
	DecodeFailure DecodeFailurePolicy
	QueueClosed   QueueClosedPolicy
	// EventBuffer is the capacity of the event channel.
	EventBuffer int
}

// Controller merges queued commands and inbound frames into one ordered
// event stream. Run must be called exactly once.
type Controller struct {
	session *Session
	queue   *queue.Queue[Command]
	sender  *CommandSender
	events  chan Event

	cfg     ControllerConfig
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewController(session *Session, cfg ControllerConfig, logger zerolog.Logger, metrics *observability.Metrics) *Controller {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	q, sender := queue.New[Command]()
	return &Controller{
		session: session,
		queue:   q,
		sender:  sender,
		events:  make(chan Event, cfg.EventBuffer),
		cfg:     cfg,
		log:     logger.With().Str("component", "controller").Logger(),
		metrics: metrics,
	}
}

// Events is the output stream. It is closed when Run returns.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Run emits Ready and then services commands and frames until ctx ends
// or, under QueueClosedTerminate, the command queue closes. On exit the
// session is disconnected and the event stream closed.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.events)
	defer c.session.Disconnect()

	if !c.emit(ctx, Ready{Sender: c.sender}) {
		return ctx.Err()
	}
	c.log.Debug().Msg("controller started")

	commands := c.queue.Ready()
	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("controller stopping")
			return ctx.Err()

		case <-commands:
			cmd, ok, done := c.queue.Next()
			c.metrics.SetQueueDepth(c.queue.Len())
			if done {
				if !c.emit(ctx, c.errorEvent(errUnknown("command queue closed", queue.ErrClosed))) {
					return ctx.Err()
				}
				if c.cfg.QueueClosed == QueueClosedTerminate {
					c.log.Info().Msg("command queue closed, stopping")
					return nil
				}
				c.log.Info().Msg("command queue closed, idling")
				commands = nil
				continue
			}
			if !ok {
				continue
			}
			if ev := c.handleCommand(ctx, cmd); ev != nil {
				if !c.emit(ctx, ev) {
					return ctx.Err()
				}
			}

		case f := <-c.session.inbound():
			if !c.emit(ctx, c.handleFrame(f)) {
				return ctx.Err()
			}
		}
	}
}

// handleCommand runs one command against the session and returns the event
// it produces, if any.
func (c *Controller) handleCommand(ctx context.Context, cmd Command) Event {
	c.log.Debug().Str("command", cmd.commandName()).Msg("handling command")
	switch cmd := cmd.(type) {
	case Connect:
		if err := c.session.Connect(ctx, cmd.URL, cmd.AuthToken); err != nil {
			return c.errorEvent(err)
		}
		return Connected{}

	case Disconnect:
		if c.session.State() == StateDisconnected {
			return nil
		}
		c.session.Disconnect()
		return Disconnected{}

	default:
		if err := c.session.Send(cmd); err != nil {
			return c.errorEvent(err)
		}
		return nil
	}
}

func (c *Controller) handleFrame(f frame) Event {
	ev, err := c.session.handleFrame(f)
	if err == nil {
		return ev
	}
	if KindOf(err) == KindDeserialization && c.cfg.DecodeFailure == DecodeFailureDisconnect {
		c.log.Warn().Err(err).Msg("undecodable frame, closing connection")
		c.session.Disconnect()
	}
	return c.errorEvent(err)
}

func (c *Controller) errorEvent(err error) ErrorEvent {
	e := AsError(err)
	c.metrics.RecordError(string(e.Kind))
	c.log.Debug().Err(e).Str("kind", string(e.Kind)).Msg("reporting error")
	return ErrorEvent{Err: e, State: c.session.State()}
}

// emit delivers ev unless ctx ends first.
func (c *Controller) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
