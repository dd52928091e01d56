package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EncodeCommand renders cmd as a text frame. Only commands with a wire form
// (SendMessage and MarkRead) can be encoded.
func EncodeCommand(cmd Command) ([]byte, error) {
	var msg WebSocketMessage
	switch c := cmd.(type) {
	case SendMessage:
		msg = WebSocketMessage{
			Type:    MessageTypeSendMessage,
			Payload: SendMessagePayload{UUID: c.UUID, Target: c.Target, Content: c.Content},
		}
	case MarkRead:
		msg = WebSocketMessage{
			Type:    MessageTypeMarkRead,
			Payload: MarkReadPayload{Target: c.Target, UUIDs: c.UUIDs},
		}
	default:
		return nil, NewError(KindSerialization, fmt.Sprintf("command %T has no wire form", cmd), nil)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, NewError(KindSerialization, "marshal "+msg.Type, err)
	}
	return data, nil
}

// DecodeFrame parses one inbound text frame. Structured error frames decode
// to a protocol *Error; anything unparseable is KindDeserialization.
func DecodeFrame(data []byte) (Event, error) {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewError(KindDeserialization, "invalid frame", err)
	}

	switch raw.Type {
	case MessageTypeNewMessage:
		var p NewMessagePayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		if err := requireFields(raw.Type,
			field{"uuid", p.UUID != uuid.Nil},
			field{"sender", p.Sender != uuid.Nil},
			field{"timestamp", !p.Timestamp.IsZero()},
		); err != nil {
			return nil, err
		}
		return MessageReceived{
			UUID:      p.UUID,
			Sender:    p.Sender,
			Target:    p.Target,
			Content:   p.Content,
			Timestamp: p.Timestamp.Time(),
		}, nil

	case MessageTypeMessageSent:
		var p MessageAckPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		if err := requireFields(raw.Type, field{"uuid", p.UUID != uuid.Nil}); err != nil {
			return nil, err
		}
		return MessageSent{UUID: p.UUID}, nil

	case MessageTypeMessageDelivered:
		var p MessageAckPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		if err := requireFields(raw.Type, field{"uuid", p.UUID != uuid.Nil}); err != nil {
			return nil, err
		}
		return MessageDelivered{UUID: p.UUID}, nil

	case MessageTypeMessagesRead:
		var p MessagesReadPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		if err := requireFields(raw.Type, field{"target", p.Target != uuid.Nil}); err != nil {
			return nil, err
		}
		return MessagesRead{Target: p.Target, UUIDs: p.UUIDs}, nil

	case MessageTypeError:
		var p ErrorPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, NewError(KindFromCode(p.Code), p.Message, nil)

	case "":
		return nil, NewError(KindDeserialization, "frame without type", nil)

	default:
		return nil, NewError(KindDeserialization, fmt.Sprintf("unknown frame type %q", raw.Type), nil)
	}
}

func decodePayload(raw rawMessage, v interface{}) error {
	if len(raw.Payload) == 0 || bytes.Equal(bytes.TrimSpace(raw.Payload), []byte("null")) {
		return NewError(KindDeserialization, raw.Type+" without payload", nil)
	}
	if err := json.Unmarshal(raw.Payload, v); err != nil {
		return NewError(KindDeserialization, "invalid "+raw.Type+" payload", err)
	}
	return nil
}

type field struct {
	name    string
	present bool
}

// requireFields rejects payloads that parsed but left a required field at its
// zero value.
func requireFields(frameType string, fields ...field) error {
	for _, f := range fields {
		if !f.present {
			return NewError(KindDeserialization, frameType+" without "+f.name, nil)
		}
	}
	return nil
}
