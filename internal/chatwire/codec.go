package chatwire

import (
	"encoding/json"
	"fmt"
)

// Frame is the JSON envelope every channel message travels in.
type Frame struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrUnknownEvent is returned when a frame names an event outside the closed
// set for its direction. Callers log and continue; an unknown frame is
// protocol drift, not a fatal condition.
type ErrUnknownEvent struct {
	Name EventType
}

func (e ErrUnknownEvent) Error() string {
	return fmt.Sprintf("chatwire: unknown event %q", e.Name)
}

// EncodeClientEvent wraps ev in a Frame and marshals it.
func EncodeClientEvent(ev ClientEvent) ([]byte, error) {
	return encodeFrame(ev.Event(), ev)
}

// EncodeServerEvent wraps ev in a Frame and marshals it.
func EncodeServerEvent(ev ServerEvent) ([]byte, error) {
	if nm, ok := ev.(NewMessage); ok {
		// new_message carries the Message directly as its data payload.
		return encodeFrame(EventNewMessage, nm.Message)
	}
	return encodeFrame(ev.Event(), ev)
}

func encodeFrame(name EventType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("chatwire: marshal %s payload: %w", name, err)
	}
	return json.Marshal(Frame{Event: name, Data: data})
}

// DecodeServerEvent parses a raw frame received from the server into its
// typed variant.
func DecodeServerEvent(raw []byte) (ServerEvent, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("chatwire: malformed frame: %w", err)
	}

	switch frame.Event {
	case EventNewMessage:
		msg, err := decodeNewMessage(frame.Data)
		if err != nil {
			return nil, err
		}
		return NewMessage{Message: msg}, nil
	case EventTypingStart:
		var ev PeerTypingStart
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, fmt.Errorf("chatwire: decode typing_start: %w", err)
		}
		return ev, nil
	case EventTypingStop:
		var ev PeerTypingStop
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, fmt.Errorf("chatwire: decode typing_stop: %w", err)
		}
		return ev, nil
	case EventMessageRead:
		var ev MessageRead
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, fmt.Errorf("chatwire: decode message_read: %w", err)
		}
		return ev, nil
	case EventUserStatus:
		var ev UserStatus
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, fmt.Errorf("chatwire: decode user_status: %w", err)
		}
		return ev, nil
	default:
		return nil, ErrUnknownEvent{Name: frame.Event}
	}
}

// decodeNewMessage accepts both payload shapes the backend has been observed
// to emit: the Message itself, or an envelope {"message": {...}}.
func decodeNewMessage(data []byte) (Message, error) {
	var envelope struct {
		Message *Message `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Message != nil {
		return *envelope.Message, nil
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("chatwire: decode new_message: %w", err)
	}
	return msg, nil
}

// DecodeClientEvent parses a raw frame received from a client into its typed
// variant. The dev harness is the consumer of this direction.
func DecodeClientEvent(raw []byte) (ClientEvent, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("chatwire: malformed frame: %w", err)
	}

	switch frame.Event {
	case EventJoinChat:
		var ev JoinChat
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, fmt.Errorf("chatwire: decode join_chat: %w", err)
		}
		return ev, nil
	case EventSendMessage:
		var ev SendMessage
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, fmt.Errorf("chatwire: decode send_message: %w", err)
		}
		if ev.Type == "" {
			ev.Type = TextMessageType
		}
		return ev, nil
	case EventTypingStart:
		var ev TypingStart
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, fmt.Errorf("chatwire: decode typing_start: %w", err)
		}
		return ev, nil
	case EventTypingStop:
		var ev TypingStop
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, fmt.Errorf("chatwire: decode typing_stop: %w", err)
		}
		return ev, nil
	case EventMarkAsRead:
		var ev MarkAsRead
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, fmt.Errorf("chatwire: decode mark_as_read: %w", err)
		}
		return ev, nil
	default:
		return nil, ErrUnknownEvent{Name: frame.Event}
	}
}
