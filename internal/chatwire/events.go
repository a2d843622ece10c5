package chatwire

import "time"

// EventType names a frame on the realtime channel.
type EventType string

const (
	// client -> server
	EventJoinChat    EventType = "join_chat"
	EventSendMessage EventType = "send_message"
	EventMarkAsRead  EventType = "mark_as_read"

	// both directions (payload shape differs per direction)
	EventTypingStart EventType = "typing_start"
	EventTypingStop  EventType = "typing_stop"

	// server -> client
	EventNewMessage  EventType = "new_message"
	EventMessageRead EventType = "message_read"
	EventUserStatus  EventType = "user_status"
)

// MessageType defines the type of a chat message payload.
type MessageType string

const (
	TextMessageType  MessageType = "text"
	ImageMessageType MessageType = "image"
	EmojiMessageType MessageType = "emoji"
)

// UserStatusValue is the presence state carried by a user_status event.
type UserStatusValue string

const (
	StatusOnline  UserStatusValue = "online"
	StatusOffline UserStatusValue = "offline"
)

// Message is the server-confirmed representation of a direct message as it
// travels over the channel and the history REST endpoint.
// ClientTag carries the sender-generated correlation id back to its origin so
// the sender can collapse its optimistic copy without guessing by content.
type Message struct {
	ID         uint        `json:"id"`
	SenderID   uint        `json:"senderId"`
	ReceiverID uint        `json:"receiverId"`
	Content    string      `json:"content"`
	Type       MessageType `json:"messageType"`
	CreatedAt  time.Time   `json:"createdAt"`
	IsRead     bool        `json:"isRead"`
	ClientTag  string      `json:"clientTag,omitempty"`
}

// ClientEvent is the closed set of frames a client may put on the channel.
// Keeping the set sealed means a protocol change breaks compilation here
// instead of silently dropping frames at runtime.
type ClientEvent interface {
	Event() EventType
	clientEvent()
}

// JoinChat scopes the connection to a peer's conversation room.
type JoinChat struct {
	OtherUserID uint `json:"otherUserId"`
}

// SendMessage submits a new direct message for the receiver.
type SendMessage struct {
	ReceiverID uint        `json:"receiverId"`
	Content    string      `json:"content"`
	Type       MessageType `json:"messageType"`
	ClientTag  string      `json:"clientTag,omitempty"`
}

// TypingStart tells the receiver the local user began composing.
type TypingStart struct {
	ReceiverID uint `json:"receiverId"`
}

// TypingStop tells the receiver the local user stopped composing.
type TypingStop struct {
	ReceiverID uint `json:"receiverId"`
}

// MarkAsRead reports that the messages authored by SenderID listed in
// MessageIDs have been viewed locally. An empty MessageIDs means "everything
// currently unread from that sender".
type MarkAsRead struct {
	SenderID   uint   `json:"senderId"`
	MessageIDs []uint `json:"messageIds,omitempty"`
}

func (JoinChat) Event() EventType    { return EventJoinChat }
func (SendMessage) Event() EventType { return EventSendMessage }
func (TypingStart) Event() EventType { return EventTypingStart }
func (TypingStop) Event() EventType  { return EventTypingStop }
func (MarkAsRead) Event() EventType  { return EventMarkAsRead }

func (JoinChat) clientEvent()    {}
func (SendMessage) clientEvent() {}
func (TypingStart) clientEvent() {}
func (TypingStop) clientEvent()  {}
func (MarkAsRead) clientEvent()  {}

// ServerEvent is the closed set of frames a client can receive.
type ServerEvent interface {
	Event() EventType
	serverEvent()
}

// NewMessage delivers a server-confirmed message. Both the receiver and the
// original sender (as an echo) get one.
type NewMessage struct {
	Message Message
}

// PeerTypingStart reports that UserID began composing towards the local user.
type PeerTypingStart struct {
	UserID uint `json:"userId"`
}

// PeerTypingStop reports that UserID stopped composing.
type PeerTypingStop struct {
	UserID uint `json:"userId"`
}

// MessageRead notifies the author identified by SenderID that their messages
// were viewed by the conversation peer.
type MessageRead struct {
	SenderID uint `json:"senderId"`
}

// UserStatus reports a presence transition for UserID.
type UserStatus struct {
	UserID uint            `json:"userId"`
	Status UserStatusValue `json:"status"`
}

func (NewMessage) Event() EventType      { return EventNewMessage }
func (PeerTypingStart) Event() EventType { return EventTypingStart }
func (PeerTypingStop) Event() EventType  { return EventTypingStop }
func (MessageRead) Event() EventType     { return EventMessageRead }
func (UserStatus) Event() EventType      { return EventUserStatus }

func (NewMessage) serverEvent()      {}
func (PeerTypingStart) serverEvent() {}
func (PeerTypingStop) serverEvent()  {}
func (MessageRead) serverEvent()     {}
func (UserStatus) serverEvent()      {}
