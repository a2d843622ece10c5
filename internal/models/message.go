package models

import (
	"time"

	"skillchat/internal/chatwire"
)

// DirectMessage 代表存储在数据库中的一对一聊天消息。
type DirectMessage struct {
	BaseModel
	SenderID   uint                 `gorm:"index;not null" json:"senderId"`
	ReceiverID uint                 `gorm:"index;not null" json:"receiverId"`
	Type       chatwire.MessageType `gorm:"type:varchar(20);not null" json:"type"`
	Content    string               `gorm:"type:text" json:"content"`
	IsRead     bool                 `gorm:"default:false" json:"isRead"`
	// ClientTag 是发送端附带的关联ID，随投递原样回显。
	ClientTag string    `gorm:"type:varchar(64)" json:"clientTag,omitempty"`
	SentAt    time.Time `gorm:"index;not null" json:"sentAt"`

	// 关联关系
	Sender   User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Receiver User `gorm:"foreignKey:ReceiverID" json:"receiver,omitempty"`
}

// TableName 指定 DirectMessage 模型的表名。
func (DirectMessage) TableName() string {
	return "direct_messages"
}

// ToWire converts the stored message into its channel representation.
func (m *DirectMessage) ToWire() chatwire.Message {
	return chatwire.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Type:       m.Type,
		CreatedAt:  m.SentAt,
		IsRead:     m.IsRead,
		ClientTag:  m.ClientTag,
	}
}
