package storage

import (
	"context"

	"gorm.io/gorm"

	"skillchat/internal/models"
)

// MessageRepository 定义了一对一消息数据操作的接口。
type MessageRepository interface {
	Create(ctx context.Context, message *models.DirectMessage) error
	GetByID(ctx context.Context, id uint) (*models.DirectMessage, error)
	// GetConversation 返回两个用户之间的消息，按发送时间降序（最新在前），支持分页。
	// 第一页永远是最新的消息,客户端展示时自行反转。
	GetConversation(ctx context.Context, userA, userB uint, limit, offset int) ([]*models.DirectMessage, error)
	// MarkRead 将 senderID 发给 readerID 的指定消息置为已读。
	MarkRead(ctx context.Context, readerID, senderID uint, messageIDs []uint) error
}

// gormMessageRepository 使用 GORM 实现 MessageRepository。
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建一个新的基于 GORM 的 MessageRepository。
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

// Create 在数据库中创建一条新的消息记录。
func (r *gormMessageRepository) Create(ctx context.Context, message *models.DirectMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// GetByID 通过ID检索消息。
func (r *gormMessageRepository) GetByID(ctx context.Context, id uint) (*models.DirectMessage, error) {
	var message models.DirectMessage
	err := r.db.WithContext(ctx).First(&message, id).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// GetConversation 检索两个用户之间的消息列表，支持分页。
func (r *gormMessageRepository) GetConversation(ctx context.Context, userA, userB uint, limit, offset int) ([]*models.DirectMessage, error) {
	var messages []*models.DirectMessage
	query := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA).
		Order("sent_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkRead 批量更新消息的已读状态。只有 readerID 是接收者的消息才会被更新。
func (r *gormMessageRepository) MarkRead(ctx context.Context, readerID, senderID uint, messageIDs []uint) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.DirectMessage{}).
		Where("id IN ? AND sender_id = ? AND receiver_id = ?", messageIDs, senderID, readerID).
		Update("is_read", true).Error
}
