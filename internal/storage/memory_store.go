package storage

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"skillchat/internal/models"
)

// 内存实现用于本地开发与测试，不依赖外部数据库。
// 语义与 GORM 实现保持一致，未找到记录时同样返回 gorm.ErrRecordNotFound。

// memoryUserRepository 是 UserRepository 的内存实现。
type memoryUserRepository struct {
	mu     sync.RWMutex
	nextID uint
	byID   map[uint]*models.User
	byName map[string]*models.User
}

// NewMemoryUserRepository 创建一个内存 UserRepository。
func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{
		nextID: 1,
		byID:   make(map[uint]*models.User),
		byName: make(map[string]*models.User),
	}
}

func (r *memoryUserRepository) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[user.Username]; exists {
		return gorm.ErrDuplicatedKey
	}
	user.ID = r.nextID
	r.nextID++
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	r.byID[user.ID] = &cp
	r.byName[user.Username] = &cp
	return nil
}

func (r *memoryUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memoryUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byName[username]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memoryUserRepository) Update(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[user.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	user.UpdatedAt = time.Now()
	*stored = *user
	return nil
}

func (r *memoryUserRepository) GetBasicInfoByID(ctx context.Context, id uint) (*models.UserBasicInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &models.UserBasicInfo{
		ID:        u.ID,
		Username:  u.Username,
		Nickname:  u.Nickname,
		AvatarURL: u.AvatarURL,
	}, nil
}

// memoryMessageRepository 是 MessageRepository 的内存实现。
type memoryMessageRepository struct {
	mu       sync.RWMutex
	nextID   uint
	messages []*models.DirectMessage
}

// NewMemoryMessageRepository 创建一个内存 MessageRepository。
func NewMemoryMessageRepository() MessageRepository {
	return &memoryMessageRepository{nextID: 1}
}

func (r *memoryMessageRepository) Create(ctx context.Context, message *models.DirectMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	message.ID = r.nextID
	r.nextID++
	now := time.Now()
	message.CreatedAt = now
	message.UpdatedAt = now
	if message.SentAt.IsZero() {
		message.SentAt = now
	}
	cp := *message
	r.messages = append(r.messages, &cp)
	return nil
}

func (r *memoryMessageRepository) GetByID(ctx context.Context, id uint) (*models.DirectMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.messages {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryMessageRepository) GetConversation(ctx context.Context, userA, userB uint, limit, offset int) ([]*models.DirectMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.DirectMessage
	for _, m := range r.messages {
		between := (m.SenderID == userA && m.ReceiverID == userB) ||
			(m.SenderID == userB && m.ReceiverID == userA)
		if !between {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	// 插入顺序即发送时间升序;分页接口约定最新在前,先反转再切页。
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryMessageRepository) MarkRead(ctx context.Context, readerID, senderID uint, messageIDs []uint) error {
	if len(messageIDs) == 0 {
		return nil
	}
	want := make(map[uint]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.SenderID != senderID || m.ReceiverID != readerID {
			continue
		}
		if _, ok := want[m.ID]; ok {
			m.IsRead = true
			m.UpdatedAt = time.Now()
		}
	}
	return nil
}
