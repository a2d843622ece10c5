package devserver

import (
	"log"

	"skillchat/internal/chatwire"
)

// Hub maintains the set of active clients and routes server events to
// them. Assumes one connection per user ID; a newer connection for the
// same user replaces the older one.
type Hub struct {
	clients map[uint]*client

	// Register requests from the clients.
	register chan *client

	// Unregister requests from clients.
	unregister chan *client

	// Events aimed at a specific user.
	direct chan directEvent

	stop chan struct{}
}

type directEvent struct {
	userID uint
	event  chatwire.ServerEvent
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uint]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		direct:     make(chan directEvent, 256),
		stop:       make(chan struct{}),
	}
}

// Deliver sends a server event to the hub for direct delivery to userID.
// Non-blocking; a full hub queue drops the event.
func (h *Hub) Deliver(userID uint, ev chatwire.ServerEvent) {
	select {
	case h.direct <- directEvent{userID: userID, event: ev}:
	default:
		log.Printf("警告: Hub direct channel is full. Dropping %s for user %d", ev.Event(), userID)
	}
}

// Stop terminates the Run loop.
func (h *Hub) Stop() {
	close(h.stop)
}

// Run starts the hub and listens for events on its channels.
func (h *Hub) Run() {
	log.Println("WebSocket Hub Run loop started.")
	for {
		select {
		case c := <-h.register:
			if existing, ok := h.clients[c.userID]; ok {
				log.Printf("警告: 用户 %d 已有连接，关闭旧连接并注册新连接。", c.userID)
				close(existing.send)
			}
			h.clients[c.userID] = c
			log.Printf("客户端已注册: UserID %d", c.userID)

			// 先把当前在线名单同步给新客户端，再向其他人广播它上线。
			for userID := range h.clients {
				if userID == c.userID {
					continue
				}
				h.sendLocked(c, chatwire.UserStatus{UserID: userID, Status: chatwire.StatusOnline})
			}
			h.broadcastStatus(c.userID, chatwire.StatusOnline)

		case c := <-h.unregister:
			if stored, ok := h.clients[c.userID]; ok && stored == c {
				delete(h.clients, c.userID)
				close(c.send)
				log.Printf("客户端已注销: UserID %d", c.userID)
				h.broadcastStatus(c.userID, chatwire.StatusOffline)
			}

		case d := <-h.direct:
			c, ok := h.clients[d.userID]
			if !ok {
				// 用户不在线，消息已持久化，重新上线时通过历史接口补齐。
				continue
			}
			h.sendLocked(c, d.event)

		case <-h.stop:
			for userID, c := range h.clients {
				close(c.send)
				delete(h.clients, userID)
			}
			log.Println("WebSocket Hub Run loop stopped.")
			return
		}
	}
}

// broadcastStatus announces a presence change to every other connected user.
func (h *Hub) broadcastStatus(userID uint, status chatwire.UserStatusValue) {
	ev := chatwire.UserStatus{UserID: userID, Status: status}
	for id, c := range h.clients {
		if id == userID {
			continue
		}
		h.sendLocked(c, ev)
	}
}

// sendLocked serializes ev onto the client's send queue. Only call from
// the Run goroutine. A saturated client is dropped from the registry.
func (h *Hub) sendLocked(c *client, ev chatwire.ServerEvent) {
	payload, err := chatwire.EncodeServerEvent(ev)
	if err != nil {
		log.Printf("错误: 无法序列化 %s 发送给 UserID %d: %v", ev.Event(), c.userID, err)
		return
	}
	select {
	case c.send <- payload:
	default:
		log.Printf("警告: UserID %d 的发送通道已满，移除客户端。", c.userID)
		close(c.send)
		delete(h.clients, c.userID)
	}
}
