package devserver

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"skillchat/internal/chatwire"
	"skillchat/internal/config"

	"github.com/gorilla/websocket"
)

// clientEventHandler processes a decoded event from an authenticated client.
type clientEventHandler func(ctx context.Context, senderID uint, ev chatwire.ClientEvent) error

// client is a middleman between the websocket connection and the hub.
type client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	// Authenticated User ID for this client.
	userID uint

	handleEvent clientEventHandler
}

// readPump pumps frames from the websocket connection into handleEvent.
func (c *client) readPump(wsCfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(int64(wsCfg.MaxMessageSizeBytes))
	c.conn.SetReadDeadline(time.Now().Add(wsCfg.PongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsCfg.PongWait()))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket 错误 (客户端: %d): %v", c.userID, err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			log.Printf("警告: 客户端 %d 发送了非文本消息类型: %d", c.userID, messageType)
			continue
		}

		ev, err := chatwire.DecodeClientEvent(raw)
		if err != nil {
			var unknown chatwire.ErrUnknownEvent
			if errors.As(err, &unknown) {
				log.Printf("警告: 客户端 %d 发送了未知事件: %v", c.userID, err)
			} else {
				log.Printf("错误: 无法反序列化来自客户端 %d 的帧: %v, 原始消息: %s", c.userID, err, string(raw))
			}
			continue
		}

		if c.handleEvent != nil {
			if err := c.handleEvent(context.Background(), c.userID, ev); err != nil {
				log.Printf("错误: 处理客户端 %d 的 %s 事件失败: %v", c.userID, ev.Event(), err)
			}
		}
	}
}

// writePump pumps frames from the hub to the websocket connection.
// 每个 websocket message 只承载一帧，客户端按帧解码。
func (c *client) writePump(wsCfg config.WebSocketConfig) {
	ticker := time.NewTicker(wsCfg.PingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsCfg.WriteWait()))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsCfg.WriteWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWS upgrades the request and attaches the client to the hub.
func serveWS(hub *Hub, handler clientEventHandler, userID uint, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("serveWS - Upgrade失败:", err)
		return
	}
	c := &client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		userID:      userID,
		handleEvent: handler,
	}
	c.hub.register <- c

	go c.writePump(wsCfg)
	go c.readPump(wsCfg)

	log.Printf("客户端已连接: UserID %d", userID)
}
