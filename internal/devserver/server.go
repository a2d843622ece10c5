package devserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"skillchat/internal/auth"
	"skillchat/internal/chatwire"
	"skillchat/internal/config"
	"skillchat/internal/middleware"
	"skillchat/internal/models"
	"skillchat/internal/storage"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Server is the local integration backend: the realtime websocket endpoint
// plus the REST API the client's history loader talks to. It implements
// the same wire contract as the production backend so the client SDK can
// be exercised end to end on one machine.
type Server struct {
	cfg       config.Config
	users     storage.UserRepository
	messages  storage.MessageRepository
	hub       *Hub
	blacklist auth.TokenBlacklist
}

// NewServer creates a Server. blacklist may be nil, disabling logout-based
// token revocation.
func NewServer(cfg config.Config, users storage.UserRepository, messages storage.MessageRepository, blacklist auth.TokenBlacklist) *Server {
	return &Server{
		cfg:       cfg,
		users:     users,
		messages:  messages,
		hub:       NewHub(),
		blacklist: blacklist,
	}
}

// Hub exposes the server's hub so main can run it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router builds the full HTTP handler: REST routes behind the auth
// middleware, auth routes open, CORS on top.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)

	authed := r.PathPrefix("/api").Subrouter()
	authed.Use(func(next http.Handler) http.Handler {
		return middleware.AuthMiddleware(next, s.cfg.Auth, s.blacklist)
	})
	authed.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	authed.HandleFunc("/users/{id:[0-9]+}", s.handleGetUser).Methods(http.MethodGet)
	authed.HandleFunc("/messages", s.handleSendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/messages/{peerId:[0-9]+}", s.handleGetMessages).Methods(http.MethodGet)
	authed.HandleFunc("/messages/{peerId:[0-9]+}/read", s.handleMarkRead).Methods(http.MethodPost)

	r.HandleFunc(s.cfg.Server.WebSocketPath, s.handleWS)

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.cfg.DevServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(s.cfg.DevServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(s.cfg.DevServer.CORS.AllowedHeaders),
	)
	return cors(handlers.LoggingHandler(logWriter{}, r))
}

// handleWS authenticates the upgrade request via the token query parameter
// and hands the connection to the hub.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		http.Error(w, "请求未包含令牌", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ValidateToken(r.Context(), tokenString, s.cfg.Auth.JWTSecretKey, s.blacklist)
	if err != nil {
		http.Error(w, "令牌无效", http.StatusUnauthorized)
		return
	}
	serveWS(s.hub, s.handleClientEvent, claims.UserID, w, r, s.cfg.WebSocket)
}

// handleClientEvent is the routing core of the dev backend: persist and
// fan out messages, relay typing, flip read state.
func (s *Server) handleClientEvent(ctx context.Context, senderID uint, ev chatwire.ClientEvent) error {
	switch e := ev.(type) {
	case chatwire.JoinChat:
		// 会话的打开动作不需要服务端状态，记录即可。
		log.Printf("用户 %d 打开了与用户 %d 的会话", senderID, e.OtherUserID)
		return nil

	case chatwire.SendMessage:
		return s.deliverMessage(ctx, senderID, e)

	case chatwire.MarkAsRead:
		if err := s.messages.MarkRead(ctx, senderID, e.SenderID, e.MessageIDs); err != nil {
			return fmt.Errorf("更新已读状态失败: %w", err)
		}
		// 通知消息作者它的消息已被查看。
		s.hub.Deliver(e.SenderID, chatwire.MessageRead{SenderID: e.SenderID})
		return nil

	case chatwire.TypingStart:
		s.hub.Deliver(e.ReceiverID, chatwire.PeerTypingStart{UserID: senderID})
		return nil

	case chatwire.TypingStop:
		s.hub.Deliver(e.ReceiverID, chatwire.PeerTypingStop{UserID: senderID})
		return nil

	default:
		return fmt.Errorf("未处理的客户端事件: %s", ev.Event())
	}
}

func (s *Server) deliverMessage(ctx context.Context, senderID uint, e chatwire.SendMessage) error {
	if e.Content == "" {
		return fmt.Errorf("消息内容不能为空")
	}
	msgType := e.Type
	if msgType == "" {
		msgType = chatwire.TextMessageType
	}

	msg := &models.DirectMessage{
		SenderID:   senderID,
		ReceiverID: e.ReceiverID,
		Type:       msgType,
		Content:    e.Content,
		ClientTag:  e.ClientTag,
		SentAt:     time.Now(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return fmt.Errorf("持久化消息失败: %w", err)
	}

	// 投递给接收方，并把带服务端ID的确认回显给发送方。
	wire := msg.ToWire()
	s.hub.Deliver(e.ReceiverID, chatwire.NewMessage{Message: wire})
	s.hub.Deliver(senderID, chatwire.NewMessage{Message: wire})
	return nil
}

// logWriter adapts the stdlib logger for handlers.LoggingHandler.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Printf("%s", p)
	return len(p), nil
}
