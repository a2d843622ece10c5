package devserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"gorm.io/gorm"

	"skillchat/internal/auth"
	"skillchat/internal/chatwire"
	"skillchat/internal/middleware"
	"skillchat/internal/models"

	"github.com/gorilla/mux"
)

// RegisterRequest 是用户注册请求的结构体。
type RegisterRequest struct {
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// LoginRequest 是用户登录请求的结构体。
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse 是成功登录后返回的结构体。
type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// ErrorResponse 是 API 错误响应的通用结构体。
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("错误: 序列化响应失败: %v", err)
		}
	}
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, ErrorResponse{Error: message})
}

// handleRegister 处理用户注册请求。
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.Username == "" || req.Password == "" {
		writeJSONError(w, "用户名和密码不能为空", http.StatusBadRequest)
		return
	}

	if _, err := s.users.GetByUsername(r.Context(), req.Username); err == nil {
		writeJSONError(w, "用户名已被占用", http.StatusConflict)
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		writeJSONError(w, "注册失败", http.StatusInternalServerError)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeJSONError(w, "注册失败", http.StatusInternalServerError)
		return
	}

	user := &models.User{
		Username:     req.Username,
		Nickname:     req.Nickname,
		Email:        req.Email,
		PasswordHash: hash,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		writeJSONError(w, "注册失败", http.StatusInternalServerError)
		return
	}

	user.PasswordHash = "" // 清除敏感信息
	writeJSONResponse(w, http.StatusCreated, user)
}

// handleLogin 处理用户登录请求。
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.Username == "" || req.Password == "" {
		writeJSONError(w, "用户名和密码不能为空", http.StatusBadRequest)
		return
	}

	user, err := s.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		writeJSONError(w, "用户名或密码错误", http.StatusUnauthorized)
		return
	}
	if !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		writeJSONError(w, "用户名或密码错误", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Username, s.cfg.Auth)
	if err != nil {
		writeJSONError(w, "登录失败", http.StatusInternalServerError)
		return
	}

	user.PasswordHash = ""
	writeJSONResponse(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

// handleLogout 将当前令牌加入黑名单。未配置黑名单时登出只在客户端生效。
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证", http.StatusUnauthorized)
		return
	}

	if s.blacklist != nil && claims.ExpiresAt != nil {
		if err := s.blacklist.Add(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			log.Printf("错误: 无法吊销令牌 %s: %v", claims.ID, err)
			writeJSONError(w, "登出失败", http.StatusInternalServerError)
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "已登出"})
}

// handleGetUser 返回指定用户的公开信息。
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		writeJSONError(w, "用户ID无效", http.StatusBadRequest)
		return
	}

	info, err := s.users.GetBasicInfoByID(r.Context(), uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSONError(w, "用户不存在", http.StatusNotFound)
			return
		}
		writeJSONError(w, "查询用户失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, info)
}

// handleGetMessages 返回当前用户与 peerId 之间的历史消息。
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证", http.StatusUnauthorized)
		return
	}
	peerID, err := strconv.ParseUint(mux.Vars(r)["peerId"], 10, 32)
	if err != nil {
		writeJSONError(w, "对端用户ID无效", http.StatusBadRequest)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 50
	}

	msgs, err := s.messages.GetConversation(r.Context(), userID, uint(peerID), limit, offset)
	if err != nil {
		writeJSONError(w, "查询历史消息失败", http.StatusInternalServerError)
		return
	}

	wire := make([]chatwire.Message, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, m.ToWire())
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"messages": wire})
}

// MarkReadRequest 是批量已读上报的请求体。
type MarkReadRequest struct {
	MessageIDs []uint `json:"messageIds"`
}

// handleMarkRead 是已读状态的 REST 回退入口，与通道上的 mark_as_read 等价。
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证", http.StatusUnauthorized)
		return
	}
	peerID, err := strconv.ParseUint(mux.Vars(r)["peerId"], 10, 32)
	if err != nil {
		writeJSONError(w, "对端用户ID无效", http.StatusBadRequest)
		return
	}

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := s.messages.MarkRead(r.Context(), userID, uint(peerID), req.MessageIDs); err != nil {
		writeJSONError(w, "更新已读状态失败", http.StatusInternalServerError)
		return
	}
	s.hub.Deliver(uint(peerID), chatwire.MessageRead{SenderID: uint(peerID)})
	w.WriteHeader(http.StatusNoContent)
}

// SendMessageRequest 是 REST 发送回退的请求体。
type SendMessageRequest struct {
	ReceiverID uint                 `json:"receiverId"`
	Content    string               `json:"content"`
	Type       chatwire.MessageType `json:"type,omitempty"`
}

// handleSendMessage 是通道之外的发送回退，持久化并照常投递。
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证", http.StatusUnauthorized)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.ReceiverID == 0 || req.Content == "" {
		writeJSONError(w, "接收者和消息内容不能为空", http.StatusBadRequest)
		return
	}
	msgType := req.Type
	if msgType == "" {
		msgType = chatwire.TextMessageType
	}

	msg := &models.DirectMessage{
		SenderID:   userID,
		ReceiverID: req.ReceiverID,
		Type:       msgType,
		Content:    req.Content,
		SentAt:     time.Now(),
	}
	if err := s.messages.Create(r.Context(), msg); err != nil {
		writeJSONError(w, "发送失败", http.StatusInternalServerError)
		return
	}

	wire := msg.ToWire()
	s.hub.Deliver(req.ReceiverID, chatwire.NewMessage{Message: wire})
	s.hub.Deliver(userID, chatwire.NewMessage{Message: wire})
	writeJSONResponse(w, http.StatusCreated, map[string]any{"message": wire})
}
