package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"skillchat/internal/auth"
	"skillchat/internal/chatwire"
	"skillchat/internal/config"
)

// Loader is the REST collaborator next to the realtime channel: history
// pages, the durable read-state fallback, and the send fallback used when
// the channel is down.
type Loader interface {
	FetchMessages(ctx context.Context, peerID uint, limit, offset int) ([]chatwire.Message, error)
	MarkRead(ctx context.Context, peerID uint, messageIDs []uint) error
	SendMessage(ctx context.Context, peerID uint, content string, msgType chatwire.MessageType) (chatwire.Message, error)
}

type restLoader struct {
	baseURL string
	client  *http.Client
	tokens  auth.TokenSource
}

// NewRESTLoader creates a Loader against cfg.Server.BaseURL, authenticating
// every request with a bearer token from tokens.
func NewRESTLoader(cfg config.Config, tokens auth.TokenSource) Loader {
	timeout := cfg.Server.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &restLoader{
		baseURL: strings.TrimSuffix(cfg.Server.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

type messagesResponse struct {
	Messages []chatwire.Message `json:"messages"`
}

type messageResponse struct {
	Message chatwire.Message `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type markReadRequest struct {
	MessageIDs []uint `json:"messageIds"`
}

type sendMessageRequest struct {
	ReceiverID uint                 `json:"receiverId"`
	Content    string               `json:"content"`
	Type       chatwire.MessageType `json:"type"`
}

func (l *restLoader) FetchMessages(ctx context.Context, peerID uint, limit, offset int) ([]chatwire.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	endpoint := fmt.Sprintf("%s/api/messages/%d", l.baseURL, peerID)
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}

	var resp messagesResponse
	if err := l.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("history: fetch messages for peer %d: %w", peerID, err)
	}

	// 后端按最新在前分页,这里反转成展示用的时间正序。
	msgs := resp.Messages
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (l *restLoader) MarkRead(ctx context.Context, peerID uint, messageIDs []uint) error {
	if len(messageIDs) == 0 {
		return nil
	}
	endpoint := fmt.Sprintf("%s/api/messages/%d/read", l.baseURL, peerID)
	if err := l.do(ctx, http.MethodPost, endpoint, markReadRequest{MessageIDs: messageIDs}, nil); err != nil {
		return fmt.Errorf("history: mark read for peer %d: %w", peerID, err)
	}
	return nil
}

func (l *restLoader) SendMessage(ctx context.Context, peerID uint, content string, msgType chatwire.MessageType) (chatwire.Message, error) {
	if msgType == "" {
		msgType = chatwire.TextMessageType
	}
	var resp messageResponse
	err := l.do(ctx, http.MethodPost, l.baseURL+"/api/messages", sendMessageRequest{
		ReceiverID: peerID,
		Content:    content,
		Type:       msgType,
	}, &resp)
	if err != nil {
		return chatwire.Message{}, fmt.Errorf("history: send message to peer %d: %w", peerID, err)
	}
	return resp.Message, nil
}

func (l *restLoader) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := l.tokens.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
