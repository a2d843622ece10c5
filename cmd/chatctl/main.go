package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"skillchat/internal/auth"
	"skillchat/internal/config"
	"skillchat/internal/connection"
	"skillchat/internal/history"
	"skillchat/internal/presence"
	"skillchat/internal/session"
)

// chatctl 是终端聊天客户端：登录、打开与某个用户的会话、
// 逐行发送消息，并实时打印对端的消息、typing 与在线状态。
func main() {
	var (
		username = flag.String("user", "", "登录用户名")
		password = flag.String("pass", "", "登录密码")
		peer     = flag.Uint("peer", 0, "对端用户ID")
		register = flag.Bool("register", false, "先注册再登录")
	)
	flag.Parse()

	if *username == "" || *password == "" || *peer == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}

	ctx := context.Background()
	if *register {
		if err := restRegister(cfg, *username, *password); err != nil {
			log.Fatalf("注册失败: %v", err)
		}
	}
	token, userID, err := restLogin(cfg, *username, *password)
	if err != nil {
		log.Fatalf("登录失败: %v", err)
	}
	log.Printf("已登录: %s (id=%d)", *username, userID)

	tokens := auth.StaticTokenSource(token)
	conn := connection.NewManager(cfg, tokens)
	defer conn.Disconnect()

	tracker := presence.NewTracker()
	unbind := tracker.Bind(conn)
	defer unbind()

	conn.SubscribeState(func(s connection.State) {
		fmt.Printf("-- 连接状态: %s\n", s)
		if s == connection.StateFailed {
			go func() {
				if err := conn.Reconnect(context.Background()); err != nil {
					log.Printf("重连失败: %v", err)
				}
			}()
		}
	})

	ctrl := session.NewController(cfg, conn, history.NewRESTLoader(cfg, tokens), userID)
	if err := ctrl.Open(ctx, uint(*peer)); err != nil {
		log.Fatalf("打开会话失败: %v", err)
	}
	defer ctrl.Close()

	for _, m := range ctrl.Messages() {
		printMessage(userID, m.SenderID, m.Content, m.IsRead)
	}
	if err := ctrl.Store().HistoryError(uint(*peer)); err != nil {
		fmt.Printf("-- 历史消息加载失败: %v\n", err)
	}

	// 轮询刷新对端消息与 typing 状态
	go watchThread(ctrl, userID, uint(*peer), tracker)

	fmt.Println("输入消息后回车发送，/quit 退出。")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" {
			return
		}
		if line == "" {
			continue
		}
		ctrl.OnInput()
		if _, err := ctrl.SendMessage(line); err != nil {
			log.Printf("发送失败: %v", err)
		}
	}
}

// watchThread prints newly arrived peer messages and typing transitions.
func watchThread(ctrl *session.Controller, selfID, peerID uint, tracker *presence.Tracker) {
	seen := make(map[string]struct{})
	lastTyping := false
	lastOnline := tracker.IsOnline(peerID)
	for {
		time.Sleep(200 * time.Millisecond)
		for _, m := range ctrl.Messages() {
			if m.SenderID == selfID {
				continue
			}
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			printMessage(selfID, m.SenderID, m.Content, m.IsRead)
		}
		if typing := ctrl.PeerTyping(); typing != lastTyping {
			lastTyping = typing
			if typing {
				fmt.Println("-- 对方正在输入...")
			}
		}
		if online := tracker.IsOnline(peerID); online != lastOnline {
			lastOnline = online
			if online {
				fmt.Println("-- 对方已上线")
			} else {
				fmt.Println("-- 对方已离线")
			}
		}
	}
}

func printMessage(selfID, senderID uint, content string, read bool) {
	who := "对方"
	if senderID == selfID {
		who = "我"
		if read {
			who = "我 (已读)"
		}
	}
	fmt.Printf("[%s] %s\n", who, content)
}

func restRegister(cfg config.Config, username, password string) error {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(strings.TrimSuffix(cfg.Server.BaseURL, "/")+"/api/auth/register",
		"application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

func restLogin(cfg config.Config, username, password string) (string, uint, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(strings.TrimSuffix(cfg.Server.BaseURL, "/")+"/api/auth/login",
		"application/json", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var lr struct {
		Token string `json:"token"`
		User  struct {
			ID uint `json:"id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", 0, err
	}

	// 双保险：令牌里的 userId 才是通道侧认的身份。
	claims, err := auth.InspectToken(lr.Token)
	if err != nil {
		return "", 0, err
	}
	if claims.UserID != lr.User.ID {
		log.Printf("警告: 登录响应与令牌中的用户ID不一致 (%d vs %d)，以令牌为准", lr.User.ID, claims.UserID)
	}
	return lr.Token, claims.UserID, nil
}
