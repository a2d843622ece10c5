package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"skillchat/internal/auth"
	"skillchat/internal/config"
	"skillchat/internal/devserver"
	appredis "skillchat/internal/redis"
	"skillchat/internal/storage"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Println("Dev 服务器配置加载成功。")

	// 2. 初始化存储（内存或 Postgres）
	var userRepo storage.UserRepository
	var msgRepo storage.MessageRepository
	switch cfg.DevServer.StoreType {
	case "postgres":
		db, err := storage.InitDB(cfg.DevServer.Database)
		if err != nil {
			log.Fatalf("无法初始化数据库: %v", err)
		}
		if err := storage.AutoMigrateTables(db); err != nil {
			log.Fatalf("无法迁移数据库表: %v", err)
		}
		userRepo = storage.NewGormUserRepository(db)
		msgRepo = storage.NewGormMessageRepository(db)
		log.Println("Dev 服务器使用 Postgres 存储。")
	default:
		userRepo = storage.NewMemoryUserRepository()
		msgRepo = storage.NewMemoryMessageRepository()
		log.Println("Dev 服务器使用内存存储（重启后数据丢失）。")
	}

	// 3. 可选的 Redis 令牌黑名单
	var blacklist auth.TokenBlacklist
	if cfg.DevServer.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.DevServer.Redis.Addr,
			Password: cfg.DevServer.Redis.Password,
			DB:       cfg.DevServer.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("无法连接 Redis: %v", err)
		}
		blacklist = appredis.NewRedisTokenBlacklist(rdb)
		log.Println("Redis 令牌黑名单已启用。")
	}

	// 4. 组装服务器并启动 Hub
	srv := devserver.NewServer(cfg, userRepo, msgRepo, blacklist)
	go srv.Hub().Run()
	log.Println("WebSocket Hub 已启动。")

	// 5. 启动 HTTP 服务器
	serverAddr := fmt.Sprintf("%s:%s", cfg.DevServer.Host, cfg.DevServer.Port)
	httpServer := &http.Server{Addr: serverAddr, Handler: srv.Router()}

	go func() {
		log.Printf("Dev 服务器启动于 %s, WebSocket 路径: %s", serverAddr, cfg.Server.WebSocketPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Dev 服务器启动失败: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Dev 服务器准备关闭...")

	srv.Hub().Stop()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("Dev 服务器关闭失败: %v", err)
	}
	log.Println("Dev 服务器已优雅关闭。")
}
