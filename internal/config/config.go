package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string          `mapstructure:"APP_NAME"`
	AppVersion string          `mapstructure:"APP_VERSION"`
	LogLevel   string          `mapstructure:"LOG_LEVEL"`
	Server     ServerConfig    `mapstructure:"SERVER"`     // 远端后端的地址配置
	Chat       ChatConfig      `mapstructure:"CHAT"`       // 客户端会话行为调优
	WebSocket  WebSocketConfig `mapstructure:"WEBSOCKET"`  // 连接保活参数
	Auth       AuthConfig      `mapstructure:"AUTH"`       // dev harness 签发令牌用
	DevServer  DevServerConfig `mapstructure:"DEV_SERVER"` // 本地联调服务器
}

// ServerConfig points the client at its backend: the REST base URL and the
// path of the realtime websocket endpoint on the same host.
type ServerConfig struct {
	BaseURL       string        `mapstructure:"BASE_URL"`
	WebSocketPath string        `mapstructure:"WEBSOCKET_PATH"`
	HTTPTimeout   time.Duration `mapstructure:"HTTP_TIMEOUT"`
}

// ChatConfig tunes the per-conversation state machines.
type ChatConfig struct {
	TypingDebounce   time.Duration `mapstructure:"TYPING_DEBOUNCE"`    // 本地输入防抖
	RemoteTypingTTL  time.Duration `mapstructure:"REMOTE_TYPING_TTL"`  // 对端 typing 的兜底过期
	ReconnectBackoff time.Duration `mapstructure:"RECONNECT_BACKOFF"`  // 单次重连前的等待
	HistoryPageSize  int           `mapstructure:"HISTORY_PAGE_SIZE"`  // 历史消息每页条数
	SendBufferFrames int           `mapstructure:"SEND_BUFFER_FRAMES"` // 出站帧队列长度
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	WriteWaitSeconds    int `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds     int `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds   int `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes int `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
}

// AuthConfig holds configuration for authentication (e.g., JWT).
type AuthConfig struct {
	JWTSecretKey string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpiry    time.Duration `mapstructure:"JWT_EXPIRY"`
}

// DevServerConfig configures the local development/integration server.
type DevServerConfig struct {
	Host      string         `mapstructure:"HOST"`
	Port      string         `mapstructure:"PORT"`
	StoreType string         `mapstructure:"STORE_TYPE"` // "memory" 或 "postgres"
	Database  DatabaseConfig `mapstructure:"DATABASE"`
	Redis     RedisConfig    `mapstructure:"REDIS"`
	CORS      CORSConfig     `mapstructure:"CORS"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type     string `mapstructure:"TYPE"`
	Host     string `mapstructure:"HOST"`
	Port     int    `mapstructure:"PORT"`
	User     string `mapstructure:"USER"`
	Password string `mapstructure:"PASSWORD"`
	DBName   string `mapstructure:"DB_NAME"`
	SSLMode  string `mapstructure:"SSL_MODE"`
}

// RedisConfig holds configuration for Redis. An empty Addr disables the
// token revocation blacklist on the dev server.
type RedisConfig struct {
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// CORSConfig holds configuration for CORS on the dev server's REST API.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
}

// WriteWait returns the write deadline as a duration.
func (c WebSocketConfig) WriteWait() time.Duration {
	return time.Duration(c.WriteWaitSeconds) * time.Second
}

// PongWait returns the pong deadline as a duration.
func (c WebSocketConfig) PongWait() time.Duration {
	return time.Duration(c.PongWaitSeconds) * time.Second
}

// PingPeriod returns the keepalive ping interval as a duration.
func (c WebSocketConfig) PingPeriod() time.Duration {
	return time.Duration(c.PingPeriodSeconds) * time.Second
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "SkillChat")
	v.SetDefault("APP_VERSION", "0.0.1")
	v.SetDefault("LOG_LEVEL", "info")

	// Backend defaults
	v.SetDefault("SERVER.BASE_URL", "http://localhost:8080")
	v.SetDefault("SERVER.WEBSOCKET_PATH", "/ws")
	v.SetDefault("SERVER.HTTP_TIMEOUT", 10*time.Second)

	// Chat behavior defaults. 防抖 2s、对端 typing 兜底 5s、重连退避 1s，
	// 与后端的协议约定保持一致。
	v.SetDefault("CHAT.TYPING_DEBOUNCE", 2000*time.Millisecond)
	v.SetDefault("CHAT.REMOTE_TYPING_TTL", 5000*time.Millisecond)
	v.SetDefault("CHAT.RECONNECT_BACKOFF", 1000*time.Millisecond)
	v.SetDefault("CHAT.HISTORY_PAGE_SIZE", 50)
	v.SetDefault("CHAT.SEND_BUFFER_FRAMES", 64)

	// WebSocket Defaults (values similar to existing constants)
	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 4096)

	// Auth Defaults (dev harness only; the real backend owns its own secret)
	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_EXPIRY", 12*time.Hour)

	// Dev server defaults
	v.SetDefault("DEV_SERVER.HOST", "0.0.0.0")
	v.SetDefault("DEV_SERVER.PORT", "8080")
	v.SetDefault("DEV_SERVER.STORE_TYPE", "memory")
	v.SetDefault("DEV_SERVER.DATABASE.TYPE", "postgres")
	v.SetDefault("DEV_SERVER.DATABASE.HOST", "localhost")
	v.SetDefault("DEV_SERVER.DATABASE.PORT", 5432)
	v.SetDefault("DEV_SERVER.DATABASE.USER", "postgres")
	v.SetDefault("DEV_SERVER.DATABASE.PASSWORD", "password")
	v.SetDefault("DEV_SERVER.DATABASE.DB_NAME", "skillchat_dev")
	v.SetDefault("DEV_SERVER.DATABASE.SSL_MODE", "disable")
	v.SetDefault("DEV_SERVER.REDIS.ADDR", "")
	v.SetDefault("DEV_SERVER.REDIS.PASSWORD", "")
	v.SetDefault("DEV_SERVER.REDIS.DB", 0)
	v.SetDefault("DEV_SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("DEV_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("DEV_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type"})
	v.SetDefault("DEV_SERVER.CORS.ALLOW_CREDENTIALS", true)

	if path != "" {
		v.SetConfigFile(path) // Path to look for the config file in.
	} else {
		v.AddConfigPath("./config") // Path to look for the config file in.
		v.AddConfigPath(".")        // Optionally look for config in the working directory.
		v.SetConfigName("config")   // Name of config file (without extension).
		v.SetConfigType("yaml")     // REQUIRED if the config file does not have the extension in the name
	}

	v.AutomaticEnv() // Read in environment variables that match
	// Example: SERVER_BASE_URL will override Server.BaseURL.
	// For nested structs, viper uses underscore: CHAT_TYPING_DEBOUNCE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return
		}
		// Config file not found; ignore error if desired
		// We have defaults, so this might be acceptable
	}

	err = v.Unmarshal(&config)
	return
}
