package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 実行環境
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// minJWTSecretLength は本番環境で要求する署名鍵の最小バイト数。
const minJWTSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv string

	// Database
	DatabaseURL string

	// Auth
	JWTSecret          []byte
	JWTSecretGenerated bool // 開発環境で一時的な鍵を生成した場合true
	Multiuser          bool
	TokenTTL           time.Duration
	RememberMeTTL      time.Duration

	// Rate Limit
	RateLimitGeneral int // 1分あたりのリクエスト数（ユーザー単位）
	RateLimitLogin   int // 1分あたりのログイン試行数（IP単位）

	// Logging
	LogLevel         string
	LogFile          string
	LogRetentionDays int

	// Server
	ServerPort string

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string

	// Events
	RedisURL     string
	EventChannel string

	// WebSocket
	WSSendBuffer     int
	WSWriteTimeout   time.Duration
	WSAllowedOrigins []string

	// Queue
	QueueRetentionDays int
	CleanupInterval    time.Duration
	SnowflakeNode      int64
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.AppEnv = strings.ToLower(getEnvString("APP_ENV", EnvDevelopment))

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" && cfg.IsProduction() {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if secret != "" {
		if cfg.IsProduction() && len(secret) < minJWTSecretLength {
			return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes in production", minJWTSecretLength)
		}
		cfg.JWTSecret = []byte(secret)
	} else {
		generated, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.JWTSecret = generated
		cfg.JWTSecretGenerated = true
	}

	// Optional fields with defaults
	cfg.Multiuser = getEnvBool("MULTIUSER", false)
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)
	cfg.RememberMeTTL = getEnvDuration("REMEMBER_ME_TTL", 7*24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFile = getEnvString("LOG_FILE", "")
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 14)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.EventChannel = getEnvString("EVENT_CHANNEL", "jobhub:events")
	cfg.WSSendBuffer = getEnvInt("WS_SEND_BUFFER", 256)
	cfg.WSWriteTimeout = getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second)
	cfg.WSAllowedOrigins = getEnvList("WS_ALLOWED_ORIGINS")
	cfg.QueueRetentionDays = getEnvInt("QUEUE_RETENTION_DAYS", 30)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.SnowflakeNode = getEnvInt64("SNOWFLAKE_NODE", 1)

	return cfg, nil
}

// generateSecret は開発環境用の一時的な署名鍵を生成する。
// プロセスを再起動すると発行済みトークンは無効になる。
func generateSecret() ([]byte, error) {
	b := make([]byte, minJWTSecretLength)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return []byte(hex.EncodeToString(b)), nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
