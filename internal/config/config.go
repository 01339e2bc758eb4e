// Package config はアプリケーションの設定を管理します
// 環境変数から設定を読み込み、デフォルト値を提供します
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIAddr         = ":8080"          // APIサーバーのデフォルトリッスンアドレス
	defaultRedisAddr       = "localhost:6379" // Redisのデフォルト接続先
	defaultStore           = "redis"          // ルームストアの種類（redis または memory）
	defaultRoomTTLSec      = 24 * 60 * 60     // ルームのデフォルトTTL（24時間）
	defaultMaxParticipants = 2                // ルームあたりの参加者上限
	defaultCodeLength      = 6                // 短縮コードの文字数
	defaultCodeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	defaultCodeAttempts    = 100 // 短縮コード生成の最大試行回数
)

// defaultAllowedOrigins はCORSで許可するデフォルトのオリジン一覧
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

// Config はアプリケーションの設定を保持します
type Config struct {
	APIAddr         string        // APIサーバーのリッスンアドレス
	RedisAddr       string        // Redisの接続先
	Store           string        // ルームストアの種類（"redis" / "memory"）
	RoomTTL         time.Duration // ルームの有効期限
	MaxParticipants int           // ルームあたりの参加者上限
	CodeLength      int           // 短縮コードの文字数
	CodeAlphabet    string        // 短縮コードに使用する文字集合
	CodeAttempts    int           // 短縮コード生成の最大試行回数
	AllowedOrigin   []string      // CORSで許可するオリジン一覧
}

// Load は環境変数から設定を読み込みます
// 環境変数が設定されていない場合はデフォルト値を使用します
func Load() Config {
	return Config{
		APIAddr:         envOr("API_ADDR", defaultAPIAddr),
		RedisAddr:       envOr("REDIS_ADDR", defaultRedisAddr),
		Store:           envOr("ROOM_STORE", defaultStore),
		RoomTTL:         time.Duration(envInt("ROOM_TTL_SEC", defaultRoomTTLSec)) * time.Second,
		MaxParticipants: envInt("MAX_PARTICIPANTS", defaultMaxParticipants),
		CodeLength:      envInt("SHORT_CODE_LENGTH", defaultCodeLength),
		CodeAlphabet:    envOr("SHORT_CODE_ALPHABET", defaultCodeAlphabet),
		CodeAttempts:    envInt("SHORT_CODE_ATTEMPTS", defaultCodeAttempts),
		AllowedOrigin:   envCSV("CORS_ALLOWED_ORIGINS", defaultAllowedOrigins),
	}
}

// envOr は環境変数から文字列を取得します
// 環境変数が設定されていない場合はデフォルト値を返します
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt は環境変数から整数を取得します
// 環境変数が設定されていない、または無効な値の場合はデフォルト値を返します
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("invalid %s=%s, fallback to default (%d)", key, v, def)
			return def
		}
		return i
	}
	return def
}

// envCSV は環境変数からカンマ区切りの文字列リストを取得します
// 環境変数が設定されていない、または空の場合はデフォルト値を返します
func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
