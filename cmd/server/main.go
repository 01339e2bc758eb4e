package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/s6ptember/videocall-app/internal/activity"
	"github.com/s6ptember/videocall-app/internal/config"
	"github.com/s6ptember/videocall-app/internal/handlers"
	httpx "github.com/s6ptember/videocall-app/internal/http"
	"github.com/s6ptember/videocall-app/internal/repo"
	"github.com/s6ptember/videocall-app/internal/service"
	sig "github.com/s6ptember/videocall-app/internal/signal"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// ルームストアの選択（redis または memory）
	var store repo.RoomStore
	switch cfg.Store {
	case "memory":
		store = repo.NewMemoryRoomStore()
		logger.Info("using in-memory room store")
	default:
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			PoolSize:     10,              // 接続プールサイズ
			MinIdleConns: 5,               // 最小アイドル接続数
			MaxRetries:   3,               // リトライ回数
			DialTimeout:  5 * time.Second, // 接続タイムアウト
			ReadTimeout:  3 * time.Second, // 読み込みタイムアウト
			WriteTimeout: 3 * time.Second, // 書き込みタイムアウト
			PoolTimeout:  4 * time.Second, // プールからの取得タイムアウト
		})

		// Redis接続確認
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		store = repo.NewRedisRoomStore(rdb)
	}
	defer store.Close()

	recorder := activity.NewLogger(logger.Named("activity"))
	defer recorder.Close()

	directory := service.NewRoomDirectory(store, recorder, cfg)
	relay := sig.NewRelay(directory, logger.Named("relay"))

	roomHandler := handlers.NewRoomHandler(directory, logger)
	wsHandler := handlers.NewWebSocketHandler(relay, logger)
	router := httpx.NewRouter(roomHandler, wsHandler, cfg.AllowedOrigin)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown用のシグナルチャネル
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// サーバーを別goroutineで起動
	go func() {
		logger.Info("listening", zap.String("addr", cfg.APIAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// シャットダウンシグナルを待つ
	<-sigChan
	logger.Info("shutdown signal received, shutting down gracefully...")

	// 30秒のタイムアウトでGraceful Shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}
