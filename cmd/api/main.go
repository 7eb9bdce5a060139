package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/cingulado/alade-chat/backend/internal/config"
	"github.com/cingulado/alade-chat/backend/internal/handler"
	"github.com/cingulado/alade-chat/backend/internal/handler/socket"
	"github.com/cingulado/alade-chat/backend/internal/hub"
	"github.com/cingulado/alade-chat/backend/internal/service/chat"
	"github.com/cingulado/alade-chat/backend/internal/service/presence"
	"github.com/cingulado/alade-chat/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	chatStore, err := store.Open(ctx, store.Options{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		URL:    cfg.Database.URL,
	})
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Database.Driver, err)
	}
	defer chatStore.Close()
	log.Printf("chat store ready driver=%s", cfg.Database.Driver)

	chatService := chat.NewService(chatStore, nil)

	var hubOpts []hub.Option
	if cfg.Hub.PersistSocketMessages {
		hubOpts = append(hubOpts, hub.WithPersister(chatService))
		log.Println("socket chat messages will be persisted")
	}

	var mirror *presence.Mirror
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Printf("warning: redis unreachable at %s: %v", cfg.Redis.Addr, err)
			log.Println("continuing without presence mirror")
			_ = rdb.Close()
		} else {
			mirror = presence.NewMirror(rdb, cfg.Redis.PresenceTTL)
			hubOpts = append(hubOpts, hub.WithPresenceObserver(mirror))
			defer rdb.Close()
			log.Printf("presence mirror enabled addr=%s", cfg.Redis.Addr)
		}
	} else {
		log.Println("REDIS_ADDR not set, presence mirror disabled")
	}

	chatHub := hub.New(hubOpts...)
	chatService.SetRelayer(chatHub)

	router := handler.NewRouter(handler.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Socket: socket.Config{
			PingInterval: cfg.Socket.PingInterval,
			ReadTimeout:  cfg.Socket.ReadTimeout,
			SendBuffer:   cfg.Socket.SendBuffer,
		},
	}, chatHub, chatService)

	startServer(ctx, cfg.Server, router)

	chatHub.Close()
	if mirror != nil {
		mirror.Close()
	}
	log.Println("chat hub stopped")
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("chat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
