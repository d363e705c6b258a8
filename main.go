package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"agileflow/internal/config"
	"agileflow/internal/database/db_client"
	"agileflow/internal/http/http_server"
	"agileflow/internal/http/roomhandler"
	"agileflow/internal/mailer"
	"agileflow/internal/redis/redis_client"
	"agileflow/internal/services/room"
	"agileflow/internal/session"
	"agileflow/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Postgres db client + schema
	pgDb, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()
	if err := db_client.Migrate(ctx, pgDb); err != nil {
		Log.Fatal("pg-migrate", zap.Error(err))
	}

	// 4. Redis (cross-instance event relay)
	redisClient, err := redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	// 5. Room directory + mailer
	roomService := room.NewRoomService(pgDb)
	notifier := mailer.New(cfg.SmtpHost, cfg.SmtpPort, cfg.SmtpUser, cfg.SmtpPassword, cfg.SmtpFrom)

	// 6. Session broker + relay
	broker := session.NewBroker(roomService, time.Duration(cfg.DisconnectGraceSeconds)*time.Second)
	broker.SetRelay(ws.NewRedisRelay(redisClient, broker))

	// 7. WS server
	wsSrv := ws.NewWsServer(broker, roomService, notifier)

	// 8. HTTP + WS server
	roomHandler := roomhandler.New(roomService, broker, notifier)
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, roomHandler)

	go func() {
		<-ctx.Done()
		_ = httpServer.Dispose()
	}()

	if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}
