// Package main runs the Driftmoor game server: the TCP protocol listener,
// the optional WebSocket gateway, and the world update loop.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/driftmoor/gameserver/internal/channel"
	"github.com/driftmoor/gameserver/internal/config"
	"github.com/driftmoor/gameserver/internal/game"
	"github.com/driftmoor/gameserver/internal/observability"
	"github.com/driftmoor/gameserver/internal/server"
	"github.com/driftmoor/gameserver/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting Driftmoor game server",
		zap.String("listen_addr", cfg.Server.Addr()),
		zap.Int("tick_rate", cfg.Server.TickRate),
		zap.Int("max_clients_per_channel", cfg.Server.MaxClientsPerChannel),
	)

	ctx := context.Background()
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Name),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	users := postgres.NewUserRepository(pool.DB())
	characters := postgres.NewCharacterRepository(pool.DB())

	world := game.NewState()
	registry := channel.NewRegistry(cfg.Server.MaxClientsPerChannel, logger)
	tracker := server.NewTracker(logger)
	handler := server.NewHandler(users, characters, registry, world, logger)

	listener := server.NewListener(cfg.Server, handler, tracker, logger)
	loop := game.NewLoop(cfg.Server.TickRate, world.Advance, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("db-health", server.NewHealthChecker(pool, 30*time.Second, logger))
	lifecycle.Add("update-loop", loop)
	lifecycle.Add("listener", listener)
	if cfg.Websocket.Enabled {
		gateway := server.NewWSGateway(cfg.Websocket, handler, tracker, logger)
		lifecycle.Add("ws-gateway", gateway)
	}

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}

	registry.Shutdown()
}
