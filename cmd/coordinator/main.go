package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/solostream/coordinator/internals/auth"
	"github.com/solostream/coordinator/internals/config"
	"github.com/solostream/coordinator/internals/coordinator"
	"github.com/solostream/coordinator/internals/notify"
	"github.com/solostream/coordinator/internals/presence"
	"github.com/solostream/coordinator/internals/relay"
	"github.com/solostream/coordinator/internals/seatlock"
	"github.com/solostream/coordinator/internals/server"
	"github.com/solostream/coordinator/internals/sweep"
	"github.com/solostream/coordinator/internals/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger := utils.GetLogger()
	logger.Info("Starting coordinator")

	hub := notify.NewHub(logger)

	// Presence store, seat lock and notifier share one Redis connection.
	// Without Redis the process falls back to in-memory implementations,
	// which is fine for a single instance but not for a fleet.
	var (
		store    presence.Store
		locker   seatlock.Locker
		notifier notify.Notifier
	)
	redisStore, err := presence.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory presence", zap.Error(err))
		store = presence.NewMemoryStore()
		locker = seatlock.NewMemoryLocker(cfg.Presence.SeatLockWait)
		notifier = notify.NewHubNotifier(hub, logger)
	} else {
		store = redisStore
		locker = seatlock.NewRedisLocker(redisStore.Client(), cfg.Presence.SeatLockTTL, cfg.Presence.SeatLockWait, logger)
		notifier = notify.NewRedisNotifier(redisStore.Client(), hub, logger)
	}

	coord := coordinator.New(store, locker, notifier, logger)
	rly := relay.New(store, notifier, logger)

	if cfg.Auth.Secret == "" {
		logger.Warn("COORD_AUTH_SECRET is empty, tokens signed with an empty key will verify")
	}
	resolver := auth.NewHMACResolver(cfg.Auth.Secret)

	srv := server.New(cfg, hub, coord, rly, resolver, auth.AllowAllDirectory{}, logger)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := sweep.New(store, coord, cfg.Presence.SweepInterval, cfg.Presence.StaleAfter, cfg.Presence.SweepPageSize, logger)
	go sweeper.Run(sweepCtx)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("Received shutdown signal")

	sweepCancel()
	srv.Stop()
	if redisStore != nil {
		redisStore.Close()
	}
	logger.Info("Coordinator stopped")
}
