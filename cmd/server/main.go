package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"mesa-system/config"
	"mesa-system/internal/connectivity"
	"mesa-system/internal/database"
	"mesa-system/internal/events"
	"mesa-system/internal/orders"
	"mesa-system/internal/purchases"
	"mesa-system/internal/remote"
	"mesa-system/internal/syncsvc"
	"mesa-system/internal/unified"
)

func main() {
	cfg := config.LoadConfig()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	db, err := database.NewConnection(cfg.Store.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to connect to local store: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate local store: %v", err)
	}

	redisClient := config.NewRedisClient(cfg.Redis)
	defer redisClient.Close()
	publisher := events.NewRedisPublisher(redisClient, logger)

	// The remote store is optional: no URI means permanently offline and
	// every read and write stays on the local engine.
	var remoteClient *remote.Client
	var remoteStore *remote.Store
	var probe connectivity.ProbeFunc
	if cfg.Store.MongoURI != "" {
		remoteClient, err = remote.Connect(context.Background(), cfg.Store.MongoURI, cfg.Store.MongoName, cfg.Sync.ProbeTimeout)
		if err != nil {
			logger.Warn().Err(err).Msg("remote store unreachable at startup, continuing offline")
		} else {
			defer remoteClient.Disconnect(context.Background())
			remoteStore = remote.NewStore(remoteClient, logger)
			probe = func(ctx context.Context) error {
				return remoteClient.Ping(ctx, cfg.Sync.ProbeTimeout)
			}
		}
	}

	monitor := connectivity.NewMonitor(probe, cfg.Sync.ProbeTimeout, logger)
	monitor.StartMonitoring(cfg.Sync.PollInterval)
	defer monitor.Stop()

	var layerRemote unified.RemoteStore
	var syncRemote syncsvc.RemoteStore
	if remoteStore != nil {
		layerRemote = remoteStore
		syncRemote = remoteStore
	}

	layer := unified.New(unified.Config{Engine: cfg.Store.DefaultEngine}, db, layerRemote, monitor, logger)
	syncService := syncsvc.New(db, syncRemote, monitor, logger)

	localEngine := orders.NewSQLiteEngine(db, publisher, logger)
	var remoteEngine orders.Engine
	if remoteClient != nil {
		remoteEngine = orders.NewMongoEngine(remoteClient, remoteStore, publisher, logger)
	}
	orderEngine := orders.NewSelector(cfg.Store.DefaultEngine, monitor.Status, localEngine, remoteEngine)

	purchaseService := purchases.NewService(db, publisher, logger)

	if remoteStore != nil && cfg.Sync.SyncInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Sync.SyncInterval)
			defer ticker.Stop()
			for range ticker.C {
				if _, err := syncService.TriggerSync(context.Background()); err != nil {
					logger.Debug().Err(err).Msg("scheduled sync skipped")
				}
			}
		}()
	}

	r := newRouter(db, layer, orderEngine, purchaseService, syncService, monitor)

	logger.Info().Str("addr", cfg.HTTP.Addr).Str("engine", cfg.Store.DefaultEngine).Msg("server listening")
	if err := r.Run(cfg.HTTP.Addr); err != nil {
		log.Fatalf("Failed to serve: %v", err)
	}
}
