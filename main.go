package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/malakmagdy1/RealStateFlutter/internal/account"
	"github.com/malakmagdy1/RealStateFlutter/internal/api"
	"github.com/malakmagdy1/RealStateFlutter/internal/assistant"
	"github.com/malakmagdy1/RealStateFlutter/internal/auth"
	"github.com/malakmagdy1/RealStateFlutter/internal/catalog"
	"github.com/malakmagdy1/RealStateFlutter/internal/config"
	"github.com/malakmagdy1/RealStateFlutter/internal/conversation"
	"github.com/malakmagdy1/RealStateFlutter/internal/inference"
	"github.com/malakmagdy1/RealStateFlutter/internal/logger"
	"github.com/malakmagdy1/RealStateFlutter/internal/prompt"
	"github.com/malakmagdy1/RealStateFlutter/internal/redis"
	"github.com/malakmagdy1/RealStateFlutter/internal/storage"
	"github.com/malakmagdy1/RealStateFlutter/internal/worker"
)

func main() {
	// a missing .env is fine; the process environment is used as is
	_ = godotenv.Load()

	cfgPath := os.Getenv("REALESTATE_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLog, err := logger.New(cfg.BasicConfig.LogMode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer appLog.Sync()

	dbType := os.Getenv("REALESTATE_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	dialect, ok := storage.ParseDialect(dbType)
	if !ok {
		log.Fatalf("unsupported database %q", dbType)
	}
	appLog.Info("opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// users, tokens, conversations, messages and the property catalog
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var (
		rdb   *redis.Client
		stats catalog.StatsCache
	)
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		stats = rdb
	}

	templates, err := prompt.LoadTemplates(cfg.Assistant.PromptsPath)
	if err != nil {
		log.Fatalf("load prompt templates: %v", err)
	}
	builder := prompt.NewBuilder(templates, cfg.Assistant.HistoryTurns)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gateway, err := inference.New(ctx, cfg, appLog)
	if err != nil {
		log.Fatalf("init inference gateway: %v", err)
	}

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Second,
	}, appLog)
	defer dispatcher.Stop()

	cat := catalog.New(db, dialect, stats, appLog)
	store := conversation.NewStore(db, dialect, appLog)
	assistantService := assistant.NewService(store, builder, gateway, appLog,
		assistant.WithRunner(dispatcher),
		assistant.WithCatalog(cat),
	)
	accounts := account.NewService(db, dialect, appLog)
	authService := auth.NewService(db, dialect, rdb, time.Duration(cfg.BasicConfig.TokenTTLHours)*time.Hour)

	handler := api.NewHandler(assistantService, accounts, authService, dispatcher, appLog)
	router := api.NewRouter(handler, cfg.BasicConfig.AllowedOrigins)

	appLog.Info("server listening", "addr", cfg.BasicConfig.ServerAddress, "provider", cfg.Assistant.Provider)
	if err := router.Run(cfg.BasicConfig.ServerAddress); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
