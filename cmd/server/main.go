package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	auditkafka "github.com/smartbank/ledger-core/internal/audit/kafka"
	"github.com/smartbank/ledger-core/internal/audit/logsink"
	"github.com/smartbank/ledger-core/internal/auth"
	"github.com/smartbank/ledger-core/internal/config"
	"github.com/smartbank/ledger-core/internal/interfaces"
	"github.com/smartbank/ledger-core/internal/ledger"
	"github.com/smartbank/ledger-core/internal/server"
	"github.com/smartbank/ledger-core/internal/storage/memory"
	mongostore "github.com/smartbank/ledger-core/internal/storage/mongo"
	"github.com/smartbank/ledger-core/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	accounts, txlog, users, err := buildStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("initializing storage", zap.String("backend", cfg.StorageBackend), zap.Error(err))
	}

	var audit interfaces.AuditSink
	if len(cfg.KafkaBrokers) > 0 {
		sink := auditkafka.NewSink(cfg.KafkaBrokers, cfg.AuditTopic)
		defer sink.Close()
		audit = sink
	} else {
		audit = logsink.NewSink(logger)
	}

	engine := ledger.NewEngine(accounts, txlog, audit, auth.RoleAuthorizer{}, logger)
	authSvc := auth.NewService(users, accounts, cfg.JWTSecret, cfg.TokenTTL, cfg.DefaultCurrency, logger)
	handler := server.NewHandler(engine, authSvc, accounts, txlog, logger)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	router := server.NewRouter(handler, authSvc, rdb, logger)

	logger.Info("starting server",
		zap.String("addr", cfg.ServerAddress),
		zap.String("backend", cfg.StorageBackend),
	)
	if err := router.Run(cfg.ServerAddress); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func buildStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interfaces.AccountStore, interfaces.TransactionLog, interfaces.UserStore, error) {
	switch cfg.StorageBackend {
	case "memory":
		st := memory.NewStore()
		return st, st, st, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, nil, nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, nil, nil, err
		}
		st := postgres.NewStore(db)
		return st, st, st, nil

	case "mongo":
		client, err := mongodrv.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, nil, err
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, nil, nil, err
		}
		st := mongostore.NewStore(client.Database(cfg.MongoDatabase))
		if err := st.EnsureIndexes(ctx); err != nil {
			logger.Warn("ensuring mongo indexes", zap.Error(err))
		}
		return st, st, st, nil
	}
	// unreachable: config.Load validated the backend
	return nil, nil, nil, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}
