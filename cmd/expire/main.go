package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/MichaelUrman/bookstore/internal/config"
	eventsinfra "github.com/MichaelUrman/bookstore/internal/infra/events"
	"github.com/MichaelUrman/bookstore/internal/infra/logger"
	"github.com/MichaelUrman/bookstore/internal/jobs/expire"
	pgrepo "github.com/MichaelUrman/bookstore/internal/repo/postgres"
	redrepo "github.com/MichaelUrman/bookstore/internal/repo/redis"
	accountsvc "github.com/MichaelUrman/bookstore/internal/services/accounts"
	catalogsvc "github.com/MichaelUrman/bookstore/internal/services/catalog"
	purchasesvc "github.com/MichaelUrman/bookstore/internal/services/purchases"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("APP_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Telemetry.ServiceName+"-expire")
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	if err != nil {
		log.Error("expire sweep failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer func() {
		_ = redisClient.Close()
	}()

	accounts := accountsvc.NewService(accountsvc.Dependencies{
		Accounts: pgrepo.NewAccountRepo(pool),
		Cache:    redrepo.NewGroupCacheRepo(redisClient),
		CacheTTL: cfg.Redis.GroupTTL,
		Logger:   log,
	})
	ledger := purchasesvc.NewService(purchasesvc.Dependencies{
		Purchases: pgrepo.NewPurchaseRepo(pool),
		Catalog:   catalogsvc.NewResolver(pgrepo.NewCatalogRepo(pool)),
		Accounts:  accounts,
		Logger:    log,
	}, purchasesvc.Config{
		Currency:      cfg.Store.Currency,
		PublicBaseURL: cfg.Store.PublicBaseURL,
	})

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := eventsinfra.NewPublisher(eventsinfra.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			log.Warn("kafka publisher init failed, expiry events stay local", zap.Error(err))
		} else {
			defer func() {
				_ = publisher.Close()
			}()
			ledger.Subscribe(publisher)
		}
	}

	if err := expire.New(ledger, cfg.Store.PendingTTL, log).Run(ctx); err != nil {
		return fmt.Errorf("expire open purchases: %w", err)
	}
	return nil
}
