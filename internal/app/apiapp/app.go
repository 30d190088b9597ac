package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MichaelUrman/bookstore/internal/config"
	eventsinfra "github.com/MichaelUrman/bookstore/internal/infra/events"
	"github.com/MichaelUrman/bookstore/internal/infra/metrics"
	"github.com/MichaelUrman/bookstore/internal/infra/paypal"
	s3infra "github.com/MichaelUrman/bookstore/internal/infra/s3"
	"github.com/MichaelUrman/bookstore/internal/infra/telemetry"
	pgrepo "github.com/MichaelUrman/bookstore/internal/repo/postgres"
	redrepo "github.com/MichaelUrman/bookstore/internal/repo/redis"
	accountsvc "github.com/MichaelUrman/bookstore/internal/services/accounts"
	authsvc "github.com/MichaelUrman/bookstore/internal/services/auth"
	catalogsvc "github.com/MichaelUrman/bookstore/internal/services/catalog"
	downloadsvc "github.com/MichaelUrman/bookstore/internal/services/downloads"
	entitlementsvc "github.com/MichaelUrman/bookstore/internal/services/entitlements"
	paymentsvc "github.com/MichaelUrman/bookstore/internal/services/payments"
	purchasesvc "github.com/MichaelUrman/bookstore/internal/services/purchases"
	ratesvc "github.com/MichaelUrman/bookstore/internal/services/rate"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	s3         *minio.Client
	publisher  *eventsinfra.Publisher
	telemetry  *telemetry.Provider
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
		if cfg.Postgres.Migrate {
			if err := pgrepo.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
	}

	tel, err := telemetry.Init(ctx, telemetry.Config{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
		Version:      cfg.Env,
	})
	if err != nil {
		log.Warn("telemetry init failed, tracing disabled", zap.Error(err))
	}
	tracer := tel.Tracer()

	recorder := metrics.NewRecorder()

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	groupCache := redrepo.NewGroupCacheRepo(redisClient)
	rateRepo := redrepo.NewRateRepo(redisClient)

	purchaseRepo := pgrepo.NewPurchaseRepo(pool)
	catalogRepo := pgrepo.NewCatalogRepo(pool)
	downloadRepo := pgrepo.NewDownloadRepo(pool)
	notificationRepo := pgrepo.NewNotificationRepo(pool)
	accountRepo := pgrepo.NewAccountRepo(pool)

	tokenParser := authsvc.NewTokenParser(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Leeway)
	authService := authsvc.NewService(tokenParser)

	catalog := catalogsvc.NewResolver(catalogRepo)
	accountService := accountsvc.NewService(accountsvc.Dependencies{
		Accounts: accountRepo,
		Cache:    groupCache,
		CacheTTL: cfg.Redis.GroupTTL,
		Logger:   log,
	})
	ledger := purchasesvc.NewService(purchasesvc.Dependencies{
		Purchases: purchaseRepo,
		Catalog:   catalog,
		Accounts:  accountService,
		Logger:    log,
	}, purchasesvc.Config{
		Currency:      cfg.Store.Currency,
		PublicBaseURL: cfg.Store.PublicBaseURL,
	})
	ledger.Subscribe(recorder)

	var publisher *eventsinfra.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		if p, err := eventsinfra.NewPublisher(eventsinfra.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}); err != nil {
			log.Warn("kafka publisher init failed, purchase events stay local", zap.Error(err))
		} else {
			publisher = p
			ledger.Subscribe(publisher)
		}
	}

	var verifier paymentsvc.Verifier
	if v, err := paypal.NewVerifier(paypal.Config{
		Endpoint: cfg.PayPal.VerifyURL,
		Timeout:  cfg.PayPal.VerifyTimeout,
	}); err != nil {
		log.Warn("paypal verifier init failed, notifications will not be reconciled", zap.Error(err))
	} else {
		v.AttachTracer(tracer)
		v.AttachObserver(recorder)
		verifier = v
	}

	paymentService := paymentsvc.NewService(paymentsvc.Dependencies{
		Ledger:        ledger,
		Notifications: notificationRepo,
		Verifier:      verifier,
		Accounts:      accountService,
		Observer:      recorder,
		Tracer:        tracer,
		Logger:        log,
	}, paymentsvc.Config{
		ReceiverEmail: cfg.PayPal.ReceiverEmail,
		TxnTypes:      cfg.PayPal.TxnTypes,
	})

	entitlementService := entitlementsvc.NewService(entitlementsvc.Dependencies{
		Purchases: purchaseRepo,
		Downloads: downloadRepo,
		Accounts:  accountService,
	}, entitlementsvc.Config{
		AllowedDownloads:    cfg.Store.AllowedDownloads,
		ReviewCopyDownloads: cfg.Store.ReviewCopyDownloads,
	})

	var s3Client *minio.Client
	if c, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, continuing in degraded mode", zap.Error(err))
	} else {
		s3Client = c
		if err := s3infra.CheckBucket(ctx, s3Client, cfg.S3.Bucket); err != nil {
			log.Warn("s3 bucket check failed", zap.String("bucket", cfg.S3.Bucket), zap.Error(err))
		}
	}

	downloadService := downloadsvc.NewService(downloadsvc.Dependencies{
		Storage:   downloadsvc.NewS3Storage(s3Client, cfg.S3.Bucket),
		Downloads: downloadRepo,
		Catalog:   catalog,
		Limiter:   ratesvc.NewLimiter(rateRepo, cfg.Store.DownloadRatePerMinute),
		Observer:  recorder,
		Logger:    log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	RegisterRoutes(r, Dependencies{
		AuthService:        authService,
		Catalog:            catalog,
		Ledger:             ledger,
		PaymentService:     paymentService,
		EntitlementService: entitlementService,
		DownloadService:    downloadService,
		AccountService:     accountService,
		Purchases:          purchaseRepo,
		Notifications:      notificationRepo,
		Metrics:            recorder,
		DB:                 pool,
		Logger:             log,
	})

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		s3:         s3Client,
		publisher:  publisher,
		telemetry:  tel,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
