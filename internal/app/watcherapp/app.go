package watcherapp

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nvoronin/tradeschool/backend/internal/config"
	"github.com/nvoronin/tradeschool/backend/internal/infra/commerceapi"
	s3infra "github.com/nvoronin/tradeschool/backend/internal/infra/s3"
	"github.com/nvoronin/tradeschool/backend/internal/infra/telegram"
	"github.com/nvoronin/tradeschool/backend/internal/jobs/reconcile"
	pgrepo "github.com/nvoronin/tradeschool/backend/internal/repo/postgres"
	redrepo "github.com/nvoronin/tradeschool/backend/internal/repo/redis"
	receiptssvc "github.com/nvoronin/tradeschool/backend/internal/services/receipts"
)

// App is the background settlement daemon. It has no HTTP surface; it just
// runs the reconciler until stopped.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	reconciler *reconcile.Reconciler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	backend, err := commerceapi.NewClient(commerceapi.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("init commerce backend client: %w", err)
	}

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		// Unlike the API, the watcher is useless without its journal.
		return nil, fmt.Errorf("init postgres pool: %w", err)
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	watchlistRepo := redrepo.NewWatchlistRepo(redisClient)
	journalRepo := pgrepo.NewAttemptJournalRepo(pool)

	var archiver reconcile.Archiver
	if s3Client, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, receipts will not be archived", zap.Error(err))
	} else {
		archiver = receiptssvc.NewService(s3Client, cfg.S3.Bucket, log)
	}

	var notifier reconcile.Notifier
	if cfg.Notify.TelegramToken != "" {
		bot, err := telegram.NewBot(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			log.Warn("telegram init failed, resolutions will not be announced", zap.Error(err))
		} else {
			notifier = bot
		}
	}

	reconciler := reconcile.New(reconcile.Dependencies{
		Backend:   backend,
		Journal:   journalRepo,
		Watchlist: watchlistRepo,
		Notifier:  notifier,
		Archiver:  archiver,
		Logger:    log,
	}, reconcile.Config{
		Interval:     cfg.Checkout.ReconcileInterval,
		ServiceToken: cfg.Backend.ServiceToken,
	})

	return &App{
		cfg:        cfg,
		logger:     log,
		postgres:   pool,
		redis:      redisClient,
		reconciler: reconciler,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("watcher started",
		zap.Duration("interval", a.cfg.Checkout.ReconcileInterval),
	)
	a.reconciler.Run(ctx)
	return nil
}

func (a *App) Close() {
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
