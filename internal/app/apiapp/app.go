package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nvoronin/tradeschool/backend/internal/config"
	"github.com/nvoronin/tradeschool/backend/internal/domain/enums"
	"github.com/nvoronin/tradeschool/backend/internal/infra/commerceapi"
	"github.com/nvoronin/tradeschool/backend/internal/infra/metrics"
	pgrepo "github.com/nvoronin/tradeschool/backend/internal/repo/postgres"
	redrepo "github.com/nvoronin/tradeschool/backend/internal/repo/redis"
	authsvc "github.com/nvoronin/tradeschool/backend/internal/services/auth"
	checkoutsvc "github.com/nvoronin/tradeschool/backend/internal/services/checkout"
	pricingsvc "github.com/nvoronin/tradeschool/backend/internal/services/pricing"
	proofsvc "github.com/nvoronin/tradeschool/backend/internal/services/proof"
	purchasessvc "github.com/nvoronin/tradeschool/backend/internal/services/purchases"
	windowsvc "github.com/nvoronin/tradeschool/backend/internal/services/window"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	windows    *windowsvc.Manager
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	backend, err := commerceapi.NewClient(commerceapi.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("init commerce backend client: %w", err)
	}

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	watchlistRepo := redrepo.NewWatchlistRepo(redisClient)
	purchaseCacheRepo := redrepo.NewPurchaseCacheRepo(redisClient)
	journalRepo := pgrepo.NewAttemptJournalRepo(pool)

	m := metrics.New()
	jwtManager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL)

	pricingService := pricingsvc.NewService(backend, pricingsvc.Config{
		DebounceDelay: cfg.Checkout.PreviewDebounce,
	}, m, log)
	checkoutService := checkoutsvc.NewService(checkoutsvc.Dependencies{
		Backend:   backend,
		Journal:   journalRepo,
		Watchlist: watchlistRepo,
		Metrics:   m,
		Logger:    log,
	}, checkoutsvc.Config{
		PaymentWindow:        cfg.Checkout.PaymentWindow,
		AmountRoundTolerance: cfg.Checkout.AmountRoundTolerance,
	})
	proofService := proofsvc.NewService(proofsvc.Dependencies{
		Backend:   backend,
		Initiator: checkoutService,
		Journal:   journalRepo,
		Watchlist: watchlistRepo,
		Metrics:   m,
		Logger:    log,
	}, proofsvc.Config{
		PollInterval:      cfg.Checkout.PollInterval,
		PollMaxAttempts:   cfg.Checkout.PollMaxAttempts,
		PollNotFoundLimit: cfg.Checkout.PollNotFoundLimit,
	})
	purchasesService := purchasessvc.NewService(backend, purchaseCacheRepo, watchlistRepo, purchasessvc.Config{
		ListTTL: cfg.Checkout.PurchaseListTTL,
	}, log)
	windows := windowsvc.NewManager(windowsvc.Config{Tick: cfg.Checkout.WindowTick}, m, log)

	// A lapsed window marks the attempt expired locally; the reconciler
	// settles it for real if the backend later disagrees.
	windowExpiry := func(purchaseID string) {
		if _, err := journalRepo.TransitionStatus(context.Background(), purchaseID,
			string(enums.PurchaseStatusAwaitingProof),
			string(enums.PurchaseStatusExpired),
		); err != nil {
			log.Warn("window expiry journal update failed",
				zap.String("purchase_id", purchaseID),
				zap.Error(err),
			)
		}
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	RegisterRoutes(r, Dependencies{
		PricingService:   pricingService,
		CheckoutService:  checkoutService,
		ProofService:     proofService,
		PurchasesService: purchasesService,
		Windows:          windows,
		WindowExpiry:     windowExpiry,
		JWTManager:       jwtManager,
		Metrics:          m,
		Logger:           log,
		Config:           cfg,
	})

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		windows:    windows,
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
	if a.windows != nil {
		a.windows.CloseAll()
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
