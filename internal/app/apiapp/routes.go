package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nvoronin/tradeschool/backend/internal/config"
	"github.com/nvoronin/tradeschool/backend/internal/infra/metrics"
	authsvc "github.com/nvoronin/tradeschool/backend/internal/services/auth"
	checkoutsvc "github.com/nvoronin/tradeschool/backend/internal/services/checkout"
	pricingsvc "github.com/nvoronin/tradeschool/backend/internal/services/pricing"
	proofsvc "github.com/nvoronin/tradeschool/backend/internal/services/proof"
	purchasessvc "github.com/nvoronin/tradeschool/backend/internal/services/purchases"
	windowsvc "github.com/nvoronin/tradeschool/backend/internal/services/window"
	"github.com/nvoronin/tradeschool/backend/internal/transport/http/handlers"
)

type Dependencies struct {
	PricingService   *pricingsvc.Service
	CheckoutService  *checkoutsvc.Service
	ProofService     *proofsvc.Service
	PurchasesService *purchasessvc.Service
	Windows          *windowsvc.Manager
	WindowExpiry     windowsvc.Callback
	JWTManager       *authsvc.JWTManager
	Metrics          *metrics.Registry
	Logger           *zap.Logger
	Config           config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	checkoutHandler := handlers.NewCheckoutHandler(
		deps.PricingService,
		deps.CheckoutService,
		deps.ProofService,
		deps.Windows,
		deps.WindowExpiry,
		deps.Logger,
	)
	purchasesHandler := handlers.NewPurchasesHandler(deps.PurchasesService)
	authMW := AuthMiddleware(deps.JWTManager, deps.Logger)

	r.Get("/healthz", healthHandler.Handle)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/checkout", func(r chi.Router) {
		r.Use(authMW)
		r.Post("/preview", checkoutHandler.Preview)
		r.Post("/initiate", checkoutHandler.Initiate)
		r.Post("/proof", checkoutHandler.SubmitProof)
	})

	r.Route("/purchases", func(r chi.Router) {
		r.Use(authMW)
		r.Get("/", purchasesHandler.List)
		r.Get("/enrollment", purchasesHandler.Enrollment)
	})
}
