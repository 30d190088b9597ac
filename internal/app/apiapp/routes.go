package apiapp

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/MichaelUrman/bookstore/internal/infra/metrics"
	pgrepo "github.com/MichaelUrman/bookstore/internal/repo/postgres"
	accountsvc "github.com/MichaelUrman/bookstore/internal/services/accounts"
	authsvc "github.com/MichaelUrman/bookstore/internal/services/auth"
	catalogsvc "github.com/MichaelUrman/bookstore/internal/services/catalog"
	downloadsvc "github.com/MichaelUrman/bookstore/internal/services/downloads"
	entitlementsvc "github.com/MichaelUrman/bookstore/internal/services/entitlements"
	paymentsvc "github.com/MichaelUrman/bookstore/internal/services/payments"
	purchasesvc "github.com/MichaelUrman/bookstore/internal/services/purchases"
	"github.com/MichaelUrman/bookstore/internal/transport/http/handlers"
)

type Dependencies struct {
	AuthService        *authsvc.Service
	Catalog            *catalogsvc.Resolver
	Ledger             *purchasesvc.Service
	PaymentService     *paymentsvc.Service
	EntitlementService *entitlementsvc.Service
	DownloadService    *downloadsvc.Service
	AccountService     *accountsvc.Service
	Purchases          *pgrepo.PurchaseRepo
	Notifications      *pgrepo.NotificationRepo
	Metrics            *metrics.Recorder
	DB                 *pgxpool.Pool
	Logger             *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler(nil)
	if deps.DB != nil {
		healthHandler = handlers.NewHealthHandler(deps.DB)
	}
	purchaseHandler := handlers.NewPurchaseHandler(deps.Ledger)
	downloadHandler := handlers.NewDownloadHandler(deps.Catalog, deps.EntitlementService, deps.DownloadService, deps.Logger)
	ipnHandler := handlers.NewIPNHandler(deps.PaymentService, deps.Logger)
	adminHandler := handlers.NewAdminHandler(deps.Ledger, deps.AccountService, deps.Logger)
	if deps.Purchases != nil && deps.Notifications != nil {
		adminHandler.AttachHistory(deps.Purchases, deps.Notifications)
	}
	authMW := AuthMiddleware(deps.AuthService, deps.Logger)
	staffRoleMW := RequireRole(authsvc.RoleStaff, authsvc.RoleOwner)

	r.Get("/healthz", healthHandler.Health)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Post("/paypal/ipn", ipnHandler.Notify)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/review/{id}", downloadHandler.Review)

		r.Group(func(r chi.Router) {
			r.Use(authMW)

			r.Post("/purchases", purchaseHandler.Create)
			r.Get("/purchases", purchaseHandler.List)
			r.Get("/purchases/{id}", purchaseHandler.Get)
			r.Post("/purchases/{id}/confirm", purchaseHandler.Confirm)
			r.Post("/purchases/{id}/cancel", purchaseHandler.Cancel)

			r.Get("/publications/{id}/entitlement", downloadHandler.Entitlement)
			r.Get("/publications/{id}/download", downloadHandler.Download)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(authMW, staffRoleMW)

		r.Get("/purchases/{id}", adminHandler.PurchaseDetail)
		r.Put("/purchases/{id}/status", adminHandler.SetPurchaseStatus)
		r.Post("/purchases/replacements", adminHandler.GrantReplacement)
		r.Post("/review-copies", adminHandler.IssueReviewCopy)
		r.Post("/account-groups", adminHandler.CreateAccountGroup)
		r.Delete("/account-groups/members/{id}", adminHandler.RemoveGroupMember)
	})
}
