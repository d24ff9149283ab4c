package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-kyc-access/internal/application/access"
	"github.com/go-kyc-access/internal/application/account"
	"github.com/go-kyc-access/internal/application/document"
	"github.com/go-kyc-access/internal/application/notification"
	"github.com/go-kyc-access/internal/application/role"
	"github.com/go-kyc-access/internal/application/session"
	"github.com/go-kyc-access/internal/application/verification"
	"github.com/go-kyc-access/internal/config"
	"github.com/go-kyc-access/internal/domain"
	"github.com/go-kyc-access/internal/infrastructure/smtp"
	"github.com/go-kyc-access/internal/infrastructure/sns"
	"github.com/go-kyc-access/internal/pkg/otp"
	"github.com/go-kyc-access/internal/transport/http/handler"
	appmiddleware "github.com/go-kyc-access/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	UserRepo         UserRepository
	RoleRepo         RoleAssignmentRepository
	VerificationRepo VerificationRepository
	DocumentRepo     DocumentRepository
	ObjectStore      ObjectStore
	Mailer           smtp.Mailer
	SMSSender        sns.SMSSender // nil disables SMS delivery
	JWTProvider      TokenProvider
	Hasher           *otp.Hasher
	// Nil throttles disable per-email limits. Never assign a typed nil.
	RequestThrottle Throttle
	AttemptThrottle Throttle
	MetricsHandler  http.Handler
}

// NewRouter builds and returns the application router. Background work
// started here stops when ctx is cancelled.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
		// Preflight below answers with 204 once the CORS headers are set.
		OptionsPassthrough: true,
	}))
	r.Use(appmiddleware.Preflight)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	// 5 requests/second, burst of 10 on unauthenticated endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(5), 10)

	engine := verification.NewEngine(deps.VerificationRepo, deps.Hasher, cfg.Codes.ClaimLease, cfg.Codes.MaxAttempts)
	authorizer := access.NewAuthorizer(deps.UserRepo, deps.RoleRepo, engine)
	dispatcher := notification.NewDispatcher(deps.Mailer, deps.SMSSender, cfg.NotifyTimeout)

	accountDeps := account.ServiceDeps{
		Users:      deps.UserRepo,
		Engine:     engine,
		Authorizer: authorizer,
		Notifier:   dispatcher,
		Codes:      cfg.Codes,
	}
	if deps.RequestThrottle != nil {
		accountDeps.RequestThrottle = deps.RequestThrottle
	}
	if deps.AttemptThrottle != nil {
		accountDeps.AttemptThrottle = deps.AttemptThrottle
	}
	accountSvc := account.NewService(accountDeps)
	sessionSvc := session.NewService(session.ServiceDeps{
		UserRepo:    deps.UserRepo,
		JWTProvider: deps.JWTProvider,
		TokenExpiry: cfg.JWTExpiry,
	})
	roleSvc := role.NewService(deps.RoleRepo, deps.UserRepo)
	issuer := document.NewIssuer(deps.ObjectStore, deps.DocumentRepo, authorizer, cfg.Documents)

	healthH := handler.NewHealthHandler()
	accountH := handler.NewAccountHandler(accountSvc)
	sessionH := handler.NewSessionHandler(sessionSvc)
	roleH := handler.NewRoleHandler(roleSvc)
	docH := handler.NewDocumentHandler(issuer, cfg.Documents.MaxUploadBytes)

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Group(func(r chi.Router) {
			r.Use(sensitiveRL.Limit)

			r.Post("/signup", accountH.Register)
			r.Post("/signup/resend", accountH.ResendSignupCode)
			r.Post("/signup/confirm", accountH.ConfirmSignup)
			r.Post("/password-reset/request", accountH.RequestPasswordReset)
			r.Post("/password-reset/confirm", accountH.ResetPassword)
			r.Post("/sessions/login", sessionH.Login)
		})

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Auth(deps.JWTProvider))

			r.Post("/documents", docH.Upload)
			r.Post("/documents/upload-url", docH.UploadURL)
			r.Get("/documents", docH.ListOwn)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(authorizer, domain.RoleAdmin))

				r.Post("/admin/documents/signed-url", docH.SignedURL)
				r.Get("/admin/users/{id}/documents", docH.ListForUser)
				r.Get("/admin/users/{id}/roles", roleH.List)
				r.Put("/admin/users/{id}/roles/{role}", roleH.Assign)
				r.Delete("/admin/users/{id}/roles/{role}", roleH.Revoke)
			})
		})
	})

	return r
}
