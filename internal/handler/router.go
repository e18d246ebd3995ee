package handler

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/mmeshcher/loyalty-points/internal/apidocs"
	custommiddleware "github.com/mmeshcher/loyalty-points/internal/middleware"
	"github.com/mmeshcher/loyalty-points/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса лояльности.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.TrustedRealIP(h.trustedProxies))
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.Metrics(h.metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", custommiddleware.RequestIDHeader},
		ExposedHeaders:   []string{custommiddleware.RequestIDHeader},
		AllowCredentials: !slices.Contains(h.allowedOrigins, "*"),
		MaxAge:           300,
	}))
	r.Use(chimiddleware.RequestSize(custommiddleware.MaxRequestBodyBytes))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(h.authMiddleware.Middleware)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", h.metrics.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	adminOnly := custommiddleware.RequireRole(model.RoleAdmin)
	clientOnly := custommiddleware.RequireRole(model.RoleClient)
	toLogin := custommiddleware.WithLoginRedirect("/login")

	r.Get("/", h.Root)
	r.Get("/login", h.LoginPage)
	r.Get("/login/verify", h.VerifyLinkPage)
	r.With(custommiddleware.RequireRole(model.RoleAdmin, toLogin)).Get("/admin", h.AdminPage)
	r.With(custommiddleware.RequireRole(model.RoleClient, toLogin)).Get("/client", h.ClientPage)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(h.rateLimiter.Middleware)

				r.Post("/login", h.Login)
				r.Post("/link", h.StartLink)
				r.Post("/link/verify", h.VerifyLink)
			})

			r.Post("/logout", h.Logout)
			r.With(custommiddleware.RequireRole("")).Get("/me", h.Me)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(adminOnly)

			r.Get("/clients", h.ListClients)
			r.Post("/clients", h.CreateClient)

			r.Route("/clients/{id}", func(r chi.Router) {
				r.Get("/", h.GetClient)
				r.Patch("/", h.UpdateClient)
				r.Delete("/", h.DeleteClient)

				r.Post("/points", h.AdjustPoints)
				r.Post("/points/preview", h.PreviewPoints)
				r.Get("/adjustments", h.ListAdjustments)

				r.Post("/spending", h.AddSpending)
				r.Post("/spending/preview", h.PreviewSpending)
				r.Get("/spending", h.ListSpending)
			})

			r.Put("/profiles/{userID}", h.LinkProfile)
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(clientOnly)

			r.Get("/client", h.OwnClient)
			r.Patch("/client", h.UpdateOwnPhone)
			r.Get("/adjustments", h.OwnAdjustments)
			r.Get("/spending", h.OwnSpending)
		})

		r.NotFound(h.CatchAll)
	})

	r.NotFound(h.CatchAll)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
