package http

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/waveline/server/internal/auth"
	"github.com/waveline/server/internal/http/handlers"
	"github.com/waveline/server/internal/middleware"
	"github.com/waveline/server/internal/repo"
)

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(authHandler *handlers.AuthHandler, jwtService *auth.JWTService, authService *auth.AuthService, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.ParseUser(jwtService, authService))

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	loginLimiter := middleware.NewRateLimiter(10*time.Minute, 20)
	forgotLimiter := middleware.NewRateLimiter(10*time.Minute, 5)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.With(loginLimiter.Limit).Post("/login", authHandler.HandleLogin)
		r.With(forgotLimiter.Limit).Post("/forgot-password", authHandler.HandleForgotPassword)
		r.Post("/create-first-admin", authHandler.HandleCreateFirstAdmin)
		r.Get("/refresh", authHandler.HandleRefresh)

		// Single-use token flows: the token middleware resolves {token} to
		// its owning user before the handler runs.
		r.With(middleware.CheckToken(authService, repo.PasswordReset)).
			Post("/reset-password/{token}", authHandler.HandleResetPassword)
		r.With(middleware.CheckToken(authService, repo.EmailVerification)).
			Post("/verify-email/{token}", authHandler.HandleVerifyEmail)
		r.Post("/change-email/{id}/confirm/{token}", authHandler.HandleConfirmEmailChange)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Delete("/logout", authHandler.HandleLogout)
			r.Get("/sessions", authHandler.HandleSessions)
			r.Get("/me", authHandler.HandleMe)
			r.Post("/change-password", authHandler.HandleChangePassword)
			r.Post("/resend-verification", authHandler.HandleResendVerification)
			r.Post("/change-email/{id}", authHandler.HandleChangeEmail)
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Post("/change-user-role/{id}", authHandler.HandleChangeUserRole)
			r.Post("/disable-user/{id}", authHandler.HandleDisableUser)
			r.Post("/create-admin", authHandler.HandleCreateAdmin)
		})
	})

	return r
}
