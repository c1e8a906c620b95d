package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/waveline/server/internal/auth"
	"github.com/waveline/server/internal/config"
	"github.com/waveline/server/internal/db"
	httphandler "github.com/waveline/server/internal/http"
	"github.com/waveline/server/internal/http/handlers"
	"github.com/waveline/server/internal/logging"
	"github.com/waveline/server/internal/mail"
	"github.com/waveline/server/internal/repo"
)

func main() {
	// .env is optional; real env vars take precedence.
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	userRepo := repo.NewUserRepo(database)
	sessionRepo := repo.NewSessionRepo(database)
	credentialRepo := repo.NewCredentialRepo(database)

	hasher := auth.NewPasswordHasher(cfg.BcryptCost)
	jwtService := auth.NewJWTService(cfg.AccessPrivateKey, cfg.AccessPublicKey, cfg.RefreshPrivateKey, cfg.RefreshPublicKey)
	mailer := mail.NewLogMailer(cfg.FrontendBaseURL, cfg.EmailSenderAddress)

	authService := auth.NewAuthService(userRepo, sessionRepo, credentialRepo, hasher, jwtService, mailer, auth.TTLConfig{
		AccessToken:     cfg.AccessTokenTTL,
		RefreshToken:    cfg.RefreshTokenTTL,
		CredentialToken: cfg.CredentialTokenTTL,
	})

	authHandler := handlers.NewAuthHandler(authService)
	router := httphandler.NewRouter(authHandler, jwtService, authService, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Works whether the process starts from the module root or one level up.
	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		migrationDir = filepath.Join("server", migrationDir)
	}
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
