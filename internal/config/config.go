package config

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string

	AccessPrivateKey  *rsa.PrivateKey
	AccessPublicKey   *rsa.PublicKey
	RefreshPrivateKey *rsa.PrivateKey
	RefreshPublicKey  *rsa.PublicKey

	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	CredentialTokenTTL time.Duration

	BcryptCost int

	FrontendBaseURL    string
	EmailSenderAddress string

	LogLevel string
}

// Load reads configuration from environment variables. Signing keys are
// supplied as base64-encoded PEM, one keypair per token purpose, so an
// access-key compromise cannot forge refresh tokens.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               "8080",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    365 * 24 * time.Hour,
		CredentialTokenTTL: 24 * time.Hour,
		BcryptCost:         10,
		FrontendBaseURL:    "http://localhost:4200",
		LogLevel:           "info",
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	var err error
	if cfg.AccessPrivateKey, err = loadPrivateKey("ACCESS_TOKEN_PRIVATE_KEY"); err != nil {
		return nil, err
	}
	if cfg.AccessPublicKey, err = loadPublicKey("ACCESS_TOKEN_PUBLIC_KEY"); err != nil {
		return nil, err
	}
	if cfg.RefreshPrivateKey, err = loadPrivateKey("REFRESH_TOKEN_PRIVATE_KEY"); err != nil {
		return nil, err
	}
	if cfg.RefreshPublicKey, err = loadPublicKey("REFRESH_TOKEN_PUBLIC_KEY"); err != nil {
		return nil, err
	}

	if err := overrideDuration(&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL"); err != nil {
		return nil, err
	}
	if err := overrideDuration(&cfg.RefreshTokenTTL, "REFRESH_TOKEN_TTL"); err != nil {
		return nil, err
	}
	if err := overrideDuration(&cfg.CredentialTokenTTL, "CREDENTIAL_TOKEN_TTL"); err != nil {
		return nil, err
	}

	if v := os.Getenv("BCRYPT_COST"); v != "" {
		cost, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BCRYPT_COST %q: %w", v, err)
		}
		cfg.BcryptCost = cost
	}

	if v := os.Getenv("FRONTEND_BASE_URL"); v != "" {
		cfg.FrontendBaseURL = v
	}
	cfg.EmailSenderAddress = os.Getenv("EMAIL_SENDER_ADDRESS")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

func overrideDuration(dst *time.Duration, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = d
	return nil
}

func loadPrivateKey(name string) (*rsa.PrivateKey, error) {
	pem, err := decodeKeyEnv(name)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return key, nil
}

func loadPublicKey(name string) (*rsa.PublicKey, error) {
	pem, err := decodeKeyEnv(name)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return key, nil
}

func decodeKeyEnv(name string) ([]byte, error) {
	v := os.Getenv(name)
	if v == "" {
		return nil, fmt.Errorf("%s environment variable is required", name)
	}
	pem, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", name, err)
	}
	return pem, nil
}
