package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/chef-chat/internal/server"
)

// Config is the process configuration, read from the environment (and a
// .env file, when present) by env.UnmarshalFromEnviron.
//
// Example .env for local development:
//
//	JWT_SECRET=change-me-to-something-long
//	STORE_DRIVER=sqlite
//	DB_PATH=data/chat.db
//	ALLOWED_ORIGINS=http://localhost:5173
type Config struct {
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	StoreDriver string `env:"STORE_DRIVER,default=sqlite"`
	DBPath      string `env:"DB_PATH,default=data/chat.db"`
	BadgerDir   string `env:"BADGER_DIR,default=data/badger"`

	BlobDir        string `env:"BLOB_DIR,default=data/blobs"`
	PublicURL      string `env:"PUBLIC_URL"`
	UploadMaxBytes int    `env:"UPLOAD_MAX_BYTES,default=5242880"`

	// JWT_SECRET must be a long random string. Use:
	//   JWT_SECRET=$(openssl rand -hex 32)
	JWTSecret string `env:"JWT_SECRET,required=true"`

	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string `env:"GITHUB_CALLBACK_URL"`

	// Comma-separated list of browser origins allowed on /api/live, or "*".
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`
}

// serverConfig checks c and fills in the values derived from other values.
func (c Config) serverConfig() (server.Config, error) {
	if c.Port <= 0 || c.Port > 65535 {
		return server.Config{}, fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.StoreDriver != server.DriverSQLite && c.StoreDriver != server.DriverBadger {
		return server.Config{}, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q",
			server.DriverSQLite, server.DriverBadger, c.StoreDriver)
	}
	if c.UploadMaxBytes <= 0 {
		return server.Config{}, errors.New("UPLOAD_MAX_BYTES must be positive")
	}
	if c.GitHubClientID != "" && c.GitHubClientSecret == "" {
		return server.Config{}, errors.New("GITHUB_CLIENT_SECRET is required when GITHUB_CLIENT_ID is set")
	}

	publicURL := c.PublicURL
	if publicURL == "" {
		publicURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	callbackURL := c.GitHubCallbackURL
	if callbackURL == "" {
		callbackURL = strings.TrimRight(publicURL, "/") + "/auth/github/callback"
	}

	return server.Config{
		Port:               c.Port,
		StoreDriver:        c.StoreDriver,
		DBPath:             c.DBPath,
		BadgerDir:          c.BadgerDir,
		BlobDir:            c.BlobDir,
		PublicURL:          publicURL,
		UploadMaxBytes:     int64(c.UploadMaxBytes),
		JWTSecret:          c.JWTSecret,
		GitHubClientID:     c.GitHubClientID,
		GitHubClientSecret: c.GitHubClientSecret,
		GitHubCallbackURL:  callbackURL,
		AllowedOrigins:     splitList(c.AllowedOrigins),
	}, nil
}

// parseLevel maps LOG_LEVEL to a slog level: debug, info, warn or error.
func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
