// Package main is the entry point for the chat server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main" package.
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (from env vars and an optional .env file)
// 2. Create dependencies (logger, data directories)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
//
// WHY cmd/server/?
// The cmd/ directory is a Go convention for executable entry points.
// This project has two: cmd/server (this one) and cmd/chatctl (a CLI client).
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"

	"github.com/sakif/chef-chat/internal/server"
)

// Exit codes.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chat server: %v\n", err)
	}
	os.Exit(code)
}

// run does the work of main and returns the exit code, so deferred cleanup
// runs before the process exits.
func run() (int, error) {
	// === 1. READ CONFIGURATION ===
	// A missing .env is fine: in production the variables come from the
	// environment directly.
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return exitConfig, fmt.Errorf("config: %w", err)
	}

	// === 2. SET UP LOGGING ===
	// Log levels (from least to most severe): Debug → Info → Warn → Error
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return exitConfig, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	serverCfg, err := cfg.serverConfig()
	if err != nil {
		return exitConfig, fmt.Errorf("config: %w", err)
	}

	// === 3. DATA DIRECTORIES ===
	// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
	if serverCfg.StoreDriver == server.DriverSQLite && serverCfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(serverCfg.DBPath), 0o755); err != nil {
			return exitRuntime, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(serverCfg, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("creating server: %w", err)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		return exitRuntime, err
	}
	return exitOK, nil
}
