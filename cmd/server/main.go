// Package main is the entry point for the CheckInn HTTP API.
//
// The main package stays minimal. Its job is to:
//  1. Read configuration (defaults, optional JSON file, environment)
//  2. Create dependencies (logger, backend)
//  3. Start the server
//
// All actual logic lives in internal/ packages.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/sakif/checkinn/internal/backend"
	"github.com/sakif/checkinn/internal/config"
	"github.com/sakif/checkinn/internal/logging"
	"github.com/sakif/checkinn/internal/server"
	"github.com/sakif/checkinn/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (default $CHECKINN_CONFIG)")
	secureCookies := flag.Bool("secure-cookies", false, "mark the session cookie Secure (serve over HTTPS)")
	flag.Parse()

	// === 1. CONFIGURATION ===
	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		slog.Error("loading config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. LOGGING ===
	// Colour only when someone is watching; JSON when LOG_FORMAT=json.
	logger := logging.New(os.Stdout, logging.Options{
		Level:   logging.ParseLevel(cfg.LogLevel),
		Format:  cfg.LogFormat,
		NoColor: !term.IsTerminal(int(os.Stdout.Fd())),
	})
	slog.SetDefault(logger)

	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required (e.g. JWT_SECRET=$(openssl rand -hex 32))")
		os.Exit(1)
	}

	// === 3. BACKEND ===
	// Many users share one process, so no sign-in becomes "the" session.
	b, err := backend.Open(context.Background(), cfg, logger, service.WithoutCurrentSession())
	if err != nil {
		logger.Error("failed to open backend", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 4. SERVER ===
	srv, err := server.New(server.Config{
		Port:          cfg.Port,
		JWTSecret:     cfg.JWTSecret,
		SecureCookies: *secureCookies,
	}, b, logger)
	if err != nil {
		b.Close()
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM and closes the backend on the way out.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
