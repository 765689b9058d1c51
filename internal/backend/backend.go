// Package backend is the composition root shared by both executables.
//
// Open reads a config.Config and assembles, in order:
//
//	blob store (sqlite | memory | s3)
//	  → IdentityStore, StayStore
//	    → AuthService (+ Apple verifier when configured), StayService
//
// Everything above the blob store only sees repository interfaces, so
// switching STORAGE never touches a service or handler.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/checkinn/internal/auth"
	"github.com/sakif/checkinn/internal/config"
	"github.com/sakif/checkinn/internal/locale"
	"github.com/sakif/checkinn/internal/repository"
	"github.com/sakif/checkinn/internal/repository/blob"
	"github.com/sakif/checkinn/internal/repository/memory"
	s3repo "github.com/sakif/checkinn/internal/repository/s3"
	sqliteRepo "github.com/sakif/checkinn/internal/repository/sqlite"
	"github.com/sakif/checkinn/internal/service"
)

// blobStore is a BlobStore that holds resources until closed.
type blobStore interface {
	repository.BlobStore
	Close() error
}

// Backend owns the store and the services built on it.
type Backend struct {
	Auth     *service.AuthService
	Stays    *service.StayService
	Language locale.Language

	// Apple is nil unless Apple sign-in is fully configured.
	Apple *auth.AppleProvider

	store  blobStore
	logger *slog.Logger
}

// Test seams.
var (
	newAppleProvider = auth.NewAppleProvider
	newPasswords     = auth.NewPasswordService
)

// Open builds a Backend from cfg. Extra AuthService options (for example
// service.WithoutCurrentSession for the HTTP server) are appended last.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...service.Option) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	lang := locale.Parse(cfg.Language)
	b := &Backend{Language: lang, store: store, logger: logger}

	authOpts := []service.Option{service.WithLanguage(lang)}
	if cfg.Apple.Enabled() {
		provider, err := openApple(ctx, cfg.Apple)
		if err != nil {
			store.Close()
			return nil, err
		}
		b.Apple = provider
		authOpts = append(authOpts, service.WithTokenVerifier(provider))
		logger.Info("Apple sign-in enabled", slog.String("clientID", cfg.Apple.ClientID))
	}
	authOpts = append(authOpts, opts...)

	b.Auth = service.NewAuthService(ctx,
		blob.NewIdentityStore(store, logger),
		newPasswords(),
		logger,
		authOpts...,
	)
	b.Stays = service.NewStayService(blob.NewStayStore(store, logger), lang, logger)

	return b, nil
}

// Close releases the underlying store.
func (b *Backend) Close() error {
	if err := b.store.Close(); err != nil {
		return fmt.Errorf("backend: closing store: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blobStore, error) {
	switch strings.ToLower(cfg.Storage) {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; nothing survives a restart")
		return memory.New(), nil

	case config.StorageS3:
		store, err := s3repo.New(ctx, s3repo.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("backend: opening s3 store: %w", err)
		}
		logger.Info("using s3 storage", slog.String("bucket", cfg.S3.Bucket), slog.String("prefix", cfg.S3.Prefix))
		return store, nil

	default:
		// The data directory may not exist on a fresh checkout.
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("backend: creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(ctx, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("backend: opening database: %w", err)
		}
		logger.Info("using sqlite storage", slog.String("path", cfg.DBPath))
		return db, nil
	}
}

// openApple needs the full key set: the same provider verifies native
// identity tokens and runs the web flow.
func openApple(ctx context.Context, cfg config.AppleConfig) (*auth.AppleProvider, error) {
	if !cfg.WebEnabled() {
		return nil, errors.New("backend: APPLE_CLIENT_ID also needs APPLE_TEAM_ID, APPLE_KEY_ID and APPLE_PRIVATE_KEY_PATH")
	}
	key, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("backend: reading Apple private key: %w", err)
	}

	provider, err := newAppleProvider(ctx, auth.AppleConfig{
		ClientID:    cfg.ClientID,
		TeamID:      cfg.TeamID,
		KeyID:       cfg.KeyID,
		PrivateKey:  key,
		CallbackURL: cfg.CallbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	return provider, nil
}
