// Package blob implements the typed repositories on top of any
// repository.BlobStore by encoding whole collections as JSON documents.
//
// FAIL-SOFT LOADS:
// A document that is missing, unreadable or does not decode loads as an empty
// collection. Only the "not found" case is silent; everything else is logged
// at Warn so a corrupt file does not go unnoticed.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/checkinn/internal/apperror"
	"github.com/sakif/checkinn/internal/model"
	"github.com/sakif/checkinn/internal/repository"
)

var _ repository.IdentityRepository = (*IdentityStore)(nil)

// IdentityStore keeps credentials, profiles and the current session.
type IdentityStore struct {
	blobs  repository.BlobStore
	logger *slog.Logger
}

func NewIdentityStore(blobs repository.BlobStore, logger *slog.Logger) *IdentityStore {
	return &IdentityStore{blobs: blobs, logger: logger}
}

func (s *IdentityStore) LoadEmailAccounts(ctx context.Context) map[string]model.EmailAccount {
	accounts, _ := load[map[string]model.EmailAccount](ctx, s.blobs, s.logger, repository.KeyEmailAccounts)
	return nonNilMap(accounts)
}

func (s *IdentityStore) SaveEmailAccounts(ctx context.Context, accounts map[string]model.EmailAccount) error {
	return save(ctx, s.blobs, repository.KeyEmailAccounts, accounts)
}

func (s *IdentityStore) LoadExternalAccounts(ctx context.Context) map[string]model.ExternalAccount {
	accounts, _ := load[map[string]model.ExternalAccount](ctx, s.blobs, s.logger, repository.KeyExternalAccounts)
	return nonNilMap(accounts)
}

func (s *IdentityStore) SaveExternalAccounts(ctx context.Context, accounts map[string]model.ExternalAccount) error {
	return save(ctx, s.blobs, repository.KeyExternalAccounts, accounts)
}

func (s *IdentityStore) LoadProfiles(ctx context.Context) map[string]model.Profile {
	profiles, _ := load[map[string]model.Profile](ctx, s.blobs, s.logger, repository.KeyProfiles)
	return nonNilMap(profiles)
}

func (s *IdentityStore) SaveProfiles(ctx context.Context, profiles map[string]model.Profile) error {
	return save(ctx, s.blobs, repository.KeyProfiles, profiles)
}

// LoadSession returns nil when nobody is signed in or the document is unusable.
func (s *IdentityStore) LoadSession(ctx context.Context) *model.User {
	user, ok := load[*model.User](ctx, s.blobs, s.logger, repository.KeySession)
	if !ok {
		return nil
	}
	if user == nil || user.ID == "" {
		return nil
	}
	return user
}

func (s *IdentityStore) SaveSession(ctx context.Context, user model.User) error {
	return save(ctx, s.blobs, repository.KeySession, user)
}

func (s *IdentityStore) ClearSession(ctx context.Context) error {
	if err := s.blobs.Delete(ctx, repository.KeySession); err != nil {
		return fmt.Errorf("blob: clearing session: %w", err)
	}
	return nil
}

// load decodes the document at key and reports whether it did. On any
// failure it returns the zero value, never a partly decoded one.
func load[T any](ctx context.Context, blobs repository.BlobStore, logger *slog.Logger, key string) (T, bool) {
	var zero T
	data, err := blobs.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			logger.Warn("reading stored document failed, treating as empty",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return zero, false
	}
	if len(data) == 0 {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		logger.Warn("stored document does not decode, treating as empty",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return zero, false
	}
	return v, true
}

func save(ctx context.Context, blobs repository.BlobStore, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("blob: encoding %s: %w", key, err)
	}
	if err := blobs.Put(ctx, key, data); err != nil {
		return fmt.Errorf("blob: writing %s: %w", key, err)
	}
	return nil
}

// A stored JSON "null" decodes into a nil map.
func nonNilMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}
