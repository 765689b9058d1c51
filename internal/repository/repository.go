// Package repository defines the storage contracts the services depend on.
//
// Everything persisted is a JSON document stored under a string key in a
// BlobStore. The typed repositories sit on top and own the encoding; the
// blob stores (sqlite, memory, s3) only move bytes around.
package repository

import (
	"context"

	"github.com/sakif/checkinn/internal/model"
)

// Keys of the identity documents. Stays live under StaysKey(userID).
const (
	KeySession          = "current-session"
	KeyEmailAccounts    = "email-accounts"
	KeyExternalAccounts = "external-accounts"
	KeyProfiles         = "profiles"
)

// StaysKey is the key holding one user's stay list.
func StaysKey(userID string) string {
	return "stays:" + userID
}

// BlobStore is a flat key-value store of opaque documents.
//
// Get returns an error wrapping apperror.ErrNotFound when the key is absent.
// Delete of a missing key is not an error.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// IdentityRepository persists credentials, profiles and the current session.
//
// Loads never fail: a missing or unreadable document is an empty collection.
// Saves replace the whole document.
type IdentityRepository interface {
	LoadEmailAccounts(ctx context.Context) map[string]model.EmailAccount
	SaveEmailAccounts(ctx context.Context, accounts map[string]model.EmailAccount) error

	LoadExternalAccounts(ctx context.Context) map[string]model.ExternalAccount
	SaveExternalAccounts(ctx context.Context, accounts map[string]model.ExternalAccount) error

	LoadProfiles(ctx context.Context) map[string]model.Profile
	SaveProfiles(ctx context.Context, profiles map[string]model.Profile) error

	LoadSession(ctx context.Context) *model.User
	SaveSession(ctx context.Context, user model.User) error
	ClearSession(ctx context.Context) error
}

// StayRepository persists each user's stay list as one document.
type StayRepository interface {
	LoadStays(ctx context.Context, userID string) []model.Stay
	SaveStays(ctx context.Context, userID string, stays []model.Stay) error
}
