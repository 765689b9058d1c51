// Package service holds the business rules of the app: accounts and the
// current session (AuthService) and each user's stay list (StayService).
//
// AuthService owns who is signed in on this device. It sits between the
// front ends (HTTP handlers, the CLI session controller) and storage:
//
//	Handler / session.Controller → AuthService → IdentityRepository → BlobStore
//	                                           ↘ PasswordService (argon2id)
//	                                           ↘ Apple verifier / remote delegate (optional)
//
// THREE KINDS OF RECORD:
//   - EmailAccount    keyed by normalized email, holds the password hash
//   - ExternalAccount keyed by Apple's subject id
//   - Profile         keyed by user id; the merged view every sign-in path
//     writes through (see mergeAndPersistProfile)
//
// Plus the current session: the User returned by the last successful
// sign-in, persisted so it survives restarts.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sakif/checkinn/internal/apperror"
	"github.com/sakif/checkinn/internal/auth"
	"github.com/sakif/checkinn/internal/locale"
	"github.com/sakif/checkinn/internal/model"
	"github.com/sakif/checkinn/internal/repository"
)

// MinPasswordLength is counted in characters, not bytes.
const MinPasswordLength = 4

// RemoteIdentity is what a hosted identity backend returns for a
// third-party sign-in.
type RemoteIdentity struct {
	UserID      string
	Email       *string
	DisplayName *string
}

// RemoteAuthenticator delegates third-party sign-in to a hosted backend
// that owns user ids. When configured, local ExternalAccount records are
// not consulted.
type RemoteAuthenticator interface {
	SignInWithIDToken(ctx context.Context, idToken, rawNonce string, fullName *string) (*RemoteIdentity, error)
}

// IdentityTokenVerifier checks a provider ID token. *auth.AppleProvider
// implements it.
type IdentityTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken, rawNonce string) (*auth.IdentityClaims, error)
}

// AuthService handles account creation, sign-in, profile updates and the
// current session.
//
// CONCURRENCY:
// Every mutating call holds mu for its whole read-modify-write, so two
// goroutines in one process never interleave writes to the same document.
// Separate processes sharing a store are still last-write-wins.
// The current user lives in an atomic pointer so CurrentUser never blocks,
// not even from inside a Subscribe callback.
type AuthService struct {
	mu         sync.Mutex
	identities repository.IdentityRepository
	passwords  *auth.PasswordService
	remote     RemoteAuthenticator
	verifier   IdentityTokenVerifier
	lang       locale.Language
	logger     *slog.Logger
	detached   bool

	current atomic.Pointer[model.User]
	feed    *userFeed
	newID   func(prefix string) string
}

// Option configures optional AuthService collaborators.
type Option func(*AuthService)

// WithRemote routes Apple sign-in through a hosted backend.
func WithRemote(r RemoteAuthenticator) Option {
	return func(s *AuthService) { s.remote = r }
}

// WithTokenVerifier makes local Apple sign-in verify the identity token.
func WithTokenVerifier(v IdentityTokenVerifier) Option {
	return func(s *AuthService) { s.verifier = v }
}

// WithLanguage sets the language of generated text such as the placeholder
// name for Apple accounts that never shared one.
func WithLanguage(l locale.Language) Option {
	return func(s *AuthService) { s.lang = l }
}

// WithoutCurrentSession is for services shared by many users, such as the
// HTTP API: sign-ins return the user but never become the device session,
// and no session is restored at start-up.
func WithoutCurrentSession() Option {
	return func(s *AuthService) { s.detached = true }
}

// NewAuthService wires the service and restores the persisted session.
// A missing or unreadable session simply means nobody is signed in.
func NewAuthService(
	ctx context.Context,
	identities repository.IdentityRepository,
	passwords *auth.PasswordService,
	logger *slog.Logger,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		identities: identities,
		passwords:  passwords,
		lang:       locale.System,
		logger:     logger,
		newID:      newUserID,
	}
	for _, opt := range opts {
		opt(s)
	}

	var session *model.User
	if !s.detached {
		session = identities.LoadSession(ctx)
	}
	s.current.Store(session)
	s.feed = newUserFeed(session)

	if session != nil {
		logger.Info("restored session", slog.String("userID", session.ID))
	}
	return s
}

// VerifiesApple reports whether Apple sign-in is checked by a token verifier
// or a remote delegate rather than trusting the credential's subject.
func (s *AuthService) VerifiesApple() bool {
	return s.verifier != nil || s.remote != nil
}

// CurrentUser returns the signed-in user, or nil.
func (s *AuthService) CurrentUser() *model.User {
	return cloneUser(s.current.Load())
}

// Subscribe registers fn for current-user changes. fn is called at once
// with the current value, then after every sign-in, profile update and
// sign-out. Call cancel to stop receiving.
func (s *AuthService) Subscribe(fn func(*model.User)) (cancel func()) {
	return s.feed.subscribe(fn)
}

// SignInWithEmail signs in an existing email account.
//
// Lookup comes first: an unknown email is AccountNotFound even when the
// password is also too short. The stored display name wins over whatever
// the Profile would otherwise take from this sign-in.
func (s *AuthService) SignInWithEmail(ctx context.Context, email, password string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := normalizeEmail(email)

	accounts := s.identities.LoadEmailAccounts(ctx)
	account, ok := accounts[normalized]
	if !ok {
		return nil, apperror.AccountNotFound()
	}

	if utf8.RuneCountInString(password) < MinPasswordLength {
		return nil, apperror.InvalidCredentials()
	}
	if err := s.passwords.Verify(account.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrMalformedHash) {
			s.logger.Warn("stored password hash is unreadable",
				slog.String("userID", account.ID),
			)
		}
		return nil, apperror.InvalidCredentials()
	}

	account.Email = normalized
	accounts[normalized] = account
	if err := s.identities.SaveEmailAccounts(ctx, accounts); err != nil {
		return nil, fmt.Errorf("service/auth: saving email accounts: %w", err)
	}

	incoming := model.User{ID: account.ID, Email: &normalized, DisplayName: account.DisplayName}
	user, err := s.mergeAndPersistProfile(ctx, incoming, false)
	if err != nil {
		return nil, err
	}

	if err := s.startSession(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("signed in with email", slog.String("userID", user.ID))
	return cloneUser(&user), nil
}

// SignUpWithEmail creates an email account and signs it in.
//
// The display name defaults to the part of the email before "@".
func (s *AuthService) SignUpWithEmail(ctx context.Context, email, password, displayName string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := normalizeEmail(email)
	if utf8.RuneCountInString(password) < MinPasswordLength || !strings.Contains(normalized, "@") {
		return nil, apperror.InvalidCredentials()
	}

	accounts := s.identities.LoadEmailAccounts(ctx)
	if _, exists := accounts[normalized]; exists {
		return nil, apperror.AccountAlreadyExists()
	}

	name := model.NormalizeText(displayName)
	if name == nil {
		local, _, _ := strings.Cut(normalized, "@")
		name = model.NormalizeText(local)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	id := s.newID("u_")
	accounts[normalized] = model.EmailAccount{
		ID:           id,
		Email:        normalized,
		PasswordHash: hash,
		DisplayName:  name,
	}
	if err := s.identities.SaveEmailAccounts(ctx, accounts); err != nil {
		return nil, fmt.Errorf("service/auth: saving email accounts: %w", err)
	}

	user, err := s.mergeAndPersistProfile(ctx, model.User{ID: id, Email: &normalized, DisplayName: name}, true)
	if err != nil {
		return nil, err
	}

	if err := s.startSession(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("email account created", slog.String("userID", user.ID))
	return cloneUser(&user), nil
}

// SignInWithApple signs in (creating on first use) with an Apple credential.
//
// THREE PATHS:
//   - remote delegate configured: the backend decides the user id
//   - token verifier configured: the ID token must verify against rawNonce
//     and its subject must match the credential
//   - neither: the credential's subject is trusted as-is, which is only
//     allowed for the device's own service; a service built with
//     WithoutCurrentSession refuses with InvalidThirdPartyToken
//
// The last two share the ExternalAccount bookkeeping.
func (s *AuthService) SignInWithApple(ctx context.Context, cred *auth.AppleCredential, rawNonce string) (*model.User, error) {
	if cred == nil {
		return nil, apperror.InvalidThirdPartyCredential()
	}
	if strings.TrimSpace(cred.IdentityToken) == "" {
		return nil, apperror.InvalidThirdPartyToken()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fullName := cred.FullName()
	email := model.NormalizePtr(cred.Email)

	var (
		user model.User
		err  error
	)
	if s.remote != nil {
		user, err = s.signInRemote(ctx, cred, rawNonce, email, fullName)
	} else {
		user, err = s.signInLocalApple(ctx, cred, rawNonce, email, fullName)
	}
	if err != nil {
		return nil, err
	}

	if err := s.startSession(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("signed in with Apple", slog.String("userID", user.ID))
	return cloneUser(&user), nil
}

func (s *AuthService) signInRemote(ctx context.Context, cred *auth.AppleCredential, rawNonce string, email, fullName *string) (model.User, error) {
	if rawNonce == "" {
		return model.User{}, apperror.MissingThirdPartyNonce()
	}

	identity, err := s.remote.SignInWithIDToken(ctx, cred.IdentityToken, rawNonce, fullName)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return model.User{}, err
		}
		return model.User{}, fmt.Errorf("service/auth: remote sign-in: %w", err)
	}
	if identity == nil || identity.UserID == "" {
		return model.User{}, apperror.InvalidThirdPartyToken()
	}

	incoming := model.User{
		ID:          identity.UserID,
		Email:       firstNonNil(model.NormalizePtr(identity.Email), email),
		DisplayName: firstNonNil(model.NormalizePtr(identity.DisplayName), fullName),
	}
	return s.mergeAndPersistProfile(ctx, incoming, true)
}

func (s *AuthService) signInLocalApple(ctx context.Context, cred *auth.AppleCredential, rawNonce string, email, fullName *string) (model.User, error) {
	subject := strings.TrimSpace(cred.Subject)

	if s.verifier == nil && s.detached {
		s.logger.Warn("unverified Apple sign-in refused on a shared service")
		return model.User{}, apperror.InvalidThirdPartyToken()
	}

	if s.verifier != nil {
		if rawNonce == "" {
			return model.User{}, apperror.MissingThirdPartyNonce()
		}
		claims, err := s.verifier.Verify(ctx, cred.IdentityToken, rawNonce)
		if err != nil {
			s.logger.Warn("Apple identity token rejected", slog.String("error", err.Error()))
			return model.User{}, apperror.InvalidThirdPartyToken()
		}
		if claims == nil || claims.Subject == "" {
			return model.User{}, apperror.InvalidThirdPartyToken()
		}
		if subject != "" && subject != claims.Subject {
			s.logger.Warn("Apple identity token subject mismatch")
			return model.User{}, apperror.InvalidThirdPartyToken()
		}
		subject = claims.Subject
		if email == nil {
			email = claims.Email
		}
	}

	if subject == "" {
		return model.User{}, apperror.InvalidThirdPartyCredential()
	}

	accounts := s.identities.LoadExternalAccounts(ctx)
	account, ok := accounts[subject]
	if ok {
		if email != nil {
			account.Email = email
		}
		if fullName != nil {
			account.DisplayName = fullName
		}
	} else {
		name := fullName
		if name == nil {
			name = model.String(locale.Text(s.lang, "Appleユーザー", "Apple User"))
		}
		account = model.ExternalAccount{
			ID:          s.newID("a_"),
			SubjectID:   subject,
			Email:       email,
			DisplayName: name,
		}
	}

	accounts[subject] = account
	if err := s.identities.SaveExternalAccounts(ctx, accounts); err != nil {
		return model.User{}, fmt.Errorf("service/auth: saving external accounts: %w", err)
	}

	incoming := model.User{ID: account.ID, Email: account.Email, DisplayName: account.DisplayName}
	return s.mergeAndPersistProfile(ctx, incoming, true)
}

// UpdateDisplayName renames the signed-in user.
func (s *AuthService) UpdateDisplayName(ctx context.Context, name string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.current.Load()
	if current == nil {
		return nil, apperror.NotAuthenticated()
	}

	user, err := s.rename(ctx, current.ID, current.Email, name)
	if err != nil {
		return nil, err
	}

	if err := s.startSession(ctx, user); err != nil {
		return nil, err
	}
	return cloneUser(&user), nil
}

// RenameUser renames an arbitrary user by id, for callers that carry their
// own authentication (the HTTP API). If that user is also the signed-in one
// here, the session is refreshed too.
func (s *AuthService) RenameUser(ctx context.Context, userID, name string) (*model.User, error) {
	if userID == "" {
		return nil, apperror.NotAuthenticated()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.identities.LoadProfiles(ctx)[userID]
	if !ok {
		return nil, apperror.NotFound("user", userID)
	}

	user, err := s.rename(ctx, userID, profile.Email, name)
	if err != nil {
		return nil, err
	}

	if current := s.current.Load(); current != nil && current.ID == userID {
		if err := s.startSession(ctx, user); err != nil {
			return nil, err
		}
	}
	return cloneUser(&user), nil
}

// rename writes the new name to every credential record of userID and then
// merges it into the Profile, incoming wins.
func (s *AuthService) rename(ctx context.Context, userID string, email *string, name string) (model.User, error) {
	normalized := model.NormalizeText(name)

	emailAccounts := s.identities.LoadEmailAccounts(ctx)
	changed := false
	for key, account := range emailAccounts {
		if account.ID == userID {
			account.DisplayName = normalized
			emailAccounts[key] = account
			changed = true
		}
	}
	if changed {
		if err := s.identities.SaveEmailAccounts(ctx, emailAccounts); err != nil {
			return model.User{}, fmt.Errorf("service/auth: saving email accounts: %w", err)
		}
	}

	externalAccounts := s.identities.LoadExternalAccounts(ctx)
	changed = false
	for key, account := range externalAccounts {
		if account.ID == userID {
			account.DisplayName = normalized
			externalAccounts[key] = account
			changed = true
		}
	}
	if changed {
		if err := s.identities.SaveExternalAccounts(ctx, externalAccounts); err != nil {
			return model.User{}, fmt.Errorf("service/auth: saving external accounts: %w", err)
		}
	}

	user, err := s.mergeAndPersistProfile(ctx, model.User{ID: userID, Email: email, DisplayName: normalized}, true)
	if err != nil {
		return model.User{}, err
	}

	s.logger.Info("display name updated", slog.String("userID", userID))
	return user, nil
}

// SignOut forgets the current session. Signing out while signed out is a
// no-op that still notifies subscribers with nil.
func (s *AuthService) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.identities.ClearSession(ctx); err != nil {
		return fmt.Errorf("service/auth: clearing session: %w", err)
	}

	previous := s.current.Swap(nil)
	s.feed.publish(nil)

	if previous != nil {
		s.logger.Info("signed out", slog.String("userID", previous.ID))
	}
	return nil
}

// GetUser returns the merged profile of userID.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	profile, ok := s.identities.LoadProfiles(ctx)[userID]
	if !ok {
		return nil, apperror.NotFound("user", userID)
	}
	user := profile.User()
	return &user, nil
}

// mergeAndPersistProfile folds incoming into the stored Profile.
//
// MERGE RULES:
//   - no Profile yet: start an empty one for incoming.ID
//   - a non-empty incoming email always replaces the stored one
//   - a non-empty incoming name replaces the stored one when preferIncoming,
//     otherwise it only fills an unset name
//
// Email sign-in uses preferIncoming=false so a name set through a profile
// update survives the next password sign-in. Every other path passes true.
//
// The returned user prefers Profile values and falls back to incoming.
func (s *AuthService) mergeAndPersistProfile(ctx context.Context, incoming model.User, preferIncoming bool) (model.User, error) {
	profiles := s.identities.LoadProfiles(ctx)

	inEmail := model.NormalizePtr(incoming.Email)
	inName := model.NormalizePtr(incoming.DisplayName)

	profile, exists := profiles[incoming.ID]
	if !exists {
		profile = model.Profile{ID: incoming.ID}
	}
	if inEmail != nil {
		profile.Email = inEmail
	}
	if inName != nil && (preferIncoming || profile.DisplayName == nil) {
		profile.DisplayName = inName
	}

	profiles[incoming.ID] = profile
	if err := s.identities.SaveProfiles(ctx, profiles); err != nil {
		return model.User{}, fmt.Errorf("service/auth: saving profiles: %w", err)
	}

	return model.User{
		ID:          incoming.ID,
		Email:       firstNonNil(profile.Email, incoming.Email),
		DisplayName: firstNonNil(profile.DisplayName, incoming.DisplayName),
	}, nil
}

// startSession persists user as the current session and notifies subscribers.
func (s *AuthService) startSession(ctx context.Context, user model.User) error {
	if s.detached {
		return nil
	}
	if err := s.identities.SaveSession(ctx, user); err != nil {
		return fmt.Errorf("service/auth: saving session: %w", err)
	}
	s.current.Store(cloneUser(&user))
	s.feed.publish(&user)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// newUserID is prefix + 12 lowercase hex characters of a random UUID.
func newUserID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + hex[:12]
}

func firstNonNil(values ...*string) *string {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
