// Package session holds the signed-in state a front end renders.
//
// A Controller sits between a front end (the CLI, a test) and an
// Authenticator. It mirrors the authenticator's current user, tracks whether
// an action is in flight, and turns failures into a message the person at
// the keyboard can read:
//
//	front end → Controller → Authenticator (service.AuthService)
//	                ↑______________________|  user-change subscription
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/sakif/checkinn/internal/apperror"
	"github.com/sakif/checkinn/internal/auth"
	"github.com/sakif/checkinn/internal/locale"
	"github.com/sakif/checkinn/internal/model"
)

// NonceLength is the length of the raw nonce generated for Apple sign-in.
const NonceLength = 32

// Authenticator is the subset of service.AuthService a Controller drives.
type Authenticator interface {
	SignInWithEmail(ctx context.Context, email, password string) (*model.User, error)
	SignUpWithEmail(ctx context.Context, email, password, displayName string) (*model.User, error)
	SignInWithApple(ctx context.Context, cred *auth.AppleCredential, rawNonce string) (*model.User, error)
	UpdateDisplayName(ctx context.Context, name string) (*model.User, error)
	SignOut(ctx context.Context) error
	Subscribe(fn func(*model.User)) (cancel func())
}

// State is a point-in-time copy of what a front end shows.
type State struct {
	User         *model.User
	IsLoading    bool
	ErrorMessage string
}

// Controller is the observable session state for one front end.
//
// isLoading is advisory: it tells a front end to disable its buttons, it does
// not stop two goroutines from calling actions at the same time.
type Controller struct {
	auth   Authenticator
	lang   locale.Language
	logger *slog.Logger

	mu           sync.Mutex
	user         *model.User
	loading      bool
	errorMessage string
	pendingNonce string

	unsubscribe func()
}

// NewController subscribes to a's user changes. The current user is known
// as soon as NewController returns.
func NewController(a Authenticator, lang locale.Language, logger *slog.Logger) *Controller {
	c := &Controller{auth: a, lang: lang, logger: logger}
	c.unsubscribe = a.Subscribe(c.setUser)
	return c
}

// Close stops mirroring the authenticator. Safe to call more than once.
func (c *Controller) Close() {
	c.unsubscribe()
}

func (c *Controller) setUser(u *model.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = u
}

// User returns the mirrored current user, or nil.
func (c *Controller) User() *model.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// IsLoading reports whether an action is in flight.
func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// ErrorMessage is the localized text of the last failure, "" after a success.
func (c *Controller) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorMessage
}

// State returns all three fields at once.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{IsLoading: c.loading, ErrorMessage: c.errorMessage}
	if c.user != nil {
		u := *c.user
		s.User = &u
	}
	return s
}

// ClearError dismisses the current error message.
func (c *Controller) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorMessage = ""
}

// PublicUserID is a short display id for the signed-in user, "" when signed
// out. See PublicID.
func (c *Controller) PublicUserID() string {
	u := c.User()
	if u == nil {
		return ""
	}
	return PublicID(u.ID)
}

// PublicID derives "CHK-" plus the first four bytes of SHA-256(userID) in
// upper-case hex. It is cosmetic and must not be used to authorize anything.
func PublicID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return "CHK-" + strings.ToUpper(hex.EncodeToString(sum[:4]))
}

// SignIn signs in with email and password.
func (c *Controller) SignIn(ctx context.Context, email, password string) error {
	return c.run(ctx, "sign in", func(ctx context.Context) error {
		_, err := c.auth.SignInWithEmail(ctx, email, password)
		return err
	})
}

// SignUp creates an email account and signs it in.
func (c *Controller) SignUp(ctx context.Context, email, password, displayName string) error {
	return c.run(ctx, "sign up", func(ctx context.Context) error {
		_, err := c.auth.SignUpWithEmail(ctx, email, password, displayName)
		return err
	})
}

// PrepareAppleSignIn starts an Apple sign-in attempt. It remembers a fresh
// raw nonce and returns its hash, which goes into the Apple request.
// Starting again replaces any earlier pending nonce.
func (c *Controller) PrepareAppleSignIn() (hashedNonce string, err error) {
	raw, err := auth.RandomNonce(NonceLength)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingNonce = raw
	c.errorMessage = ""
	return auth.HashNonce(raw), nil
}

// CompleteAppleSignIn finishes the attempt started by PrepareAppleSignIn.
// The pending nonce is consumed whether or not sign-in succeeds.
func (c *Controller) CompleteAppleSignIn(ctx context.Context, cred *auth.AppleCredential) error {
	c.mu.Lock()
	nonce := c.pendingNonce
	c.pendingNonce = ""
	c.mu.Unlock()

	return c.run(ctx, "sign in with Apple", func(ctx context.Context) error {
		if nonce == "" {
			return apperror.MissingThirdPartyNonce()
		}
		_, err := c.auth.SignInWithApple(ctx, cred, nonce)
		return err
	})
}

// FailAppleSignIn records a failure reported by the Apple sign-in UI itself
// and abandons the pending attempt.
func (c *Controller) FailAppleSignIn(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingNonce = ""
	if err != nil {
		c.errorMessage = c.message(err)
	}
}

// SignOut ends the current session.
func (c *Controller) SignOut(ctx context.Context) error {
	return c.run(ctx, "sign out", c.auth.SignOut)
}

// UpdateDisplayName renames the signed-in user.
func (c *Controller) UpdateDisplayName(ctx context.Context, name string) error {
	return c.run(ctx, "update display name", func(ctx context.Context) error {
		_, err := c.auth.UpdateDisplayName(ctx, name)
		return err
	})
}

// run wraps one action: loading is set for exactly its duration, and the
// error message reflects its outcome.
func (c *Controller) run(ctx context.Context, action string, fn func(context.Context) error) error {
	done := c.begin()
	defer done()

	err := fn(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.errorMessage = c.message(err)
		c.logFailure(action, err)
		return err
	}
	c.errorMessage = ""
	return nil
}

func (c *Controller) begin() (done func()) {
	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}
}

func (c *Controller) message(err error) string {
	return apperror.Localize(err, c.lang)
}

func (c *Controller) logFailure(action string, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		c.logger.Info(action+" rejected", slog.String("code", appErr.Code))
		return
	}
	c.logger.Error(action+" failed", slog.String("error", err.Error()))
}
