package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/checkinn/internal/apperror"
	"github.com/sakif/checkinn/internal/auth"
	"github.com/sakif/checkinn/internal/model"
	"github.com/sakif/checkinn/internal/session"
)

// Cookie names used by the Apple web flow. Both are single-use.
const (
	appleStateCookie = "apple_state"
	appleNonceCookie = "apple_nonce"
)

// AccountService is what AuthHandler needs from service.AuthService.
type AccountService interface {
	SignInWithEmail(ctx context.Context, email, password string) (*model.User, error)
	SignUpWithEmail(ctx context.Context, email, password, displayName string) (*model.User, error)
	SignInWithApple(ctx context.Context, cred *auth.AppleCredential, rawNonce string) (*model.User, error)
	RenameUser(ctx context.Context, userID, name string) (*model.User, error)
	GetUser(ctx context.Context, userID string) (*model.User, error)
}

// AppleWebFlow is the browser side of Sign in with Apple.
// *auth.AppleProvider implements it.
type AppleWebFlow interface {
	AuthURL(state, hashedNonce string) string
	Exchange(ctx context.Context, code string) (string, error)
	Verify(ctx context.Context, rawIDToken, rawNonce string) (*auth.IdentityClaims, error)
}

// AuthHandler serves sign-up, sign-in (email and Apple), sign-out and the
// signed-in user's profile.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignUp / HandleSignIn   → email credentials, issue JWT
//   - HandleAppleNative            → identity token from a native client
//   - HandleAppleLogin / Callback  → browser redirect flow (optional)
//   - HandleSignOut                → clear the JWT cookie
//   - HandleMe / HandleDisplayName → read and rename the current user
//
// Every successful sign-in answers with the same SessionResponse and also
// sets the "token" cookie, so browsers and API clients share one code path.
type AuthHandler struct {
	accounts     AccountService
	tokens       *auth.TokenService
	apple        AppleWebFlow
	secureCookie bool
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler. apple may be nil, in which case the
// browser Apple routes answer 404.
func NewAuthHandler(accounts AccountService, tokens *auth.TokenService, apple AppleWebFlow, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		tokens:   tokens,
		apple:    apple,
		logger:   logger,
	}
}

// SetSecureCookies marks issued cookies Secure (HTTPS only).
func (h *AuthHandler) SetSecureCookies(secure bool) {
	h.secureCookie = secure
}

// SessionResponse is returned by every sign-in endpoint.
type SessionResponse struct {
	User     *model.User `json:"user"`
	PublicID string      `json:"publicId"`
	Token    string      `json:"token"`
}

// MeResponse is returned by GET /api/me.
type MeResponse struct {
	User     *model.User `json:"user"`
	PublicID string      `json:"publicId"`
}

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type appleRequest struct {
	Credential *auth.AppleCredential `json:"credential"`
	Nonce      string                `json:"nonce"`
}

type displayNameRequest struct {
	DisplayName string `json:"displayName"`
}

// HandleSignUp creates an email account.
//
// HTTP: POST /api/auth/signup
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.accounts.SignUpWithEmail(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		h.fail(w, r, "sign up", err)
		return
	}
	h.issueSession(w, r, http.StatusCreated, user)
}

// HandleSignIn signs in with email and password.
//
// HTTP: POST /api/auth/signin
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.accounts.SignInWithEmail(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, "sign in", err)
		return
	}
	h.issueSession(w, r, http.StatusOK, user)
}

// HandleAppleNative accepts the credential a native Sign in with Apple sheet
// produced, together with the raw nonce the client generated.
//
// HTTP: POST /api/auth/apple
func (h *AuthHandler) HandleAppleNative(w http.ResponseWriter, r *http.Request) {
	var req appleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.accounts.SignInWithApple(r.Context(), req.Credential, req.Nonce)
	if err != nil {
		h.fail(w, r, "Apple sign in", err)
		return
	}
	h.issueSession(w, r, http.StatusOK, user)
}

// HandleAppleLogin starts the browser flow.
//
// HTTP: GET /auth/apple/login
//
// CSRF AND REPLAY PROTECTION:
// A random state and a raw nonce go into short-lived cookies. Apple echoes
// the state in its callback and embeds HashNonce(raw) in the ID token, so
// the callback can check both against the cookies.
//
// Apple calls back with a cross-site form POST, which SameSite=Lax cookies
// would not survive; these two use SameSite=None and are therefore Secure.
func (h *AuthHandler) HandleAppleLogin(w http.ResponseWriter, r *http.Request) {
	if h.apple == nil {
		http.NotFound(w, r)
		return
	}

	rawNonce, err := auth.RandomNonce(session.NonceLength)
	if err != nil {
		h.logger.Error("apple login: generating nonce failed", slog.String("error", err.Error()))
		writeError(w, r, err)
		return
	}
	state := xid.New().String()

	for name, value := range map[string]string{appleStateCookie: state, appleNonceCookie: rawNonce} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/auth/apple",
			MaxAge:   600, // 10 minutes
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteNoneMode,
		})
	}

	http.Redirect(w, r, h.apple.AuthURL(state, auth.HashNonce(rawNonce)), http.StatusTemporaryRedirect)
}

// HandleAppleCallback completes the browser flow.
//
// HTTP: POST /auth/apple/callback (application/x-www-form-urlencoded)
//
// FLOW:
//  1. Check the state form field against the state cookie
//  2. Exchange the code for an ID token
//  3. Verify the token and its nonce, build an AppleCredential
//  4. Sign in through the account service, issue the JWT cookie
//  5. Redirect to the app home page
func (h *AuthHandler) HandleAppleCallback(w http.ResponseWriter, r *http.Request) {
	if h.apple == nil {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	// --- Step 1: CSRF state ---
	stateCookie, err := r.Cookie(appleStateCookie)
	if err != nil || stateCookie.Value == "" || r.PostFormValue("state") != stateCookie.Value {
		h.logger.Warn("apple callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	nonceCookie, err := r.Cookie(appleNonceCookie)
	rawNonce := ""
	if err == nil {
		rawNonce = nonceCookie.Value
	}
	h.clearAppleCookies(w)

	if errParam := r.PostFormValue("error"); errParam != "" {
		h.logger.Info("apple callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.PostFormValue("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	// --- Step 2: code → ID token ---
	idToken, err := h.apple.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("apple callback: exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusBadGateway)
		return
	}

	// --- Step 3: verify, then assemble the credential ---
	if rawNonce == "" {
		writeError(w, r, apperror.MissingThirdPartyNonce())
		return
	}
	claims, err := h.apple.Verify(r.Context(), idToken, rawNonce)
	if err != nil {
		h.logger.Warn("apple callback: token rejected", slog.String("error", err.Error()))
		writeError(w, r, apperror.InvalidThirdPartyToken())
		return
	}

	cred := &auth.AppleCredential{
		Subject:       claims.Subject,
		Email:         claims.Email,
		IdentityToken: idToken,
	}
	applyAppleUserField(cred, r.PostFormValue("user"))

	// --- Step 4: sign in ---
	user, err := h.accounts.SignInWithApple(r.Context(), cred, rawNonce)
	if err != nil {
		h.fail(w, r, "Apple sign in", err)
		return
	}
	if _, err := h.setTokenCookie(w, user.ID); err != nil {
		h.logger.Error("apple callback: token generation failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info("user authenticated", slog.String("userID", user.ID), slog.String("via", "apple-web"))

	// --- Step 5: redirect ---
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// applyAppleUserField reads the "user" JSON Apple posts on the very first
// authorization only: {"name":{"firstName":"..","lastName":".."},"email":".."}.
func applyAppleUserField(cred *auth.AppleCredential, raw string) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	var u struct {
		Name struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		} `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return
	}
	cred.GivenName = u.Name.FirstName
	cred.FamilyName = u.Name.LastName
	if cred.Email == nil {
		cred.Email = model.NormalizeText(u.Email)
	}
}

// HandleSignOut clears the JWT cookie.
//
// HTTP: POST /api/auth/signout
//
// Tokens are stateless, so "sign out" means forgetting the cookie. A token
// copied elsewhere stays valid until it expires.
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}

// HandleMe returns the signed-in user.
//
// HTTP: GET /api/me
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, apperror.NotAuthenticated())
		return
	}

	user, err := h.accounts.GetUser(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "load profile", err)
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{User: user, PublicID: session.PublicID(user.ID)})
}

// HandleDisplayName renames the signed-in user. An empty name clears it
// on the credential records.
//
// HTTP: PUT /api/me/display-name
// Auth: Required
func (h *AuthHandler) HandleDisplayName(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, apperror.NotAuthenticated())
		return
	}

	var req displayNameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.accounts.RenameUser(r.Context(), userID, req.DisplayName)
	if err != nil {
		h.fail(w, r, "rename", err)
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{User: user, PublicID: session.PublicID(user.ID)})
}

// issueSession signs a token for user, sets it as a cookie and writes the
// SessionResponse.
func (h *AuthHandler) issueSession(w http.ResponseWriter, r *http.Request, status int, user *model.User) {
	token, err := h.setTokenCookie(w, user.ID)
	if err != nil {
		h.logger.Error("token generation failed", slog.String("error", err.Error()))
		writeError(w, r, err)
		return
	}

	h.logger.Info("user authenticated", slog.String("userID", user.ID))
	writeJSON(w, status, SessionResponse{User: user, PublicID: session.PublicID(user.ID), Token: token})
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, userID string) (string, error) {
	token, err := h.tokens.Generate(userID)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.TokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

func (h *AuthHandler) clearAppleCookies(w http.ResponseWriter) {
	for _, name := range []string{appleStateCookie, appleNonceCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/auth/apple",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteNoneMode,
		})
	}
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	logFailure(h.logger, action, err)
	writeError(w, r, err)
}
