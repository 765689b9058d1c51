package auth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/sakif/checkinn/internal/model"
)

// AppleIssuer is Apple's OpenID Connect issuer and discovery base URL.
const AppleIssuer = "https://appleid.apple.com"

// AppleCredential is what a native client hands over after the system's
// Sign in with Apple sheet completes.
//
// Apple only sends the name (and sometimes the email) on the very first
// authorization, so both are optional here.
type AppleCredential struct {
	Subject       string  `json:"subject"`
	Email         *string `json:"email,omitempty"`
	GivenName     string  `json:"givenName,omitempty"`
	FamilyName    string  `json:"familyName,omitempty"`
	IdentityToken string  `json:"identityToken"`
}

// FullName joins the name parts, or nil if none were sent.
func (c AppleCredential) FullName() *string {
	parts := make([]string, 0, 2)
	for _, p := range []string{c.GivenName, c.FamilyName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return model.NormalizeText(strings.Join(parts, " "))
}

// IdentityClaims are the verified facts taken from an Apple ID token.
type IdentityClaims struct {
	Subject string
	Email   *string
}

// AppleConfig holds the Services ID and signing key registered with Apple.
//
// PrivateKey is the PEM-encoded .p8 key Apple issues for the KeyID; it signs
// the short-lived client secret sent with each code exchange.
type AppleConfig struct {
	ClientID    string
	TeamID      string
	KeyID       string
	PrivateKey  []byte
	CallbackURL string
}

// AppleProvider implements Sign in with Apple for the web flow and verifies
// identity tokens coming from native clients.
//
// WEB FLOW (response_mode=form_post):
//  1. AuthURL redirects the browser to Apple with state and a hashed nonce
//  2. Apple POSTs code (+ user JSON on first sign-in) to CallbackURL
//  3. Exchange trades the code for tokens; the id_token is what we keep
//  4. Verify checks signature, issuer, audience, expiry and the nonce
type AppleProvider struct {
	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier
	teamID   string
	keyID    string
	key      *ecdsa.PrivateKey
	now      func() time.Time
}

// NewAppleProvider discovers Apple's endpoints and signing keys.
// It makes one network call to the discovery document.
func NewAppleProvider(ctx context.Context, cfg AppleConfig) (*AppleProvider, error) {
	provider, err := oidc.NewProvider(ctx, AppleIssuer)
	if err != nil {
		return nil, fmt.Errorf("auth: discovering Apple OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return newAppleProvider(cfg, provider.Endpoint(), verifier)
}

func newAppleProvider(cfg AppleConfig, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) (*AppleProvider, error) {
	if cfg.ClientID == "" || cfg.TeamID == "" || cfg.KeyID == "" {
		return nil, errors.New("auth: Apple client id, team id and key id are required")
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing Apple private key: %w", err)
	}

	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &AppleProvider{
		config: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.CallbackURL,
			Scopes:      []string{"name", "email"},
			Endpoint:    endpoint,
		},
		verifier: verifier,
		teamID:   cfg.TeamID,
		keyID:    cfg.KeyID,
		key:      key,
		now:      time.Now,
	}, nil
}

// AuthURL returns the Apple authorization URL.
// hashedNonce must be HashNonce(raw); the raw nonce is kept by the caller.
func (p *AppleProvider) AuthURL(state, hashedNonce string) string {
	return p.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_mode", "form_post"),
		oidc.Nonce(hashedNonce),
	)
}

// Exchange trades an authorization code for the raw id_token.
func (p *AppleProvider) Exchange(ctx context.Context, code string) (string, error) {
	secret, err := p.clientSecret()
	if err != nil {
		return "", err
	}

	cfg := *p.config
	cfg.ClientSecret = secret

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("auth: exchanging Apple code: %w", err)
	}

	idToken, ok := token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return "", errors.New("auth: Apple token response has no id_token")
	}
	return idToken, nil
}

// Verify validates an Apple ID token and checks its nonce claim against
// HashNonce(rawNonce).
func (p *AppleProvider) Verify(ctx context.Context, rawIDToken, rawNonce string) (*IdentityClaims, error) {
	if rawNonce == "" {
		return nil, errors.New("auth: nonce is required to verify an Apple token")
	}

	token, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("auth: verifying Apple ID token: %w", err)
	}
	if token.Nonce != HashNonce(rawNonce) {
		return nil, errors.New("auth: Apple ID token nonce mismatch")
	}

	var extra struct {
		Email string `json:"email"`
	}
	if err := token.Claims(&extra); err != nil {
		return nil, fmt.Errorf("auth: decoding Apple ID token claims: %w", err)
	}

	return &IdentityClaims{
		Subject: token.Subject,
		Email:   model.NormalizeText(extra.Email),
	}, nil
}

// clientSecret builds the ES256 JWT Apple expects in place of a static
// client secret. It is valid for five minutes.
func (p *AppleProvider) clientSecret() (string, error) {
	now := p.now()
	c := jwt.RegisteredClaims{
		Issuer:    p.teamID,
		Subject:   p.config.ClientID,
		Audience:  jwt.ClaimStrings{AppleIssuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, c)
	token.Header["kid"] = p.keyID

	signed, err := token.SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("auth: signing Apple client secret: %w", err)
	}
	return signed, nil
}
