package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/checkinn/internal/backend"
	"github.com/sakif/checkinn/internal/config"
	"github.com/sakif/checkinn/internal/server"
	"github.com/sakif/checkinn/internal/service"
)

const testSecret = "server-test-secret-0123456789"

func newTestServer(t *testing.T, opts ...service.Option) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := config.Defaults()
	cfg.Storage = config.StorageMemory
	cfg.Language = "en"

	opts = append([]service.Option{service.WithoutCurrentSession()}, opts...)
	b, err := backend.Open(context.Background(), cfg, logger, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	srv, err := server.New(server.Config{Port: 0, JWTSecret: testSecret}, b, logger)
	require.NoError(t, err)
	return srv.Handler()
}

func send(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestNew_RejectsShortSecret(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage = config.StorageMemory
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	b, err := backend.Open(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer b.Close()

	_, err = server.New(server.Config{JWTSecret: "short"}, b, logger)
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t)

	rr := send(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())
}

func TestEndToEnd_SignUpThenStays(t *testing.T) {
	h := newTestServer(t)

	rr := send(t, h, http.MethodPost, "/api/auth/signup", `{"email":"e2e@example.com","password":"secret1"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var session struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&session))
	require.NotEmpty(t, session.Token)

	rr = send(t, h, http.MethodPost, "/api/stays", `{"title":"Fukuoka","checkIn":"2025-08-01","checkOut":"2025-08-04"}`, session.Token)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = send(t, h, http.MethodGet, "/api/stays/stats", "", session.Token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"totalDays":4`)

	rr = send(t, h, http.MethodGet, "/api/stays", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAppleRoutesAbsentWhenUnconfigured(t *testing.T) {
	h := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, send(t, h, http.MethodGet, "/auth/apple/login", "", "").Code)
	assert.Equal(t, http.StatusNotFound, send(t, h, http.MethodPost, "/auth/apple/callback", "", "").Code)

	// Without a verifier nobody could check the credential, so a client
	// naming someone else's subject must not get a session.
	rr := send(t, h, http.MethodPost, "/api/auth/apple",
		`{"credential":{"subject":"victim-sub","identityToken":"forged"},"nonce":""}`, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.NotContains(t, rr.Body.String(), "token")
}

// remoteAuth stands in for a hosted identity backend.
type remoteAuth struct{ gotToken string }

func (r *remoteAuth) SignInWithIDToken(_ context.Context, idToken, _ string, _ *string) (*service.RemoteIdentity, error) {
	r.gotToken = idToken
	return &service.RemoteIdentity{UserID: "remote-uid-1"}, nil
}

func TestAppleNativeRouteWithRemoteBackend(t *testing.T) {
	remote := &remoteAuth{}
	h := newTestServer(t, service.WithRemote(remote))

	rr := send(t, h, http.MethodPost, "/api/auth/apple",
		`{"credential":{"subject":"sub-1","identityToken":"tok"},"nonce":"n"}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "tok", remote.gotToken)

	var res struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, "remote-uid-1", res.User.ID)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t)

	send(t, h, http.MethodGet, "/healthz", "", "")
	send(t, h, http.MethodDelete, "/api/stays/abc", "", "")

	rr := send(t, h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `checkinn_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
	assert.Contains(t, body, `checkinn_http_requests_total{method="DELETE",route="/api/stays/{id}",status="401"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
