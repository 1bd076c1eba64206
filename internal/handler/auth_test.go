package handler_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/chef-chat/internal/auth"
	"github.com/sakif/chef-chat/internal/handler"
	"github.com/sakif/chef-chat/internal/repository/sqlite"
	"github.com/sakif/chef-chat/internal/service"
)

func newAuthRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)
	accounts := service.NewAuthService(store, tokens, auth.NewPasswordServiceForTest(4), logger)

	// No GitHub provider: the GitHub routes answer 404.
	h := handler.NewAuthHandler(nil, tokens, accounts, logger)

	r := chi.NewRouter()
	r.Post("/auth/signup", h.HandleSignUp)
	r.Post("/auth/login", h.HandleLogin)
	r.Post("/auth/logout", h.HandleLogout)
	r.Get("/auth/github/login", h.HandleGitHubLogin)
	r.With(auth.RequireAuth(tokens)).Get("/api/me", h.HandleMe)
	return r
}

func post(t *testing.T, r http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestSignUpLoginMe(t *testing.T) {
	r := newAuthRouter(t)

	rec := post(t, r, "/auth/signup", `{"email":"ann@example.com","password":"correct-horse"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, int(auth.DefaultTokenTTL.Seconds()), cookie.MaxAge)

	var signedUp struct {
		User  map[string]any `json:"user"`
		Token string         `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signedUp))
	assert.NotEmpty(t, signedUp.Token)
	assert.NotContains(t, rec.Body.String(), "correct-horse")
	assert.NotContains(t, signedUp.User, "passwordHash")

	// /api/me with the cookie
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	r.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"email":"ann@example.com"`)

	// login again
	rec = post(t, r, "/auth/login", `{"email":"ann@example.com","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sessionCookie(t, rec)

	rec = post(t, r, "/auth/login", `{"email":"ann@example.com","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unauthenticated"`)
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	r := newAuthRouter(t)
	body := `{"email":"ann@example.com","password":"correct-horse"}`

	require.Equal(t, http.StatusCreated, post(t, r, "/auth/signup", body).Code)
	rec := post(t, r, "/auth/signup", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSignUp_Invalid(t *testing.T) {
	r := newAuthRouter(t)
	rec := post(t, r, "/auth/signup", `{"email":"nope","password":"correct-horse"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMe_RequiresAuth(t *testing.T) {
	r := newAuthRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_ClearsCookie(t *testing.T) {
	r := newAuthRouter(t)
	rec := post(t, r, "/auth/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -1, sessionCookie(t, rec).MaxAge)
}

func TestGitHubLogin_Disabled(t *testing.T) {
	r := newAuthRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/github/login", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
