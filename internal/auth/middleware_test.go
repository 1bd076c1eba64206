package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sakif/chef-chat/internal/apperror"
)

// echoUser responds with the caller id the middleware put in the context.
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, _ := UserIDFromContext(r.Context())
	_, _ = w.Write([]byte(id))
})

func TestRequireAuth(t *testing.T) {
	ts := newTestTokenService(t)
	token, err := ts.Generate("user-42")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	cases := []struct {
		name       string
		prepare    func(r *http.Request)
		wantStatus int
		wantBody   string
	}{
		{
			name:       "no token",
			prepare:    func(*http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "cookie",
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
			},
			wantStatus: http.StatusOK,
			wantBody:   "user-42",
		},
		{
			name: "bearer header",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+token)
			},
			wantStatus: http.StatusOK,
			wantBody:   "user-42",
		},
		{
			name: "lowercase scheme",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "bearer "+token)
			},
			wantStatus: http.StatusOK,
			wantBody:   "user-42",
		},
		{
			name: "garbage bearer",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer not-a-jwt")
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "stale cookie falls back to bearer",
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: CookieName, Value: "expired-or-garbage"})
				r.Header.Set("Authorization", "Bearer "+token)
			},
			wantStatus: http.StatusOK,
			wantBody:   "user-42",
		},
		{
			name: "stale cookie without bearer",
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: CookieName, Value: "expired-or-garbage"})
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "valid cookie wins over garbage bearer",
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
				r.Header.Set("Authorization", "Bearer not-a-jwt")
			},
			wantStatus: http.StatusOK,
			wantBody:   "user-42",
		},
		{
			name: "basic auth is not a token",
			prepare: func(r *http.Request) {
				r.SetBasicAuth("user", "pass")
			},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			tc.prepare(req)
			rec := httptest.NewRecorder()

			RequireAuth(ts)(echoUser).ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantBody != "" && rec.Body.String() != tc.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestOptionalAuth_AnonymousPassesThrough(t *testing.T) {
	ts := newTestTokenService(t)
	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	req.Header.Set("Authorization", "Bearer expired-or-garbage")
	rec := httptest.NewRecorder()

	OptionalAuth(ts)(echoUser).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "" {
		t.Errorf("anonymous request got user %q", rec.Body.String())
	}
}

func TestContextIdentity(t *testing.T) {
	var id ContextIdentity

	_, err := id.ResolveCaller(context.Background())
	if !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Fatalf("ResolveCaller() on empty context error = %v, want ErrUnauthenticated", err)
	}

	got, err := id.ResolveCaller(WithUserID(context.Background(), "user-7"))
	if err != nil {
		t.Fatalf("ResolveCaller() error = %v", err)
	}
	if got != "user-7" {
		t.Errorf("ResolveCaller() = %q, want %q", got, "user-7")
	}

	// An empty id is not an identity.
	if _, err := id.ResolveCaller(WithUserID(context.Background(), "")); err == nil {
		t.Error("ResolveCaller() accepted an empty user id")
	}
}
