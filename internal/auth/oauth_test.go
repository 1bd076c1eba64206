package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// fakeGitHub serves the token exchange and /user endpoints.
func fakeGitHub(t *testing.T, user GitHubUser) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"bad_verification_code"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gh-token","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gh-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(user)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newFakeProvider(srv *httptest.Server) *GitHubProvider {
	return NewGitHubProvider("client-id", "client-secret", "http://chat.test/auth/github/callback",
		WithGitHubEndpoints(srv.URL+"/login/oauth/authorize", srv.URL+"/login/oauth/access_token", srv.URL+"/user"))
}

func TestAuthURL_CarriesStateAndClient(t *testing.T) {
	p := NewGitHubProvider("client-id", "secret", "http://chat.test/auth/github/callback")

	u, err := url.Parse(p.AuthURL("state-123"))
	if err != nil {
		t.Fatalf("AuthURL() is not a URL: %v", err)
	}
	if !strings.HasPrefix(u.String(), "https://github.com/login/oauth/authorize") {
		t.Errorf("AuthURL() = %s, want GitHub authorize endpoint", u)
	}
	q := u.Query()
	if q.Get("state") != "state-123" {
		t.Errorf("state = %q, want %q", q.Get("state"), "state-123")
	}
	if q.Get("client_id") != "client-id" {
		t.Errorf("client_id = %q, want %q", q.Get("client_id"), "client-id")
	}
}

func TestExchange_ReturnsUser(t *testing.T) {
	srv := fakeGitHub(t, GitHubUser{ID: 42, Login: "octocat", Email: "octo@example.com"})
	p := newFakeProvider(srv)

	u, err := p.Exchange(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if u.ID != 42 || u.Login != "octocat" {
		t.Errorf("Exchange() = %+v, want id 42 / octocat", u)
	}
}

func TestExchange_BadCode(t *testing.T) {
	srv := fakeGitHub(t, GitHubUser{ID: 42, Login: "octocat"})
	p := newFakeProvider(srv)

	if _, err := p.Exchange(context.Background(), "bad-code"); err == nil {
		t.Fatal("Exchange() should fail for a rejected code")
	}
}

func TestExchange_RejectsZeroID(t *testing.T) {
	srv := fakeGitHub(t, GitHubUser{ID: 0, Login: "ghost"})
	p := newFakeProvider(srv)

	if _, err := p.Exchange(context.Background(), "good-code"); err == nil {
		t.Fatal("Exchange() should reject a user without an ID")
	}
}
