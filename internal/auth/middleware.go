package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sakif/chef-chat/internal/apperror"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. If you use a plain string like
// context.WithValue(ctx, "userID", id), ANY package that knows the string "userID"
// can read or shadow your value. Using a package-private type prevents collisions:
// only THIS package can create a key of type contextKey, so only this package
// can read or write userID values in the context.
type contextKey string

const userIDKey contextKey = "userID"

// CookieName is the cookie that carries the access token.
const CookieName = "token"

// errNoToken means the request carried neither cookie nor bearer header.
var errNoToken = errors.New("auth: no token")

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It reads the JWT from the "token" HttpOnly cookie or from an
// "Authorization: Bearer" header, validates it, and stores the userID in the
// request context. If the token is missing or invalid, it returns 401
// Unauthorized and stops the request chain.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware is a function that takes an http.Handler and returns a new
// http.Handler. The new handler "wraps" the original:
//
//	func Middleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // ... do stuff before the handler ...
//	        next.ServeHTTP(w, r)
//	        // ... do stuff after the handler ...
//	    })
//	}
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
//
// COOKIE vs BEARER:
// Browsers get the cookie (HttpOnly, so JavaScript cannot steal it through
// XSS). chatctl and other non-browser clients send the same JWT as a bearer
// token. The cookie wins when both are present.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := extractUserID(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthenticated","message":"valid authentication required"}`))
				return
			}

			// Store userID in context so handlers can read it
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// OptionalAuth extracts the user identity if a valid token is present, but
// does NOT block the request if it's missing or invalid.
//
// The chat API mounts every /api route behind OptionalAuth: reads are open to
// anyone, and the service rejects anonymous writes with Unauthenticated. That
// keeps the "who may write" rule in one place (the service) instead of
// splitting it between routes and business logic.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, err := extractUserID(r, tokens); err == nil && userID != "" {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			// Always continue: no 401 even if no token
			next.ServeHTTP(w, r)
		})
	}
}

// WithUserID returns a copy of ctx carrying userID as the authenticated caller.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the authenticated user's ID from the request context.
//
// Returns ("", false) if the request is anonymous (no valid token was present).
// Returns (id, true) if the user is authenticated.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// ContextIdentity resolves the caller from the request context populated by
// RequireAuth / OptionalAuth.
type ContextIdentity struct{}

// ResolveCaller returns the caller's user id, or an Unauthenticated error.
func (ContextIdentity) ResolveCaller(ctx context.Context) (string, error) {
	if id, ok := UserIDFromContext(ctx); ok {
		return id, nil
	}
	return "", apperror.Unauthenticated("sign in required")
}

// extractUserID reads the JWT from the cookie or the Authorization header and
// validates it. Shared by RequireAuth and OptionalAuth.
//
// The cookie wins when both are valid. A stale cookie does not shadow a good
// bearer token.
func extractUserID(r *http.Request, tokens *TokenService) (string, error) {
	bearer := BearerToken(r)
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		id, err := tokens.Validate(cookie.Value)
		if err == nil || bearer == "" {
			return id, err
		}
	}
	if bearer == "" {
		return "", errNoToken
	}
	return tokens.Validate(bearer)
}

// BearerToken returns the token of an "Authorization: Bearer <jwt>" header,
// or "".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
