// Package service: authentication business logic.
//
// AuthService is the identity adapter's business layer. It sits between the
// HTTP handlers and the repository/auth utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt)
//
// Two ways in, one way out: GitHub OAuth and email + password both end with a
// JWT whose subject is the internal user id. That id is all the chat core
// ever sees of a user (ChatService resolves it through IdentityProvider).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/chef-chat/internal/apperror"
	"github.com/sakif/chef-chat/internal/auth"
	"github.com/sakif/chef-chat/internal/model"
	"github.com/sakif/chef-chat/internal/repository"
)

// AuthService handles the authentication business logic.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository  → read/write user records
//   - tokens     *auth.TokenService         → generate/validate JWTs
//   - passwords  *auth.PasswordService      → bcrypt hashing for sign-up/sign-in
//   - logger     *slog.Logger               → structured logging
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		validate:  newValidator(),
		logger:    logger,
	}
}

// AuthResult is returned by authentication operations.
// It bundles the user record and the issued JWT together so the caller
// (the HTTP handler) can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// SignUpRequest is the input of a password sign-up.
type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	// Login is the public handle; defaults to the local part of Email.
	Login string `json:"login" validate:"omitempty,max=64"`
}

// LoginOrRegisterGitHub handles the GitHub OAuth callback.
//
//  1. Upsert the user in the database (create on first login, refresh login
//     and email on subsequent ones)
//  2. Generate a JWT access token for the authenticated user
//  3. Return both so the handler can set the HttpOnly cookie and redirect
//
// WHY UPSERT (not insert + check conflict)?
// GitHub's numeric user ID is stable and unique, so we can always upsert on
// it. The internal ID of an existing user never changes.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	user := &model.User{
		GitHubID: ghUser.ID,
		Login:    ghUser.Login,
		Email:    ghUser.Email,
	}

	// After this call, user.ID is populated by the repository.
	if err := s.users.UpsertGitHub(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", ghUser.ID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", user.Login),
	)

	return s.issue(user)
}

// SignUp creates an email + password account and signs it in.
// A taken email is a Conflict.
func (s *AuthService) SignUp(ctx context.Context, req SignUpRequest) (*AuthResult, error) {
	req.Email = normalizeEmail(req.Email)
	req.Login = strings.TrimSpace(req.Login)

	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if req.Login == "" {
		req.Login, _, _ = strings.Cut(req.Email, "@")
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	user := &model.User{
		Login:        req.Login,
		Email:        req.Email,
		PasswordHash: hash,
	}
	if err := s.users.CreatePasswordUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "an account with this email already exists",
				Field:   "email",
			}
		}
		return nil, fmt.Errorf("service/auth: creating user %s: %w", req.Email, err)
	}

	s.logger.Info("user signed up",
		slog.String("userID", user.ID),
		slog.String("login", user.Login),
	)

	return s.issue(user)
}

// Login signs in an email + password account.
//
// Unknown email, wrong password and GitHub-only accounts all fail with the
// same Unauthenticated error, so the response does not reveal which emails
// exist.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	invalid := apperror.Unauthenticated("invalid email or password")

	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, apperror.ErrNotFound) {
		s.passwords.Burn(password)
		return nil, invalid
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}
	if user.PasswordHash == "" {
		s.passwords.Burn(password)
		return nil, invalid
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("password sign-in rejected", slog.String("userID", user.ID))
			return nil, invalid
		}
		return nil, fmt.Errorf("service/auth: verifying password of %s: %w", user.ID, err)
	}

	s.logger.Info("user signed in", slog.String("userID", user.ID))
	return s.issue(user)
}

// GetUserByID returns the user for the given internal ID.
//
// Used by the /api/me handler to look up the full user record after the
// middleware validates the JWT.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user ID must not be empty")
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}

	return user, nil
}

// ValidateToken validates a JWT string and returns the userID it encodes.
func (s *AuthService) ValidateToken(tokenStr string) (string, error) {
	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", err)
	}
	return userID, nil
}

// issue signs an access token for user.
func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
