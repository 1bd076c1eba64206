package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/sakif/chef-chat/internal/apperror"
	"github.com/sakif/chef-chat/internal/auth"
	"github.com/sakif/chef-chat/internal/model"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory implementation of repository.UserRepository.
// Using a fake (not a mock framework) keeps tests dependency-free and easy
// to read: you can see exactly what the fake does.
type fakeUserRepo struct {
	users   map[string]*model.User // keyed by internal ID
	byGHID  map[int64]*model.User  // keyed by GitHub ID (for UpsertGitHub)
	byEmail map[string]*model.User // keyed by email (for password accounts)
	nextID  int
	// set to a non-nil error to simulate a database failure
	upsertErr  error
	getByIDErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:   make(map[string]*model.User),
		byGHID:  make(map[int64]*model.User),
		byEmail: make(map[string]*model.User),
		nextID:  1,
	}
}

func (f *fakeUserRepo) insert(user *model.User) {
	user.ID = fmt.Sprintf("user-fake-id-%d", f.nextID)
	f.nextID++
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	f.users[user.ID] = &copied
	if user.Email != "" {
		f.byEmail[user.Email] = &copied
	}
	if user.GitHubID != 0 {
		f.byGHID[user.GitHubID] = &copied
	}
}

func (f *fakeUserRepo) UpsertGitHub(_ context.Context, user *model.User) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if existing, ok := f.byGHID[user.GitHubID]; ok {
		// UPDATE path: keep ID, refresh profile fields
		existing.Login = user.Login
		existing.Email = user.Email
		*user = *existing
		return nil
	}
	f.insert(user)
	return nil
}

func (f *fakeUserRepo) CreatePasswordUser(_ context.Context, user *model.User) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if _, taken := f.byEmail[user.Email]; taken {
		return apperror.Conflict("user", user.Email)
	}
	f.insert(user)
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	if f.getByIDErr != nil {
		return nil, f.getByIDErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return u, nil
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	u, ok := f.byEmail[email]
	if !ok {
		return nil, apperror.NotFound("user", email)
	}
	return u, nil
}

// newTestAuthService returns an AuthService wired with fake dependencies.
// The TokenService uses a short secret, suitable for tests only.
func newTestAuthService(t *testing.T, repo *fakeUserRepo) *AuthService {
	t.Helper()

	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	// Cost 4 is bcrypt minimum, makes tests fast
	ps := auth.NewPasswordServiceForTest(4)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewAuthService(repo, ts, ps, logger)
}

// =========================================================================
// LoginOrRegisterGitHub TESTS
// =========================================================================

func TestLoginOrRegisterGitHub_NewUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	ghUser := &auth.GitHubUser{
		ID:    42,
		Login: "octocat",
		Email: "octocat@github.com",
	}

	result, err := svc.LoginOrRegisterGitHub(context.Background(), ghUser)
	if err != nil {
		t.Fatalf("LoginOrRegisterGitHub() error = %v", err)
	}

	if result.User == nil {
		t.Fatal("LoginOrRegisterGitHub() returned nil User")
	}
	if result.Token == "" {
		t.Fatal("LoginOrRegisterGitHub() returned empty Token")
	}
	if result.User.Login != "octocat" {
		t.Errorf("User.Login = %q, want %q", result.User.Login, "octocat")
	}
	if result.User.ID == "" {
		t.Error("User.ID should be set after upsert")
	}
}

func TestLoginOrRegisterGitHub_ExistingUserGetsUpdatedProfile(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	firstLogin := &auth.GitHubUser{ID: 99, Login: "old-login", Email: "old@email.com"}
	if _, err := svc.LoginOrRegisterGitHub(context.Background(), firstLogin); err != nil {
		t.Fatalf("first login error: %v", err)
	}

	// Second login with updated profile
	secondLogin := &auth.GitHubUser{ID: 99, Login: "new-login", Email: "new@email.com"}
	result, err := svc.LoginOrRegisterGitHub(context.Background(), secondLogin)
	if err != nil {
		t.Fatalf("second login error: %v", err)
	}

	if result.User.Login != "new-login" {
		t.Errorf("User.Login after update = %q, want %q", result.User.Login, "new-login")
	}
	if len(repo.users) != 1 {
		t.Errorf("repeated GitHub login created %d users, want 1", len(repo.users))
	}
}

func TestLoginOrRegisterGitHub_TokenIsValidJWT(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	result, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{
		ID: 1, Login: "testuser",
	})
	if err != nil {
		t.Fatalf("LoginOrRegisterGitHub() error = %v", err)
	}

	// Validate the token we issued
	userID, err := svc.ValidateToken(result.Token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if userID != result.User.ID {
		t.Errorf("token subject = %q, want %q", userID, result.User.ID)
	}
}

func TestLoginOrRegisterGitHub_NilGitHubUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	_, err := svc.LoginOrRegisterGitHub(context.Background(), nil)
	if err == nil {
		t.Fatal("LoginOrRegisterGitHub() should return error for nil GitHubUser")
	}
}

func TestLoginOrRegisterGitHub_RepositoryError(t *testing.T) {
	repo := newFakeUserRepo()
	repo.upsertErr = errors.New("database is on fire")
	svc := newTestAuthService(t, repo)

	_, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 1, Login: "user"})
	if err == nil {
		t.Fatal("LoginOrRegisterGitHub() should propagate repository errors")
	}
}

// =========================================================================
// GetUserByID TESTS
// =========================================================================

func TestGetUserByID_Found(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	// Register a user first so we have a valid ID
	result, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{
		ID: 7, Login: "findme",
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	user, err := svc.GetUserByID(context.Background(), result.User.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if user.Login != "findme" {
		t.Errorf("user.Login = %q, want %q", user.Login, "findme")
	}
}

func TestGetUserByID_EmptyID(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	_, err := svc.GetUserByID(context.Background(), "")
	if err == nil {
		t.Fatal("GetUserByID() should return error for empty ID")
	}
}

func TestGetUserByID_NotFound(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	_, err := svc.GetUserByID(context.Background(), "non-existent-id")
	if err == nil {
		t.Fatal("GetUserByID() should return error for unknown ID")
	}
}

// =========================================================================
// ValidateToken TESTS
// =========================================================================

func TestValidateToken_ValidToken(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	result, _ := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 5, Login: "tok"})

	userID, err := svc.ValidateToken(result.Token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if userID != result.User.ID {
		t.Errorf("userID = %q, want %q", userID, result.User.ID)
	}
}

func TestValidateToken_InvalidToken(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	_, err := svc.ValidateToken("this.is.garbage")
	if err == nil {
		t.Fatal("ValidateToken() should return error for garbage token")
	}
}

// =========================================================================
// SignUp / Login TESTS
// =========================================================================

func TestSignUp_CreatesUserAndToken(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	result, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:    "  Ann@Example.com ",
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if result.User.Email != "ann@example.com" {
		t.Errorf("email = %q, want it trimmed and lowercased", result.User.Email)
	}
	if result.User.Login != "ann" {
		t.Errorf("login = %q, want the email local part", result.User.Login)
	}
	if result.User.PasswordHash == "" || result.User.PasswordHash == "correct-horse" {
		t.Error("password must be stored hashed")
	}

	userID, err := svc.ValidateToken(result.Token)
	if err != nil || userID != result.User.ID {
		t.Errorf("ValidateToken() = %q, %v; want %q", userID, err, result.User.ID)
	}
}

func TestSignUp_Validation(t *testing.T) {
	cases := []struct {
		name  string
		req   SignUpRequest
		field string
	}{
		{"missing email", SignUpRequest{Password: "long-enough"}, "email"},
		{"bad email", SignUpRequest{Email: "not-an-email", Password: "long-enough"}, "email"},
		{"short password", SignUpRequest{Email: "a@b.co", Password: "short"}, "password"},
		{"long password", SignUpRequest{Email: "a@b.co", Password: string(make([]byte, 73))}, "password"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestAuthService(t, newFakeUserRepo())
			_, err := svc.SignUp(context.Background(), tc.req)

			var appErr *apperror.AppError
			if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("SignUp() error = %v, want a validation error", err)
			}
			if appErr.Field != tc.field {
				t.Errorf("field = %q, want %q", appErr.Field, tc.field)
			}
		})
	}
}

func TestSignUp_DuplicateEmailIsConflict(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)
	req := SignUpRequest{Email: "ann@example.com", Password: "correct-horse"}

	if _, err := svc.SignUp(context.Background(), req); err != nil {
		t.Fatalf("first SignUp() error = %v", err)
	}
	_, err := svc.SignUp(context.Background(), req)
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("second SignUp() error = %v, want ErrConflict", err)
	}
}

func TestLogin(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)
	signedUp, err := svc.SignUp(context.Background(), SignUpRequest{Email: "ann@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	// A GitHub-only account has no password to match.
	if _, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 9, Login: "gh", Email: "gh@example.com"}); err != nil {
		t.Fatalf("LoginOrRegisterGitHub() error = %v", err)
	}

	result, err := svc.Login(context.Background(), "ANN@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.User.ID != signedUp.User.ID {
		t.Errorf("Login() user = %q, want %q", result.User.ID, signedUp.User.ID)
	}

	failures := []struct{ email, password string }{
		{"ann@example.com", "wrong-password"},
		{"nobody@example.com", "correct-horse"},
		{"gh@example.com", "anything"},
	}
	for _, f := range failures {
		_, err := svc.Login(context.Background(), f.email, f.password)
		if !errors.Is(err, apperror.ErrUnauthenticated) {
			t.Errorf("Login(%q) error = %v, want ErrUnauthenticated", f.email, err)
		}
	}
}
