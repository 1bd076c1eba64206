package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/chef-chat/internal/apperror"
	"github.com/sakif/chef-chat/internal/model"
	"github.com/sakif/chef-chat/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// UpsertGitHub inserts or refreshes a user based on their GitHub ID.
//
// We look the row up first so an existing user KEEPS their internal ID; only
// login and email are refreshed (they may change on GitHub).
func (db *DB) UpsertGitHub(ctx context.Context, user *model.User) error {
	var existingID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM users WHERE github_id = ?`, user.GitHubID,
	).Scan(&existingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: looking up user by github_id %d: %w", user.GitHubID, err)
	}

	now := time.Now().UTC()
	user.UpdatedAt = now

	if existingID != "" {
		user.ID = existingID
		_, err = db.conn.ExecContext(ctx,
			`UPDATE users SET login = ?, updated_at = ? WHERE id = ?`,
			user.Login, user.UpdatedAt, user.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
		}
		return nil
	}

	user.ID = xid.New().String()
	user.CreatedAt = now
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO users (id, github_id, login, email, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.GitHubID, user.Login, nullable(user.Email), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// GitHub email already owned by a password account.
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlite: inserting user (githubID=%d): %w", user.GitHubID, err)
	}
	return nil
}

// CreatePasswordUser inserts an email + password user. The email is UNIQUE.
func (db *DB) CreatePasswordUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, github_id, login, email, password_hash, created_at, updated_at)
		 VALUES (?, NULL, ?, ?, ?, ?, ?)`,
		user.ID, user.Login, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}
	return nil
}

// GetUserByID returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUser(ctx, "id", id)
}

// GetUserByEmail returns apperror.ErrNotFound if no user owns that email.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUser(ctx, "email", email)
}

func (db *DB) getUser(ctx context.Context, column, key string) (*model.User, error) {
	var (
		u        model.User
		githubID sql.NullInt64
		email    sql.NullString
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, github_id, login, email, password_hash, created_at, updated_at
		 FROM users WHERE `+column+` = ?`,
		key,
	).Scan(&u.ID, &githubID, &u.Login, &email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s %s: %w", column, key, err)
	}
	u.GitHubID = githubID.Int64
	u.Email = email.String
	return &u, nil
}

// nullable maps "" to NULL so empty values never collide in a UNIQUE index.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
