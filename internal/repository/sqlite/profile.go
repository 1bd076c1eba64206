package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/chef-chat/internal/apperror"
	"github.com/sakif/chef-chat/internal/model"
)

// InsertProfile creates the profile of a user. A second profile for the same
// user fails the UNIQUE(user_id) constraint and is reported as a conflict.
func (t *txn) InsertProfile(ctx context.Context, profile *model.Profile) error {
	profile.ID = xid.New().String()

	_, err := t.q.ExecContext(ctx,
		`INSERT INTO profiles (id, user_id, name, avatar_ref) VALUES (?, ?, ?, ?)`,
		profile.ID,
		profile.UserID,
		profile.Name,
		profile.AvatarRef,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("profile", profile.UserID)
		}
		return fmt.Errorf("sqlite: inserting profile for user %s: %w", profile.UserID, err)
	}
	return nil
}

// PatchProfile writes only the non-nil fields of patch.
//
// The SET clause is assembled from a fixed set of column names, never from
// input, so building it with strings.Join is safe; values still go through
// ? placeholders.
func (t *txn) PatchProfile(ctx context.Context, id string, patch model.ProfilePatch) error {
	var (
		sets []string
		args []any
	)
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.AvatarRef != nil {
		sets = append(sets, "avatar_ref = ?")
		args = append(args, *patch.AvatarRef)
	}

	if len(sets) == 0 {
		// Nothing to write, but a missing id must still surface.
		_, err := t.GetProfile(ctx, id)
		return err
	}

	args = append(args, id)
	result, err := t.q.ExecContext(ctx,
		`UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: patching profile %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("profile", id)
	}
	return nil
}

func (q queries) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	return q.getProfile(ctx, "id", id)
}

// GetProfileByUser walks the unique by_user index.
func (q queries) GetProfileByUser(ctx context.Context, userID string) (*model.Profile, error) {
	return q.getProfile(ctx, "user_id", userID)
}

// getProfile looks a profile up by one of two fixed key columns.
func (q queries) getProfile(ctx context.Context, column, key string) (*model.Profile, error) {
	var p model.Profile
	err := q.q.QueryRowContext(ctx,
		`SELECT id, user_id, name, avatar_ref FROM profiles WHERE `+column+` = ?`,
		key,
	).Scan(&p.ID, &p.UserID, &p.Name, &p.AvatarRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", key)
		}
		return nil, fmt.Errorf("sqlite: getting profile by %s %s: %w", column, key, err)
	}
	return &p, nil
}
