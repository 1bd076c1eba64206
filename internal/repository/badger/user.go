package badger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/xid"

	"github.com/sakif/chef-chat/internal/apperror"
	"github.com/sakif/chef-chat/internal/model"
	"github.com/sakif/chef-chat/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

// userRecord is the stored form of model.User; model.User hides the
// password hash from JSON, storage must not.
type userRecord struct {
	ID           string    `json:"id"`
	GitHubID     int64     `json:"githubId,omitempty"`
	Login        string    `json:"login"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toRecord(u *model.User) userRecord {
	return userRecord{
		ID: u.ID, GitHubID: u.GitHubID, Login: u.Login, Email: u.Email,
		PasswordHash: u.PasswordHash, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}
}

func (r userRecord) toModel() *model.User {
	return &model.User{
		ID: r.ID, GitHubID: r.GitHubID, Login: r.Login, Email: r.Email,
		PasswordHash: r.PasswordHash, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func userKey(id string) []byte         { return []byte("user:id:" + id) }
func userEmailKey(email string) []byte { return []byte("user:email:" + email) }
func userGitHubKey(githubID int64) []byte {
	return []byte("user:gh:" + strconv.FormatInt(githubID, 10))
}

func (db *DB) UpsertGitHub(_ context.Context, user *model.User) error {
	return db.bdb.Update(func(txn *badger.Txn) error {
		now := time.Now().UTC()
		user.UpdatedAt = now

		id, found, err := getString(txn, userGitHubKey(user.GitHubID))
		if err != nil {
			return err
		}
		if found {
			var rec userRecord
			if _, err := getJSON(txn, userKey(id), &rec); err != nil {
				return err
			}
			rec.Login = user.Login
			rec.UpdatedAt = now
			*user = *rec.toModel()
			return setJSON(txn, userKey(id), rec)
		}

		if user.Email != "" {
			if _, taken, err := getString(txn, userEmailKey(user.Email)); err != nil {
				return err
			} else if taken {
				return apperror.Conflict("user", user.Email)
			}
		}

		user.ID = xid.New().String()
		user.CreatedAt = now
		if err := setJSON(txn, userKey(user.ID), toRecord(user)); err != nil {
			return err
		}
		if err := txn.Set(userGitHubKey(user.GitHubID), []byte(user.ID)); err != nil {
			return fmt.Errorf("badger: indexing user %s: %w", user.ID, err)
		}
		if user.Email != "" {
			if err := txn.Set(userEmailKey(user.Email), []byte(user.ID)); err != nil {
				return fmt.Errorf("badger: indexing user email %s: %w", user.ID, err)
			}
		}
		return nil
	})
}

func (db *DB) CreatePasswordUser(_ context.Context, user *model.User) error {
	return db.bdb.Update(func(txn *badger.Txn) error {
		if _, taken, err := getString(txn, userEmailKey(user.Email)); err != nil {
			return err
		} else if taken {
			return apperror.Conflict("user", user.Email)
		}

		now := time.Now().UTC()
		user.ID = xid.New().String()
		user.CreatedAt = now
		user.UpdatedAt = now
		if err := setJSON(txn, userKey(user.ID), toRecord(user)); err != nil {
			return err
		}
		if err := txn.Set(userEmailKey(user.Email), []byte(user.ID)); err != nil {
			return fmt.Errorf("badger: indexing user email %s: %w", user.ID, err)
		}
		return nil
	})
}

func (db *DB) GetUserByID(_ context.Context, id string) (*model.User, error) {
	return view(db, func(r reader) (*model.User, error) { return r.user(id) })
}

func (db *DB) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return view(db, func(r reader) (*model.User, error) {
		id, found, err := getString(r.txn, userEmailKey(email))
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, apperror.NotFound("user", email)
		}
		return r.user(id)
	})
}

func (r reader) user(id string) (*model.User, error) {
	var rec userRecord
	found, err := getJSON(r.txn, userKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("user", id)
	}
	return rec.toModel(), nil
}
