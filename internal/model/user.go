package model

import "time"

// User is the identity record behind an authenticated caller.
//
// The chat core only ever sees User.ID (as the caller identity, as
// Channel.CreatedBy, Message.AuthorID and Profile.UserID). The rest of the
// record belongs to the identity adapter: a user signs in either through
// GitHub OAuth (GitHubID set) or with email + password (PasswordHash set).
//
// WHY GitHubID int64 AND NOT *int64?
// Zero means "no GitHub account". The sqlite layer stores it as NULL so the
// UNIQUE index on github_id ignores password-only users.
type User struct {
	ID           string    `json:"id"`
	GitHubID     int64     `json:"githubId,omitempty"`
	Login        string    `json:"login"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
