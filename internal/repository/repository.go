// Package repository defines the Durable Store contract of the chat core.
//
// THE CONTRACT:
// Three record kinds (Channel, Message, Profile), each with one secondary index:
//
//	channel  by_name     → ListChannelsByName
//	message  by_channel  → ListMessagesByChannel
//	profile  by_user     → GetProfileByUser (unique)
//
// plus "all channels in insertion order" (ListChannels). Every index lookup
// returns records in stable insertion order so chat history renders
// chronologically and identically on every read.
//
// ATOMICITY:
// Reads on a Store observe a committed snapshot. Writes only happen inside
// Store.Update, which runs the callback as ONE serialisable transaction: either
// every insert/patch in it becomes visible, or none does. Returning an error
// from the callback rolls the transaction back.
//
// Missing ids on Get*/Patch* return an *apperror.AppError wrapping
// apperror.ErrNotFound. Implementations never panic on bad input.
package repository

import (
	"context"

	"github.com/sakif/chef-chat/internal/model"
)

// Reader is the read half of the store, available both on the Store (point
// reads) and inside a transaction.
type Reader interface {
	GetChannel(ctx context.Context, id string) (*model.Channel, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
	ListChannelsByName(ctx context.Context, name string) ([]model.Channel, error)
	ListMessagesByChannel(ctx context.Context, channelID string) ([]model.Message, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	GetProfileByUser(ctx context.Context, userID string) (*model.Profile, error)
}

// Tx is a write transaction. Insert* assign ID and CreatedAt on the passed record.
type Tx interface {
	Reader
	InsertChannel(ctx context.Context, channel *model.Channel) error
	InsertMessage(ctx context.Context, message *model.Message) error
	InsertProfile(ctx context.Context, profile *model.Profile) error
	PatchProfile(ctx context.Context, id string, patch model.ProfilePatch) error
}

// Store is a Durable Store backend (sqlite, badger).
type Store interface {
	Reader
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// UserRepository persists identity records for the auth adapter.
type UserRepository interface {
	// UpsertGitHub inserts or refreshes a user keyed by GitHubID.
	UpsertGitHub(ctx context.Context, user *model.User) error
	// CreatePasswordUser inserts a user keyed by Email; ErrConflict if taken.
	CreatePasswordUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}
