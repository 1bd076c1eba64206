// Package repotest is the shared contract suite every repository.Store
// backend must pass. Backends call Run from their own _test.go files.
package repotest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/chef-chat/internal/apperror"
	"github.com/sakif/chef-chat/internal/model"
	"github.com/sakif/chef-chat/internal/repository"
)

// Backend is a store that also holds users, as both real backends do.
type Backend interface {
	repository.Store
	repository.UserRepository
}

// Factory returns a fresh, empty backend. It registers its own cleanup.
type Factory func(t *testing.T) Backend

var ignoreCreatedAt = cmpopts.IgnoreFields(model.Channel{}, "CreatedAt")
var ignoreMessageTime = cmpopts.IgnoreFields(model.Message{}, "CreatedAt")

// Run runs the whole suite against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("ChannelsInInsertionOrder", func(t *testing.T) { runChannelsInInsertionOrder(t, newStore(t)) })
	t.Run("ChannelsByNameAllowDuplicates", func(t *testing.T) { runChannelsByName(t, newStore(t)) })
	t.Run("ChannelsByNameExactMatch", func(t *testing.T) { runChannelsByNameExactMatch(t, newStore(t)) })
	t.Run("GetChannelNotFound", func(t *testing.T) { runGetChannelNotFound(t, newStore(t)) })
	t.Run("MessagesByChannel", func(t *testing.T) { runMessagesByChannel(t, newStore(t)) })
	t.Run("GetMessage", func(t *testing.T) { runGetMessage(t, newStore(t)) })
	t.Run("MessageRequiresChannel", func(t *testing.T) { runMessageRequiresChannel(t, newStore(t)) })
	t.Run("ProfileUniquePerUser", func(t *testing.T) { runProfileUniquePerUser(t, newStore(t)) })
	t.Run("PatchProfile", func(t *testing.T) { runPatchProfile(t, newStore(t)) })
	t.Run("UpdateRollsBack", func(t *testing.T) { runUpdateRollsBack(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { runUsers(t, newStore(t)) })
}

// MustInsertChannel inserts a channel in its own transaction.
func MustInsertChannel(t *testing.T, s repository.Store, name, createdBy string) model.Channel {
	t.Helper()
	c := model.Channel{Name: name, CreatedBy: createdBy}
	err := s.Update(context.Background(), func(tx repository.Tx) error {
		return tx.InsertChannel(context.Background(), &c)
	})
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)
	return c
}

// MustInsertMessage inserts a message in its own transaction.
func MustInsertMessage(t *testing.T, s repository.Store, channelID, authorID, content string) model.Message {
	t.Helper()
	m := model.Message{ChannelID: channelID, AuthorID: authorID, Content: content}
	err := s.Update(context.Background(), func(tx repository.Tx) error {
		return tx.InsertMessage(context.Background(), &m)
	})
	require.NoError(t, err)
	return m
}

func runChannelsInInsertionOrder(t *testing.T, s Backend) {
	ctx := context.Background()

	empty, err := s.ListChannels(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty, "empty listing must be [] not nil")
	assert.Empty(t, empty)

	want := []model.Channel{
		MustInsertChannel(t, s, "general", "u1"),
		MustInsertChannel(t, s, "random", "u2"),
		MustInsertChannel(t, s, "announcements", "u1"),
	}

	got, err := s.ListChannels(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, ignoreCreatedAt); diff != "" {
		t.Errorf("ListChannels() mismatch (-want +got):\n%s", diff)
	}
	for _, c := range got {
		assert.False(t, c.CreatedAt.IsZero(), "CreatedAt must be set")
	}

	one, err := s.GetChannel(ctx, want[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "random", one.Name)
}

func runChannelsByName(t *testing.T, s Backend) {
	ctx := context.Background()

	first := MustInsertChannel(t, s, "general", "u1")
	MustInsertChannel(t, s, "random", "u1")
	second := MustInsertChannel(t, s, "general", "u2")

	got, err := s.ListChannelsByName(ctx, "general")
	require.NoError(t, err)
	if diff := cmp.Diff([]model.Channel{first, second}, got, ignoreCreatedAt); diff != "" {
		t.Errorf("ListChannelsByName() mismatch (-want +got):\n%s", diff)
	}

	none, err := s.ListChannelsByName(ctx, "gen")
	require.NoError(t, err)
	assert.Empty(t, none, "prefix of a name must not match")
}

func runChannelsByNameExactMatch(t *testing.T, s Backend) {
	ctx := context.Background()

	a := MustInsertChannel(t, s, "a", "u1")
	withNUL := MustInsertChannel(t, s, "a\x00b", "u1")
	MustInsertChannel(t, s, "a:b", "u1")

	got, err := s.ListChannelsByName(ctx, "a")
	require.NoError(t, err)
	if diff := cmp.Diff([]model.Channel{a}, got, ignoreCreatedAt); diff != "" {
		t.Errorf("ListChannelsByName(%q) mismatch (-want +got):\n%s", "a", diff)
	}

	got, err = s.ListChannelsByName(ctx, "a\x00b")
	require.NoError(t, err)
	if diff := cmp.Diff([]model.Channel{withNUL}, got, ignoreCreatedAt); diff != "" {
		t.Errorf("ListChannelsByName(%q) mismatch (-want +got):\n%s", "a\x00b", diff)
	}
}

func runGetChannelNotFound(t *testing.T, s Backend) {
	_, err := s.GetChannel(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
}

func runMessagesByChannel(t *testing.T, s Backend) {
	ctx := context.Background()
	a := MustInsertChannel(t, s, "a", "u1")
	b := MustInsertChannel(t, s, "b", "u1")

	var want []model.Message
	for _, content := range []string{"one", "two", "three", "four", "five"} {
		want = append(want, MustInsertMessage(t, s, a.ID, "u1", content))
		MustInsertMessage(t, s, b.ID, "u2", "noise "+content)
	}

	got, err := s.ListMessagesByChannel(ctx, a.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, ignoreMessageTime); diff != "" {
		t.Errorf("ListMessagesByChannel() mismatch (-want +got):\n%s", diff)
	}

	empty, err := s.ListMessagesByChannel(ctx, "unknown")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, id := range []string{a.ID + "\x00", a.ID[:len(a.ID)-1]} {
		got, err := s.ListMessagesByChannel(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, got, "channel id %q must not match %q", id, a.ID)
	}
}

func runGetMessage(t *testing.T, s Backend) {
	ctx := context.Background()
	c := MustInsertChannel(t, s, "general", "u1")
	MustInsertMessage(t, s, c.ID, "u1", "first")
	want := MustInsertMessage(t, s, c.ID, "u2", "second")

	got, err := s.GetMessage(ctx, want.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(want, *got, ignoreMessageTime); diff != "" {
		t.Errorf("GetMessage() mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, got.CreatedAt.IsZero(), "CreatedAt must be set")

	_, err = s.GetMessage(ctx, "does-not-exist")
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
}

func runMessageRequiresChannel(t *testing.T, s Backend) {
	ctx := context.Background()
	err := s.Update(ctx, func(tx repository.Tx) error {
		return tx.InsertMessage(ctx, &model.Message{ChannelID: "ghost", AuthorID: "u1", Content: "hi"})
	})
	require.Error(t, err)

	got, err := s.ListMessagesByChannel(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func runProfileUniquePerUser(t *testing.T, s Backend) {
	ctx := context.Background()

	p := model.Profile{UserID: "u1", Name: "Ann"}
	require.NoError(t, s.Update(ctx, func(tx repository.Tx) error { return tx.InsertProfile(ctx, &p) }))
	require.NotEmpty(t, p.ID)

	dup := model.Profile{UserID: "u1", Name: "Impostor"}
	err := s.Update(ctx, func(tx repository.Tx) error { return tx.InsertProfile(ctx, &dup) })
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConflict), "got %v", err)

	got, err := s.GetProfileByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, p, *got)

	_, err = s.GetProfileByUser(ctx, "u2")
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
}

func runPatchProfile(t *testing.T, s Backend) {
	ctx := context.Background()

	p := model.Profile{UserID: "u1", Name: "Y", AvatarRef: "R"}
	require.NoError(t, s.Update(ctx, func(tx repository.Tx) error { return tx.InsertProfile(ctx, &p) }))

	name := "X"
	require.NoError(t, s.Update(ctx, func(tx repository.Tx) error {
		return tx.PatchProfile(ctx, p.ID, model.ProfilePatch{Name: &name})
	}))

	got, err := s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Profile{ID: p.ID, UserID: "u1", Name: "X", AvatarRef: "R"}, *got)

	err = s.Update(ctx, func(tx repository.Tx) error {
		return tx.PatchProfile(ctx, "missing", model.ProfilePatch{Name: &name})
	})
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
}

func runUpdateRollsBack(t *testing.T, s Backend) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx repository.Tx) error {
		c := model.Channel{Name: "doomed", CreatedBy: "u1"}
		if err := tx.InsertChannel(ctx, &c); err != nil {
			return err
		}
		// The insert is visible inside its own transaction...
		if _, err := tx.GetChannel(ctx, c.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// ...and nowhere after the rollback.
	got, err := s.ListChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func runUsers(t *testing.T, s Backend) {
	ctx := context.Background()

	gh := &model.User{GitHubID: 42, Login: "octo", Email: "octo@example.com"}
	require.NoError(t, s.UpsertGitHub(ctx, gh))
	firstID := gh.ID
	require.NotEmpty(t, firstID)

	again := &model.User{GitHubID: 42, Login: "octo-renamed", Email: "octo@example.com"}
	require.NoError(t, s.UpsertGitHub(ctx, again))
	assert.Equal(t, firstID, again.ID, "upsert must keep the internal id")

	byID, err := s.GetUserByID(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, "octo-renamed", byID.Login)

	pw := &model.User{Login: "ann", Email: "ann@example.com", PasswordHash: "$2a$04$hash"}
	require.NoError(t, s.CreatePasswordUser(ctx, pw))

	byEmail, err := s.GetUserByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, pw.ID, byEmail.ID)
	assert.Equal(t, "$2a$04$hash", byEmail.PasswordHash)

	dup := &model.User{Login: "ann2", Email: "ann@example.com", PasswordHash: "x"}
	err = s.CreatePasswordUser(ctx, dup)
	assert.True(t, errors.Is(err, apperror.ErrConflict), "got %v", err)

	_, err = s.GetUserByID(ctx, "nobody")
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
}
