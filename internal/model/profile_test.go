package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeProfile_NoExisting(t *testing.T) {
	merged, patch := MergeProfile(nil, ProfileUpdate{Name: "Ann"})

	assert.Equal(t, "Ann", merged.Name)
	assert.Empty(t, merged.AvatarRef)
	require.NotNil(t, patch.Name)
	assert.Equal(t, "Ann", *patch.Name)
	assert.Nil(t, patch.AvatarRef)
}

func TestMergeProfile_RetainsAvatarWhenOmitted(t *testing.T) {
	existing := &Profile{ID: "p1", UserID: "u1", Name: "Y", AvatarRef: "R"}

	merged, patch := MergeProfile(existing, ProfileUpdate{Name: "X"})

	assert.Equal(t, Profile{ID: "p1", UserID: "u1", Name: "X", AvatarRef: "R"}, merged)
	assert.Nil(t, patch.AvatarRef, "patch must not touch avatarRef")
	assert.Equal(t, "Y", existing.Name, "existing record must not be mutated")
}

func TestMergeProfile_ReplacesAvatarWhenSupplied(t *testing.T) {
	existing := &Profile{ID: "p1", UserID: "u1", Name: "Y", AvatarRef: "R"}

	merged, patch := MergeProfile(existing, ProfileUpdate{Name: "Y", AvatarRef: "S"})

	assert.Equal(t, "S", merged.AvatarRef)
	require.NotNil(t, patch.AvatarRef)
	assert.Equal(t, "S", *patch.AvatarRef)
}
