package model

// Profile is the display identity of a user: at most one per UserID.
//
// AvatarRef points into the blob store. The URL is never stored; it is
// resolved on every read into ProfileView.AvatarURL.
type Profile struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	AvatarRef string `json:"avatarRef,omitempty"`
}

// ProfileUpdate is the input of an upsert. An empty AvatarRef means
// "keep whatever is stored".
type ProfileUpdate struct {
	Name      string
	AvatarRef string
}

// ProfilePatch is the set of columns a patch writes. Nil fields are left untouched.
type ProfilePatch struct {
	Name      *string
	AvatarRef *string
}

// ProfileView is a Profile joined with its resolved avatar URL.
// AvatarURL is nil when the profile has no avatar (or the blob is gone).
type ProfileView struct {
	Profile
	AvatarURL *string `json:"avatarUrl"`
}

// MergeProfile applies an update to an existing profile with field-level precedence:
//
//   - Name always overwrites.
//   - AvatarRef overwrites only when the update carries one; otherwise the
//     stored reference is retained.
//
// existing may be nil (first upsert for this user), in which case the result is
// the new record minus its ID and UserID, which the caller fills in. The returned
// patch lists exactly the columns that must be written for an existing record.
func MergeProfile(existing *Profile, update ProfileUpdate) (Profile, ProfilePatch) {
	var merged Profile
	if existing != nil {
		merged = *existing
	}

	name := update.Name
	merged.Name = name
	patch := ProfilePatch{Name: &name}

	if update.AvatarRef != "" {
		ref := update.AvatarRef
		merged.AvatarRef = ref
		patch.AvatarRef = &ref
	}

	return merged, patch
}
