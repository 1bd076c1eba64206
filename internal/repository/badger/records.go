package badger

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/xid"

	"github.com/sakif/chef-chat/internal/apperror"
	"github.com/sakif/chef-chat/internal/model"
)

// reader serves repository.Reader from one Badger transaction.
type reader struct {
	txn *badger.Txn
}

// writer adds the write half of repository.Tx.
type writer struct {
	reader
	seq *badger.Sequence
}

func channelKey(id string) []byte { return []byte("channel:id:" + id) }
func profileKey(id string) []byte { return []byte("profile:id:" + id) }

func profileUserKey(userID string) []byte { return []byte("profile:user:" + userID) }

func messageKey(id string) []byte { return []byte("message:id:" + id) }

// Index prefixes hex-encode their variable part, so no name or id can
// contain the separator and one prefix never covers another value's keys.
func channelNamePrefix(name string) []byte {
	return []byte("channel:name:" + hex.EncodeToString([]byte(name)) + ":")
}

func messageChannelPrefix(channelID string) []byte {
	return []byte("message:chan:" + hex.EncodeToString([]byte(channelID)) + ":")
}

// padSeq renders n with 20 digits so byte order matches numeric order.
func padSeq(n uint64) string { return fmt.Sprintf("%020d", n) }

func (w *writer) next() (string, error) {
	n, err := w.seq.Next()
	if err != nil {
		return "", fmt.Errorf("badger: next sequence: %w", err)
	}
	return padSeq(n), nil
}

func (w *writer) InsertChannel(_ context.Context, channel *model.Channel) error {
	seq, err := w.next()
	if err != nil {
		return err
	}
	channel.ID = xid.New().String()
	channel.CreatedAt = time.Now().UTC()

	if err := setJSON(w.txn, channelKey(channel.ID), channel); err != nil {
		return err
	}
	if err := w.txn.Set([]byte("channel:seq:"+seq), []byte(channel.ID)); err != nil {
		return fmt.Errorf("badger: indexing channel %s: %w", channel.ID, err)
	}
	nameKey := append(channelNamePrefix(channel.Name), seq...)
	if err := w.txn.Set(nameKey, []byte(channel.ID)); err != nil {
		return fmt.Errorf("badger: indexing channel name %s: %w", channel.ID, err)
	}
	return nil
}

func (w *writer) InsertMessage(_ context.Context, message *model.Message) error {
	// Referential integrity is the caller's job; Badger has no foreign keys,
	// so refuse orphan rows here as well.
	var ch model.Channel
	found, err := getJSON(w.txn, channelKey(message.ChannelID), &ch)
	if err != nil {
		return err
	}
	if !found {
		return apperror.NotFound("channel", message.ChannelID)
	}

	seq, err := w.next()
	if err != nil {
		return err
	}
	message.ID = xid.New().String()
	message.CreatedAt = time.Now().UTC()

	key := append(messageChannelPrefix(message.ChannelID), seq...)
	if err := setJSON(w.txn, key, message); err != nil {
		return err
	}
	if err := w.txn.Set(messageKey(message.ID), key); err != nil {
		return fmt.Errorf("badger: indexing message %s: %w", message.ID, err)
	}
	return nil
}

func (w *writer) InsertProfile(_ context.Context, profile *model.Profile) error {
	// Reading the user key puts it in this transaction's read set, so a
	// concurrent insert for the same user makes one of the commits conflict.
	if _, found, err := getString(w.txn, profileUserKey(profile.UserID)); err != nil {
		return err
	} else if found {
		return apperror.Conflict("profile", profile.UserID)
	}

	profile.ID = xid.New().String()
	if err := setJSON(w.txn, profileKey(profile.ID), profile); err != nil {
		return err
	}
	if err := w.txn.Set(profileUserKey(profile.UserID), []byte(profile.ID)); err != nil {
		return fmt.Errorf("badger: indexing profile %s: %w", profile.ID, err)
	}
	return nil
}

func (w *writer) PatchProfile(ctx context.Context, id string, patch model.ProfilePatch) error {
	p, err := w.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.AvatarRef != nil {
		p.AvatarRef = *patch.AvatarRef
	}
	return setJSON(w.txn, profileKey(id), p)
}

func (r reader) GetChannel(_ context.Context, id string) (*model.Channel, error) {
	var c model.Channel
	found, err := getJSON(r.txn, channelKey(id), &c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("channel", id)
	}
	return &c, nil
}

func (r reader) ListChannels(ctx context.Context) ([]model.Channel, error) {
	return r.channelsByIndex(ctx, []byte("channel:seq:"))
}

func (r reader) ListChannelsByName(ctx context.Context, name string) ([]model.Channel, error) {
	return r.channelsByIndex(ctx, channelNamePrefix(name))
}

// channelsByIndex resolves every id stored under an index prefix.
func (r reader) channelsByIndex(ctx context.Context, prefix []byte) ([]model.Channel, error) {
	var ids []string
	err := scanPrefix(r.txn, prefix, func(val []byte) error {
		ids = append(ids, string(val))
		return nil
	})
	if err != nil {
		return nil, err
	}

	channels := make([]model.Channel, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetChannel(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("badger: dangling channel index entry %s: %w", id, err)
		}
		channels = append(channels, *c)
	}
	return channels, nil
}

func (r reader) ListMessagesByChannel(_ context.Context, channelID string) ([]model.Message, error) {
	messages := make([]model.Message, 0)
	err := scanPrefix(r.txn, messageChannelPrefix(channelID), func(val []byte) error {
		var m model.Message
		if err := jsonUnmarshal(val, &m); err != nil {
			return err
		}
		messages = append(messages, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// GetMessage follows the id entry to the row stored under the channel index.
func (r reader) GetMessage(_ context.Context, id string) (*model.Message, error) {
	key, found, err := getString(r.txn, messageKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("message", id)
	}

	var m model.Message
	found, err = getJSON(r.txn, []byte(key), &m)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("badger: dangling message index entry %s", id)
	}
	return &m, nil
}

func (r reader) GetProfile(_ context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	found, err := getJSON(r.txn, profileKey(id), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("profile", id)
	}
	return &p, nil
}

func (r reader) GetProfileByUser(ctx context.Context, userID string) (*model.Profile, error) {
	id, found, err := getString(r.txn, profileUserKey(userID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("profile", userID)
	}
	return r.GetProfile(ctx, id)
}
