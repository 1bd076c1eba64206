// Package badger implements the repository.Store contract on BadgerDB.
//
// KEY LAYOUT:
// Badger is an ordered key/value store, so every index is a key prefix and
// insertion order comes from a zero-padded sequence number inside the key:
//
//	channel:id:<id>                     → Channel JSON
//	channel:seq:<seq>                   → channel id
//	channel:name:<name>\x00<seq>        → channel id
//	message:chan:<channelID>\x00<seq>   → Message JSON
//	profile:id:<id>                     → Profile JSON
//	profile:user:<userID>               → profile id (one key per user: unique)
//	user:id:<id>                        → user JSON
//	user:gh:<githubID>, user:email:<e>  → user id
//
// The sequence is padded to 20 digits so lexicographic key order equals
// numeric order, the same trick as msg:{room}:{timestamp_padded}.
//
// TRANSACTIONS:
// db.Update gives serialisable snapshot isolation: two transactions that read
// and write the same key conflict and the later commit fails with
// badger.ErrConflict, reported here as apperror.ErrConflict.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/sakif/chef-chat/internal/apperror"
	"github.com/sakif/chef-chat/internal/model"
	"github.com/sakif/chef-chat/internal/repository"
)

var _ repository.Store = (*DB)(nil)

// DB wraps a Badger database plus the sequence that orders inserts.
type DB struct {
	bdb *badger.DB
	seq *badger.Sequence
}

// New opens a Badger database in dir. An empty dir opens an in-memory
// database, which is what the tests use.
func New(dir string, logger *slog.Logger) (*DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(slogLogger{logger: logger})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: opening database: %w", err)
	}

	// Leases of 1000 ids; a crash skips the unused part of a lease, which only
	// leaves gaps and never reorders.
	seq, err := bdb.GetSequence([]byte("meta:seq"), 1000)
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("badger: acquiring sequence: %w", err)
	}

	return &DB{bdb: bdb, seq: seq}, nil
}

// Close releases the sequence lease and closes the database.
func (db *DB) Close() error {
	relErr := db.seq.Release()
	if err := db.bdb.Close(); err != nil {
		return fmt.Errorf("badger: closing database: %w", err)
	}
	if relErr != nil {
		return fmt.Errorf("badger: releasing sequence: %w", relErr)
	}
	return nil
}

// Update runs fn in one read-write transaction.
func (db *DB) Update(ctx context.Context, fn func(tx repository.Tx) error) error {
	err := db.bdb.Update(func(txn *badger.Txn) error {
		return fn(&writer{reader: reader{txn: txn}, seq: db.seq})
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("badger: committing transaction: %w",
			&apperror.AppError{Err: apperror.ErrConflict, Message: "concurrent write conflict, retry"})
	}
	return err
}

// view runs fn against a read-only snapshot.
func view[T any](db *DB, fn func(r reader) (T, error)) (T, error) {
	var out T
	err := db.bdb.View(func(txn *badger.Txn) error {
		var err error
		out, err = fn(reader{txn: txn})
		return err
	})
	return out, err
}

func (db *DB) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	return view(db, func(r reader) (*model.Channel, error) { return r.GetChannel(ctx, id) })
}

func (db *DB) ListChannels(ctx context.Context) ([]model.Channel, error) {
	return view(db, func(r reader) ([]model.Channel, error) { return r.ListChannels(ctx) })
}

func (db *DB) ListChannelsByName(ctx context.Context, name string) ([]model.Channel, error) {
	return view(db, func(r reader) ([]model.Channel, error) { return r.ListChannelsByName(ctx, name) })
}

func (db *DB) ListMessagesByChannel(ctx context.Context, channelID string) ([]model.Message, error) {
	return view(db, func(r reader) ([]model.Message, error) { return r.ListMessagesByChannel(ctx, channelID) })
}

func (db *DB) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	return view(db, func(r reader) (*model.Message, error) { return r.GetMessage(ctx, id) })
}

func (db *DB) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	return view(db, func(r reader) (*model.Profile, error) { return r.GetProfile(ctx, id) })
}

func (db *DB) GetProfileByUser(ctx context.Context, userID string) (*model.Profile, error) {
	return view(db, func(r reader) (*model.Profile, error) { return r.GetProfileByUser(ctx, userID) })
}

// getJSON loads key into out. found is false when the key does not exist.
func getJSON(txn *badger.Txn, key []byte, out any) (found bool, err error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger: reading %s: %w", key, err)
	}
	err = item.Value(func(val []byte) error {
		return jsonUnmarshal(val, out)
	})
	if err != nil {
		return false, fmt.Errorf("badger: decoding %s: %w", key, err)
	}
	return true, nil
}

// getString loads a key whose value is a plain id.
func getString(txn *badger.Txn, key []byte) (string, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("badger: reading %s: %w", key, err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, fmt.Errorf("badger: copying %s: %w", key, err)
	}
	return string(val), true, nil
}

// jsonUnmarshal decodes a stored value. Badger only guarantees val for the
// duration of the Value callback; json.Unmarshal copies what it keeps.
func jsonUnmarshal(val []byte, out any) error {
	return json.Unmarshal(val, out)
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("badger: encoding %s: %w", key, err)
	}
	if err := txn.Set(key, b); err != nil {
		return fmt.Errorf("badger: writing %s: %w", key, err)
	}
	return nil
}

// scanPrefix calls fn with the value of every key under prefix, in key order.
func scanPrefix(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return fmt.Errorf("badger: scanning %s: %w", prefix, err)
		}
	}
	return nil
}

// slogLogger adapts *slog.Logger to badger.Logger. Badger is chatty at info
// level, so its Infof goes to Debug.
type slogLogger struct {
	logger *slog.Logger
}

func (l slogLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l slogLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l slogLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l slogLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}
