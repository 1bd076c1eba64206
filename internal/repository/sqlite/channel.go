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
)

// InsertChannel appends a channel. ID and CreatedAt are assigned here and
// written back into the caller's struct (pointer receiver on the record).
func (t *txn) InsertChannel(ctx context.Context, channel *model.Channel) error {
	channel.ID = xid.New().String()
	channel.CreatedAt = time.Now().UTC()

	_, err := t.q.ExecContext(ctx,
		`INSERT INTO channels (id, name, created_by, created_at) VALUES (?, ?, ?, ?)`,
		channel.ID,
		channel.Name,
		channel.CreatedBy,
		channel.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting channel: %w", err)
	}
	return nil
}

// GetChannel returns apperror.ErrNotFound if no channel has that id.
func (q queries) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	var c model.Channel
	err := q.q.QueryRowContext(ctx,
		`SELECT id, name, created_by, created_at FROM channels WHERE id = ?`,
		id,
	).Scan(&c.ID, &c.Name, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("channel", id)
		}
		return nil, fmt.Errorf("sqlite: getting channel %s: %w", id, err)
	}
	return &c, nil
}

// ListChannels returns every channel in insertion order.
func (q queries) ListChannels(ctx context.Context) ([]model.Channel, error) {
	return q.selectChannels(ctx,
		`SELECT id, name, created_by, created_at FROM channels ORDER BY seq`)
}

// ListChannelsByName walks the by_name index. Names are not unique, so this
// may return several channels.
func (q queries) ListChannelsByName(ctx context.Context, name string) ([]model.Channel, error) {
	return q.selectChannels(ctx,
		`SELECT id, name, created_by, created_at FROM channels WHERE name = ? ORDER BY seq`, name)
}

func (q queries) selectChannels(ctx context.Context, query string, args ...any) ([]model.Channel, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing channels: %w", err)
	}
	defer rows.Close()

	// Non-nil so an empty result encodes as [] rather than null.
	channels := make([]model.Channel, 0)
	for rows.Next() {
		var c model.Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning channel row: %w", err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating channels: %w", err)
	}
	return channels, nil
}
