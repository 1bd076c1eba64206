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

// InsertMessage appends a message. The caller checks that the channel exists
// inside the same transaction; the foreign key is a second line of defence.
func (t *txn) InsertMessage(ctx context.Context, message *model.Message) error {
	message.ID = xid.New().String()
	message.CreatedAt = time.Now().UTC()

	_, err := t.q.ExecContext(ctx,
		`INSERT INTO messages (id, channel_id, author_id, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		message.ID,
		message.ChannelID,
		message.AuthorID,
		message.Content,
		message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting message into channel %s: %w", message.ChannelID, err)
	}
	return nil
}

// GetMessage returns apperror.ErrNotFound if no message has that id.
func (q queries) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	err := q.q.QueryRowContext(ctx,
		`SELECT id, channel_id, author_id, content, created_at FROM messages WHERE id = ?`,
		id,
	).Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Content, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("message", id)
		}
		return nil, fmt.Errorf("sqlite: getting message %s: %w", id, err)
	}
	return &m, nil
}

// ListMessagesByChannel walks the by_channel index in insertion (chronological) order.
func (q queries) ListMessagesByChannel(ctx context.Context, channelID string) ([]model.Message, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id, channel_id, author_id, content, created_at
		 FROM messages
		 WHERE channel_id = ?
		 ORDER BY seq`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing messages of channel %s: %w", channelID, err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating messages: %w", err)
	}
	return messages, nil
}
