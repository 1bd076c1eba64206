package model

import "time"

// Message is a single chat line. ChannelID must reference an existing
// Channel at write time; the write path checks this inside the transaction.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
