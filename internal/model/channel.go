// Package model defines the records the chat core persists and serves.
//
// Channel and Message are append-only: nothing in this module updates or
// deletes them once inserted. Profile is the only mutable record and is
// changed exclusively through MergeProfile.
package model

import "time"

// Channel is a named room messages are posted into.
// Names are indexed (by_name) but not unique; duplicates are allowed.
type Channel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}
