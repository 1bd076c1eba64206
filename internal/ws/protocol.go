// Package ws serves live queries over WebSocket.
//
// PROTOCOL (JSON text frames):
//
//	client → {"op":"subscribe","id":"c1","query":"listMessages","args":{"channelId":"..."}}
//	client → {"op":"unsubscribe","id":"c1"}
//	server → {"type":"result","id":"c1","seq":1,"data":[...]}
//	server → {"type":"error","id":"c1","error":"not_found","message":"..."}
//
// The id is chosen by the client and names one subscription on this
// connection. Every subscription gets a result frame right away and another
// one each time its result changes. seq increases by at least one per frame
// (coalesced updates are skipped, never reordered).
//
// Closing the connection ends every subscription it holds.
package ws

import "encoding/json"

// Client operations.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// Server frame types.
const (
	TypeResult = "result"
	TypeError  = "error"
)

// ClientMessage is one frame sent by the client.
type ClientMessage struct {
	Op    string `json:"op"`
	ID    string `json:"id"`
	Query string `json:"query,omitempty"`
	Args  Args   `json:"args,omitempty"`
}

// Args are the parameters of a live query. Which one is used depends on the
// query: listMessages reads ChannelID, getProfile reads UserID.
type Args struct {
	ChannelID string `json:"channelId,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// ServerMessage is one frame sent by the server.
type ServerMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}
