package ws_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/chef-chat/internal/auth"
	blobfs "github.com/sakif/chef-chat/internal/blob/fs"
	"github.com/sakif/chef-chat/internal/live"
	"github.com/sakif/chef-chat/internal/model"
	"github.com/sakif/chef-chat/internal/repository/sqlite"
	"github.com/sakif/chef-chat/internal/service"
	"github.com/sakif/chef-chat/internal/ws"
)

type liveFixture struct {
	chat     *service.ChatService
	notifier *live.Notifier
	url      string
}

func newLiveFixture(t *testing.T, opts ...ws.Option) *liveFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs, err := blobfs.New(t.TempDir(), "http://chat.test", logger)
	require.NoError(t, err)

	notifier := live.New(logger)
	t.Cleanup(notifier.Close)

	chat := service.NewChatService(store, auth.ContextIdentity{}, blobs, notifier, logger)

	srv := httptest.NewServer(ws.New(chat, logger, opts...))
	t.Cleanup(srv.Close)

	return &liveFixture{
		chat:     chat,
		notifier: notifier,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (f *liveFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *liveFixture) createChannel(t *testing.T, name string) string {
	t.Helper()
	id, err := f.chat.CreateChannel(auth.WithUserID(context.Background(), "u1"), name)
	require.NoError(t, err)
	return id
}

func (f *liveFixture) send(t *testing.T, channelID, content string) {
	t.Helper()
	_, err := f.chat.SendMessage(auth.WithUserID(context.Background(), "u1"), channelID, content)
	require.NoError(t, err)
}

func write(t *testing.T, conn *websocket.Conn, msg ws.ClientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func read(t *testing.T, conn *websocket.Conn) ws.ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg ws.ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readMessages(t *testing.T, conn *websocket.Conn) (ws.ServerMessage, []model.Message) {
	t.Helper()
	frame := read(t, conn)
	require.Equal(t, ws.TypeResult, frame.Type, "got %+v", frame)
	var messages []model.Message
	require.NoError(t, json.Unmarshal(frame.Data, &messages))
	return frame, messages
}

// barrier waits until the server has processed every frame sent before it.
func barrier(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	write(t, conn, ws.ClientMessage{Op: "ping", ID: "sync"})
	frame := read(t, conn)
	require.Equal(t, ws.TypeError, frame.Type)
	require.Equal(t, "sync", frame.ID)
}

func TestSubscribeMessages_InitialThenUpdates(t *testing.T) {
	f := newLiveFixture(t)
	channelID := f.createChannel(t, "general")
	conn := f.dial(t)

	write(t, conn, ws.ClientMessage{
		Op:    ws.OpSubscribe,
		ID:    "m1",
		Query: service.QueryListMessages,
		Args:  ws.Args{ChannelID: channelID},
	})

	first, messages := readMessages(t, conn)
	assert.Equal(t, "m1", first.ID)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Empty(t, messages)
	assert.JSONEq(t, `[]`, string(first.Data))

	f.send(t, channelID, "hello")

	second, messages := readMessages(t, conn)
	assert.Greater(t, second.Seq, first.Seq)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Content)
	assert.Equal(t, "u1", messages[0].AuthorID)
}

func TestSubscribeMessages_SeqIncreases(t *testing.T) {
	f := newLiveFixture(t)
	channelID := f.createChannel(t, "general")
	conn := f.dial(t)

	write(t, conn, ws.ClientMessage{Op: ws.OpSubscribe, ID: "m1", Query: service.QueryListMessages,
		Args: ws.Args{ChannelID: channelID}})
	last, _ := readMessages(t, conn)

	for i := 0; i < 5; i++ {
		f.send(t, channelID, "msg")
	}

	for {
		frame, messages := readMessages(t, conn)
		require.Greater(t, frame.Seq, last.Seq)
		last = frame
		if len(messages) == 5 {
			break
		}
	}
}

func TestSubscribeChannelsAndProfile(t *testing.T) {
	f := newLiveFixture(t)
	conn := f.dial(t)

	write(t, conn, ws.ClientMessage{Op: ws.OpSubscribe, ID: "c", Query: service.QueryListChannels})
	frame := read(t, conn)
	assert.Equal(t, "c", frame.ID)
	assert.JSONEq(t, `[]`, string(frame.Data))

	write(t, conn, ws.ClientMessage{Op: ws.OpSubscribe, ID: "p", Query: service.QueryGetProfile,
		Args: ws.Args{UserID: "u2"}})
	frame = read(t, conn)
	assert.Equal(t, "p", frame.ID)
	assert.Equal(t, "null", string(frame.Data))

	f.createChannel(t, "general")
	frame = read(t, conn)
	assert.Equal(t, "c", frame.ID)
	var channels []model.Channel
	require.NoError(t, json.Unmarshal(frame.Data, &channels))
	require.Len(t, channels, 1)
	assert.Equal(t, "general", channels[0].Name)

	require.NoError(t, f.chat.UpsertProfile(auth.WithUserID(context.Background(), "u2"), "Bea", ""))
	frame = read(t, conn)
	assert.Equal(t, "p", frame.ID)
	assert.Contains(t, string(frame.Data), `"name":"Bea"`)
}

func TestUnsubscribe_StopsFrames(t *testing.T) {
	f := newLiveFixture(t)
	channelID := f.createChannel(t, "general")
	conn := f.dial(t)

	write(t, conn, ws.ClientMessage{Op: ws.OpSubscribe, ID: "m1", Query: service.QueryListMessages,
		Args: ws.Args{ChannelID: channelID}})
	readMessages(t, conn)

	write(t, conn, ws.ClientMessage{Op: ws.OpUnsubscribe, ID: "m1"})
	write(t, conn, ws.ClientMessage{Op: ws.OpUnsubscribe, ID: "m1"}) // no-op
	barrier(t, conn)
	assert.Equal(t, 0, f.notifier.Count(service.MessagesFootprint(channelID)))

	f.send(t, channelID, "nobody listens")

	// The next frame belongs to a fresh subscription, not to m1.
	write(t, conn, ws.ClientMessage{Op: ws.OpSubscribe, ID: "c", Query: service.QueryListChannels})
	frame := read(t, conn)
	assert.Equal(t, "c", frame.ID)
}

func TestSubscribe_Errors(t *testing.T) {
	f := newLiveFixture(t)
	channelID := f.createChannel(t, "general")
	conn := f.dial(t)

	tests := []struct {
		name   string
		msg    ws.ClientMessage
		wantID string
		code   string
	}{
		{"unknown query", ws.ClientMessage{Op: ws.OpSubscribe, ID: "x", Query: "listEverything"}, "x", "invalid_argument"},
		{"missing id", ws.ClientMessage{Op: ws.OpSubscribe, Query: service.QueryListChannels}, "", "invalid_argument"},
		{"missing channel", ws.ClientMessage{Op: ws.OpSubscribe, ID: "m", Query: service.QueryListMessages,
			Args: ws.Args{ChannelID: "does-not-exist"}}, "m", "not_found"},
		{"empty channel id", ws.ClientMessage{Op: ws.OpSubscribe, ID: "m", Query: service.QueryListMessages}, "m", "invalid_argument"},
		{"unknown op", ws.ClientMessage{Op: "publish", ID: "y"}, "y", "invalid_argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			write(t, conn, tt.msg)
			frame := read(t, conn)
			assert.Equal(t, ws.TypeError, frame.Type)
			assert.Equal(t, tt.wantID, frame.ID)
			assert.Equal(t, tt.code, frame.Error)
			assert.NotEmpty(t, frame.Message)
		})
	}

	// A failed subscribe leaves nothing behind.
	assert.Equal(t, 0, f.notifier.Count(service.MessagesFootprint(channelID)))
}

func TestSubscribe_DuplicateID(t *testing.T) {
	f := newLiveFixture(t)
	conn := f.dial(t)

	write(t, conn, ws.ClientMessage{Op: ws.OpSubscribe, ID: "c", Query: service.QueryListChannels})
	read(t, conn)

	write(t, conn, ws.ClientMessage{Op: ws.OpSubscribe, ID: "c", Query: service.QueryListChannels})
	frame := read(t, conn)
	assert.Equal(t, ws.TypeError, frame.Type)
	assert.Equal(t, "invalid_argument", frame.Error)
	assert.Equal(t, 1, f.notifier.Count(service.ChannelsFootprint()))
}

func TestInvalidJSON(t *testing.T) {
	f := newLiveFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"op":`)))
	frame := read(t, conn)
	assert.Equal(t, ws.TypeError, frame.Type)
	assert.Equal(t, "invalid_argument", frame.Error)
}

func TestDisconnect_RemovesSubscriptions(t *testing.T) {
	f := newLiveFixture(t)
	channelID := f.createChannel(t, "general")
	conn := f.dial(t)

	write(t, conn, ws.ClientMessage{Op: ws.OpSubscribe, ID: "m1", Query: service.QueryListMessages,
		Args: ws.Args{ChannelID: channelID}})
	write(t, conn, ws.ClientMessage{Op: ws.OpSubscribe, ID: "c", Query: service.QueryListChannels})
	read(t, conn)
	read(t, conn)
	require.Equal(t, 1, f.notifier.Count(service.MessagesFootprint(channelID)))

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return f.notifier.Count(service.MessagesFootprint(channelID)) == 0 &&
			f.notifier.Count(service.ChannelsFootprint()) == 0
	}, 5*time.Second, 10*time.Millisecond)

	// Writes keep working with nobody listening.
	f.send(t, channelID, "after")
}

func TestAllowedOrigins(t *testing.T) {
	f := newLiveFixture(t, ws.WithAllowedOrigins([]string{"https://App.Example"}))

	header := http.Header{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": {"https://app.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(f.url, header)
	require.NoError(t, err)
	conn.Close()

	// Non-browser clients send no Origin.
	conn, _, err = websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	conn.Close()
}
