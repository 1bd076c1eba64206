package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/sakif/chef-chat/internal/apperror"
	"github.com/sakif/chef-chat/internal/live"
	"github.com/sakif/chef-chat/internal/service"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Client frames are small: an op, an id and one argument.
	maxMessageSize = 64 * 1024

	sendBuffer = 64
)

var errSessionClosed = errors.New("ws: session closed")

// binding is one client subscription id on a connection.
// active goes false on unsubscribe so frames already queued for it are
// dropped by the write loop.
type binding struct {
	id     string
	sub    *live.Subscription
	active atomic.Bool
}

type frame struct {
	b       *binding // nil for frames not tied to a live subscription
	payload []byte
}

// session is one WebSocket connection.
//
// GOROUTINES:
//   - readLoop: decodes client frames, opens and closes subscriptions
//   - writeLoop: the only writer on conn (gorilla allows one concurrent writer)
//   - one pump per subscription (owned by live.Notifier) feeding send
type session struct {
	conn   *websocket.Conn
	chat   Subscriber
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	send   chan frame

	// subs is owned by readLoop.
	subs map[string]*binding
}

func newSession(parent context.Context, conn *websocket.Conn, chat Subscriber, logger *slog.Logger) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		conn:   conn,
		chat:   chat,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan frame, sendBuffer),
		subs:   make(map[string]*binding),
	}
}

// readLoop runs until the peer goes away, then tears the session down.
func (s *session) readLoop() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Warn("live read failed", slog.String("error", err.Error()))
			}
			return
		}
		s.dispatch(raw)
	}
}

func (s *session) dispatch(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.replyError("", apperror.ValidationFailed("frame", "frame is not valid JSON"))
		return
	}

	switch msg.Op {
	case OpSubscribe:
		s.subscribe(msg)
	case OpUnsubscribe:
		s.unsubscribe(msg.ID)
	default:
		s.replyError(msg.ID, apperror.ValidationFailed("op", fmt.Sprintf("unknown op %q", msg.Op)))
	}
}

func (s *session) subscribe(msg ClientMessage) {
	if msg.ID == "" {
		s.replyError("", apperror.ValidationFailed("id", "subscription id is required"))
		return
	}
	if _, taken := s.subs[msg.ID]; taken {
		s.replyError(msg.ID, apperror.ValidationFailed("id", "subscription id already in use"))
		return
	}

	b := &binding{id: msg.ID}
	b.active.Store(true)

	sub, err := s.open(msg, s.sinkFor(b))
	if err != nil {
		s.replyError(msg.ID, err)
		return
	}
	b.sub = sub
	s.subs[msg.ID] = b

	s.logger.Debug("live subscribe",
		slog.String("id", msg.ID),
		slog.String("query", msg.Query),
	)
}

func (s *session) open(msg ClientMessage, sink live.Sink) (*live.Subscription, error) {
	switch msg.Query {
	case service.QueryListChannels:
		return s.chat.SubscribeChannels(s.ctx, sink)
	case service.QueryListMessages:
		return s.chat.SubscribeMessages(s.ctx, msg.Args.ChannelID, sink)
	case service.QueryGetProfile:
		return s.chat.SubscribeProfile(s.ctx, msg.Args.UserID, sink)
	default:
		return nil, apperror.ValidationFailed("query", fmt.Sprintf("unknown query %q", msg.Query))
	}
}

// unsubscribe ends a subscription. Unknown ids are ignored.
func (s *session) unsubscribe(id string) {
	b, ok := s.subs[id]
	if !ok {
		return
	}
	delete(s.subs, id)
	b.active.Store(false)
	b.sub.Close()
}

// sinkFor turns live updates of b into result frames.
func (s *session) sinkFor(b *binding) live.Sink {
	return live.SinkFunc(func(ctx context.Context, u live.Update) error {
		payload, err := json.Marshal(ServerMessage{
			Type: TypeResult,
			ID:   b.id,
			Seq:  u.Seq,
			Data: u.Data,
		})
		if err != nil {
			return fmt.Errorf("ws: encoding result: %w", err)
		}
		return s.enqueue(ctx, frame{b: b, payload: payload})
	})
}

func (s *session) replyError(id string, err error) {
	code := apperror.Code(err)
	if code == apperror.CodeInternal {
		s.logger.Error("live request failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}

	payload, mErr := json.Marshal(ServerMessage{
		Type:    TypeError,
		ID:      id,
		Error:   code,
		Message: apperror.PublicMessage(err),
	})
	if mErr != nil {
		s.logger.Error("encoding error frame", slog.String("error", mErr.Error()))
		return
	}
	_ = s.enqueue(s.ctx, frame{payload: payload})
}

// enqueue hands a frame to the write loop. It blocks while the peer is slow;
// only the pump of the subscription waits, and that pump coalesces.
func (s *session) enqueue(ctx context.Context, f frame) error {
	select {
	case s.send <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errSessionClosed
	}
}

// writeLoop is the only goroutine that writes to conn.
func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case f := <-s.send:
			if f.b != nil && !f.b.active.Load() {
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, f.payload); err != nil {
				s.logger.Debug("live write failed", slog.String("error", err.Error()))
				s.cancel()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				return
			}

		case <-s.ctx.Done():
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// close ends every subscription of the connection and the connection itself.
func (s *session) close() {
	s.cancel()
	for _, b := range lo.Values(s.subs) {
		b.active.Store(false)
		b.sub.Close()
	}
	clear(s.subs)
	s.conn.Close()
}
