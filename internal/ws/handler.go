package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/chef-chat/internal/live"
)

// Subscriber opens live queries. *service.ChatService implements it.
type Subscriber interface {
	SubscribeChannels(ctx context.Context, sink live.Sink) (*live.Subscription, error)
	SubscribeMessages(ctx context.Context, channelID string, sink live.Sink) (*live.Subscription, error)
	SubscribeProfile(ctx context.Context, userID string, sink live.Sink) (*live.Subscription, error)
}

// Handler upgrades GET /api/live to a WebSocket and runs one session per
// connection.
type Handler struct {
	chat     Subscriber
	logger   *slog.Logger
	origins  []string
	upgrader websocket.Upgrader
}

// Option configures a Handler.
type Option func(*Handler)

// WithAllowedOrigins sets the browser origins allowed to connect. "*" allows
// any origin; an empty list allows same-origin pages only.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) { h.origins = origins }
}

// New creates the live endpoint handler.
func New(chat Subscriber, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{chat: chat, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      newOriginPolicy(h.origins, logger).checkFunc(logger),
	}
	return h
}

// ServeHTTP upgrades the connection and blocks until the session ends.
//
// The session context keeps the request's values (request id, caller) but
// not its cancellation: net/http cancels a hijacked request's context when
// ServeHTTP returns, and the session decides for itself when it is over.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error.
		h.logger.Debug("live upgrade failed", slog.String("error", err.Error()))
		return
	}

	logger := h.logger.With(slog.String("remote", r.RemoteAddr))
	s := newSession(context.WithoutCancel(r.Context()), conn, h.chat, logger)

	logger.Debug("live session opened")
	go s.writeLoop()
	s.readLoop()
	logger.Debug("live session closed")
}
