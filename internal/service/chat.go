// Package service contains the business logic of the chat backend.
//
// THE LAYERS:
//
//	Handler / WebSocket (transport) → ChatService (rules) → repository.Store (data)
//	                                              ↘ live.Notifier (who must hear about it)
//
// WRITES:
// Every write runs as one store transaction. After it commits, the service
// publishes the footprints the write touched, so the notifier can re-run the
// live queries that depend on them. The transaction and the publish happen
// under one commit mutex:
//
//   - writes are applied one at a time (serialisable)
//   - every recomputation sees exactly the state of the commit that triggered
//     it, never a half-way state of the next write
//
// READS:
// Each read exists twice: as a point read (ListMessages) and as a live query
// (SubscribeMessages) that runs the same function and keeps running it on
// every relevant write.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/chef-chat/internal/apperror"
	"github.com/sakif/chef-chat/internal/blob"
	"github.com/sakif/chef-chat/internal/live"
	"github.com/sakif/chef-chat/internal/metrics"
	"github.com/sakif/chef-chat/internal/model"
	"github.com/sakif/chef-chat/internal/repository"
)

// Validation limits, in runes. The validate tags below repeat them.
const (
	MaxChannelNameLength = 80
	MaxMessageLength     = 4000
	MaxProfileNameLength = 64
)

// Live query names, as used on the wire.
const (
	QueryListChannels = "listChannels"
	QueryListMessages = "listMessages"
	QueryGetProfile   = "getProfile"
)

// Write inputs after normalisation. Fields carry the JSON names of the
// REST bodies so validation errors point at what the client sent.
type channelInput struct {
	Name string `json:"name" validate:"required,max=80"`
}

// Content is stored as sent, so blankness is checked without trimming it.
type messageInput struct {
	ChannelID string `json:"channelId" validate:"notblank"`
	Content   string `json:"content" validate:"notblank,max=4000"`
}

type profileInput struct {
	Name string `json:"name" validate:"required,max=64"`
}

// IdentityProvider resolves the caller of a request.
// It returns apperror.ErrUnauthenticated when there is none.
type IdentityProvider interface {
	ResolveCaller(ctx context.Context) (string, error)
}

// Notifier is the part of live.Notifier the service uses.
type Notifier interface {
	Subscribe(ctx context.Context, q live.Query, sink live.Sink) (*live.Subscription, error)
	Publish(ctx context.Context, fp live.Footprint)
}

// WriteMetrics counts write outcomes.
type WriteMetrics interface {
	Write(op, outcome string)
}

type nopWriteMetrics struct{}

func (nopWriteMetrics) Write(string, string) {}

// ChannelsFootprint is the key of the channel list.
func ChannelsFootprint() live.Footprint {
	return live.Footprint{Kind: "channel", Index: "all", Key: "*"}
}

// MessagesFootprint is the key of the messages of one channel.
func MessagesFootprint(channelID string) live.Footprint {
	return live.Footprint{Kind: "message", Index: "by_channel", Key: channelID}
}

// ProfileFootprint is the key of the profile of one user.
func ProfileFootprint(userID string) live.Footprint {
	return live.Footprint{Kind: "profile", Index: "by_user", Key: userID}
}

// ChatService implements the write and read/subscribe paths.
type ChatService struct {
	store    repository.Store
	identity IdentityProvider
	blobs    blob.Store
	notifier Notifier
	metrics  WriteMetrics
	validate *validator.Validate
	logger   *slog.Logger

	// commitMu is held across a write transaction and its Publish calls.
	commitMu sync.Mutex
}

// ChatOption configures a ChatService.
type ChatOption func(*ChatService)

// WithWriteMetrics records write outcomes to m.
func WithWriteMetrics(m WriteMetrics) ChatOption {
	return func(s *ChatService) { s.metrics = m }
}

// NewChatService wires the service to its collaborators.
func NewChatService(
	store repository.Store,
	identity IdentityProvider,
	blobs blob.Store,
	notifier Notifier,
	logger *slog.Logger,
	opts ...ChatOption,
) *ChatService {
	s := &ChatService{
		store:    store,
		identity: identity,
		blobs:    blobs,
		notifier: notifier,
		metrics:  nopWriteMetrics{},
		validate: newValidator(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =========================================================================
// WRITE PATH
// =========================================================================

// CreateChannel creates a channel and returns its id. Names are not unique.
func (s *ChatService) CreateChannel(ctx context.Context, name string) (string, error) {
	const op = "createChannel"

	caller, err := s.identity.ResolveCaller(ctx)
	if err != nil {
		return "", s.reject(op, err)
	}

	name = strings.TrimSpace(name)
	if err := s.validate.Struct(channelInput{Name: name}); err != nil {
		return "", s.reject(op, validationError(err))
	}

	ch := &model.Channel{Name: name, CreatedBy: caller}
	err = s.commit(ctx, op, func(tx repository.Tx) error {
		return tx.InsertChannel(ctx, ch)
	}, ChannelsFootprint())
	if err != nil {
		return "", err
	}

	s.logger.Info("channel created",
		slog.String("channelID", ch.ID),
		slog.String("createdBy", caller),
	)
	return ch.ID, nil
}

// SendMessage posts content to a channel and returns the message id.
//
// The channel must exist when the transaction runs. Content is stored
// exactly as sent; only the emptiness check trims it.
func (s *ChatService) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	const op = "sendMessage"

	caller, err := s.identity.ResolveCaller(ctx)
	if err != nil {
		return "", s.reject(op, err)
	}

	if err := s.validate.Struct(messageInput{ChannelID: channelID, Content: content}); err != nil {
		return "", s.reject(op, validationError(err))
	}

	msg := &model.Message{ChannelID: channelID, AuthorID: caller, Content: content}
	err = s.commit(ctx, op, func(tx repository.Tx) error {
		// Referential check inside the transaction, so the channel can't
		// vanish between the check and the insert.
		if _, err := tx.GetChannel(ctx, channelID); err != nil {
			return err
		}
		return tx.InsertMessage(ctx, msg)
	}, MessagesFootprint(channelID))
	if err != nil {
		return "", err
	}

	s.logger.Debug("message sent",
		slog.String("messageID", msg.ID),
		slog.String("channelID", channelID),
		slog.String("authorID", caller),
	)
	return msg.ID, nil
}

// UpsertProfile creates the caller's profile or patches it in place.
// Name always replaces the stored one; avatarRef replaces only when non-empty.
func (s *ChatService) UpsertProfile(ctx context.Context, name, avatarRef string) error {
	const op = "upsertProfile"

	caller, err := s.identity.ResolveCaller(ctx)
	if err != nil {
		return s.reject(op, err)
	}

	name = strings.TrimSpace(name)
	if err := s.validate.Struct(profileInput{Name: name}); err != nil {
		return s.reject(op, validationError(err))
	}

	avatarRef = strings.TrimSpace(avatarRef)
	if avatarRef != "" {
		url, err := s.blobs.ResolveURL(ctx, avatarRef)
		if err != nil {
			return s.reject(op, fmt.Errorf("service/chat: resolving avatar %s: %w", avatarRef, err))
		}
		if url == "" {
			return s.reject(op, apperror.ValidationFailed("avatarRef", "avatar has not been uploaded"))
		}
	}

	update := model.ProfileUpdate{Name: name, AvatarRef: avatarRef}
	return s.commit(ctx, op, func(tx repository.Tx) error {
		existing, err := tx.GetProfileByUser(ctx, caller)
		switch {
		case errors.Is(err, apperror.ErrNotFound):
			merged, _ := model.MergeProfile(nil, update)
			merged.UserID = caller
			return tx.InsertProfile(ctx, &merged)
		case err != nil:
			return err
		}
		_, patch := model.MergeProfile(existing, update)
		return tx.PatchProfile(ctx, existing.ID, patch)
	}, ProfileFootprint(caller))
}

// RequestAvatarUpload allocates a blob upload slot for the caller.
func (s *ChatService) RequestAvatarUpload(ctx context.Context) (blob.UploadTarget, error) {
	const op = "requestAvatarUpload"

	caller, err := s.identity.ResolveCaller(ctx)
	if err != nil {
		return blob.UploadTarget{}, s.reject(op, err)
	}

	target, err := s.blobs.AllocateUploadTarget(ctx, caller)
	if err != nil {
		s.metrics.Write(op, metrics.OutcomeFailed)
		return blob.UploadTarget{}, fmt.Errorf("service/chat: allocating upload target: %w", err)
	}
	s.metrics.Write(op, metrics.OutcomeOK)
	return target, nil
}

// commit runs fn as one transaction and, once it committed, publishes the
// touched footprints while still holding the commit mutex.
func (s *ChatService) commit(ctx context.Context, op string, fn func(tx repository.Tx) error, touched ...live.Footprint) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if err := s.store.Update(ctx, fn); err != nil {
		if isRejection(err) {
			s.metrics.Write(op, metrics.OutcomeRejected)
			return err
		}
		s.metrics.Write(op, metrics.OutcomeFailed)
		s.logger.Error("write failed", slog.String("op", op), slog.String("error", err.Error()))
		return fmt.Errorf("service/chat: %s: %w", op, err)
	}

	for _, fp := range touched {
		s.notifier.Publish(ctx, fp)
	}
	s.metrics.Write(op, metrics.OutcomeOK)
	return nil
}

// reject counts a write refused before touching the store.
func (s *ChatService) reject(op string, err error) error {
	if isRejection(err) {
		s.metrics.Write(op, metrics.OutcomeRejected)
	} else {
		s.metrics.Write(op, metrics.OutcomeFailed)
	}
	return err
}

func isRejection(err error) bool {
	return errors.Is(err, apperror.ErrValidation) ||
		errors.Is(err, apperror.ErrNotFound) ||
		errors.Is(err, apperror.ErrUnauthenticated) ||
		errors.Is(err, apperror.ErrConflict)
}

// =========================================================================
// READ / SUBSCRIBE PATH
// =========================================================================

// ListChannels returns every channel in creation order.
func (s *ChatService) ListChannels(ctx context.Context) ([]model.Channel, error) {
	channels, err := s.store.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/chat: listing channels: %w", err)
	}
	return channels, nil
}

// ListMessages returns the messages of a channel in send order.
// A missing channel is NotFound.
func (s *ChatService) ListMessages(ctx context.Context, channelID string) ([]model.Message, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, apperror.ValidationFailed("channelId", "channel id is required")
	}
	if _, err := s.store.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessagesByChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("service/chat: listing messages of %s: %w", channelID, err)
	}
	return messages, nil
}

// GetProfile returns the profile of userID with its avatar URL resolved, or
// nil when the user has no profile yet.
func (s *ChatService) GetProfile(ctx context.Context, userID string) (*model.ProfileView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperror.ValidationFailed("userId", "user id is required")
	}

	p, err := s.store.GetProfileByUser(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service/chat: fetching profile of %s: %w", userID, err)
	}

	view := &model.ProfileView{Profile: *p}
	if p.AvatarRef != "" {
		url, err := s.blobs.ResolveURL(ctx, p.AvatarRef)
		if err != nil {
			return nil, fmt.Errorf("service/chat: resolving avatar of %s: %w", userID, err)
		}
		if url != "" {
			view.AvatarURL = &url
		}
	}
	return view, nil
}

// SubscribeChannels is the live form of ListChannels.
func (s *ChatService) SubscribeChannels(ctx context.Context, sink live.Sink) (*live.Subscription, error) {
	return s.notifier.Subscribe(ctx, live.Query{
		Name:      QueryListChannels,
		ID:        QueryListChannels,
		Footprint: ChannelsFootprint(),
		Run: func(ctx context.Context) (any, error) {
			return s.ListChannels(ctx)
		},
	}, sink)
}

// SubscribeMessages is the live form of ListMessages.
func (s *ChatService) SubscribeMessages(ctx context.Context, channelID string, sink live.Sink) (*live.Subscription, error) {
	return s.notifier.Subscribe(ctx, live.Query{
		Name:      QueryListMessages,
		ID:        QueryListMessages + "/" + channelID,
		Footprint: MessagesFootprint(channelID),
		Run: func(ctx context.Context) (any, error) {
			return s.ListMessages(ctx, channelID)
		},
	}, sink)
}

// SubscribeProfile is the live form of GetProfile.
func (s *ChatService) SubscribeProfile(ctx context.Context, userID string, sink live.Sink) (*live.Subscription, error) {
	return s.notifier.Subscribe(ctx, live.Query{
		Name:      QueryGetProfile,
		ID:        QueryGetProfile + "/" + userID,
		Footprint: ProfileFootprint(userID),
		Run: func(ctx context.Context) (any, error) {
			return s.GetProfile(ctx, userID)
		},
	}, sink)
}
