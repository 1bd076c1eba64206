package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/chef-chat/internal/blob"
	"github.com/sakif/chef-chat/internal/service"
)

// ChatHandler exposes the chat write and read paths over REST.
//
// Every handler is a thin shell: decode the request, call ChatService with
// the request context (which carries the caller identity set by
// auth.OptionalAuth), encode the result. All rules live in the service.
type ChatHandler struct {
	chat   *service.ChatService
	blobs  blob.Store
	logger *slog.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(chat *service.ChatService, blobs blob.Store, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, blobs: blobs, logger: logger}
}

type createChannelRequest struct {
	Name string `json:"name"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type upsertProfileRequest struct {
	Name      string `json:"name"`
	AvatarRef string `json:"avatarRef,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

// HandleCreateChannel creates a channel.
//
// HTTP: POST /api/channels
// REQUEST BODY: {"name": "general"}
// RESPONSE: 201 {"id": "..."}
func (h *ChatHandler) HandleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	id, err := h.chat.CreateChannel(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// HandleListChannels returns every channel in creation order.
//
// HTTP: GET /api/channels
func (h *ChatHandler) HandleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.chat.ListChannels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

// HandleSendMessage posts a message.
//
// HTTP: POST /api/channels/{id}/messages
// REQUEST BODY: {"content": "hello"}
// RESPONSE: 201 {"id": "..."}
func (h *ChatHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	id, err := h.chat.SendMessage(r.Context(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// HandleListMessages returns the messages of one channel in send order.
//
// HTTP: GET /api/channels/{id}/messages
func (h *ChatHandler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chat.ListMessages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// HandleGetProfile returns a user's profile with its avatar URL, or null.
//
// HTTP: GET /api/profiles/{userId}
func (h *ChatHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.chat.GetProfile(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleUpsertProfile creates or updates the caller's profile.
//
// HTTP: PUT /api/profile
// REQUEST BODY: {"name": "Ann", "avatarRef": "..."} (avatarRef optional)
// RESPONSE: 204
func (h *ChatHandler) HandleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	var req upsertProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.chat.UpsertProfile(r.Context(), req.Name, req.AvatarRef); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRequestAvatarUpload allocates an upload slot for the caller's avatar.
//
// HTTP: POST /api/profile/avatar-upload
// RESPONSE: 200 {"uploadHandle": "...", "uploadUrl": "...", "avatarRef": "...", "expiresAt": "..."}
//
// The client then POSTs the image bytes to uploadUrl and saves avatarRef with
// PUT /api/profile.
func (h *ChatHandler) HandleRequestAvatarUpload(w http.ResponseWriter, r *http.Request) {
	target, err := h.chat.RequestAvatarUpload(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// HandleUpload receives the raw bytes for an upload handle.
//
// HTTP: POST /api/uploads/{handle}
// REQUEST BODY: the image itself (any Content-Type; the store sniffs it)
// RESPONSE: 201 {"avatarRef": "..."}
//
// No token is needed: the single-use, short-lived handle is the credential.
func (h *ChatHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ref, err := h.blobs.Upload(r.Context(), chi.URLParam(r, "handle"), r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"avatarRef": ref})
}

// HandleBlob serves a stored blob.
//
// HTTP: GET /blobs/{ref}
//
// Refs are never reused, so the response is cacheable forever.
func (h *ChatHandler) HandleBlob(w http.ResponseWriter, r *http.Request) {
	obj, err := h.blobs.Open(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj); err != nil {
		h.logger.Warn("blob download interrupted",
			slog.String("ref", chi.URLParam(r, "ref")),
			slog.String("error", err.Error()),
		)
	}
}
