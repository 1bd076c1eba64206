package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/chef-chat/internal/auth"
	blobfs "github.com/sakif/chef-chat/internal/blob/fs"
	"github.com/sakif/chef-chat/internal/handler"
	"github.com/sakif/chef-chat/internal/live"
	"github.com/sakif/chef-chat/internal/model"
	"github.com/sakif/chef-chat/internal/repository/sqlite"
	"github.com/sakif/chef-chat/internal/service"
)

const testSecret = "test-secret-at-least-16-chars!!"

var pngAvatar = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

type apiFixture struct {
	router http.Handler
	tokens *auth.TokenService
}

// newAPI wires the chat routes the way the server does, on top of an
// in-memory store and a temp-dir blob store.
func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs, err := blobfs.New(t.TempDir(), "http://chat.test", logger)
	require.NoError(t, err)

	notifier := live.New(logger)
	t.Cleanup(notifier.Close)

	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)

	chat := service.NewChatService(store, auth.ContextIdentity{}, blobs, notifier, logger)
	h := handler.NewChatHandler(chat, blobs, logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.OptionalAuth(tokens))
		r.Post("/channels", h.HandleCreateChannel)
		r.Get("/channels", h.HandleListChannels)
		r.Get("/channels/{id}/messages", h.HandleListMessages)
		r.Post("/channels/{id}/messages", h.HandleSendMessage)
		r.Get("/profiles/{userId}", h.HandleGetProfile)
		r.Put("/profile", h.HandleUpsertProfile)
		r.Post("/profile/avatar-upload", h.HandleRequestAvatarUpload)
		r.Post("/uploads/{handle}", h.HandleUpload)
	})
	r.Get("/blobs/{ref}", h.HandleBlob)

	return &apiFixture{router: r, tokens: tokens}
}

// do sends a request as userID ("" for anonymous) and returns the recorder.
func (f *apiFixture) do(t *testing.T, method, path, userID string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if userID != "" {
		token, err := f.tokens.Generate(userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (f *apiFixture) createChannel(t *testing.T, name string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/channels", "alice", strings.NewReader(`{"name":"`+name+`"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[map[string]string](t, rec)["id"]
}

func TestChannels(t *testing.T) {
	f := newAPI(t)

	id := f.createChannel(t, "general")
	assert.NotEmpty(t, id)
	f.createChannel(t, "random")

	rec := f.do(t, http.MethodGet, "/api/channels", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	channels := decodeBody[[]model.Channel](t, rec)
	require.Len(t, channels, 2)
	assert.Equal(t, "general", channels[0].Name)
	assert.Equal(t, "random", channels[1].Name)
	assert.Equal(t, "alice", channels[0].CreatedBy)
}

func TestCreateChannel_Errors(t *testing.T) {
	f := newAPI(t)

	cases := []struct {
		name   string
		user   string
		body   string
		status int
		code   string
	}{
		{"anonymous", "", `{"name":"general"}`, http.StatusUnauthorized, "unauthenticated"},
		{"empty name", "alice", `{"name":"  "}`, http.StatusBadRequest, "invalid_argument"},
		{"malformed json", "alice", `{"name":`, http.StatusBadRequest, "invalid_argument"},
		{"unknown field", "alice", `{"title":"general"}`, http.StatusBadRequest, "invalid_argument"},
		{"empty body", "alice", ``, http.StatusBadRequest, "invalid_argument"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/channels", tc.user, strings.NewReader(tc.body))
			assert.Equal(t, tc.status, rec.Code)
			resp := decodeBody[handler.ErrorResponse](t, rec)
			assert.Equal(t, tc.code, resp.Error)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestMessages(t *testing.T) {
	f := newAPI(t)
	id := f.createChannel(t, "general")

	for _, content := range []string{"hi", "hello"} {
		rec := f.do(t, http.MethodPost, "/api/channels/"+id+"/messages", "alice",
			strings.NewReader(`{"content":"`+content+`"}`))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.NotEmpty(t, decodeBody[map[string]string](t, rec)["id"])
	}

	rec := f.do(t, http.MethodGet, "/api/channels/"+id+"/messages", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decodeBody[[]model.Message](t, rec)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)
}

func TestMessages_UnknownChannel(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodPost, "/api/channels/missing/messages", "alice", strings.NewReader(`{"content":"hi"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[handler.ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodGet, "/api/channels/missing/messages", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessages_EmptyListIsArray(t *testing.T) {
	f := newAPI(t)
	id := f.createChannel(t, "quiet")

	rec := f.do(t, http.MethodGet, "/api/channels/"+id+"/messages", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestProfile(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodGet, "/api/profiles/ann", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `null`, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/profile", "ann", strings.NewReader(`{"name":"Ann"}`))
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/profiles/ann", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Ann", got["name"])
	assert.Equal(t, "ann", got["userId"])
	assert.Contains(t, got, "avatarUrl")
	assert.Nil(t, got["avatarUrl"])
}

func TestAvatarUploadFlow(t *testing.T) {
	f := newAPI(t)

	// 1. allocate
	rec := f.do(t, http.MethodPost, "/api/profile/avatar-upload", "ann", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	target := decodeBody[map[string]any](t, rec)
	handle, _ := target["uploadHandle"].(string)
	ref, _ := target["avatarRef"].(string)
	require.NotEmpty(t, handle)
	require.NotEmpty(t, ref)
	assert.Equal(t, "http://chat.test/api/uploads/"+handle, target["uploadUrl"])

	// 2. upload (no token: the handle is the credential)
	rec = f.do(t, http.MethodPost, "/api/uploads/"+handle, "", bytes.NewReader(pngAvatar))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, ref, decodeBody[map[string]string](t, rec)["avatarRef"])

	// handles are single-use
	rec = f.do(t, http.MethodPost, "/api/uploads/"+handle, "", bytes.NewReader(pngAvatar))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 3. attach to the profile
	rec = f.do(t, http.MethodPut, "/api/profile", "ann", strings.NewReader(`{"name":"Ann","avatarRef":"`+ref+`"}`))
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/profiles/ann", "", nil)
	view := decodeBody[model.ProfileView](t, rec)
	require.NotNil(t, view.AvatarURL)
	assert.Equal(t, "http://chat.test/blobs/"+ref, *view.AvatarURL)

	// 4. download
	rec = f.do(t, http.MethodGet, "/blobs/"+ref, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, pngAvatar, rec.Body.Bytes())
}

func TestAvatarUpload_RequiresIdentity(t *testing.T) {
	f := newAPI(t)
	rec := f.do(t, http.MethodPost, "/api/profile/avatar-upload", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBlob_Unknown(t *testing.T) {
	f := newAPI(t)
	rec := f.do(t, http.MethodGet, "/blobs/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
