package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/chef-chat/internal/model"
	"github.com/sakif/chef-chat/internal/service"
	"github.com/sakif/chef-chat/internal/ws"
)

// client talks to one chat server.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(baseURL, token string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// apiError is the error body every endpoint returns.
type apiError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) Error() string { return e.Code + ": " + e.Message }

func (c *client) channels(ctx context.Context) ([]model.Channel, error) {
	var channels []model.Channel
	if err := c.do(ctx, http.MethodGet, "/api/channels", nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

func (c *client) createChannel(ctx context.Context, name string) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/channels", map[string]string{"name": name}, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *client) send(ctx context.Context, channelID, content string) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	path := "/api/channels/" + url.PathEscape(channelID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *client) do(ctx context.Context, method, path string, body, into any) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		return &apiErr
	}
	if into == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decoding response of %s %s: %w", method, path, err)
	}
	return nil
}

// watch subscribes to the messages of a channel and calls onDelivery with
// the messages each delivery adds. count > 0 stops after that many
// deliveries; otherwise watch runs until ctx is done.
func (c *client) watch(ctx context.Context, channelID string, count int, onDelivery func(seq uint64, fresh []model.Message)) error {
	wsURL, err := c.liveURL()
	if err != nil {
		return err
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	defer conn.Close()

	// Unblock ReadJSON when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(ws.ClientMessage{
		Op:    ws.OpSubscribe,
		ID:    "watch",
		Query: service.QueryListMessages,
		Args:  ws.Args{ChannelID: channelID},
	}); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	seen := 0
	for delivered := 0; count == 0 || delivered < count; delivered++ {
		var frame ws.ServerMessage
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading: %w", err)
		}
		if frame.Type == ws.TypeError {
			return &apiError{Code: frame.Error, Message: frame.Message}
		}

		var messages []model.Message
		if err := json.Unmarshal(frame.Data, &messages); err != nil {
			return fmt.Errorf("decoding delivery: %w", err)
		}
		// Messages are append-only, so everything past the last count is new.
		fresh := messages[min(seen, len(messages)):]
		seen = len(messages)
		onDelivery(frame.Seq, fresh)
	}
	return nil
}

func (c *client) liveURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/api/live")
	if err != nil {
		return "", fmt.Errorf("parsing --url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("--url must be http or https, got %q", c.baseURL)
	}
	return u.String(), nil
}
