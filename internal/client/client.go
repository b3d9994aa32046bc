// Package client talks to the chat REST endpoints: history retrieval,
// message creation and conversation listing.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quickmoney/lendchat/internal/models"
)

// API is a token-authenticated client for the /api/chat endpoints.
type API struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New returns an API for baseURL. The token is sent on every request.
func New(baseURL, token string) *API {
	return &API{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchHistory returns the persisted messages between a and b in server
// order. No prior messages is an empty slice, not an error.
func (c *API) FetchHistory(ctx context.Context, a, b string) ([]models.Message, error) {
	path := fmt.Sprintf("/api/chat/history/%s/%s", url.PathEscape(a), url.PathEscape(b))

	var env models.Envelope[[]models.Message]
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, &models.RetrievalError{Op: "fetch history", Err: err}
	}
	if env.Data == nil {
		return []models.Message{}, nil
	}
	return env.Data, nil
}

// CreateMessage persists a message. The returned message carries the
// server-assigned ID when the server provides one.
func (c *API) CreateMessage(ctx context.Context, req models.SendRequest) (models.Message, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.Message{}, &models.SendError{Err: err}
	}

	var env models.Envelope[*models.Message]
	if err := c.do(ctx, http.MethodPost, "/api/chat/send", body, &env); err != nil {
		return models.Message{}, &models.SendError{Err: err}
	}

	msg := models.Message{
		ClientID:   req.ClientID,
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		RoomID:     req.RoomID,
		Text:       req.Text,
	}
	if env.Data != nil {
		msg.ID = env.Data.ID
		msg.Timestamp = env.Data.Timestamp
	}
	return msg, nil
}

// ListConversations returns the user's conversation summaries.
func (c *API) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	path := "/api/chat/conversations/" + url.PathEscape(userID)

	var env models.Envelope[[]models.ConversationSummary]
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, &models.RetrievalError{Op: "list conversations", Err: err}
	}
	if env.Data == nil {
		return []models.ConversationSummary{}, nil
	}
	return env.Data, nil
}

// do performs the request and decodes the envelope into out. A non-2xx
// status or success=false is an error carrying the server's message.
func (c *API) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var status struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(respBody, &status)

	if resp.StatusCode >= 400 || !status.Success {
		if status.Error != "" {
			return &StatusError{Code: resp.StatusCode, Message: status.Error}
		}
		return &StatusError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// StatusError is a rejection reported by the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}
