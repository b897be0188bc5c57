package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatline/internal/client/models"
	"github.com/dmitrijs2005/chatline/internal/common"
	"github.com/dmitrijs2005/chatline/internal/logging"
	"github.com/sethvargo/go-retry"
)

const defaultTimeout = 15 * time.Second

// HTTPClient implements Client over JSON/HTTP with bearer auth. A 401 for an
// expired access token triggers one refresh-and-retry; a build-mismatch
// response is classified as common.ErrStaleBuild so callers reload instead
// of retrying.
type HTTPClient struct {
	baseURL string
	build   string
	hc      *http.Client
	log     logging.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func NewHTTPClient(baseURL, build, accessToken, refreshToken string, log logging.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:      baseURL,
		build:        build,
		hc:           &http.Client{Timeout: defaultTimeout},
		log:          log,
		accessToken:  accessToken,
		refreshToken: refreshToken,
	}
}

// SetTokens installs fresh session credentials, e.g. after login.
func (c *HTTPClient) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = access
	c.refreshToken = refresh
}

func (c *HTTPClient) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}

type apiError struct {
	Error string `json:"error"`
}

// do performs one JSON request, decoding a 2xx body into out (if non-nil).
// On an expired token it refreshes once and repeats the request.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	err := c.doOnce(ctx, method, path, body, out)
	if err == nil || !errors.Is(err, common.ErrTokenExpired) {
		return err
	}
	if refreshErr := c.refresh(ctx); refreshErr != nil {
		return fmt.Errorf("refreshing token: %w", refreshErr)
	}
	return c.doOnce(ctx, method, path, body, out)
}

func (c *HTTPClient) doOnce(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(common.BuildHeaderName, c.build)
	c.mu.Lock()
	if c.accessToken != "" {
		req.Header.Set(common.AccessTokenHeaderName, "Bearer "+c.accessToken)
	}
	c.mu.Unlock()

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}

	return c.classify(resp)
}

// classify maps an error response to a sentinel. Only the dedicated
// status or body marker maps to ErrStaleBuild; a generic 4xx never does.
func (c *HTTPClient) classify(resp *http.Response) error {
	var ae apiError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ae)

	switch {
	case resp.StatusCode == http.StatusUpgradeRequired || ae.Error == "build_stale":
		return common.ErrStaleBuild
	case resp.StatusCode == http.StatusUnauthorized && ae.Error == common.ErrTokenExpired.Error():
		return common.ErrTokenExpired
	case resp.StatusCode == http.StatusUnauthorized:
		return common.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return common.ErrNotFound
	}
	if ae.Error != "" {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, ae.Error)
	}
	return fmt.Errorf("server error: %s", resp.Status)
}

func (c *HTTPClient) refresh(ctx context.Context) error {
	c.mu.Lock()
	token := c.refreshToken
	c.mu.Unlock()
	if token == "" {
		return common.ErrUnauthorized
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.doOnce(ctx, http.MethodPost, "/auth/refresh",
		map[string]string{"refresh_token": token}, &out); err != nil {
		return err
	}

	c.mu.Lock()
	c.accessToken = out.AccessToken
	c.refreshToken = out.RefreshToken
	c.mu.Unlock()
	c.log.Info(ctx, "access token refreshed")
	return nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, req SendMessageRequest) (models.Message, error) {
	var m models.Message
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(req.ConversationID))
	if err := c.do(ctx, http.MethodPost, path, req, &m); err != nil {
		return models.Message{}, fmt.Errorf("sending message: %w", err)
	}
	return m, nil
}

func (c *HTTPClient) EditMessage(ctx context.Context, conversationID, messageID, content string) (models.Message, error) {
	var m models.Message
	path := fmt.Sprintf("/conversations/%s/messages/%s",
		url.PathEscape(conversationID), url.PathEscape(messageID))
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPatch, path, body, &m); err != nil {
		return models.Message{}, fmt.Errorf("editing message: %w", err)
	}
	return m, nil
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	path := fmt.Sprintf("/conversations/%s/messages/%s",
		url.PathEscape(conversationID), url.PathEscape(messageID))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

func (c *HTTPClient) AddReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	path := fmt.Sprintf("/conversations/%s/messages/%s/reactions",
		url.PathEscape(conversationID), url.PathEscape(messageID))
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"emoji": emoji}, nil); err != nil {
		return fmt.Errorf("adding reaction: %w", err)
	}
	return nil
}

func (c *HTTPClient) RemoveReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	path := fmt.Sprintf("/conversations/%s/messages/%s/reactions/%s",
		url.PathEscape(conversationID), url.PathEscape(messageID), url.PathEscape(emoji))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("removing reaction: %w", err)
	}
	return nil
}

// GetConversationMessages fetches one newest-first page. Transient failures
// are retried with fibonacci backoff; stale-build and auth errors abort
// immediately.
func (c *HTTPClient) GetConversationMessages(ctx context.Context, conversationID, cursor string, limit int) (models.Page, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	q.Set("limit", strconv.Itoa(limit))
	path := fmt.Sprintf("/conversations/%s/messages?%s", url.PathEscape(conversationID), q.Encode())

	var page models.Page
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		page = models.Page{}
		err := c.do(ctx, http.MethodGet, path, nil, &page)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return err
		}
		c.log.Warn(ctx, "page fetch failed, retrying", "conversation_id", conversationID, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return models.Page{}, fmt.Errorf("fetching messages: %w", err)
	}
	return page, nil
}

func isPermanent(err error) bool {
	return errors.Is(err, common.ErrStaleBuild) ||
		errors.Is(err, common.ErrUnauthorized) ||
		errors.Is(err, common.ErrNotFound)
}

func (c *HTTPClient) MarkMessagesAsRead(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/conversations/%s/read", url.PathEscape(conversationID))
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("marking messages read: %w", err)
	}
	return nil
}

func (c *HTTPClient) FetchOwnPlaintext(ctx context.Context, conversationID, messageID string) (string, error) {
	path := fmt.Sprintf("/conversations/%s/messages/%s/backup",
		url.PathEscape(conversationID), url.PathEscape(messageID))
	var out struct {
		Content string `json:"content"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", fmt.Errorf("fetching key backup: %w", err)
	}
	return out.Content, nil
}
