package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 2 * time.Minute
)

// TokenProvider supplies the bearer token attached to each request. It may
// return an empty string; the request is then sent unauthenticated and the
// backend answers 401 on protected routes.
type TokenProvider func(ctx context.Context) (string, error)

// HTTPGateway talks to the API gateway over HTTP. The invoke route may
// answer 202 with a presigned response URL which is then polled until the
// result object exists.
type HTTPGateway struct {
	baseURL      string
	client       *http.Client
	token        TokenProvider
	log          *zap.Logger
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// Option configures an HTTPGateway.
type Option func(*HTTPGateway)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *HTTPGateway) { g.client = c }
}

// WithTokenProvider installs the bearer-token source.
func WithTokenProvider(tp TokenProvider) Option {
	return func(g *HTTPGateway) { g.token = tp }
}

// WithLogger installs a logger; the default is a nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *HTTPGateway) { g.log = l }
}

// WithPolling overrides the interval and deadline used when the backend
// defers the invoke result to a presigned URL.
func WithPolling(interval, timeout time.Duration) Option {
	return func(g *HTTPGateway) {
		g.pollInterval = interval
		g.pollTimeout = timeout
	}
}

// NewHTTPGateway creates a gateway rooted at baseURL.
func NewHTTPGateway(baseURL string, opts ...Option) *HTTPGateway {
	g := &HTTPGateway{
		baseURL:      baseURL,
		client:       &http.Client{Timeout: 30 * time.Second},
		log:          zap.NewNop(),
		pollInterval: defaultPollInterval,
		pollTimeout:  defaultPollTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type sessionsRequest struct {
	UserID string `json:"user_id"`
	ChatID *int   `json:"chat_id,omitempty"`
}

type invokeRequest struct {
	UserID       string `json:"user_id"`
	ChatID       int    `json:"chat_id"`
	Message      string `json:"message"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

type tokenRequest struct {
	UserID string `json:"user_id"`
}

type deleteRequest struct {
	UserID string `json:"user_id"`
	ChatID int    `json:"chat_id"`
}

// LoadAllSessions implements ChatGateway.
func (g *HTTPGateway) LoadAllSessions(ctx context.Context, userID string) (*SessionList, error) {
	body, err := g.post(ctx, "/sessions", sessionsRequest{UserID: userID})
	if err != nil {
		return nil, err
	}
	list, err := decodeSessionList(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode session list: %v", ErrGateway, err)
	}
	g.log.Debug("loaded session list",
		zap.Int("count", len(list.Sessions)),
		zap.Bool("has_token", list.HasToken))
	return list, nil
}

// LoadSession implements ChatGateway.
func (g *HTTPGateway) LoadSession(ctx context.Context, userID string, chatID int) (*SessionContent, error) {
	body, err := g.post(ctx, "/sessions", sessionsRequest{UserID: userID, ChatID: &chatID})
	if err != nil {
		return nil, err
	}
	content, err := decodeSessionContent(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode session %d: %v", ErrGateway, chatID, err)
	}
	return content, nil
}

// SendMessage implements ChatGateway. A 202 response containing a
// response_url means the result will materialize at that URL later; it is
// polled until present, the deadline passes, or ctx is cancelled.
func (g *HTTPGateway) SendMessage(ctx context.Context, userID string, chatID int, text, model, systemPrompt string) (*SendResult, error) {
	req := invokeRequest{
		UserID:       userID,
		ChatID:       chatID,
		Message:      text,
		Model:        model,
		SystemPrompt: systemPrompt,
	}

	resp, err := g.do(ctx, "/invoke", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read invoke response: %v", ErrGateway, err)
	}

	if resp.StatusCode == http.StatusAccepted {
		if url := responseURL(raw); url != "" {
			return g.pollResult(ctx, url)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: invoke returned status %d", ErrGateway, resp.StatusCode)
	}

	var result SendResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: decode invoke response: %v", ErrGateway, err)
	}
	return &result, nil
}

// GetToken implements ChatGateway.
func (g *HTTPGateway) GetToken(ctx context.Context, userID string) (string, error) {
	body, err := g.post(ctx, "/token", tokenRequest{UserID: userID})
	if err != nil {
		return "", err
	}
	token, err := decodeToken(body)
	if err != nil {
		return "", fmt.Errorf("%w: decode token: %v", ErrGateway, err)
	}
	return token, nil
}

// DeleteSession implements ChatGateway.
func (g *HTTPGateway) DeleteSession(ctx context.Context, userID string, chatID int) error {
	_, err := g.post(ctx, "/sessions/delete", deleteRequest{UserID: userID, ChatID: chatID})
	return err
}

// pollResult polls a presigned URL until the result object exists. S3
// answers 403/404 while the object is still absent; both keep the loop
// alive, as do transport errors.
func (g *HTTPGateway) pollResult(ctx context.Context, url string) (*SendResult, error) {
	deadline := time.Now().Add(g.pollTimeout)
	lastStatus := 0

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: build poll request: %v", ErrGateway, err)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrGateway, ctx.Err())
			}
			if !sleepCtx(ctx, g.pollInterval) {
				return nil, fmt.Errorf("%w: %v", ErrGateway, ctx.Err())
			}
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastStatus = resp.StatusCode

		if resp.StatusCode == http.StatusOK && readErr == nil {
			var result SendResult
			if err := json.Unmarshal(raw, &result); err != nil {
				return nil, fmt.Errorf("%w: decode polled response: %v", ErrGateway, err)
			}
			return &result, nil
		}
		if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusNotFound {
			return nil, fmt.Errorf("%w: poll returned status %d", ErrGateway, resp.StatusCode)
		}
		if !sleepCtx(ctx, g.pollInterval) {
			return nil, fmt.Errorf("%w: %v", ErrGateway, ctx.Err())
		}
	}

	return nil, fmt.Errorf("%w: timed out waiting for response object (last status=%d)", ErrGateway, lastStatus)
}

// post sends a JSON POST and returns the response body for 2xx answers.
func (g *HTTPGateway) post(ctx context.Context, path string, payload any) ([]byte, error) {
	resp, err := g.do(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGateway, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrGateway, path, resp.StatusCode)
	}
	return raw, nil
}

func (g *HTTPGateway) do(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrGateway, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrGateway, err)
	}
	req.Header.Set("Content-Type", "application/json")

	if g.token != nil {
		token, err := g.token(ctx)
		if err != nil {
			// No token available; let the request go, the backend will 401.
			g.log.Warn("unable to obtain auth token", zap.Error(err))
		} else if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrGateway, path, err)
	}
	return resp, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

var _ ChatGateway = (*HTTPGateway)(nil)
