// Package falcon is a typed wrapper over the vendor RTR control-plane REST
// surface: device query, session lifecycle, command execution/polling,
// active-responder file retrieval, the put-file repository, and the batch
// session verbs.
package falcon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/0x4n6nerd/rtrtriage/errors"
	"github.com/0x4n6nerd/rtrtriage/internal/httpclient"
	"github.com/0x4n6nerd/rtrtriage/logger"
)

const (
	// DefaultBaseURL is the vendor control-plane API root.
	DefaultBaseURL = "https://api.crowdstrike.com"

	oauthTokenPath = "/oauth2/token"

	maxRetries = 3
)

// Client is a stateless wrapper over the control plane, beyond an in-memory
// OAuth2 token cache (refreshed on expiry). It keeps no per-customer
// client-handle cache.
type Client struct {
	baseURL    string
	httpClient *httpclient.SaferClient
	clientID   string
	clientSecret string

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time

	log *zap.SugaredLogger
}

// NewClient builds a Client, reading credentials from FALCON_CLIENT_ID and
// FALCON_CLIENT_SECRET unless overridden in opts.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		httpClient:   httpclient.NewSaferClient(60 * time.Second),
		clientID:     os.Getenv("FALCON_CLIENT_ID"),
		clientSecret: os.Getenv("FALCON_CLIENT_SECRET"),
		log:          logger.ComponentLogger("falcon"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the control-plane root, used against GovCloud/EU
// regions or a test server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithCredentials overrides the environment-sourced client id/secret.
func WithCredentials(clientID, clientSecret string) Option {
	return func(c *Client) {
		c.clientID = clientID
		c.clientSecret = clientSecret
	}
}

// WithHTTPClient overrides the transport, used in tests against httptest.
func WithHTTPClient(hc *httpclient.SaferClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

// token returns a valid bearer token, refreshing via client-credentials if
// the cached one is missing or within 30s of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Add(30*time.Second).Before(c.expiresAt) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+oauthTokenPath, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "build oauth token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.Wrap(errors.ErrAuthFailed, err.Error()), "oauth token request")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", errors.Wrapf(errors.ErrAuthFailed, "oauth token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", errors.Wrap(err, "decode oauth token response")
	}

	c.accessToken = tokenResp.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// doJSON issues an HTTP request with a bearer token, retrying per
// isRetryableError, and decodes a JSON response body into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request body")
		}
		bodyReader = bytes.NewReader(encoded)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			c.log.Debugw("retrying control-plane request", "path", path, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if bodyReader != nil {
			encoded, _ := json.Marshal(body)
			bodyReader = bytes.NewReader(encoded)
		}

		err := c.attemptJSON(ctx, method, path, bodyReader, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return err
		}
	}

	return errors.Wrapf(lastErr, "control-plane request to %s failed after %d attempts", path, maxRetries)
}

func (c *Client) attemptJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errors.Wrapf(errors.ErrAuthFailed, "status %d: %s", resp.StatusCode, string(respBody))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Wrapf(errors.ErrRemoteError, "status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return errors.Wrap(err, "decode response")
		}
	}

	return nil
}

func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}
