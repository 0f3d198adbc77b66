package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	// DefaultTokenPath is appended to BaseURL when TokenPath is empty.
	DefaultTokenPath = "/connect/token"
	// DefaultScope requests an identity token and a refresh token.
	DefaultScope = "openid email phone profile offline_access roles"

	maxResponseBytes = 1 << 20
)

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the identity server root, e.g. "https://id.example.com".
	BaseURL   string
	TokenPath string
	ClientID  string
	Scope     string
	// HTTPClient is used for all requests. If nil, a client with a 10s timeout is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Validate checks the fields NewClient relies on.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.ClientID, validation.Required),
	)
}

// TokenResponse is the body of a successful token request.
type TokenResponse struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Client talks to one token endpoint. It is safe for concurrent use.
type Client struct {
	endpoint   string
	clientID   string
	scope      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates cfg and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	path := cfg.TokenPath
	if path == "" {
		path = DefaultTokenPath
	}
	scope := cfg.Scope
	if scope == "" {
		scope = DefaultScope
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/"),
		clientID:   cfg.ClientID,
		scope:      scope,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Endpoint returns the token endpoint URL.
func (c *Client) Endpoint() string { return c.endpoint }

// LoginWithPassword performs a password grant for username.
func (c *Client) LoginWithPassword(ctx context.Context, username, password string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("client_id", c.clientID)
	form.Set("grant_type", "password")
	form.Set("scope", c.scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("oidc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("token endpoint unreachable", "endpoint", c.endpoint, "error", err)
		return nil, newResponseError(0, c.endpoint, nil, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, newResponseError(0, c.endpoint, nil, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("token request rejected", "endpoint", c.endpoint, "status", resp.StatusCode)
		return nil, newResponseError(resp.StatusCode, c.endpoint, body, nil)
	}

	var out TokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("oidc: parse token response: %w", err)
	}
	return &out, nil
}
