// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/netutil"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/secret"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the homeserver, e.g.
	// "https://matrix.example.org".
	HomeserverURL string

	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used. A Timeout shorter than the sync long-poll interval
	// will cut every poll short.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// SendLimiter, if set, is waited on before every event send.
	SendLimiter *rate.Limiter
}

// Client is an unauthenticated Matrix client. It is safe for
// concurrent use and shared by the sessions derived from it.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
	sendLimiter *rate.Limiter
}

// NewClient creates a Client. Request URLs are built by concatenating
// escaped path segments onto HomeserverURL, so a trailing slash is
// stripped.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}
	parsed, err := url.Parse(config.HomeserverURL)
	if err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("messaging: HomeserverURL %q must be http or https", config.HomeserverURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL %q has no host", config.HomeserverURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(config.HomeserverURL, "/"),
		httpClient:  httpClient,
		logger:      logger,
		sendLimiter: config.SendLimiter,
	}, nil
}

// HomeserverURL returns the base URL requests are sent to.
func (c *Client) HomeserverURL() string {
	return c.baseURL
}

// ServerVersions returns the client-server API versions the homeserver supports.
// It is unauthenticated, which makes it a cheap reachability probe.
func (c *Client) ServerVersions(ctx context.Context) (*ServerVersionsResponse, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/versions", "", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: server versions failed: %w", err)
	}
	var response ServerVersionsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse versions response: %w", err)
	}
	return &response, nil
}

// LoginRequest holds the parameters of a password login. The caller
// keeps ownership of Password.
type LoginRequest struct {
	// User is the localpart or full user ID.
	User     string
	Password *secret.Buffer

	// DeviceID reuses an existing device instead of creating a new
	// one. Empty lets the server allocate one.
	DeviceID ref.DeviceID

	// DeviceDisplayName names a newly created device. The server
	// ignores it when DeviceID refers to an existing device.
	DeviceDisplayName string
}

type loginBody struct {
	Type                     string         `json:"type"`
	Identifier               userIdentifier `json:"identifier"`
	Password                 string         `json:"password"`
	DeviceID                 ref.DeviceID   `json:"device_id,omitzero"`
	InitialDeviceDisplayName string         `json:"initial_device_display_name,omitempty"`
	RefreshToken             bool           `json:"refresh_token"`
}

type userIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// Login authenticates with a password and returns a session. A refresh
// token is requested; servers that do not support refresh simply omit
// it.
func (c *Client) Login(ctx context.Context, request LoginRequest) (*DirectSession, error) {
	if request.User == "" {
		return nil, fmt.Errorf("messaging: user is required for login")
	}
	if request.Password == nil {
		return nil, fmt.Errorf("messaging: password is required for login")
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/login", "", loginBody{
		Type:                     "m.login.password",
		Identifier:               userIdentifier{Type: "m.id.user", User: request.User},
		Password:                 request.Password.String(),
		DeviceID:                 request.DeviceID,
		InitialDeviceDisplayName: request.DeviceDisplayName,
		RefreshToken:             true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: login failed: %w", err)
	}

	var response AuthResponse
	err = json.Unmarshal(body, &response)
	secret.Zero(body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to parse login response: %w", err)
	}
	if response.AccessToken == "" || response.UserID.IsZero() {
		return nil, fmt.Errorf("messaging: login response is missing user_id or access_token")
	}

	c.logger.Info("logged in to matrix",
		"user_id", response.UserID,
		"device_id", response.DeviceID,
		"refresh_token", response.RefreshToken != "",
	)
	return c.SessionFromToken(SessionCredentials{
		UserID:       response.UserID,
		DeviceID:     response.DeviceID,
		AccessToken:  response.AccessToken,
		RefreshToken: response.RefreshToken,
	})
}

// SessionCredentials is everything needed to resume a session without
// a password.
type SessionCredentials struct {
	UserID       ref.UserID
	DeviceID     ref.DeviceID
	AccessToken  string
	RefreshToken string
}

// SessionFromToken restores a session from stored credentials. The
// tokens are copied into protected memory. Nothing is validated
// against the server; call WhoAmI for that.
//
// The caller must Close the returned session.
func (c *Client) SessionFromToken(credentials SessionCredentials) (*DirectSession, error) {
	if credentials.UserID.IsZero() {
		return nil, fmt.Errorf("messaging: user ID is required")
	}
	if credentials.AccessToken == "" {
		return nil, fmt.Errorf("messaging: access token is required")
	}
	accessToken, err := secret.NewFromString(credentials.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	var refreshToken *secret.Buffer
	if credentials.RefreshToken != "" {
		refreshToken, err = secret.NewFromString(credentials.RefreshToken)
		if err != nil {
			accessToken.Close()
			return nil, fmt.Errorf("messaging: protecting refresh token: %w", err)
		}
	}
	return &DirectSession{
		client:       c,
		userID:       credentials.UserID,
		deviceID:     credentials.DeviceID,
		accessToken:  accessToken,
		refreshToken: refreshToken,
	}, nil
}

// doRequest performs one HTTP request against the homeserver and
// returns the response body. Non-2xx responses become a *MatrixError.
// An empty accessToken sends no Authorization header.
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	var encoded []byte
	if requestBody != nil {
		var err error
		encoded, err = json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		// Login and refresh bodies carry secrets.
		defer secret.Zero(encoded)
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body from %s %s: %w", method, path, err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	matrixErr := &MatrixError{StatusCode: response.StatusCode}
	if jsonErr := json.Unmarshal(responseBody, matrixErr); jsonErr != nil {
		matrixErr.Code = ""
		matrixErr.Message = truncate(string(responseBody), 512)
	}
	if matrixErr.RetryAfterMs == 0 {
		if seconds, err := strconv.Atoi(response.Header.Get("Retry-After")); err == nil && seconds > 0 {
			matrixErr.RetryAfterMs = int64(seconds) * 1000
		}
	}
	return nil, matrixErr
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
