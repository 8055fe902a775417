// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/secret"
)

// ErrSessionClosed is returned by requests made on a closed session.
var ErrSessionClosed = errors.New("messaging: session is closed")

// DirectSession is an authenticated Matrix session. It is safe for
// concurrent use; the sync loop and message handlers share one.
//
// Tokens live in secret.Buffer memory. The caller must call Close when
// the session is no longer needed.
type DirectSession struct {
	client   *Client
	userID   ref.UserID
	deviceID ref.DeviceID

	mu           sync.RWMutex
	accessToken  *secret.Buffer
	refreshToken *secret.Buffer
	closed       bool
	onRefresh    func(SessionCredentials)

	// refreshMu serializes token refreshes so concurrent requests
	// failing on the same stale token trigger one refresh.
	refreshMu sync.Mutex
}

// UserID returns the fully-qualified Matrix user ID.
func (s *DirectSession) UserID() ref.UserID {
	return s.userID
}

// DeviceID returns the device ID for this session.
func (s *DirectSession) DeviceID() ref.DeviceID {
	return s.deviceID
}

// AccessToken returns a heap copy of the current access token, or ""
// after Close.
func (s *DirectSession) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ""
	}
	return s.accessToken.String()
}

// RefreshToken returns the current refresh token, or "" when the
// server issued none.
func (s *DirectSession) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.refreshToken == nil {
		return ""
	}
	return s.refreshToken.String()
}

// Credentials returns a snapshot of everything needed to resume this
// session later.
func (s *DirectSession) Credentials() SessionCredentials {
	return SessionCredentials{
		UserID:       s.userID,
		DeviceID:     s.deviceID,
		AccessToken:  s.AccessToken(),
		RefreshToken: s.RefreshToken(),
	}
}

// OnTokenRefresh registers fn to be called with the new credentials
// after every successful token refresh. It replaces any earlier
// callback. fn runs on the goroutine whose request triggered the
// refresh.
func (s *DirectSession) OnTokenRefresh(fn func(SessionCredentials)) {
	s.mu.Lock()
	s.onRefresh = fn
	s.mu.Unlock()
}

// Close releases the token memory. Idempotent.
func (s *DirectSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.accessToken.Close()
	if s.refreshToken != nil {
		err = errors.Join(err, s.refreshToken.Close())
	}
	return err
}

// WhoAmI validates the access token and returns the user it belongs to.
func (s *DirectSession) WhoAmI(ctx context.Context) (*WhoAmIResponse, error) {
	body, err := s.do(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: whoami failed: %w", err)
	}
	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return &response, nil
}

// Sync performs one /sync request. Leave options.Since empty for an
// initial sync.
func (s *DirectSession) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout || options.Timeout > 0 {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.do(ctx, http.MethodGet, "/_matrix/client/v3/sync", nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}
	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	if response.NextBatch == "" {
		return nil, fmt.Errorf("messaging: sync response has no next_batch")
	}
	return &response, nil
}

// SendMessage sends an m.room.message event.
func (s *DirectSession) SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error) {
	return s.SendEvent(ctx, roomID, ref.EventTypeRoomMessage, content)
}

// SendEvent sends a timeline event with a fresh transaction ID. If the
// client has a send limiter, SendEvent waits on it first.
func (s *DirectSession) SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (ref.EventID, error) {
	if limiter := s.client.sendLimiter; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return ref.EventID{}, fmt.Errorf("messaging: waiting to send to %s: %w", roomID, err)
		}
	}

	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType.String()),
		url.PathEscape(uuid.NewString()),
	)
	body, err := s.do(ctx, http.MethodPut, path, content, nil)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send event to %s failed: %w", roomID, err)
	}
	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// SendReceipt marks eventID as read in roomID.
func (s *DirectSession) SendReceipt(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/receipt/m.read/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventID.String()),
	)
	if _, err := s.do(ctx, http.MethodPost, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("messaging: read receipt for %s in %s failed: %w", eventID, roomID, err)
	}
	return nil
}

// JoinRoom joins a room by ID, accepting a pending invite if there is
// one.
func (s *DirectSession) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID.String())
	body, err := s.do(ctx, http.MethodPost, path, struct{}{}, nil)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}
	var response struct {
		RoomID ref.RoomID `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// Refresh exchanges the refresh token for a new access token. The
// registered OnTokenRefresh callback receives the new credentials.
func (s *DirectSession) Refresh(ctx context.Context) error {
	return s.refreshFrom(ctx, s.AccessToken())
}

// do performs an authenticated request. A soft logout is answered with
// one token refresh and one retry of the same request.
func (s *DirectSession) do(ctx context.Context, method, path string, body any, query url.Values) ([]byte, error) {
	token := s.AccessToken()
	if token == "" {
		return nil, ErrSessionClosed
	}
	response, err := s.client.doRequest(ctx, method, path, token, body, query)
	if err == nil || !s.canRefresh(err) {
		return response, err
	}

	if refreshErr := s.refreshFrom(ctx, token); refreshErr != nil {
		s.client.logger.Warn("token refresh after soft logout failed",
			"user_id", s.userID,
			"error", refreshErr,
		)
		return nil, err
	}
	token = s.AccessToken()
	if token == "" {
		return nil, ErrSessionClosed
	}
	return s.client.doRequest(ctx, method, path, token, body, query)
}

func (s *DirectSession) canRefresh(err error) bool {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return false
	}
	if matrixErr.Code != ErrCodeUnknownToken || !matrixErr.SoftLogout {
		return false
	}
	return s.RefreshToken() != ""
}

// refreshFrom refreshes unless another request already replaced
// staleToken.
func (s *DirectSession) refreshFrom(ctx context.Context, staleToken string) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if current := s.AccessToken(); current == "" {
		return ErrSessionClosed
	} else if current != staleToken {
		return nil
	}
	refreshToken := s.RefreshToken()
	if refreshToken == "" {
		return fmt.Errorf("messaging: session has no refresh token")
	}

	body, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/refresh", "",
		map[string]string{"refresh_token": refreshToken}, nil)
	if err != nil {
		return fmt.Errorf("messaging: token refresh failed: %w", err)
	}
	var response refreshResponse
	err = json.Unmarshal(body, &response)
	secret.Zero(body)
	if err != nil {
		return fmt.Errorf("messaging: failed to parse refresh response: %w", err)
	}
	if response.AccessToken == "" {
		return fmt.Errorf("messaging: refresh response has no access_token")
	}

	newAccess, err := secret.NewFromString(response.AccessToken)
	if err != nil {
		return fmt.Errorf("messaging: protecting access token: %w", err)
	}
	var newRefresh *secret.Buffer
	if response.RefreshToken != "" {
		newRefresh, err = secret.NewFromString(response.RefreshToken)
		if err != nil {
			newAccess.Close()
			return fmt.Errorf("messaging: protecting refresh token: %w", err)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		newAccess.Close()
		if newRefresh != nil {
			newRefresh.Close()
		}
		return ErrSessionClosed
	}
	s.accessToken.Close()
	s.accessToken = newAccess
	if newRefresh != nil {
		s.refreshToken.Close()
		s.refreshToken = newRefresh
	}
	callback := s.onRefresh
	s.mu.Unlock()

	s.client.logger.Info("refreshed matrix access token",
		"user_id", s.userID,
		"device_id", s.deviceID,
	)
	if callback != nil {
		callback(s.Credentials())
	}
	return nil
}
