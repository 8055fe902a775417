// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messagingtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
	"github.com/bureau-foundation/matrix-client-boilerplate/messaging"
)

// Homeserver is a fake Matrix homeserver. All methods are safe for
// concurrent use with the requests it serves.
type Homeserver struct {
	server     *httptest.Server
	serverName ref.ServerName

	mu            sync.Mutex
	passwords     map[ref.UserID]string
	tokens        map[string]*grant
	refreshTokens map[string]*grant
	nextID        int
	batch         int

	logins       []LoginRecord
	syncs        []SyncRecord
	sent         []SentEvent
	receipts     []Receipt
	joins        []ref.RoomID
	refreshes    int
	syncFailures []Failure
	afterLogin   func(LoginRecord)
	roomNames    map[ref.RoomID]string
	announced    map[string]bool
	pending      map[ref.RoomID][]messaging.Event
	wake         chan struct{}
}

type grant struct {
	userID     ref.UserID
	deviceID   ref.DeviceID
	softLogout bool
}

// LoginRecord is one password login attempt, successful or not.
type LoginRecord struct {
	User        string
	DeviceID    string
	DisplayName string
	Succeeded   bool
}

// SyncRecord is one /sync request as received.
type SyncRecord struct {
	UserID  ref.UserID
	Since   string
	Timeout string
	Filter  string
}

// SentEvent is an event a client sent with PUT /send.
type SentEvent struct {
	RoomID        ref.RoomID
	EventID       ref.EventID
	Type          ref.EventType
	TransactionID string
	Sender        ref.UserID
	Content       json.RawMessage
}

// Receipt is a read receipt a client posted.
type Receipt struct {
	RoomID  ref.RoomID
	EventID ref.EventID
	UserID  ref.UserID
}

// Failure describes an error response injected into /sync.
type Failure struct {
	Status       int
	Code         string
	RetryAfterMs int64
	SoftLogout   bool
}

// New starts a fake homeserver for serverName and stops it when the
// test ends.
func New(t testing.TB, serverName string) *Homeserver {
	t.Helper()
	homeserver := &Homeserver{
		serverName:    ref.MustParseServerName(serverName),
		passwords:     make(map[ref.UserID]string),
		tokens:        make(map[string]*grant),
		refreshTokens: make(map[string]*grant),
		roomNames:     make(map[ref.RoomID]string),
		announced:     make(map[string]bool),
		pending:       make(map[ref.RoomID][]messaging.Event),
		wake:          make(chan struct{}),
	}
	homeserver.server = httptest.NewServer(homeserver.handler())
	t.Cleanup(homeserver.Close)
	return homeserver
}

// URL returns the base URL clients should use.
func (h *Homeserver) URL() string { return h.server.URL }

// Client returns an HTTP client for the server.
func (h *Homeserver) Client() *http.Client { return h.server.Client() }

// Close stops the server. Pending long polls return immediately.
func (h *Homeserver) Close() {
	h.mu.Lock()
	h.wakeLocked()
	h.mu.Unlock()
	h.server.CloseClientConnections()
	h.server.Close()
}

// AddUser registers an account and returns its user ID.
func (h *Homeserver) AddUser(localpart, password string) ref.UserID {
	userID := ref.MustParseUserID("@" + localpart + ":" + h.serverName.String())
	h.mu.Lock()
	h.passwords[userID] = password
	h.mu.Unlock()
	return userID
}

// IssueToken creates a valid access token for an existing device
// without a login, as if from an earlier run.
func (h *Homeserver) IssueToken(userID ref.UserID, deviceID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	token := h.newIDLocked("syt_")
	h.tokens[token] = &grant{userID: userID, deviceID: mustDevice(deviceID)}
	return token
}

// IssueRefreshToken creates a refresh token for an existing device.
func (h *Homeserver) IssueRefreshToken(userID ref.UserID, deviceID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	token := h.newIDLocked("syr_")
	h.refreshTokens[token] = &grant{userID: userID, deviceID: mustDevice(deviceID)}
	return token
}

// RevokeToken invalidates an access token. Later requests with it get
// M_UNKNOWN_TOKEN.
func (h *Homeserver) RevokeToken(token string) {
	h.mu.Lock()
	delete(h.tokens, token)
	h.mu.Unlock()
}

// ExpireToken marks an access token as soft-logged-out: requests fail
// with M_UNKNOWN_TOKEN and soft_logout set until the client refreshes.
func (h *Homeserver) ExpireToken(token string) {
	h.mu.Lock()
	if grant, ok := h.tokens[token]; ok {
		grant.softLogout = true
	}
	h.mu.Unlock()
}

// TokenValid reports whether token is currently accepted.
func (h *Homeserver) TokenValid(token string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	grant, ok := h.tokens[token]
	return ok && !grant.softLogout
}

// SetRoomName sets the m.room.name state delivered with the room's
// first appearance in a sync.
func (h *Homeserver) SetRoomName(roomID ref.RoomID, name string) {
	h.mu.Lock()
	h.roomNames[roomID] = name
	h.mu.Unlock()
}

// QueueMessage queues an m.text message from sender into roomID. It
// is delivered by the next /sync and wakes any pending long poll.
func (h *Homeserver) QueueMessage(roomID ref.RoomID, sender ref.UserID, body string) ref.EventID {
	content, _ := json.Marshal(messaging.NewTextMessage(body))
	return h.QueueEvent(roomID, messaging.Event{
		Type:    ref.EventTypeRoomMessage,
		Sender:  sender,
		Content: content,
	})
}

// QueueEvent queues an arbitrary timeline event. EventID and
// OriginServerTS are filled in when zero.
func (h *Homeserver) QueueEvent(roomID ref.RoomID, event messaging.Event) ref.EventID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if event.EventID.IsZero() {
		event.EventID = ref.MustParseEventID("$" + h.newIDLocked("ev"))
	}
	if event.OriginServerTS == 0 {
		event.OriginServerTS = time.Now().UnixMilli()
	}
	h.pending[roomID] = append(h.pending[roomID], event)
	h.wakeLocked()
	return event.EventID
}

// AfterLogin registers fn to run after each successful login, before
// the response is written. fn must not call back into the Homeserver.
func (h *Homeserver) AfterLogin(fn func(LoginRecord)) {
	h.mu.Lock()
	h.afterLogin = fn
	h.mu.Unlock()
}

// FailNextSyncs makes the next len(failures) /sync requests fail with
// the given responses, in order.
func (h *Homeserver) FailNextSyncs(failures ...Failure) {
	h.mu.Lock()
	h.syncFailures = append(h.syncFailures, failures...)
	h.mu.Unlock()
}

// Logins returns every login attempt so far.
func (h *Homeserver) Logins() []LoginRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]LoginRecord(nil), h.logins...)
}

// Syncs returns every /sync request so far.
func (h *Homeserver) Syncs() []SyncRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SyncRecord(nil), h.syncs...)
}

// Sent returns every event sent so far.
func (h *Homeserver) Sent() []SentEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SentEvent(nil), h.sent...)
}

// Receipts returns every read receipt posted so far.
func (h *Homeserver) Receipts() []Receipt {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Receipt(nil), h.receipts...)
}

// Joins returns every room joined through the API.
func (h *Homeserver) Joins() []ref.RoomID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ref.RoomID(nil), h.joins...)
}

// Refreshes returns how many token refreshes succeeded.
func (h *Homeserver) Refreshes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refreshes
}

func (h *Homeserver) newIDLocked(prefix string) string {
	h.nextID++
	return prefix + strconv.Itoa(h.nextID)
}

func (h *Homeserver) wakeLocked() {
	close(h.wake)
	h.wake = make(chan struct{})
}

func mustDevice(raw string) ref.DeviceID {
	deviceID, err := ref.ParseDeviceID(raw)
	if err != nil {
		panic(err)
	}
	return deviceID
}

func (h *Homeserver) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawPath := r.URL.RawPath
		if rawPath == "" {
			rawPath = r.URL.Path
		}

		switch {
		case rawPath == "/_matrix/client/versions" && r.Method == http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"versions": []string{"v1.11", "v1.12"}})
			return
		case rawPath == "/_matrix/client/v3/login" && r.Method == http.MethodPost:
			h.handleLogin(w, r)
			return
		case rawPath == "/_matrix/client/v3/refresh" && r.Method == http.MethodPost:
			h.handleRefresh(w, r)
			return
		}

		grant, ok := h.authenticate(w, r)
		if !ok {
			return
		}

		switch {
		case rawPath == "/_matrix/client/v3/account/whoami" && r.Method == http.MethodGet:
			writeJSON(w, http.StatusOK, messaging.WhoAmIResponse{UserID: grant.userID, DeviceID: grant.deviceID})
			return
		case rawPath == "/_matrix/client/v3/sync" && r.Method == http.MethodGet:
			h.handleSync(w, r, grant)
			return
		}

		const joinPrefix = "/_matrix/client/v3/join/"
		if strings.HasPrefix(rawPath, joinPrefix) && r.Method == http.MethodPost {
			roomID, err := parseRoom(rawPath[len(joinPrefix):])
			if err != nil {
				writeError(w, http.StatusBadRequest, messaging.ErrCodeInvalidParam, err.Error())
				return
			}
			h.mu.Lock()
			h.joins = append(h.joins, roomID)
			h.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]string{"room_id": roomID.String()})
			return
		}

		const roomsPrefix = "/_matrix/client/v3/rooms/"
		if !strings.HasPrefix(rawPath, roomsPrefix) {
			writeError(w, http.StatusNotFound, "M_UNRECOGNIZED", "unrecognized request")
			return
		}
		segments := strings.Split(rawPath[len(roomsPrefix):], "/")
		roomID, err := parseRoom(segments[0])
		if err != nil {
			writeError(w, http.StatusBadRequest, messaging.ErrCodeInvalidParam, err.Error())
			return
		}

		switch {
		case len(segments) == 4 && segments[1] == "send" && r.Method == http.MethodPut:
			eventType, _ := url.PathUnescape(segments[2])
			transactionID, _ := url.PathUnescape(segments[3])
			h.handleSend(w, r, grant, roomID, ref.EventType(eventType), transactionID)
		case len(segments) == 4 && segments[1] == "receipt" && r.Method == http.MethodPost:
			rawEventID, _ := url.PathUnescape(segments[3])
			eventID, err := ref.ParseEventID(rawEventID)
			if err != nil {
				writeError(w, http.StatusBadRequest, messaging.ErrCodeInvalidParam, err.Error())
				return
			}
			h.mu.Lock()
			h.receipts = append(h.receipts, Receipt{RoomID: roomID, EventID: eventID, UserID: grant.userID})
			h.mu.Unlock()
			writeJSON(w, http.StatusOK, struct{}{})
		default:
			writeError(w, http.StatusNotFound, "M_UNRECOGNIZED", "unrecognized request")
		}
	})
}

func parseRoom(segment string) (ref.RoomID, error) {
	raw, err := url.PathUnescape(segment)
	if err != nil {
		return ref.RoomID{}, err
	}
	return ref.ParseRoomID(raw)
}

func (h *Homeserver) authenticate(w http.ResponseWriter, r *http.Request) (grant, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		writeError(w, http.StatusUnauthorized, messaging.ErrCodeMissingToken, "missing access token")
		return grant{}, false
	}
	h.mu.Lock()
	current, ok := h.tokens[token]
	var snapshot grant
	if ok {
		snapshot = *current
	}
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, messaging.ErrCodeUnknownToken, "unknown access token")
		return grant{}, false
	}
	if snapshot.softLogout {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"errcode":     messaging.ErrCodeUnknownToken,
			"error":       "access token expired",
			"soft_logout": true,
		})
		return grant{}, false
	}
	return snapshot, true
}

type loginRequest struct {
	Type       string `json:"type"`
	Identifier struct {
		Type string `json:"type"`
		User string `json:"user"`
	} `json:"identifier"`
	Password     string `json:"password"`
	DeviceID     string `json:"device_id"`
	DisplayName  string `json:"initial_device_display_name"`
	RefreshToken bool   `json:"refresh_token"`
}

func (h *Homeserver) handleLogin(w http.ResponseWriter, r *http.Request) {
	var request loginRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, messaging.ErrCodeBadJSON, err.Error())
		return
	}
	if request.Type != "m.login.password" || request.Identifier.Type != "m.id.user" {
		writeError(w, http.StatusBadRequest, "M_UNKNOWN", "unsupported login type")
		return
	}

	user := request.Identifier.User
	if !strings.HasPrefix(user, "@") {
		user = "@" + user + ":" + h.serverName.String()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	record := LoginRecord{User: request.Identifier.User, DeviceID: request.DeviceID, DisplayName: request.DisplayName}

	userID, err := ref.ParseUserID(user)
	password, known := h.passwords[userID]
	if err != nil || !known || password != request.Password {
		h.logins = append(h.logins, record)
		writeError(w, http.StatusForbidden, messaging.ErrCodeForbidden, "Invalid username or password")
		return
	}
	record.Succeeded = true
	h.logins = append(h.logins, record)

	deviceID := request.DeviceID
	if deviceID == "" {
		deviceID = "DEVICE" + strconv.Itoa(h.nextID+1)
		h.nextID++
	}
	issued := &grant{userID: userID, deviceID: mustDevice(deviceID)}
	accessToken := h.newIDLocked("syt_")
	h.tokens[accessToken] = issued
	response := messaging.AuthResponse{
		UserID:      userID,
		AccessToken: accessToken,
		DeviceID:    issued.deviceID,
	}
	if request.RefreshToken {
		response.RefreshToken = h.newIDLocked("syr_")
		h.refreshTokens[response.RefreshToken] = &grant{userID: userID, deviceID: issued.deviceID}
		response.ExpiresInMs = 300000
	}
	if h.afterLogin != nil {
		h.afterLogin(record)
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Homeserver) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var request struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, messaging.ErrCodeBadJSON, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	owner, ok := h.refreshTokens[request.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, messaging.ErrCodeUnknownToken, "unknown refresh token")
		return
	}
	delete(h.refreshTokens, request.RefreshToken)
	for token, existing := range h.tokens {
		if existing.userID == owner.userID && existing.deviceID == owner.deviceID {
			delete(h.tokens, token)
		}
	}

	accessToken := h.newIDLocked("syt_")
	refreshToken := h.newIDLocked("syr_")
	h.tokens[accessToken] = &grant{userID: owner.userID, deviceID: owner.deviceID}
	h.refreshTokens[refreshToken] = &grant{userID: owner.userID, deviceID: owner.deviceID}
	h.refreshes++
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in_ms": 300000,
	})
}

func (h *Homeserver) handleSend(w http.ResponseWriter, r *http.Request, sender grant, roomID ref.RoomID, eventType ref.EventType, transactionID string) {
	content, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(content) {
		writeError(w, http.StatusBadRequest, messaging.ErrCodeBadJSON, "content is not valid JSON")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, existing := range h.sent {
		if existing.TransactionID == transactionID && existing.Sender == sender.userID {
			writeJSON(w, http.StatusOK, messaging.SendEventResponse{EventID: existing.EventID})
			return
		}
	}
	eventID := ref.MustParseEventID("$" + h.newIDLocked("ev"))
	h.sent = append(h.sent, SentEvent{
		RoomID:        roomID,
		EventID:       eventID,
		Type:          eventType,
		TransactionID: transactionID,
		Sender:        sender.userID,
		Content:       content,
	})
	// Echo into the room timeline like a real server does.
	h.pending[roomID] = append(h.pending[roomID], messaging.Event{
		EventID:        eventID,
		Type:           eventType,
		Sender:         sender.userID,
		OriginServerTS: time.Now().UnixMilli(),
		Content:        content,
		Unsigned:       &messaging.EventUnsigned{TransactionID: transactionID},
	})
	h.wakeLocked()
	writeJSON(w, http.StatusOK, messaging.SendEventResponse{EventID: eventID})
}

func (h *Homeserver) handleSync(w http.ResponseWriter, r *http.Request, caller grant) {
	query := r.URL.Query()
	record := SyncRecord{
		UserID:  caller.userID,
		Since:   query.Get("since"),
		Timeout: query.Get("timeout"),
		Filter:  query.Get("filter"),
	}

	h.mu.Lock()
	h.syncs = append(h.syncs, record)
	if len(h.syncFailures) > 0 {
		failure := h.syncFailures[0]
		h.syncFailures = h.syncFailures[1:]
		h.mu.Unlock()
		body := map[string]any{"errcode": failure.Code, "error": "injected failure"}
		if failure.RetryAfterMs > 0 {
			body["retry_after_ms"] = failure.RetryAfterMs
		}
		if failure.SoftLogout {
			body["soft_logout"] = true
		}
		writeJSON(w, failure.Status, body)
		return
	}
	h.mu.Unlock()

	timeout, _ := strconv.Atoi(record.Timeout)
	deadline := time.NewTimer(time.Duration(timeout) * time.Millisecond)
	defer deadline.Stop()
	for {
		h.mu.Lock()
		if len(h.pending) > 0 || timeout <= 0 {
			response := h.drainLocked(caller)
			h.mu.Unlock()
			writeJSON(w, http.StatusOK, response)
			return
		}
		wake := h.wake
		h.mu.Unlock()

		select {
		case <-wake:
		case <-deadline.C:
			timeout = 0
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Homeserver) drainLocked(caller grant) messaging.SyncResponse {
	h.batch++
	response := messaging.SyncResponse{NextBatch: fmt.Sprintf("s%d_%d", h.batch, h.nextID)}
	for roomID, events := range h.pending {
		if response.Rooms.Join == nil {
			response.Rooms.Join = make(map[ref.RoomID]messaging.JoinedRoom)
		}
		var room messaging.JoinedRoom
		key := caller.userID.String() + "\x00" + roomID.String()
		if !h.announced[key] {
			h.announced[key] = true
			room.State.Events = append(room.State.Events, stateEvent(ref.EventTypeRoomMember,
				caller.userID.String(), caller.userID, `{"membership":"join"}`))
			if name, ok := h.roomNames[roomID]; ok {
				content, _ := json.Marshal(map[string]string{"name": name})
				room.State.Events = append(room.State.Events, stateEvent(ref.EventTypeRoomName,
					"", caller.userID, string(content)))
			}
		}
		room.Timeline.Events = events
		response.Rooms.Join[roomID] = room
	}
	h.pending = make(map[ref.RoomID][]messaging.Event)
	return response
}

func stateEvent(eventType ref.EventType, stateKey string, sender ref.UserID, content string) messaging.Event {
	return messaging.Event{
		EventID:        ref.MustParseEventID("$state-" + eventType.String() + "-" + sender.Localpart()),
		Type:           eventType,
		Sender:         sender,
		OriginServerTS: time.Now().UnixMilli(),
		Content:        json.RawMessage(content),
		StateKey:       &stateKey,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"errcode": code, "error": message})
}
