// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/localstore"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/sessionstore"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/syncloop"
	"github.com/bureau-foundation/matrix-client-boilerplate/messaging"
)

// StoreDirName is the local store's subdirectory of StorageDir.
const StoreDirName = "store"

// New authenticates against the homeserver, persists the session and
// runs one catch-up sync. See the package documentation for the
// sequence. No step is retried; every failure is an *Error.
//
// The caller must Close the returned client.
func New(ctx context.Context, credentials Credentials, options Options) (*Client, error) {
	userID, err := ref.ParseUserID(credentials.Username)
	if err != nil {
		return nil, newError(KindInvalidIdentity, "parse user ID", err)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("user_id", userID)
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if err := sessionstore.EnsureDir(options.StorageDir); err != nil {
		return nil, newError(KindIO, "create storage directory", err)
	}
	record, err := sessionstore.Load(options.StorageDir)
	if err != nil {
		if errors.Is(err, sessionstore.ErrCorrupt) {
			return nil, newError(KindCorruptSession, "load session", err)
		}
		return nil, newError(KindIO, "load session", err)
	}

	homeserverURL, err := resolveHomeserver(ctx, httpClient, userID, options.HomeserverURL, record)
	if err != nil {
		return nil, newError(KindClientInit, "resolve homeserver", err)
	}
	protocolClient, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: homeserverURL,
		HTTPClient:    httpClient,
		Logger:        logger,
		SendLimiter:   options.SendLimiter,
	})
	if err != nil {
		return nil, newError(KindClientInit, "create client", err)
	}
	store, err := localstore.Open(ctx, localstore.Config{
		Directory: filepath.Join(options.StorageDir, StoreDirName),
		UserID:    userID,
		Logger:    logger,
	})
	if err != nil {
		return nil, newError(KindClientInit, "open local store", err)
	}

	var session *messaging.DirectSession
	if record != nil {
		session, err = resume(ctx, protocolClient, userID, credentials, options, record, logger)
	} else {
		logger.Info("no stored session, logging in", "homeserver", homeserverURL)
		session, err = passwordLogin(ctx, protocolClient, userID, credentials, options.DeviceName, ref.DeviceID{})
	}
	if err != nil {
		store.Close()
		return nil, err
	}

	client := &Client{
		session:       session,
		userID:        userID,
		homeserverURL: homeserverURL,
		storageDir:    options.StorageDir,
		store:         store,
		options:       options,
		logger:        logger,
	}
	if err := client.saveSession(); err != nil {
		client.Close()
		return nil, newError(KindIO, "save session",
			fmt.Errorf("logged in as device %s but could not persist it: %w", session.DeviceID(), err))
	}
	session.OnTokenRefresh(client.persistRefreshedTokens)

	token, err := store.SyncToken(ctx)
	if err != nil {
		client.Close()
		return nil, newError(KindSync, "read sync token", err)
	}
	client.cursor = syncloop.NewCursor(token)
	if err := client.catchUp(ctx); err != nil {
		client.Close()
		return nil, newError(KindSync, "catch-up sync", err)
	}

	logger.Info("matrix client ready",
		"device_id", session.DeviceID(),
		"homeserver", homeserverURL,
		"sync_token", client.cursor.Token(),
	)
	return client, nil
}

// resolveHomeserver picks the homeserver base URL: the explicit
// override, then the stored session's URL, then discovery.
func resolveHomeserver(ctx context.Context, httpClient *http.Client, userID ref.UserID, override string, record *sessionstore.Record) (string, error) {
	if override != "" {
		return override, nil
	}
	if record != nil && record.HomeserverURL != "" {
		return record.HomeserverURL, nil
	}
	return messaging.DiscoverHomeserver(ctx, httpClient, userID.ServerName())
}

// resume restores the stored session. A rejected token either fails
// or falls back to a password login, depending on the resume policy.
func resume(ctx context.Context, client *messaging.Client, userID ref.UserID, credentials Credentials, options Options, record *sessionstore.Record, logger *slog.Logger) (*messaging.DirectSession, error) {
	if record.UserID != userID {
		return nil, newError(KindAuth, "resume session",
			fmt.Errorf("%s holds a session for %s, not %s", sessionstore.Path(options.StorageDir), record.UserID, userID))
	}

	session, err := client.SessionFromToken(messaging.SessionCredentials{
		UserID:       record.UserID,
		DeviceID:     record.DeviceID,
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
	})
	if err != nil {
		return nil, newError(KindClientInit, "restore session", err)
	}

	whoami, err := session.WhoAmI(ctx)
	if err == nil {
		if whoami.UserID != userID {
			session.Close()
			return nil, newError(KindAuth, "resume session",
				fmt.Errorf("stored token belongs to %s, not %s", whoami.UserID, userID))
		}
		logger.Info("resumed stored session", "device_id", record.DeviceID)
		return session, nil
	}
	session.Close()

	if messaging.IsTransient(err) {
		return nil, newError(KindClientInit, "validate stored session",
			fmt.Errorf("homeserver unreachable: %w", err))
	}
	if !messaging.IsAuthError(err) {
		return nil, newError(KindAuth, "validate stored session", err)
	}
	if options.ResumePolicy != ResumeFallbackToPassword {
		return nil, newError(KindAuth, "validate stored session",
			fmt.Errorf("stored token rejected (resume policy %s): %w", options.ResumePolicy, err))
	}
	logger.Warn("stored token rejected, logging in again",
		"device_id", record.DeviceID,
		"error", err,
	)
	return passwordLogin(ctx, client, userID, credentials, options.DeviceName, record.DeviceID)
}

func passwordLogin(ctx context.Context, client *messaging.Client, userID ref.UserID, credentials Credentials, deviceName string, deviceID ref.DeviceID) (*messaging.DirectSession, error) {
	if credentials.Password == nil || credentials.Password.Len() == 0 {
		return nil, newError(KindAuth, "login", errors.New("a password is required to log in"))
	}
	session, err := client.Login(ctx, messaging.LoginRequest{
		User:              userID.String(),
		Password:          credentials.Password,
		DeviceID:          deviceID,
		DeviceDisplayName: deviceName,
	})
	if err != nil {
		return nil, newError(KindAuth, "login", err)
	}
	if session.UserID() != userID {
		session.Close()
		return nil, newError(KindAuth, "login", fmt.Errorf("server logged in %s, not %s", session.UserID(), userID))
	}
	return session, nil
}
