// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/netutil"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
)

// wellKnownClient is the body of /.well-known/matrix/client.
type wellKnownClient struct {
	Homeserver struct {
		BaseURL string `json:"base_url"`
	} `json:"m.homeserver"`
}

// DiscoverHomeserver resolves the client-server API base URL for a
// server name through https://<server>/.well-known/matrix/client. A
// 404 means the server name is itself the homeserver, and
// "https://<server>" is returned. Any other failure, including a
// document without m.homeserver.base_url, is an error.
func DiscoverHomeserver(ctx context.Context, httpClient *http.Client, serverName ref.ServerName) (string, error) {
	if serverName.IsZero() {
		return "", fmt.Errorf("messaging: server name is required for discovery")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	fallback := "https://" + serverName.String()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, fallback+"/.well-known/matrix/client", nil)
	if err != nil {
		return "", fmt.Errorf("messaging: creating discovery request for %s: %w", serverName, err)
	}
	response, err := httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("messaging: discovery for %s failed: %w", serverName, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return fallback, nil
	}
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("messaging: discovery for %s returned HTTP %d: %s",
			serverName, response.StatusCode, truncate(netutil.ErrorBody(response.Body), 512))
	}

	var document wellKnownClient
	if err := netutil.DecodeResponse(response.Body, &document); err != nil {
		return "", fmt.Errorf("messaging: invalid discovery document for %s: %w", serverName, err)
	}
	baseURL := strings.TrimRight(document.Homeserver.BaseURL, "/")
	if baseURL == "" {
		return "", fmt.Errorf("messaging: discovery document for %s has no m.homeserver.base_url", serverName)
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("messaging: discovery for %s returned invalid base_url %q", serverName, baseURL)
	}
	return baseURL, nil
}

