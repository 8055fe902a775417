// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
)

type failReader struct{}

func (failReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestDecodeResponse(t *testing.T) {
	var result struct {
		UserID string `json:"user_id"`
	}
	if err := DecodeResponse(strings.NewReader(`{"user_id":"@bot:example.org"}`), &result); err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if result.UserID != "@bot:example.org" {
		t.Errorf("user_id = %q", result.UserID)
	}

	if err := DecodeResponse(failReader{}, &result); err == nil {
		t.Error("expected read error to propagate")
	}
	if err := DecodeResponse(strings.NewReader("{"), &result); err == nil {
		t.Error("expected JSON error")
	}
}

func TestReadResponseFromServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"versions":["v1.11"]}`))
	}))
	defer server.Close()

	response, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer response.Body.Close()
	data, err := ReadResponse(response.Body)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if !bytes.Contains(data, []byte("v1.11")) {
		t.Errorf("body = %s", data)
	}
}

func TestErrorBody(t *testing.T) {
	if got := ErrorBody(strings.NewReader("bad gateway")); got != "bad gateway" {
		t.Errorf("ErrorBody = %q", got)
	}
	if got := ErrorBody(failReader{}); got != "" {
		t.Errorf("ErrorBody on failing reader = %q", got)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("sync: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, true},
		{"eof", fmt.Errorf("reading: %w", io.ErrUnexpectedEOF), true},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, true},
		{"reset", fmt.Errorf("post: %w", syscall.ECONNRESET), true},
		{"dns", &net.DNSError{Err: "no such host", Name: "matrix.invalid"}, true},
		{"plain", errors.New("invalid JSON"), false},
	}
	for _, test := range tests {
		if got := IsTransient(test.err); got != test.want {
			t.Errorf("%s: IsTransient(%v) = %v, want %v", test.name, test.err, got, test.want)
		}
	}
}
