// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRejectsNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Errorf("New(%d) succeeded, want error", size)
		}
	}
}

func TestNewFromBytesZeroesSource(t *testing.T) {
	source := []byte("correct horse battery staple")
	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if got := buffer.String(); got != "correct horse battery staple" {
		t.Errorf("String() = %q", got)
	}
	for index, value := range source {
		if value != 0 {
			t.Fatalf("source byte %d not zeroed: %d", index, value)
		}
	}
	if !buffer.Equal([]byte("correct horse battery staple")) {
		t.Error("Equal returned false for identical contents")
	}
	if buffer.Equal([]byte("correct horse")) {
		t.Error("Equal returned true for a prefix")
	}
}

func TestNewFromBytesEmpty(t *testing.T) {
	if _, err := NewFromBytes(nil); err == nil {
		t.Fatal("expected error for empty source")
	}
}

func TestCloseReleasesAndPanicsOnRead(t *testing.T) {
	buffer, err := NewFromString("token")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if buffer.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", buffer.Len())
	}

	for name, read := range map[string]func(){
		"Bytes":  func() { buffer.Bytes() },
		"String": func() { _ = buffer.String() },
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("%s after Close did not panic", name)
				}
			}()
			read()
		})
	}
}

func TestZero(t *testing.T) {
	data := []byte("access-token")
	Zero(data)
	for index, value := range data {
		if value != 0 {
			t.Fatalf("byte %d not zeroed", index)
		}
	}
	Zero(nil)
}

func TestReadFromPath(t *testing.T) {
	directory := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{name: "plain", content: "hunter2", want: "hunter2"},
		{name: "trailing newline", content: "hunter2\n", want: "hunter2"},
		{name: "surrounding whitespace", content: "  hunter2 \t\n", want: "hunter2"},
		{name: "empty", content: "", wantErr: true},
		{name: "whitespace only", content: " \n\t\n", wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(directory, strings.ReplaceAll(test.name, " ", "-"))
			if err := os.WriteFile(path, []byte(test.content), 0o600); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			buffer, err := ReadFromPath(path)
			if test.wantErr {
				if err == nil {
					buffer.Close()
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadFromPath: %v", err)
			}
			defer buffer.Close()
			if buffer.String() != test.want {
				t.Errorf("ReadFromPath = %q, want %q", buffer.String(), test.want)
			}
		})
	}

	if _, err := ReadFromPath(filepath.Join(directory, "missing")); err == nil {
		t.Error("ReadFromPath on a missing file succeeded")
	}
}

func TestReadLine(t *testing.T) {
	buffer, err := ReadLine(strings.NewReader("first line\nsecond line\n"))
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	defer buffer.Close()
	if buffer.String() != "first line" {
		t.Errorf("ReadLine = %q", buffer.String())
	}

	if _, err := ReadLine(strings.NewReader("")); err == nil {
		t.Error("ReadLine on empty input succeeded")
	}
}
