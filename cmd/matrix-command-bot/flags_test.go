// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/config"
)

func TestParseFlagsHelp(t *testing.T) {
	var output strings.Builder
	_, err := parseFlags([]string{"--help"}, &output)
	if !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("parseFlags(--help) = %v, want ErrHelp", err)
	}
	if !strings.Contains(output.String(), "--password-file") {
		t.Errorf("usage does not list --password-file:\n%s", output.String())
	}
}

func TestParseFlagsRejectsArguments(t *testing.T) {
	if _, err := parseFlags([]string{"extra"}, io.Discard); err == nil {
		t.Error("parseFlags accepted a positional argument")
	}
}

func TestApplyOnlyChangedFlags(t *testing.T) {
	flags, err := parseFlags([]string{"--username", "@flag:example.org", "--resume-fallback"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg := config.Default()
	cfg.Matrix.Homeserver = "https://from-file.example"
	flags.apply(cfg)

	if cfg.Matrix.Username != "@flag:example.org" {
		t.Errorf("username = %q", cfg.Matrix.Username)
	}
	if !cfg.Matrix.ResumeFallback {
		t.Error("resume_fallback not set by flag")
	}
	if cfg.Matrix.Homeserver != "https://from-file.example" {
		t.Errorf("unset --homeserver overrode the file value: %q", cfg.Matrix.Homeserver)
	}
	if cfg.Matrix.DeviceName != config.Default().Matrix.DeviceName {
		t.Errorf("unset --device-name overrode the default: %q", cfg.Matrix.DeviceName)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.yaml")
	content := `matrix:
  username: "@file:example.org"
  device_name: file-device
  storage_dir: ` + filepath.Join(dir, "state") + `
bot:
  trigger: "!file"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.ConfigEnvVar, "")
	t.Setenv("MATRIX_BOT_MATRIX_USERNAME", "@env:example.org")
	t.Setenv("MATRIX_BOT_MATRIX_DEVICE_NAME", "env-device")

	flags, err := parseFlags([]string{"--config", path, "--username", "@flag:example.org"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Matrix.Username != "@flag:example.org" {
		t.Errorf("username = %q, want the flag value", cfg.Matrix.Username)
	}
	if cfg.Matrix.DeviceName != "env-device" {
		t.Errorf("device_name = %q, want the environment value", cfg.Matrix.DeviceName)
	}
	if cfg.Bot.Trigger != "!file" {
		t.Errorf("trigger = %q, want the file value", cfg.Bot.Trigger)
	}
}

func TestLoadConfigValidates(t *testing.T) {
	t.Setenv(config.ConfigEnvVar, "")
	t.Setenv("MATRIX_BOT_MATRIX_USERNAME", "")
	flags, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	_, err = loadConfig(flags)
	if err == nil || !strings.Contains(err.Error(), "matrix.username is required") {
		t.Errorf("loadConfig = %v, want a missing username error", err)
	}
}
