// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/config"
)

// newLogger builds the process logger. Text goes to a terminal, JSON
// anywhere else; log.file switches the destination to a rotated file.
// The returned function closes that file.
func newLogger(cfg config.LogConfig, stderr *os.File) (*slog.Logger, func() error, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var output io.Writer = stderr
	closeOutput := func() error { return nil }
	interactive := term.IsTerminal(int(stderr.Fd()))
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		output = rotating
		closeOutput = rotating.Close
		interactive = false
	}

	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(output, options)
	case "json":
		handler = slog.NewJSONHandler(output, options)
	default:
		if interactive {
			handler = slog.NewTextHandler(output, options)
		} else {
			handler = slog.NewJSONHandler(output, options)
		}
	}
	return slog.New(handler).With("service", binaryName), closeOutput, nil
}
