// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// matrix-command-bot logs in to a Matrix homeserver, keeps its session
// and sync position under a storage directory, and answers every
// message containing the trigger ("!party" by default) in the rooms it
// has joined.
//
// Configuration comes from a YAML file (--config or MATRIX_BOT_CONFIG),
// then MATRIX_BOT_* environment variables, then flags. The password is
// read from --password-file or prompted for on the terminal; it is not
// needed when a stored session can be resumed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/bootstrap"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/config"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/process"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/secret"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/sessionstore"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/version"
)

const binaryName = "matrix-command-bot"

// exitSyncDied is the status when the background loop ends on its own.
const exitSyncDied = 3

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	flags, err := parseFlags(args, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if flags.showVersion {
		version.Print(binaryName)
		return nil
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	var filter []byte
	if cfg.Sync.FilterFile != "" {
		filter, err = config.LoadFilter(cfg.Sync.FilterFile)
		if err != nil {
			return err
		}
	}

	password, err := passwordIfNeeded(cfg.Matrix, os.Stdin, os.Stderr)
	if err != nil {
		return err
	}
	if password != nil {
		defer password.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resumePolicy := bootstrap.ResumeStrict
	if cfg.Matrix.ResumeFallback {
		resumePolicy = bootstrap.ResumeFallbackToPassword
	}
	client, err := bootstrap.New(ctx, bootstrap.Credentials{
		Username: cfg.Matrix.Username,
		Password: password,
	}, bootstrap.Options{
		DeviceName:             cfg.Matrix.DeviceName,
		StorageDir:             cfg.Matrix.StorageDir,
		HomeserverURL:          cfg.Matrix.Homeserver,
		ResumePolicy:           resumePolicy,
		SendLimiter:            rate.NewLimiter(rate.Limit(cfg.Bot.SendRate), cfg.Bot.SendBurst),
		SyncFilter:             filter,
		SyncTimeout:            cfg.Sync.Timeout,
		MaxBackoff:             cfg.Sync.MaxBackoff,
		MaxConsecutiveFailures: cfg.Sync.MaxFailures,
		Logger:                 logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()
	if password != nil {
		password.Close()
	}

	bot := &commandBot{
		self:     client.UserID(),
		trigger:  cfg.Bot.Trigger,
		reply:    cfg.Bot.Reply,
		markdown: cfg.Bot.Markdown,
		logger:   logger,
	}
	client.OnMessage(bot.handle)

	handle, err := client.StartBackgroundSync(ctx)
	if err != nil {
		return err
	}
	logger.Info("bot running",
		"user_id", client.UserID(),
		"device_id", client.DeviceID(),
		"trigger", cfg.Bot.Trigger,
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return handle.Stop()
	case <-handle.Done():
		err := handle.Err()
		if err == nil {
			err = errors.New("background sync stopped")
		}
		logger.Error("background sync ended", "error", err)
		return process.WithExitCode(exitSyncDied, fmt.Errorf("sync: %w", err))
	}
}

// loadConfig layers file, environment and flags, then validates.
func loadConfig(flags *cliFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	flags.apply(cfg)
	cfg.ExpandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// passwordIfNeeded reads the password unless a stored session will be
// resumed without one. A configured password file is always read.
func passwordIfNeeded(matrix config.MatrixConfig, stdin *os.File, prompt *os.File) (*secret.Buffer, error) {
	if matrix.PasswordFile == "" && !matrix.ResumeFallback {
		if _, err := os.Stat(sessionstore.Path(matrix.StorageDir)); err == nil {
			return nil, nil
		}
	}
	return readPassword(matrix.PasswordFile, stdin, prompt)
}
