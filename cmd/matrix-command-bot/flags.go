// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/config"
)

type cliFlags struct {
	set *pflag.FlagSet

	configPath     string
	username       string
	passwordFile   string
	storageDir     string
	homeserver     string
	deviceName     string
	resumeFallback bool
	showVersion    bool
}

func parseFlags(args []string, output io.Writer) (*cliFlags, error) {
	flags := &cliFlags{set: pflag.NewFlagSet(binaryName, pflag.ContinueOnError)}
	set := flags.set
	set.SetOutput(output)
	set.StringVarP(&flags.configPath, "config", "c", "", "YAML config file (default $"+config.ConfigEnvVar+")")
	set.StringVarP(&flags.username, "username", "u", "", "full Matrix user ID, e.g. @bot:example.org")
	set.StringVar(&flags.passwordFile, "password-file", "", `file holding the password ("-" for stdin; default: prompt)`)
	set.StringVarP(&flags.storageDir, "storage", "s", "", "directory for session.json and the local store")
	set.StringVar(&flags.homeserver, "homeserver", "", "homeserver URL (skips .well-known discovery)")
	set.StringVar(&flags.deviceName, "device-name", "", "display name for a newly created device")
	set.BoolVar(&flags.resumeFallback, "resume-fallback", false, "log in with the password if the stored token is rejected")
	set.BoolVar(&flags.showVersion, "version", false, "print version information and exit")
	set.Usage = func() {
		fmt.Fprintf(output, "Usage: %s [flags]\n\n", binaryName)
		set.PrintDefaults()
	}

	if err := set.Parse(args); err != nil {
		return nil, err
	}
	if set.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", set.Arg(0))
	}
	return flags, nil
}

// apply overrides cfg with every flag given on the command line.
func (f *cliFlags) apply(cfg *config.Config) {
	if f.set.Changed("username") {
		cfg.Matrix.Username = f.username
	}
	if f.set.Changed("password-file") {
		cfg.Matrix.PasswordFile = f.passwordFile
	}
	if f.set.Changed("storage") {
		cfg.Matrix.StorageDir = f.storageDir
	}
	if f.set.Changed("homeserver") {
		cfg.Matrix.Homeserver = f.homeserver
	}
	if f.set.Changed("device-name") {
		cfg.Matrix.DeviceName = f.deviceName
	}
	if f.set.Changed("resume-fallback") {
		cfg.Matrix.ResumeFallback = f.resumeFallback
	}
}
