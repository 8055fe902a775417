// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/secret"
)

// readPassword reads the account password from path ("-" is stdin),
// or prompts on the terminal with echo disabled when path is empty.
func readPassword(path string, stdin *os.File, prompt io.Writer) (*secret.Buffer, error) {
	if path != "" {
		password, err := secret.ReadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("reading password file: %w", err)
		}
		return password, nil
	}

	fd := int(stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("no terminal for the password prompt (use --password-file)")
	}
	fmt.Fprint(prompt, "Password: ")
	data, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		secret.Zero(data)
		return nil, fmt.Errorf("reading password: %w", err)
	}
	password, err := secret.NewFromBytes(data)
	if err != nil {
		secret.Zero(data)
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return password, nil
}
