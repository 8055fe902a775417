// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// LoadFilter reads a sync filter written as JSONC and returns it as
// compact JSON, ready to send as the /sync filter parameter. The
// document must be a JSON object.
func LoadFilter(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sync filter: %w", err)
	}
	return ParseFilter(data)
}

// ParseFilter normalizes JSONC filter content. See LoadFilter.
func ParseFilter(data []byte) (json.RawMessage, error) {
	normalized := jsonc.ToJSON(data)
	var object map[string]any
	if err := json.Unmarshal(normalized, &object); err != nil {
		return nil, fmt.Errorf("sync filter: %w", err)
	}
	if object == nil {
		return nil, fmt.Errorf("sync filter: must be a JSON object")
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, normalized); err != nil {
		return nil, fmt.Errorf("sync filter: %w", err)
	}
	return compact.Bytes(), nil
}
