// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// FormatHTML is the format value Matrix clients expect alongside an
// HTML formatted_body.
const FormatHTML = "org.matrix.custom.html"

var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

func markdownRenderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return markdownInstance
}

// NewMarkdownMessage renders source as GitHub-flavored markdown and
// returns an m.text message carrying both the raw source as body and
// the HTML as formatted_body. Raw HTML in the source is not passed
// through.
func NewMarkdownMessage(source string) (MessageContent, error) {
	var rendered bytes.Buffer
	if err := markdownRenderer().Convert([]byte(source), &rendered); err != nil {
		return MessageContent{}, fmt.Errorf("messaging: rendering markdown: %w", err)
	}
	return MessageContent{
		MsgType:       "m.text",
		Body:          source,
		Format:        FormatHTML,
		FormattedBody: strings.TrimSpace(rendered.String()),
	}, nil
}
