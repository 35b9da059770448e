// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package google

import (
	"google.golang.org/genai"

	"github.com/sgreports-dev/sgreports/internal/provider"
)

// ConvertMessages exposes convertMessages for white-box testing.
var ConvertMessages = func(msgs []provider.Message) ([]*genai.Content, string, error) {
	return convertMessages(msgs)
}
