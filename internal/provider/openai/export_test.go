// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package openai

import (
	openaisdk "github.com/openai/openai-go"
	"github.com/sgreports-dev/sgreports/internal/provider"
)

// ConvertMessages exposes convertMessages for white-box testing.
var ConvertMessages = func(msgs []provider.Message) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	return convertMessages(msgs)
}

// BuildParams exposes buildParams for white-box testing.
var BuildParams = func(req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	return buildParams(req)
}
