// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package provider_test

import (
	"context"

	"github.com/sgreports-dev/sgreports/internal/provider"
)

// mockProvider is a minimal provider.Provider for registry tests.
type mockProvider struct {
	name      string
	available bool
	closed    bool
}

func newMockProvider(name string, available bool) *mockProvider {
	return &mockProvider{name: name, available: available}
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Available(context.Context) bool { return m.available }

func (m *mockProvider) Chat(context.Context, provider.ChatRequest) (<-chan provider.Fragment, error) {
	ch := make(chan provider.Fragment, 1)
	ch <- provider.TextFragment{Text: "hello"}
	close(ch)
	return ch, nil
}

func (m *mockProvider) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: m.available, Provider: m.name, Message: "ok"}, nil
}

func (m *mockProvider) Close() error {
	m.closed = true
	return nil
}
