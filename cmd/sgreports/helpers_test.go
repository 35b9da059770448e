// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgreports-dev/sgreports/internal/secrets"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// mockSecretStore is an in-memory secrets.Store for testing.
type mockSecretStore struct {
	data map[string]string // "service/key" to value
}

func newMockSecretStore() *mockSecretStore {
	return &mockSecretStore{data: make(map[string]string)}
}

func (m *mockSecretStore) Set(service, key, value string) error {
	m.data[service+"/"+key] = value
	return nil
}

func (m *mockSecretStore) Get(service, key string) (string, error) {
	v, ok := m.data[service+"/"+key]
	if !ok {
		return "", sgerr.Errorf(sgerr.CodeSecretNotFound, "not found")
	}
	return v, nil
}

func (m *mockSecretStore) Delete(service, key string) error {
	if _, ok := m.data[service+"/"+key]; !ok {
		return sgerr.Errorf(sgerr.CodeSecretNotFound, "not found")
	}
	delete(m.data, service+"/"+key)
	return nil
}

// useMockSecrets swaps secretStoreFactory for the duration of the test.
func useMockSecrets(t *testing.T) *mockSecretStore {
	t.Helper()
	m := newMockSecretStore()
	orig := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return m }
	t.Cleanup(func() { secretStoreFactory = orig })
	return m
}

// writeConfig writes body to a temp sgreports.yaml and returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sgreports.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// execute runs the root command with args and returns stdout, stderr and
// the command error.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}
