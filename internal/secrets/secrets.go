// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

// Package secrets keeps credentials such as API keys and database DSNs out
// of the config file. A config value of the form keyring://service/key is
// replaced with the secret stored under that service and key.
package secrets

import (
	"errors"

	"github.com/zalando/go-keyring"

	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// DefaultService is the keyring service used by the CLI.
const DefaultService = "sgreports"

// Store provides secure secret storage operations.
type Store interface {
	Set(service, key, value string) error
	// Get returns an error with CodeSecretNotFound if the key does not exist.
	Get(service, key string) (string, error)
	Delete(service, key string) error
}

// KeyringStore implements Store using the OS keyring via zalando/go-keyring.
type KeyringStore struct{}

var _ Store = KeyringStore{}

// NewKeyringStore returns a KeyringStore.
func NewKeyringStore() KeyringStore {
	return KeyringStore{}
}

func checkInput(op, service, key string) error {
	if service == "" || key == "" {
		return sgerr.Errorf(sgerr.CodeSecretRefInvalid, "secret %s: service and key must not be empty", op)
	}
	return nil
}

func (KeyringStore) Set(service, key, value string) error {
	if err := checkInput("set", service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return sgerr.Wrapf(err, sgerr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}
	return nil
}

func (KeyringStore) Get(service, key string) (string, error) {
	if err := checkInput("get", service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", sgerr.Errorf(sgerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	if err != nil {
		return "", sgerr.Wrapf(err, sgerr.CodeSecretResolveFailure, "reading secret %s/%s", service, key)
	}
	return val, nil
}

func (KeyringStore) Delete(service, key string) error {
	if err := checkInput("delete", service, key); err != nil {
		return err
	}
	err := keyring.Delete(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return sgerr.Errorf(sgerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	if err != nil {
		return sgerr.Wrapf(err, sgerr.CodeSecretDeleteFailure, "deleting secret %s/%s", service, key)
	}
	return nil
}
