// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package store

import (
	"sort"
	"sync"

	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// Factory opens a backend's stores from cfg.
type Factory func(cfg Config) (*Stores, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers the factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Backends lists the registered backend names.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func resolveBackend(cfg Config) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// Open creates the stores for the configured backend.
func Open(cfg Config) (*Stores, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, sgerr.New(sgerr.CodeStoreBackendUnsupported,
			"unsupported storage backend: "+backend,
			sgerr.Field("backend", backend))
	}

	return factory(cfg)
}
