// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package provider

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// Registry manages provider registration and routing of "provider/model"
// references, with an optional failover chain.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	defaultRef string   // "provider/model" format
	failover   []string // ordered list of "provider/model" refs
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider to the registry.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, sgerr.New(sgerr.CodeProviderNotFound, "provider not found: "+name, sgerr.FieldProvider(name))
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetDefault sets the "provider/model" reference used when a request names
// no model.
func (r *Registry) SetDefault(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRefLocked(ref); err != nil {
		return err
	}
	r.defaultRef = ref
	return nil
}

// DefaultRef returns the configured default reference.
func (r *Registry) DefaultRef() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultRef
}

// SetFailover sets the ordered failover chain of "provider/model" refs.
func (r *Registry) SetFailover(chain []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range chain {
		if err := r.checkRefLocked(ref); err != nil {
			return err
		}
	}
	r.failover = slices.Clone(chain)
	return nil
}

// Route selects an available provider for ref. An empty ref selects the
// default. When the primary is unavailable the failover chain is walked in
// order.
func (r *Registry) Route(ctx context.Context, ref string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ref == "" || ref == "default" {
		ref = r.defaultRef
	}
	if ref == "" {
		return nil, "", sgerr.New(sgerr.CodeProviderNoDefault, "no default provider configured")
	}
	if !strings.Contains(ref, "/") {
		return nil, "", sgerr.Errorf(sgerr.CodeProviderInvalidModelRef, "model %q must use provider/model format", ref)
	}

	p, model, err := r.tryRef(ctx, ref)
	if err == nil {
		return p, model, nil
	}
	if sgerr.IsNotFound(err) {
		return nil, "", err
	}

	for _, fallback := range r.failover {
		if fallback == ref {
			continue
		}
		if p, model, err := r.tryRef(ctx, fallback); err == nil {
			return p, model, nil
		}
	}

	return nil, "", sgerr.New(sgerr.CodeProviderUnavailable, "all providers unavailable: no healthy provider found")
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return sgerr.Join(errs...)
	}
	return nil
}

func (r *Registry) checkRefLocked(ref string) error {
	provName, model := ParseRef(ref)
	if model == "" {
		return sgerr.Errorf(sgerr.CodeProviderInvalidModelRef, "model %q must use provider/model format", ref)
	}
	if _, ok := r.providers[provName]; !ok {
		return sgerr.New(sgerr.CodeProviderNotFound, "provider not registered: "+provName, sgerr.FieldProvider(provName))
	}
	return nil
}

// caller must hold r.mu.
func (r *Registry) tryRef(ctx context.Context, ref string) (Provider, string, error) {
	providerName, model := ParseRef(ref)

	p, ok := r.providers[providerName]
	if !ok {
		return nil, "", sgerr.New(sgerr.CodeProviderNotFound, "provider not found: "+providerName, sgerr.FieldProvider(providerName))
	}
	if !p.Available(ctx) {
		return nil, "", sgerr.New(sgerr.CodeProviderUnavailable, "provider unavailable: "+providerName, sgerr.FieldProvider(providerName))
	}
	return p, model, nil
}

// ParseRef splits a "provider/model" reference on the first "/".
func ParseRef(ref string) (providerName, model string) {
	idx := strings.Index(ref, "/")
	if idx < 0 {
		return ref, ""
	}
	return ref[:idx], ref[idx+1:]
}
