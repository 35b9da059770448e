// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package secrets

import (
	"sort"
	"strings"

	"github.com/spf13/viper"

	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

const scheme = "keyring://"

// IsRef reports whether value uses the keyring:// scheme.
func IsRef(value string) bool {
	return strings.HasPrefix(value, scheme)
}

// ParseRef splits keyring://service/key. The key may itself contain
// slashes.
func ParseRef(ref string) (service, key string, err error) {
	if !IsRef(ref) {
		return "", "", sgerr.Errorf(sgerr.CodeSecretRefInvalid, "not a keyring reference: %q", ref)
	}
	service, key, ok := strings.Cut(strings.TrimPrefix(ref, scheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", sgerr.Errorf(sgerr.CodeSecretRefInvalid,
			"invalid keyring reference %q: expected keyring://service/key", ref)
	}
	return service, key, nil
}

// Resolve returns value unchanged unless it is a keyring reference, in
// which case the referenced secret is returned.
func Resolve(s Store, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	service, key, err := ParseRef(value)
	if err != nil {
		return "", err
	}
	return s.Get(service, key)
}

// ResolveViper replaces every keyring reference among v's string values.
// All failures are collected so config validation can report them
// together; an unresolved reference never reaches a driver or SDK.
func ResolveViper(v *viper.Viper, s Store) []error {
	keys := v.AllKeys()
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		raw, ok := v.Get(k).(string)
		if !ok || !IsRef(raw) {
			continue
		}
		val, err := Resolve(s, raw)
		if err != nil {
			errs = append(errs, sgerr.Wrapf(err, sgerr.CodeSecretResolveFailure, "config: %s", k))
			continue
		}
		v.Set(k, val)
	}
	return errs
}
