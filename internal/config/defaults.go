// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

const defaultHeader = `# sgreports configuration.
#
# Any string value may be written as keyring://service/key to read it from
# the OS keyring (see "sgreports secret set"). Every key can be overridden
# with an SGREPORTS_ environment variable, e.g. SGREPORTS_DATABASE_QUERY_DSN.

`

const redacted = "[redacted]"

// DefaultConfigPath returns ~/.config/sgreports/sgreports.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", sgerr.Errorf(sgerr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "sgreports", "sgreports.yaml"), nil
}

// DefaultYAML renders the built-in defaults as a config file.
func DefaultYAML() ([]byte, error) {
	v, err := newViper("")
	if err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeConfigParseInvalidFormat, "encoding default config")
	}
	return append([]byte(defaultHeader), out...), nil
}

// WriteDefault writes the default config to path with owner-only
// permissions. An existing file is left alone unless force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return sgerr.Errorf(sgerr.CodeConfigLoadReadFailure, "config %s already exists", path)
	}

	data, err := DefaultYAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return sgerr.Wrapf(err, sgerr.CodeConfigLoadReadFailure, "creating %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return sgerr.Wrapf(err, sgerr.CodeConfigLoadReadFailure, "writing %s", path)
	}
	return nil
}

// Effective renders the merged file, environment and default settings with
// credentials replaced by a placeholder. Keyring references are shown as
// written since they carry no secret.
func Effective(path string) ([]byte, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	settings := v.AllSettings()
	redact(settings)
	out, err := yaml.Marshal(settings)
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeConfigParseInvalidFormat, "encoding config")
	}
	return out, nil
}

func sensitiveKey(k string) bool {
	return k == "api_key" || k == "token" || strings.HasSuffix(k, "_dsn")
}

func redact(m map[string]any) {
	for k, val := range m {
		switch tv := val.(type) {
		case map[string]any:
			redact(tv)
		case []any:
			for _, item := range tv {
				if im, ok := item.(map[string]any); ok {
					redact(im)
				}
			}
		case string:
			if sensitiveKey(k) && tv != "" && !strings.HasPrefix(tv, "keyring://") {
				m[k] = redacted
			}
		}
	}
}
