// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"snapkeep.yaml",
	"snapkeep.yml",
	"/etc/snapkeep/snapkeep.yaml",
	"/etc/snapkeep/snapkeep.yml",
}

// envPrefix namespaces the environment variable overrides.
const envPrefix = "SNAPKEEP_"

// Load loads configuration with layered sources:
//  1. Built-in defaults
//  2. YAML config file (explicit path, or first DefaultConfigPaths hit)
//  3. SNAPKEEP_* environment variables (highest priority)
//
// Every failure wraps ErrInvalid so callers can abort before side effects.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("%w: loading defaults: %v", ErrInvalid, err)
	}

	configPath, err := resolveConfigFile(path)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: config file %s: %v", ErrInvalid, configPath, err)
		}
	}

	// SNAPKEEP_BACKUP_ROOT -> backup_root, SNAPKEEP_DATABASE__HOST -> database.host
	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("%w: environment variables: %v", ErrInvalid, err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrInvalid, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolveConfigFile picks the config file to load. An explicit path that
// does not exist is an error; absent defaults are not.
func resolveConfigFile(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: config file %s: %v", ErrInvalid, path, err)
		}
		return path, nil
	}

	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// envTransform maps SNAPKEEP_* variable names to koanf paths. Double
// underscores separate nesting levels so single underscores survive in
// key names (backup_root, safety_window).
func envTransform(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}
