// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

// Package config loads the optional YAML file the CLI accepts alongside
// its flags, layering defaults for the PBKDF2 iteration count, the default
// file mode, and log verbosity on top of the teacher's flag-only CLI. The
// CLI uses the iteration count and verbosity; it does not read the default
// mode.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds CLI defaults loadable from a YAML file via -config.
type Config struct {
	KDF     KDFConfig `yaml:"kdf"`
	Mode    string    `yaml:"default_mode"`
	Verbose *bool     `yaml:"verbose"`
}

// KDFConfig controls the PBKDF2 cost used to derive all key material.
type KDFConfig struct {
	Iterations *int `yaml:"iterations"`
}

// Load reads and validates the YAML config at path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field-level constraints not expressible in the YAML
// schema itself.
func (c *Config) Validate() error {
	if c.KDF.Iterations != nil && *c.KDF.Iterations <= 0 {
		return fmt.Errorf("config.kdf.iterations must be > 0")
	}
	if c.Mode != "" {
		switch c.Mode {
		case "r", "r+", "w", "w+", "a", "a+":
		default:
			return fmt.Errorf("config.default_mode %q is not one of r, r+, w, w+, a, a+", c.Mode)
		}
	}
	return nil
}

// IterationsOr returns the configured iteration count, or def if the
// config left it unset.
func (c *Config) IterationsOr(def int) int {
	if c == nil || c.KDF.Iterations == nil {
		return def
	}
	return *c.KDF.Iterations
}

// ModeOr returns the configured default mode, or def if the config left it
// unset.
func (c *Config) ModeOr(def string) string {
	if c == nil || c.Mode == "" {
		return def
	}
	return c.Mode
}

// VerboseOr returns the configured verbosity, or def if the config left it
// unset.
func (c *Config) VerboseOr(def bool) bool {
	if c == nil || c.Verbose == nil {
		return def
	}
	return *c.Verbose
}
