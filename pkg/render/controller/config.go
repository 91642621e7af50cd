/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/kf2-go/kf2/pkg/common/util/env"
)

const (
	// defaultBatchDelay is how long the batcher waits for more input before applying a batch.
	defaultBatchDelay = 50 * time.Millisecond
	// defaultMaxReferences bounds the number of reference points used to solve glitches in one render.
	defaultMaxReferences = 10000

	// BatchDelayEnvVar overrides `Config.DefaultBatchDelay`.
	BatchDelayEnvVar = "KF2_BATCH_DELAY"
	// MaxReferencesEnvVar overrides `Config.MaxReferences`.
	MaxReferencesEnvVar = "KF2_MAX_REFERENCES"
)

// Config holds the configuration for the `RenderController`.
type Config struct {
	// DefaultBatchDelay is the debounce window applied to items that do not set their own `MaxBatchDelay`.
	// Optional: Defaults to `defaultBatchDelay` (50 milliseconds).
	DefaultBatchDelay time.Duration

	// MaxReferences is the upper bound on reference points per render when the engine solves glitches. Values below 2
	// disable glitch solving.
	// Optional: Defaults to `defaultMaxReferences` (10000).
	MaxReferences int
}

// ConfigOption is a functional option for configuring the RenderController.
type ConfigOption func(*Config)

// NewConfig creates a new Config with the given options, applying defaults and validation.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	c := &Config{
		DefaultBatchDelay: defaultBatchDelay,
		MaxReferences:     defaultMaxReferences,
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadConfigFromEnv creates a Config from the process environment, falling back to defaults for unset or malformed
// variables.
func LoadConfigFromEnv(logger logr.Logger) (*Config, error) {
	return NewConfig(
		WithDefaultBatchDelay(env.GetEnvDuration(BatchDelayEnvVar, defaultBatchDelay, logger)),
		WithMaxReferences(env.GetEnvInt(MaxReferencesEnvVar, defaultMaxReferences, logger)),
	)
}

// WithDefaultBatchDelay sets the default debounce window.
func WithDefaultBatchDelay(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.DefaultBatchDelay = d
	}
}

// WithMaxReferences sets the glitch solving reference limit.
func WithMaxReferences(n int) ConfigOption {
	return func(c *Config) {
		c.MaxReferences = n
	}
}

// validate checks the configuration for validity.
func (c *Config) validate() error {
	if c.DefaultBatchDelay < 0 {
		return fmt.Errorf("DefaultBatchDelay cannot be negative, but got %v", c.DefaultBatchDelay)
	}
	if c.MaxReferences < 0 {
		return fmt.Errorf("MaxReferences cannot be negative, but got %d", c.MaxReferences)
	}
	return nil
}

// deepCopy creates a deep copy of the `Config` object.
func (c *Config) deepCopy() *Config {
	if c == nil {
		return nil
	}
	newCfg := *c
	return &newCfg
}
