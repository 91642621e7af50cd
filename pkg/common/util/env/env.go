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

// Package env reads typed configuration overrides from the process environment.
package env

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	logutil "github.com/kf2-go/kf2/pkg/common/observability/logging"
)

// lookup retrieves an environment variable and parses it. Unset, blank or malformed values fall back to defaultVal.
func lookup[T any](key string, defaultVal T, parse func(string) (T, error), logger logr.Logger) T {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		logger.V(logutil.VERBOSE).Info("Environment variable not set, using default value", "key", key,
			"defaultValue", defaultVal)
		return defaultVal
	}

	value, err := parse(strings.TrimSpace(raw))
	if err != nil {
		logger.Info(fmt.Sprintf("Failed to parse environment variable as %s, using default value", reflect.TypeOf(defaultVal)),
			"key", key, "rawValue", raw, "error", err, "defaultValue", defaultVal)
		return defaultVal
	}

	logger.V(logutil.DEFAULT).Info("Loaded configuration from environment", "key", key, "value", value)
	return value
}

// GetEnvInt gets an int from an environment variable with a default value.
func GetEnvInt(key string, defaultVal int, logger logr.Logger) int {
	return lookup(key, defaultVal, strconv.Atoi, logger)
}

// GetEnvDuration gets a time.Duration from an environment variable with a default value.
func GetEnvDuration(key string, defaultVal time.Duration, logger logr.Logger) time.Duration {
	return lookup(key, defaultVal, time.ParseDuration, logger)
}

// GetEnvBool gets a bool from an environment variable with a default value.
func GetEnvBool(key string, defaultVal bool, logger logr.Logger) bool {
	return lookup(key, defaultVal, strconv.ParseBool, logger)
}

// GetEnvString gets a string from an environment variable with a default value.
func GetEnvString(key string, defaultVal string, logger logr.Logger) string {
	return lookup(key, defaultVal, func(s string) (string, error) { return s, nil }, logger)
}
