// Copyright (c) ERPAgent Authors.
// Licensed under the MIT License.

// Package config loads and validates the service configuration from
// defaults, an optional YAML file, and ERPAGENT_* environment
// variable overrides, in that order of precedence.
package config
