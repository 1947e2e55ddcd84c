// Copyright (c) ERPAgent Authors.
// Licensed under the MIT License.

// Package handlers implements the HTTP surface of the assistant:
// chat turns, consent resolution, interrupt inspection and watch,
// thread deletion, and health probes.
package handlers
