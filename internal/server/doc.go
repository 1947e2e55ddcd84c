// Copyright (c) ERPAgent Authors.
// Licensed under the MIT License.

// Package server manages the HTTP server lifecycle: non-blocking
// start, graceful shutdown, signal handling, and an optional cap on
// concurrently accepted connections.
package server
