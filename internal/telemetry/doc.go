// Copyright (c) ERPAgent Authors.
// Licensed under the MIT License.

// Package telemetry wraps OpenTelemetry SDK initialization, providing
// the global TracerProvider and MeterProvider. When telemetry is
// disabled, noop implementations are used and no external service is
// contacted.
package telemetry
