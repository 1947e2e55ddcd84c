// Copyright (c) ERPAgent Authors.
// Licensed under the MIT License.

/*
Package metrics provides Prometheus instrumentation for the service.

The Collector registers counters and histograms for the HTTP surface,
LLM completions, engine turns, specialist runs, tool calls, consent
interrupts, corrective retrievals and checkpoint store operations.
All record methods are safe to call on a nil *Collector, so callers
can leave metrics unwired without guarding every call site.
*/
package metrics
