// Copyright (c) ERPAgent Authors.
// Licensed under the MIT License.

// Package llm provides the chat completion client used by the engine
// for routing decisions, planning, specialist turns, and synthesis.
// It speaks the OpenAI-compatible chat completions protocol, which
// most hosted and self-hosted backends expose.
package llm
