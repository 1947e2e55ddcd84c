// Copyright (c) ERPAgent Authors.
// Licensed under the MIT License.

// Package types provides core types shared across the erpagent engine.
// This package has ZERO dependencies on other erpagent packages to avoid
// circular imports. All other packages should import types from here.
//
// It defines the conversation message log, tool call and tool result
// shapes, the per-thread ExecutionState that the engine mutates and
// checkpoints, plan and consent types, and the structured error taxonomy.
package types
