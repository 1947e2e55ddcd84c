// Copyright (c) ERPAgent Authors.
// Licensed under the MIT License.

// Command erpagent runs the conversational ERP assistant service:
// an HTTP API that routes user messages through the orchestration
// engine, executes ERP tool calls through specialists, and suspends
// on consent interrupts for state-changing actions.
package main
