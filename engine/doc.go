// Copyright (c) ERPAgent Authors.
// Licensed under the MIT License.

/*
Package engine implements the agent orchestration and human-in-the-loop
execution engine.

The engine runs one logical thread of control per conversation. The
Orchestrator classifies each turn into respond / route-to-one-specialist /
route-to-plan / route-to-parallel-group; the Planner decomposes complex
requests into dependency-ordered steps with a parallel grouping; the
Dispatcher fans independent steps out to specialist executors and joins
all results before the loop continues; the Synthesizer merges accumulated
specialist results into one answer.

Two interception points live at the tool-call boundary inside every
specialist: the consent gate suspends execution before any state-changing
tool call until a human decision arrives, and the corrective retrieval
node reacts to failed tool calls by injecting corrective knowledge for a
bounded number of retries.

Suspension is not a blocked goroutine: the continuation is encoded
entirely in the persisted ExecutionState (what was about to run, with
what arguments) and Resume re-derives the next action from the
checkpoint, so a consent cycle survives process restarts.
*/
package engine
