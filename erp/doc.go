// Copyright (c) ERPAgent Authors.
// Licensed under the MIT License.

// Package erp is the boundary to the ERP backend: a small REST client
// for a Frappe-style API plus the tool registrations that expose it to
// specialists. Document mutations are registered state-changing so the
// consent gate intercepts them before anything is written.
package erp
