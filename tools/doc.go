// Copyright (c) ERPAgent Authors.
// Licensed under the MIT License.

// Package tools provides the capability registry that maps tool names to
// executable handlers and typed side-effect descriptors.
//
// Side-effect classification is resolved once at registration time: a
// registration either states ReadOnly/StateChanging explicitly or falls
// back to the keyword default policy in ClassifySideEffect. The consent
// gate consults the resolved descriptor, never the raw name, at call time.
package tools
