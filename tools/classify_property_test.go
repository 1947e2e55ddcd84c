package tools

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestClassifySideEffect_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("classification is case-insensitive", prop.ForAll(
		func(name string) bool {
			return ClassifySideEffect(name) == ClassifySideEffect(strings.ToUpper(name))
		},
		gen.AlphaString(),
	))

	properties.Property("mutation keywords always classify as state-changing", prop.ForAll(
		func(prefix, suffix string, kwIdx int) bool {
			kw := stateChangingKeywords[kwIdx%len(stateChangingKeywords)]
			return ClassifySideEffect(prefix+kw+suffix) == StateChanging
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(0, len(stateChangingKeywords)-1),
	))

	properties.Property("classification is deterministic", prop.ForAll(
		func(name string) bool {
			return ClassifySideEffect(name) == ClassifySideEffect(name)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
