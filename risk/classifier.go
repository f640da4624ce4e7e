package risk

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// DefaultMatchTimeout bounds a single pattern evaluation.
const DefaultMatchTimeout = 100 * time.Millisecond

// Variant is one (pattern, result) pair in an ordered classifier.
type Variant[T any] struct {
	Name    string
	Pattern string
	Result  T
}

type compiledVariant[T any] struct {
	Variant[T]
	re *regexp2.Regexp
}

// Classifier evaluates variants top to bottom and returns the first match.
// Patterns are case-insensitive and evaluated with a match timeout; a pattern
// that times out is treated as not matching.
type Classifier[T any] struct {
	variants []compiledVariant[T]
	fallback T
}

// Match is the outcome of a classification.
type Match[T any] struct {
	Result  T
	Variant string // name of the matching variant, empty when the fallback was used
}

// Matched reports whether a variant (rather than the fallback) produced the result.
func (m Match[T]) Matched() bool {
	return m.Variant != ""
}

// NewClassifier compiles the variants in order.
func NewClassifier[T any](fallback T, variants ...Variant[T]) (*Classifier[T], error) {
	c := &Classifier[T]{fallback: fallback}
	for _, v := range variants {
		re, err := regexp2.Compile(v.Pattern, regexp2.IgnoreCase)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s pattern: %w", v.Name, err)
		}
		re.MatchTimeout = DefaultMatchTimeout
		c.variants = append(c.variants, compiledVariant[T]{Variant: v, re: re})
	}
	return c, nil
}

// MustClassifier is NewClassifier for package-level tables with fixed patterns.
func MustClassifier[T any](fallback T, variants ...Variant[T]) *Classifier[T] {
	c, err := NewClassifier(fallback, variants...)
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the result of the first variant whose pattern matches text.
func (c *Classifier[T]) Classify(text string) Match[T] {
	if text != "" {
		for _, v := range c.variants {
			if ok, err := v.re.MatchString(text); err == nil && ok {
				return Match[T]{Result: v.Result, Variant: v.Name}
			}
		}
	}
	return Match[T]{Result: c.fallback}
}

// Matches reports whether any variant matches text.
func (c *Classifier[T]) Matches(text string) bool {
	return c.Classify(text).Matched()
}

// Keywords builds a single-variant boolean classifier, used for yes/no checks
// such as "is this a privileged account".
func Keywords(name, pattern string) *Classifier[bool] {
	return MustClassifier(false, Variant[bool]{Name: name, Pattern: pattern, Result: true})
}
