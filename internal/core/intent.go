package core

import "fmt"

// Intent is the fixed taxonomy a request is classified into.
type Intent string

const (
	IntentConceptual     Intent = "conceptual"
	IntentImplementation Intent = "implementation"
	IntentDebugging      Intent = "debugging"
	IntentRefactoring    Intent = "refactoring"
	IntentResearch       Intent = "research"
	IntentReview         Intent = "review"
	IntentDocumentation  Intent = "documentation"
)

// AllIntents returns every intent in declaration order.
func AllIntents() []Intent {
	return []Intent{
		IntentConceptual,
		IntentImplementation,
		IntentDebugging,
		IntentRefactoring,
		IntentResearch,
		IntentReview,
		IntentDocumentation,
	}
}

// ParseIntent converts a string to an Intent with validation.
func ParseIntent(s string) (Intent, error) {
	for _, i := range AllIntents() {
		if string(i) == s {
			return i, nil
		}
	}
	return "", fmt.Errorf("invalid intent: %s", s)
}

// Complexity is the ordered size tier of a request.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityEpic     Complexity = "epic"
)

// Rank returns the tier position, 0 for trivial through 4 for epic.
func (c Complexity) Rank() int {
	switch c {
	case ComplexityTrivial:
		return 0
	case ComplexitySimple:
		return 1
	case ComplexityModerate:
		return 2
	case ComplexityComplex:
		return 3
	case ComplexityEpic:
		return 4
	default:
		return -1
	}
}

// ParseComplexity converts a string to a Complexity with validation.
func ParseComplexity(s string) (Complexity, error) {
	c := Complexity(s)
	if c.Rank() < 0 {
		return "", fmt.Errorf("invalid complexity: %s", s)
	}
	return c, nil
}
