package core

import "fmt"

// Phase represents a stage in the workflow state machine.
type Phase string

const (
	// PhaseIntent classifies the request into intent and complexity.
	PhaseIntent Phase = "intent"

	// PhaseAssessment finds relevant files and summarizes the codebase.
	PhaseAssessment Phase = "assessment"

	// PhaseExploration runs follow-up queries in small parallel batches.
	// It is optional and only entered from Assessment.
	PhaseExploration Phase = "exploration"

	// PhaseImplementation delegates the task to a selected expert.
	PhaseImplementation Phase = "implementation"

	// PhaseVerification reviews the implementation output.
	PhaseVerification Phase = "verification"

	// PhaseRecovery picks a corrective action after a failure.
	PhaseRecovery Phase = "recovery"

	// PhaseCompletion is terminal and builds the final summary.
	PhaseCompletion Phase = "completion"
)

// AllPhases returns all phases in nominal execution order.
func AllPhases() []Phase {
	return []Phase{
		PhaseIntent,
		PhaseAssessment,
		PhaseExploration,
		PhaseImplementation,
		PhaseVerification,
		PhaseRecovery,
		PhaseCompletion,
	}
}

// ValidPhase checks if a phase string is valid.
func ValidPhase(p Phase) bool {
	for _, known := range AllPhases() {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePhase converts a string to a Phase with validation.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !ValidPhase(p) {
		return "", fmt.Errorf("invalid phase: %s", s)
	}
	return p, nil
}

// IsQuick reports whether the phase runs against a single timer instead of
// the stability-polling wrapper.
func (p Phase) IsQuick() bool {
	switch p {
	case PhaseIntent, PhaseRecovery, PhaseCompletion:
		return true
	default:
		return false
	}
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Description returns a human-readable description of the phase.
func (p Phase) Description() string {
	switch p {
	case PhaseIntent:
		return "Classify the request intent and complexity"
	case PhaseAssessment:
		return "Locate relevant files and summarize codebase context"
	case PhaseExploration:
		return "Run follow-up queries against the codebase"
	case PhaseImplementation:
		return "Delegate the task to the selected expert"
	case PhaseVerification:
		return "Review the implementation against a checklist"
	case PhaseRecovery:
		return "Choose a corrective action after a failure"
	case PhaseCompletion:
		return "Assemble the final summary"
	default:
		return "Unknown phase"
	}
}

// PhasePtr returns a pointer to p, for use as PhaseResult.NextPhase.
func PhasePtr(p Phase) *Phase {
	return &p
}
