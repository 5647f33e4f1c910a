package orchestrator

import "fmt"

var validReasoningEfforts = map[string]bool{
	"minimal": true,
	"low":     true,
	"medium":  true,
	"high":    true,
}

var validVerbosity = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
}

// ValidateReasoningEffort checks effort against the fixed enum. An empty string is
// valid (means "unset").
func ValidateReasoningEffort(effort string) error {
	if effort == "" {
		return nil
	}
	if !validReasoningEfforts[effort] {
		return fmt.Errorf("invalid reasoning_effort %q: must be one of minimal, low, medium, high", effort)
	}
	return nil
}

// ValidateVerbosity checks verbosity against the fixed enum. An empty string is valid.
func ValidateVerbosity(verbosity string) error {
	if verbosity == "" {
		return nil
	}
	if !validVerbosity[verbosity] {
		return fmt.Errorf("invalid verbosity %q: must be one of low, medium, high", verbosity)
	}
	return nil
}

// ClampMaxIterations clamps n into [1,50], flooring decimals (n is already an int here,
// so flooring only matters at the JSON-decoding boundary upstream of this call).
func ClampMaxIterations(n int) int {
	if n < 1 {
		return 1
	}
	if n > 50 {
		return 50
	}
	return n
}
