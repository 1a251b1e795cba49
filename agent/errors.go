package agent

import "fmt"

// EmptyResponseError is returned when the model keeps stopping without any
// content after every corrective retry was used.
type EmptyResponseError struct {
	Iterations int
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("agent completed but returned an empty response after %d iterations", e.Iterations)
}

// BadFinishReasonError is returned when the model stops for a reason other
// than a final answer or tool calls, typically "length" or "content_filter".
type BadFinishReasonError struct {
	Reason string
}

func (e *BadFinishReasonError) Error() string {
	return fmt.Sprintf("agent completed with unexpected finish reason: %q", e.Reason)
}

// MaxIterationsError is returned when the iteration budget runs out before
// the model produced a final answer.
type MaxIterationsError struct {
	Max              int
	LastFinishReason string
}

func (e *MaxIterationsError) Error() string {
	last := e.LastFinishReason
	if last == "" {
		last = "N/A"
	}
	return fmt.Sprintf("agent reached maximum iterations (%d) without completing; last finish reason: %s", e.Max, last)
}

// OutputValidationError is returned when the final answer is not JSON that
// matches the requested output schema. Raw holds the model's answer.
type OutputValidationError struct {
	Err error
	Raw string
}

func (e *OutputValidationError) Error() string {
	return fmt.Sprintf("invalid structured output: %v\nraw response: %s", e.Err, e.Raw)
}

func (e *OutputValidationError) Unwrap() error { return e.Err }
