package engine

import "fmt"

// StructureError reports malformed loop nesting in a task sequence.
// It is fatal at run start, before any task executes.
type StructureError struct {
	Index  int
	Reason string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("task %d: %s", e.Index, e.Reason)
}

// ActionError reports a single failed action: the device or vision layer
// signaled failure, or a recognition target was not found.
type ActionError struct {
	Op      string
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ActionError) Unwrap() error { return e.Err }

// TimeoutError reports that a task exceeded its deadline.
type TimeoutError struct {
	Description string
	Limit       float64 // seconds
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task '%s' timed out after %gs", e.Description, e.Limit)
}

// ExpressionError reports a malformed condition or assignment expression.
// Conditions degrade to false instead of surfacing this; assignment failures
// propagate as task failures.
type ExpressionError struct {
	Expr string
	Err  error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("expression %q: %v", e.Expr, e.Err)
}

func (e *ExpressionError) Unwrap() error { return e.Err }

// TaskFailure aggregates a task's final failure after retry exhaustion.
// OnFailErr carries a secondary failure from the on_fail_action, appended to
// rather than replacing the original cause.
type TaskFailure struct {
	Description string
	Attempts    int
	Err         error
	OnFailErr   error
}

func (e *TaskFailure) Error() string {
	msg := fmt.Sprintf("task '%s' failed after %d attempts: %v", e.Description, e.Attempts, e.Err)
	if e.OnFailErr != nil {
		msg += fmt.Sprintf("; on_fail_action also failed: %v", e.OnFailErr)
	}
	return msg
}

func (e *TaskFailure) Unwrap() error { return e.Err }
