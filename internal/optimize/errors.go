package optimize

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument reports a malformed solve request: mismatched
// dimensions, an empty box, or a starting point not strictly inside it.
var ErrInvalidArgument = errors.New("invalid solve request")

// Fatal defect classes. A solve that returns one of these cannot be retried
// as-is: either the caller's evaluators are inconsistent or the solver's own
// bookkeeping has been violated.
var (
	// ErrAscentDirection reports a strictly positive initial directional
	// derivative g'*d, which violates the descent-direction invariant.
	ErrAscentDirection = errors.New("initial directional derivative is positive")

	// ErrNumericBreakdown reports NaN or Inf in a factor diagonal or a
	// computed direction, i.e. loss of positive definiteness that cannot
	// be repaired locally.
	ErrNumericBreakdown = errors.New("NaN or Inf in factorization or direction")

	// ErrInfeasibleStep reports a trial step length beyond the established
	// feasibility bound.
	ErrInfeasibleStep = errors.New("step length exceeds feasibility bound")

	// ErrBoundState reports a variable recorded as fixed that is not
	// sitting on either of its bounds.
	ErrBoundState = errors.New("fixed variable is not on a bound")
)

// Error carries the context of a failed operation inside the solver:
// which component and operation failed, a diagnostic message with the
// offending index and values, and the defect class it wraps.
type Error struct {
	// Message describes the defect, including the offending index and
	// the values involved.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the defect class (one of the sentinel errors above) or an
	// underlying error.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	switch {
	case e.Component != "" && e.Op != "":
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	case e.Component != "":
		prefix = e.Component
	case e.Op != "":
		prefix = e.Op
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return e.Message
}

// Unwrap returns the wrapped defect class, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// fatalf builds an *Error for the given defect class.
func fatalf(kind error, op, format string, args ...interface{}) *Error {
	return &Error{
		Message:   fmt.Sprintf(format, args...),
		Op:        op,
		Component: "optimize",
		Err:       kind,
	}
}
