package limiter

import "errors"

// ErrInvalidConfig wraps every configuration rejection
var ErrInvalidConfig = errors.New("invalid limiter config")

// ValidationError names the offending operation or field
type ValidationError struct {
	Operation string
	Field     string
	Message   string
	Err       error
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Operation != "":
		return "limiter config validation failed for operation '" + e.Operation + "': " + msg
	case e.Field != "":
		return "limiter config validation failed for field '" + e.Field + "': " + msg
	default:
		return "limiter config validation failed: " + msg
	}
}

// Unwrap exposes ErrInvalidConfig and the underlying cause
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidConfig}
	}
	return []error{ErrInvalidConfig, e.Err}
}
