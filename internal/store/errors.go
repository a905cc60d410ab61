package store

import (
	"errors"
	"fmt"
)

// ErrParse is matched by every *ParseError.
var ErrParse = errors.New("trace parse error")

// ParseError reports the first malformed line of a persisted trace.
type ParseError struct {
	// Line is 1-based. It is 0 when the input had no lines at all.
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("parse trace: %s", e.Reason)
	}
	return fmt.Sprintf("parse trace: line %d: %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

func parseErrorf(line int, format string, args ...any) *ParseError {
	return &ParseError{Line: line, Reason: fmt.Sprintf(format, args...)}
}
