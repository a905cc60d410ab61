package recorder

import (
	"errors"
	"fmt"
)

var (
	// ErrSpanNesting is matched by every *SpanNestingError.
	ErrSpanNesting = errors.New("span nesting violation")

	// ErrSessionAborted is returned by every operation after a nesting
	// violation. It wraps the violation that aborted the session.
	ErrSessionAborted = errors.New("recording session aborted")

	// ErrFinished is returned by recording operations after Finish.
	ErrFinished = errors.New("recording already finished")
)

// SpanNestingError reports an attempt to close a span that is not the
// innermost open span.
type SpanNestingError struct {
	Span string
	Open string
}

func (e *SpanNestingError) Error() string {
	return fmt.Sprintf("cannot close span %q while %q is still open", e.Span, e.Open)
}

func (e *SpanNestingError) Unwrap() error {
	return ErrSpanNesting
}
