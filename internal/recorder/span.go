package recorder

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agentreplay/internal/model"
	"github.com/capitalize-ai/agentreplay/pkg/metrics"
)

// SpanScope is the handle of an open span. End must be called exactly once
// on every exit path; WithSpan does that for you.
type SpanScope struct {
	rec      *Recorder
	span     *model.Span
	implicit bool
	closed   bool
}

// StartSpan opens a span nested under the innermost open span, or at the top
// level when none is open. An open implicit default span is closed first.
func (r *Recorder) StartSpan(name string) (*SpanScope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.usable(); err != nil {
		return nil, err
	}

	if n := len(r.stack); n > 0 && r.stack[n-1].implicit {
		if err := r.pop(); err != nil {
			return nil, err
		}
	}
	return r.push(name, false), nil
}

// WithSpan runs fn inside a span named name. The span is closed however fn
// exits. A returned error is recorded as an error event before the span
// closes and then returned; a panic is recorded, the span closed, and the
// panic resumed.
func (r *Recorder) WithSpan(name string, fn func() error) (err error) {
	scope, err := r.StartSpan(name)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			if _, rerr := r.Emit(model.Error{Message: fmt.Sprint(p), Exception: "panic"}); rerr != nil {
				r.log.Warn("Failed to record span panic", zap.String("span", name), zap.Error(rerr))
			}
			if endErr := scope.End(); endErr != nil {
				r.log.Warn("Failed to close span after panic", zap.String("span", name), zap.Error(endErr))
			}
			panic(p)
		}
	}()

	if ferr := fn(); ferr != nil {
		if _, rerr := r.Emit(model.Error{Message: ferr.Error(), Exception: fmt.Sprintf("%T", ferr)}); rerr != nil {
			r.log.Warn("Failed to record span error", zap.String("span", name), zap.Error(rerr))
		}
		if endErr := scope.End(); endErr != nil {
			return errors.Join(ferr, endErr)
		}
		return ferr
	}
	return scope.End()
}

// Span returns the span being recorded. It must not be modified.
func (s *SpanScope) Span() *model.Span {
	return s.span
}

// End closes the span. Closing a span that is not the innermost open one
// fails with a *SpanNestingError and aborts the session; spans closed before
// that stay valid. Calling End on a closed span is a no-op.
func (s *SpanScope) End() error {
	r := s.rec
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.closed {
		return nil
	}
	if err := r.usable(); err != nil {
		return err
	}

	top := r.stack[len(r.stack)-1]
	if top != s {
		err := &SpanNestingError{Span: s.span.Name, Open: top.span.Name}
		r.aborted = err
		metrics.NestingViolations.Inc()
		r.log.Warn("Span closed out of order, aborting session",
			zap.String("span", s.span.Name),
			zap.String("open", top.span.Name),
		)
		return err
	}

	if err := r.pop(); err != nil {
		return err
	}
	r.log.Debug("Span closed",
		zap.String("span", s.span.Name),
		zap.Duration("duration", s.span.Duration()),
	)
	return nil
}

// Annotate sets a metadata entry on the open span.
func (s *SpanScope) Annotate(key string, value any) error {
	r := s.rec
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.usable(); err != nil {
		return err
	}
	if s.closed {
		return fmt.Errorf("annotate %q: span %q is closed", key, s.span.Name)
	}

	norm, err := model.NormalizeMetadata(map[string]any{key: value})
	if err != nil {
		return err
	}
	if s.span.Metadata == nil {
		s.span.Metadata = make(map[string]any)
	}
	s.span.Metadata[key] = norm[key]
	return nil
}
