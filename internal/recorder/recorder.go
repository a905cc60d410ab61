// Package recorder builds a trace while an agent runs.
//
// A Recorder keeps a stack of open spans. Events go to the innermost open
// span and receive the next trace-wide sequence number. Spans must be closed
// in reverse order of opening; closing out of order aborts the session.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agentreplay/internal/model"
	"github.com/capitalize-ai/agentreplay/pkg/logger"
	"github.com/capitalize-ai/agentreplay/pkg/metrics"
)

// DefaultSpanName names the implicit span that collects events recorded
// while no span is open.
const DefaultSpanName = "default"

// Sink receives a trace incrementally: the header when recording starts,
// each top-level span as soon as it closes, and the end time at Finish.
type Sink interface {
	WriteHeader(t *model.Trace) error
	WriteSpan(s *model.Span) error
	WriteEnd(t *model.Trace) error
	Close() error
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithSink persists the trace as it is recorded.
func WithSink(s Sink) Option {
	return func(r *Recorder) { r.sink = s }
}

// WithMetadata attaches descriptive metadata to the trace.
func WithMetadata(m map[string]any) Option {
	return func(r *Recorder) { r.metadata = m }
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) { r.clock = clock }
}

// WithLogger sets the logger used for span lifecycle messages.
func WithLogger(l *logger.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// WithTraceID overrides the generated trace id.
func WithTraceID(id string) Option {
	return func(r *Recorder) { r.traceID = id }
}

// Recorder is safe for concurrent use. Sequence assignment and the append to
// the open span happen under one lock.
type Recorder struct {
	mu sync.Mutex

	trace *model.Trace
	stack []*SpanScope
	seq   int64

	clock func() time.Time
	last  time.Time

	sink     Sink
	log      *logger.Logger
	metadata map[string]any
	traceID  string

	aborted  error
	finished bool
}

// New starts recording a trace called name. With a sink, the header is
// written before New returns.
func New(name string, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		clock: time.Now,
		log:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.traceID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate trace id: %w", err)
		}
		r.traceID = id.String()
	}
	meta, err := model.NormalizeMetadata(r.metadata)
	if err != nil {
		return nil, err
	}

	r.trace = &model.Trace{
		ID:        r.traceID,
		Name:      name,
		StartTime: r.now(),
		Metadata:  meta,
	}
	r.log = r.log.WithTrace(r.trace.ID, name)

	if r.sink != nil {
		if err := r.sink.WriteHeader(r.trace); err != nil {
			return nil, fmt.Errorf("failed to write trace header: %w", err)
		}
	}

	r.log.Debug("Recording started")
	return r, nil
}

// ID returns the trace id.
func (r *Recorder) ID() string {
	return r.trace.ID
}

// Trace returns the trace being built. Until Finish it holds only the spans
// closed so far, and it must not be read while other goroutines record.
func (r *Recorder) Trace() *model.Trace {
	return r.trace
}

// Record appends an event of the given kind to the innermost open span.
// With no span open, the event goes to an implicit top-level span named
// DefaultSpanName, which stays open for further orphan events until an
// explicit span is started or the recording finishes.
func (r *Recorder) Record(kind model.EventType, data map[string]any) (model.Event, error) {
	e, err := model.NewEvent(kind, data)
	if err != nil {
		return model.Event{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.usable(); err != nil {
		return model.Event{}, err
	}

	if len(r.stack) == 0 {
		r.push(DefaultSpanName, true)
	}
	span := r.stack[len(r.stack)-1].span

	e.Sequence = r.seq
	e.Timestamp = r.now()
	r.seq++
	span.Events = append(span.Events, e)

	metrics.EventsRecorded.WithLabelValues(string(kind)).Inc()
	return e, nil
}

// Emit records a typed payload.
func (r *Recorder) Emit(p model.Payload) (model.Event, error) {
	return r.Record(p.Kind(), p.Data())
}

// Finish closes every open span innermost first, stamps the trace end time
// and closes the sink. An aborted session is still finished; the returned
// error then wraps ErrSessionAborted.
func (r *Recorder) Finish() (*model.Trace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return nil, ErrFinished
	}
	r.finished = true

	var errs []error
	for len(r.stack) > 0 {
		if err := r.pop(); err != nil {
			errs = append(errs, err)
		}
	}
	r.trace.EndTime = r.now()

	if r.sink != nil {
		if err := r.sink.WriteEnd(r.trace); err != nil {
			errs = append(errs, fmt.Errorf("failed to write trace end: %w", err))
		}
		if err := r.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sink: %w", err))
		}
	}
	if r.aborted != nil {
		errs = append([]error{fmt.Errorf("%w: %w", ErrSessionAborted, r.aborted)}, errs...)
	}

	r.log.Info("Recording finished",
		zap.Int("spans", len(r.trace.Spans)),
		zap.Int64("events", r.seq),
		zap.Duration("duration", r.trace.EndTime.Sub(r.trace.StartTime)),
	)

	if len(errs) > 0 {
		return r.trace, errors.Join(errs...)
	}
	return r.trace, nil
}

// now returns the clock reading truncated to microseconds and clamped so
// that it never runs backwards. Callers hold r.mu.
func (r *Recorder) now() time.Time {
	t := r.clock().Truncate(time.Microsecond).UTC()
	if t.Before(r.last) {
		t = r.last
	}
	r.last = t
	return t
}

func (r *Recorder) usable() error {
	if r.finished {
		return ErrFinished
	}
	if r.aborted != nil {
		return fmt.Errorf("%w: %w", ErrSessionAborted, r.aborted)
	}
	return nil
}

func (r *Recorder) push(name string, implicit bool) *SpanScope {
	scope := &SpanScope{
		rec:      r,
		implicit: implicit,
		span: &model.Span{
			ID:    uuid.NewString(),
			Name:  name,
			Start: r.now(),
		},
	}
	r.stack = append(r.stack, scope)
	r.log.Debug("Span opened",
		zap.String("span", name),
		zap.Int("depth", len(r.stack)-1),
		zap.Bool("implicit", implicit),
	)
	return scope
}

// pop closes the innermost open span and hands it to its parent, or to the
// trace and the sink when it is top-level.
func (r *Recorder) pop() error {
	n := len(r.stack)
	scope := r.stack[n-1]
	r.stack = r.stack[:n-1]

	scope.span.End = r.now()
	scope.closed = true

	if n > 1 {
		parent := r.stack[n-2].span
		parent.Children = append(parent.Children, scope.span)
		metrics.SpansClosed.WithLabelValues("nested").Inc()
		return nil
	}

	r.trace.Spans = append(r.trace.Spans, scope.span)
	metrics.SpansClosed.WithLabelValues("top").Inc()

	if r.sink != nil {
		if err := r.sink.WriteSpan(scope.span); err != nil {
			r.log.Error("Failed to persist span",
				zap.String("span", scope.span.Name),
				zap.Error(err),
			)
			return fmt.Errorf("failed to persist span %q: %w", scope.span.Name, err)
		}
	}
	return nil
}
