// Package service provides the trace library served by the API.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/agentreplay/internal/diff"
	"github.com/capitalize-ai/agentreplay/internal/model"
	"github.com/capitalize-ai/agentreplay/internal/replay"
	"github.com/capitalize-ai/agentreplay/internal/store"
	"github.com/capitalize-ai/agentreplay/pkg/logger"
	"github.com/capitalize-ai/agentreplay/pkg/metrics"
	"github.com/capitalize-ai/agentreplay/pkg/tracing"
)

// TraceExt is the file extension of persisted traces in the library directory.
const TraceExt = ".jsonl"

var (
	// ErrTraceNotFound is returned when no file exists for a trace id.
	ErrTraceNotFound = errors.New("trace not found")

	// ErrInvalidTraceID is returned for ids that are not a plain file stem.
	ErrInvalidTraceID = errors.New("invalid trace id")
)

var traceIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ValidateID checks that id can name a trace file.
func ValidateID(id string) error {
	if !traceIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidTraceID, id)
	}
	return nil
}

// Summary describes one trace file of the library.
type Summary struct {
	ID         string     `json:"id"`
	TraceID    string     `json:"trace_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	Spans      int        `json:"span_count"`
	Events     int        `json:"event_count"`
	DurationMS float64    `json:"duration_ms"`
	Size       int64      `json:"size_bytes"`
	ModTime    time.Time  `json:"modified_at"`

	// Error is set when the file exists but does not parse.
	Error string `json:"error,omitempty"`
}

type entry struct {
	trace   *model.Trace
	modTime time.Time
	size    int64
}

// Library serves parsed traces from a directory, caching each file until it
// changes on disk. Cached traces are shared and must not be mutated.
type Library struct {
	dir    string
	logger *logger.Logger

	mu    sync.RWMutex
	cache map[string]entry
}

// NewLibrary creates a library over dir.
func NewLibrary(dir string, log *logger.Logger) *Library {
	return &Library{
		dir:    dir,
		logger: log,
		cache:  make(map[string]entry),
	}
}

// Dir returns the library directory.
func (l *Library) Dir() string {
	return l.dir
}

// Path returns the file path for id.
func (l *Library) Path(id string) string {
	return filepath.Join(l.dir, id+TraceExt)
}

// Ready reports whether the library directory can be read.
func (l *Library) Ready() error {
	info, err := os.Stat(l.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", l.dir)
	}
	return nil
}

// List summarizes every trace file, sorted by id. Files that fail to parse
// are listed with Error set.
func (l *Library) List(ctx context.Context) ([]Summary, error) {
	ctx, span := tracing.Tracer().Start(ctx, "Library.List")
	defer span.End()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("failed to read trace dir: %w", err)
	}

	summaries := make([]Summary, 0, len(entries))
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, TraceExt) {
			continue
		}
		id := strings.TrimSuffix(name, TraceExt)
		if ValidateID(id) != nil {
			continue
		}
		summaries = append(summaries, l.summarize(ctx, id))
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })

	span.SetAttributes(attribute.Int("traces.count", len(summaries)))
	return summaries, nil
}

func (l *Library) summarize(ctx context.Context, id string) Summary {
	s := Summary{ID: id}
	if info, err := os.Stat(l.Path(id)); err == nil {
		s.Size = info.Size()
		s.ModTime = info.ModTime().UTC()
	}

	t, err := l.Get(ctx, id)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	start := t.StartTime
	s.TraceID = t.ID
	s.Name = t.Name
	s.StartTime = &start
	s.Spans = t.SpanCount()
	s.Events = t.EventCount()
	s.DurationMS = float64(t.Duration().Microseconds()) / 1000
	return s
}

// Get returns the trace stored under id.
func (l *Library) Get(ctx context.Context, id string) (*model.Trace, error) {
	_, span := tracing.Tracer().Start(ctx, "Library.Get",
		trace.WithAttributes(attribute.String("trace.id", id)))
	defer span.End()

	t, err := l.get(id)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	return t, nil
}

func (l *Library) get(id string) (*model.Trace, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	path := l.Path(id)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTraceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat trace: %w", err)
	}

	l.mu.RLock()
	cached, ok := l.cache[id]
	l.mu.RUnlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.trace, nil
	}

	t, err := store.Load(path)
	if err != nil {
		l.logger.Warn("Failed to load trace", zap.String("trace_file", id), zap.Error(err))
		return nil, err
	}

	l.mu.Lock()
	l.cache[id] = entry{trace: t, modTime: info.ModTime(), size: info.Size()}
	metrics.TracesCached.Set(float64(len(l.cache)))
	l.mu.Unlock()

	l.logger.Debug("Trace loaded",
		zap.String("trace_file", id),
		zap.Int("events", t.EventCount()),
	)
	return t, nil
}

// Engine returns a fresh replay engine over the trace stored under id.
func (l *Library) Engine(ctx context.Context, id string) (*replay.Engine, error) {
	t, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return replay.New(t), nil
}

// Diff loads both traces concurrently and compares them.
func (l *Library) Diff(ctx context.Context, a, b string) (*diff.Result, error) {
	ctx, span := tracing.Tracer().Start(ctx, "Library.Diff",
		trace.WithAttributes(attribute.String("trace.a", a), attribute.String("trace.b", b)))
	defer span.End()

	var ta, tb *model.Trace
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ta, err = l.Get(gctx, a)
		return err
	})
	g.Go(func() error {
		var err error
		tb, err = l.Get(gctx, b)
		return err
	})
	if err := g.Wait(); err != nil {
		fail(span, err)
		return nil, err
	}

	result := diff.Traces(ta, tb)
	span.SetAttributes(
		attribute.Int("diff.critical", result.Critical),
		attribute.Int("diff.informational", result.Informational),
	)
	return result, nil
}

// Evict drops every cached trace.
func (l *Library) Evict() {
	l.mu.Lock()
	l.cache = make(map[string]entry)
	metrics.TracesCached.Set(0)
	l.mu.Unlock()
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
