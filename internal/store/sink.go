package store

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/capitalize-ai/agentreplay/internal/model"
)

// ErrSinkClosed is returned by writes after Close.
var ErrSinkClosed = errors.New("sink closed")

// FileSink appends a trace to a file while it is being recorded: the header
// first, then each top-level span as soon as it closes, then a trace_end line. Every span line is
// synced to disk, so a crash loses at most the span still open.
type FileSink struct {
	file *os.File
	path string
	mu   sync.Mutex
}

// OpenFileSink creates (or truncates) the file at path.
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace sink: %w", err)
	}
	return &FileSink{file: f, path: path}, nil
}

// Path returns the file being written.
func (s *FileSink) Path() string {
	return s.path
}

// WriteHeader appends the trace_header line.
func (s *FileSink) WriteHeader(t *model.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrSinkClosed
	}
	return EncodeHeader(s.file, t)
}

// WriteSpan appends one closed top-level span and syncs the file.
func (s *FileSink) WriteSpan(span *model.Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrSinkClosed
	}
	if err := EncodeSpan(s.file, span); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace sink: %w", err)
	}
	return nil
}

// WriteEnd appends the trace_end line and syncs the file.
func (s *FileSink) WriteEnd(t *model.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrSinkClosed
	}
	if err := EncodeEnd(s.file, t); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace sink: %w", err)
	}
	return nil
}

// Close syncs and closes the file. Closing twice is a no-op.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Sync()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	return err
}
