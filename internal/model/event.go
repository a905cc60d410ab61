// Package model defines the trace data model: events, spans and traces.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType is the closed set of things that can happen inside a span.
type EventType string

const (
	EventLLMRequest  EventType = "llm_request"
	EventLLMResponse EventType = "llm_response"
	EventToolCall    EventType = "tool_call"
	EventToolResult  EventType = "tool_result"
	EventDecision    EventType = "decision"
	EventStateChange EventType = "state_change"
	EventError       EventType = "error"
	EventLog         EventType = "log"
)

// EventTypes lists every event type in a stable order.
var EventTypes = []EventType{
	EventLLMRequest,
	EventLLMResponse,
	EventToolCall,
	EventToolResult,
	EventDecision,
	EventStateChange,
	EventError,
	EventLog,
}

// ErrUnknownEventType is returned for event types outside EventTypes.
var ErrUnknownEventType = errors.New("unknown event type")

// ErrInvalidPayload is returned when event data does not fit its type.
var ErrInvalidPayload = errors.New("invalid event payload")

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventLLMRequest, EventLLMResponse, EventToolCall, EventToolResult,
		EventDecision, EventStateChange, EventError, EventLog:
		return true
	}
	return false
}

// ParseEventType converts a persisted event type string.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
	return t, nil
}

// requiredKeys names the string keys each event type must carry.
var requiredKeys = map[EventType]string{
	EventLLMRequest:  "model",
	EventLLMResponse: "content",
	EventToolCall:    "name",
	EventToolResult:  "name",
	EventDecision:    "description",
	EventStateChange: "key",
	EventError:       "message",
	EventLog:         "message",
}

// Event is one immutable occurrence inside a span.
type Event struct {
	Type      EventType
	Timestamp time.Time
	// Sequence is unique and strictly increasing across the whole trace.
	Sequence int64
	Data     map[string]any
}

// NewEvent validates data against kind and builds an event without
// sequence or timestamp; the recorder assigns those.
func NewEvent(kind EventType, data map[string]any) (Event, error) {
	if !kind.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, string(kind))
	}
	data, err := normalize(data)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
	}

	key := requiredKeys[kind]
	v, ok := data[key]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s requires %q", ErrInvalidPayload, kind, key)
	}
	if _, isString := v.(string); !isString {
		return Event{}, fmt.Errorf("%w: %s.%s must be a string, got %T", ErrInvalidPayload, kind, key, v)
	}

	return Event{Type: kind, Data: data}, nil
}

// IdentityKey returns the value events of this type are aligned on when
// traces are compared, and whether the type has one at all.
func (e Event) IdentityKey() (string, bool) {
	switch e.Type {
	case EventToolCall, EventToolResult:
		if name := e.String("name"); name != "" {
			return name, true
		}
		return e.String("tool"), true
	case EventLLMRequest, EventLLMResponse:
		return e.String("model"), true
	case EventStateChange:
		return e.String("key"), true
	default:
		return "", false
	}
}

// String returns the string stored under key, or "" when absent or not a string.
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// NormalizeMetadata converts metadata to its JSON-native form. Empty
// metadata becomes nil.
func NormalizeMetadata(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out, err := normalize(m)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidPayload, err)
	}
	return out, nil
}

// normalize round-trips data through JSON so that an in-memory event holds
// exactly the value types a loaded one would (float64 numbers, []any,
// map[string]any). It also rejects values that cannot be persisted.
func normalize(data map[string]any) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
