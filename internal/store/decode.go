package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/valyala/fastjson"

	"github.com/capitalize-ai/agentreplay/internal/model"
	"github.com/capitalize-ai/agentreplay/pkg/metrics"
)

// MaxLineSize bounds a single persisted line, and with it the largest
// top-level span a trace file may hold.
const MaxLineSize = 64 << 20

var headerKeys = map[string]bool{
	"type":       true,
	"trace_id":   true,
	"name":       true,
	"start_time": true,
	"end_time":   true,
	"metadata":   true,
}

// Load reads the trace stored at path.
func Load(path string) (*model.Trace, error) {
	start := time.Now()
	t, err := load(path)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.TraceLoadDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return t, err
}

func load(path string) (*model.Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()

	t, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return t, nil
}

// Decode parses a whole persisted trace. On the first malformed line it
// returns a *ParseError and no trace.
func Decode(r io.Reader) (*model.Trace, error) {
	d := decoder{sequences: make(map[int64]bool), spanIDs: make(map[string]bool)}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	var (
		t     *model.Trace
		ended bool
	)
	for sc.Scan() {
		d.line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		v, err := d.parser.ParseBytes(raw)
		if err != nil {
			return nil, d.errorf("invalid JSON: %v", err)
		}
		if v.Type() != fastjson.TypeObject {
			return nil, d.errorf("expected a JSON object, got %s", v.Type())
		}
		kind, err := d.requiredString(v, "type")
		if err != nil {
			return nil, err
		}

		switch kind {
		case recordHeader:
			if t != nil {
				return nil, d.errorf("duplicate trace_header")
			}
			if t, err = d.header(v); err != nil {
				return nil, err
			}
		case recordSpan:
			if t == nil {
				return nil, d.errorf("span before trace_header")
			}
			s, err := d.span(v, "")
			if err != nil {
				return nil, err
			}
			t.Spans = append(t.Spans, s)
		case recordEnd:
			if t == nil {
				return nil, d.errorf("trace_end before trace_header")
			}
			if ended {
				return nil, d.errorf("duplicate trace_end")
			}
			end, err := d.requiredTime(v, "end_time")
			if err != nil {
				return nil, err
			}
			t.EndTime = end
			ended = true
		default:
			return nil, d.errorf("unknown record type %q", kind)
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, parseErrorf(d.line+1, "line exceeds %d bytes", MaxLineSize)
		}
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	if t == nil {
		return nil, d.errorf("missing trace_header")
	}
	return t, nil
}

type decoder struct {
	parser    fastjson.Parser
	line      int
	sequences map[int64]bool
	spanIDs   map[string]bool
	// spanCount numbers spans written without an id.
	spanCount int
}

func (d *decoder) errorf(format string, args ...any) *ParseError {
	return parseErrorf(d.line, format, args...)
}

func (d *decoder) header(v *fastjson.Value) (*model.Trace, error) {
	id, err := d.requiredString(v, "trace_id")
	if err != nil {
		return nil, err
	}
	name, err := d.requiredString(v, "name")
	if err != nil {
		return nil, err
	}
	start, err := d.requiredTime(v, "start_time")
	if err != nil {
		return nil, err
	}
	end, err := d.optionalTime(v, "end_time")
	if err != nil {
		return nil, err
	}

	t := &model.Trace{ID: id, Name: name, StartTime: start, EndTime: end}

	if mv := v.Get("metadata"); mv != nil && mv.Type() != fastjson.TypeNull {
		if mv.Type() != fastjson.TypeObject {
			return nil, d.errorf("metadata must be an object")
		}
		t.Metadata = nilIfEmpty(toMap(mv))
	} else {
		// Older writers spread metadata over the header itself.
		obj, _ := v.Object()
		extra := map[string]any{}
		obj.Visit(func(key []byte, val *fastjson.Value) {
			if !headerKeys[string(key)] {
				extra[string(key)] = toAny(val)
			}
		})
		t.Metadata = nilIfEmpty(extra)
	}
	return t, nil
}

func (d *decoder) span(v *fastjson.Value, path string) (*model.Span, error) {
	name, err := d.requiredString(v, "name")
	if err != nil {
		return nil, err
	}
	path += "/" + name

	d.spanCount++
	id := fmt.Sprintf("span-%d", d.spanCount)
	if idv := v.Get("span_id"); idv != nil {
		b, err := idv.StringBytes()
		if err != nil || len(b) == 0 {
			return nil, d.errorf("span %s: span_id must be a non-empty string", path)
		}
		id = string(b)
	}
	if d.spanIDs[id] {
		return nil, d.errorf("span %s: duplicate span_id %q", path, id)
	}
	d.spanIDs[id] = true

	start, err := d.requiredTime(v, "start")
	if err != nil {
		return nil, err
	}
	end, err := d.optionalTime(v, "end")
	if err != nil {
		return nil, err
	}
	s := &model.Span{ID: id, Name: name, Start: start, End: end}

	if mv := v.Get("metadata"); mv != nil && mv.Type() != fastjson.TypeNull {
		if mv.Type() != fastjson.TypeObject {
			return nil, d.errorf("span %s: metadata must be an object", path)
		}
		s.Metadata = nilIfEmpty(toMap(mv))
	}

	events, err := d.array(v, "events", path)
	if err != nil {
		return nil, err
	}
	prev := int64(-1)
	for i, ev := range events {
		e, err := d.event(ev, fmt.Sprintf("%s events[%d]", path, i))
		if err != nil {
			return nil, err
		}
		if e.Sequence <= prev {
			return nil, d.errorf("span %s: sequence %d is not greater than %d", path, e.Sequence, prev)
		}
		prev = e.Sequence
		s.Events = append(s.Events, e)
	}

	children, err := d.array(v, "children", path)
	if err != nil {
		return nil, err
	}
	for _, cv := range children {
		if cv.Type() != fastjson.TypeObject {
			return nil, d.errorf("span %s: children must hold objects", path)
		}
		c, err := d.span(cv, path)
		if err != nil {
			return nil, err
		}
		s.Children = append(s.Children, c)
	}
	return s, nil
}

func (d *decoder) event(v *fastjson.Value, where string) (model.Event, error) {
	if v.Type() != fastjson.TypeObject {
		return model.Event{}, d.errorf("%s: expected an object", where)
	}
	kind, err := d.requiredString(v, "event_type")
	if err != nil {
		return model.Event{}, err
	}
	et, err := model.ParseEventType(kind)
	if err != nil {
		return model.Event{}, d.errorf("%s: %v", where, err)
	}
	ts, err := d.requiredTime(v, "timestamp")
	if err != nil {
		return model.Event{}, err
	}

	sv := v.Get("sequence")
	if sv == nil {
		return model.Event{}, d.errorf("%s: missing sequence", where)
	}
	seq, err := sv.Int64()
	if err != nil || seq < 0 {
		return model.Event{}, d.errorf("%s: sequence must be a non-negative integer", where)
	}
	if d.sequences[seq] {
		return model.Event{}, d.errorf("%s: duplicate sequence %d", where, seq)
	}
	d.sequences[seq] = true

	data := map[string]any{}
	if dv := v.Get("data"); dv != nil && dv.Type() != fastjson.TypeNull {
		if dv.Type() != fastjson.TypeObject {
			return model.Event{}, d.errorf("%s: data must be an object", where)
		}
		data = toMap(dv)
	}
	return model.Event{Type: et, Timestamp: ts, Sequence: seq, Data: data}, nil
}

func (d *decoder) array(v *fastjson.Value, key, path string) ([]*fastjson.Value, error) {
	av := v.Get(key)
	if av == nil || av.Type() == fastjson.TypeNull {
		return nil, nil
	}
	arr, err := av.Array()
	if err != nil {
		return nil, d.errorf("span %s: %s must be an array", path, key)
	}
	return arr, nil
}

func (d *decoder) requiredString(v *fastjson.Value, key string) (string, error) {
	sv := v.Get(key)
	if sv == nil {
		return "", d.errorf("missing required field %q", key)
	}
	b, err := sv.StringBytes()
	if err != nil {
		return "", d.errorf("field %q must be a string", key)
	}
	return string(b), nil
}

func (d *decoder) requiredTime(v *fastjson.Value, key string) (time.Time, error) {
	tv := v.Get(key)
	if tv == nil {
		return time.Time{}, d.errorf("missing required field %q", key)
	}
	f, err := tv.Float64()
	if err != nil {
		return time.Time{}, d.errorf("field %q must be a number", key)
	}
	return fromEpoch(f), nil
}

func (d *decoder) optionalTime(v *fastjson.Value, key string) (time.Time, error) {
	tv := v.Get(key)
	if tv == nil || tv.Type() == fastjson.TypeNull {
		return time.Time{}, nil
	}
	f, err := tv.Float64()
	if err != nil {
		return time.Time{}, d.errorf("field %q must be a number or null", key)
	}
	return fromEpoch(f), nil
}

// toAny converts a parsed value into the types encoding/json would produce.
func toAny(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeObject:
		return toMap(v)
	case fastjson.TypeArray:
		arr, _ := v.Array()
		out := make([]any, len(arr))
		for i, item := range arr {
			out[i] = toAny(item)
		}
		return out
	case fastjson.TypeString:
		b, _ := v.StringBytes()
		return string(b)
	case fastjson.TypeNumber:
		f, _ := v.Float64()
		return f
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	default:
		return nil
	}
}

func toMap(v *fastjson.Value) map[string]any {
	obj, _ := v.Object()
	out := make(map[string]any, obj.Len())
	obj.Visit(func(key []byte, val *fastjson.Value) {
		out[string(key)] = toAny(val)
	})
	return out
}

func nilIfEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}
