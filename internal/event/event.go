// Package event decodes events from the wire formats routingfilter accepts.
//
// JSON events are decoded with json.Number so integers keep their exact text
// and TYPEOF can tell int from float. Protobuf events arrive as
// size-delimited google.protobuf.Struct messages, where every number is a
// float64.
package event

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/solatis/routingfilter/internal/types"
	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"
)

// Decoder yields events until io.EOF.
type Decoder interface {
	Next() (types.Event, error)
}

// NewDecoder returns a decoder for format ("json" or "proto").
func NewDecoder(r io.Reader, format string) (Decoder, error) {
	switch format {
	case "", "json":
		return NewReader(r), nil
	case "proto":
		return NewProtoReader(r), nil
	default:
		return nil, fmt.Errorf("unknown event format %q (use json or proto)", format)
	}
}

// ErrNotObject is returned when a decoded value is not a JSON object.
var ErrNotObject = errors.New("event is not a JSON object")

// Decode parses one JSON object.
func Decode(data []byte) (types.Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var ev types.Event
	if err := dec.Decode(&ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// Reader reads a stream of concatenated or newline-delimited JSON objects.
type Reader struct {
	dec *json.Decoder
	n   int
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &Reader{dec: dec}
}

// Next returns the next event, or io.EOF when the stream is exhausted.
// A non-object value is reported with its position and skipped.
func (r *Reader) Next() (types.Event, error) {
	var raw json.RawMessage
	if err := r.dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("event %d: %w", r.n, err)
	}
	r.n++
	ev, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("event %d: %w", r.n-1, err)
	}
	return ev, nil
}

// ProtoReader reads a stream of size-delimited Struct messages.
type ProtoReader struct {
	r *bufio.Reader
	n int
}

// NewProtoReader creates a ProtoReader over r.
func NewProtoReader(r io.Reader) *ProtoReader {
	return &ProtoReader{r: bufio.NewReader(r)}
}

// Next returns the next event, or io.EOF when the stream is exhausted.
func (p *ProtoReader) Next() (types.Event, error) {
	var s structpb.Struct
	if err := protodelim.UnmarshalFrom(p.r, &s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("event %d: %w", p.n, err)
	}
	p.n++
	return FromStruct(&s), nil
}

// WriteProto writes ev as one size-delimited Struct message.
func WriteProto(w io.Writer, ev types.Event) error {
	s, err := ToStruct(ev)
	if err != nil {
		return err
	}
	if _, err := protodelim.MarshalTo(w, s); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// FromStruct converts a protobuf Struct into an event. Struct numbers are
// float64, so TYPEOF sees them as float, never int.
func FromStruct(s *structpb.Struct) types.Event {
	if s == nil {
		return types.Event{}
	}
	return types.Event(s.AsMap())
}

// ToStruct converts an event, including its routing history, into a
// protobuf Struct. json.Number values become float64.
func ToStruct(ev types.Event) (*structpb.Struct, error) {
	normalized, ok := normalize(map[string]any(ev)).(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	s, err := structpb.NewStruct(normalized)
	if err != nil {
		return nil, fmt.Errorf("event to struct: %w", err)
	}
	return s, nil
}

// normalize rewrites values structpb cannot represent.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalize(item)
		}
		return out
	case types.Event:
		return normalize(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	default:
		return v
	}
}
