package rules

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func decodeEvent(t *testing.T, data string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var event map[string]any
	if err := dec.Decode(&event); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return event
}

// Test normal path resolution cases
func TestResolve_Normal(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		data     string
		expected any
	}{
		{
			name:     "top level key",
			path:     "user",
			data:     `{"user": "alice"}`,
			expected: "alice",
		},
		{
			name:     "nested object traversal",
			path:     "user.name",
			data:     `{"user": {"name": "Alice"}}`,
			expected: "Alice",
		},
		{
			name:     "flat dotted key wins over descent",
			path:     "foo.bar",
			data:     `{"foo.bar": 42, "foo": {"bar": 1}}`,
			expected: json.Number("42"),
		},
		{
			name:     "descent when flat key absent",
			path:     "foo.baz",
			data:     `{"foo.bar": 42, "foo": {"baz": "hello"}}`,
			expected: "hello",
		},
		{
			name:     "deep nesting",
			path:     "a.b.c.d",
			data:     `{"a": {"b": {"c": {"d": "deep"}}}}`,
			expected: "deep",
		},
		{
			name:     "list broadcast",
			path:     "items.price",
			data:     `{"items": [{"price": 10}, {"price": 20}]}`,
			expected: []any{json.Number("10"), json.Number("20")},
		},
		{
			name:     "list broadcast with missing element key",
			path:     "items.price",
			data:     `{"items": [{"price": 10}, {"name": "x"}]}`,
			expected: []any{json.Number("10"), nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, found := Resolve(decodeEvent(t, tt.data), tt.path)
			if !found {
				t.Fatalf("Resolve() found = false, want true")
			}
			if !reflect.DeepEqual(value, tt.expected) {
				t.Errorf("Resolve() value = %#v, expected %#v", value, tt.expected)
			}
		})
	}
}

// Test paths that resolve to no value
func TestResolve_EdgeCases(t *testing.T) {
	tests := []struct {
		name string
		path string
		data string
	}{
		{name: "empty object", path: "missing", data: `{}`},
		{name: "null value", path: "user", data: `{"user": null}`},
		{name: "null at intermediate level", path: "user.name", data: `{"user": null}`},
		{name: "scalar value but path continues", path: "source.ip", data: `{"source": "foobar"}`},
		{name: "broadcast with every element missing", path: "items.price", data: `{"items": [{"a": 1}, {"b": 2}]}`},
		{name: "broadcast over scalars", path: "items.price", data: `{"items": [1, 2]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, found := Resolve(decodeEvent(t, tt.data), tt.path)
			if found {
				t.Errorf("Resolve() = %#v, true; want not found", value)
			}
		})
	}
}

func TestValues(t *testing.T) {
	event := decodeEvent(t, `{"ips": ["10.0.0.1", null, "10.0.0.2"], "host": {"name": "a"}, "list": [{"x": "1"}, {}]}`)

	tests := []struct {
		path     string
		expected []any
	}{
		{path: "ips", expected: []any{"10.0.0.1", "10.0.0.2"}},
		{path: "host.name", expected: []any{"a"}},
		{path: "list.x", expected: []any{"1"}},
		{path: "missing", expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := Values(event, tt.path)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Values(%q) = %#v, expected %#v", tt.path, got, tt.expected)
			}
		})
	}
}

// Property-based test: resolution never crashes
func TestResolve_PropertyNeverCrashes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("resolution never crashes regardless of input", prop.ForAll(
		func(depth int, useArray bool, useNull bool) bool {
			keys := make([]string, depth)
			for i := range keys {
				keys[i] = "key"
			}
			path := strings.Join(keys, ".")

			var leaf any = "value"
			if useNull {
				leaf = nil
			}
			var data any = leaf
			for i := 0; i < depth; i++ {
				if useArray && i%2 == 0 {
					data = []any{map[string]any{"key": data}, nil, "scalar"}
				} else {
					data = map[string]any{"key": data}
				}
			}
			event, ok := data.(map[string]any)
			if !ok {
				event = map[string]any{"key": data}
			}

			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Resolve() panicked: %v", r)
				}
			}()

			_, _ = Resolve(event, path)
			_ = Values(event, path)
			return true
		},
		gen.IntRange(0, 20),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property-based test: a value written at a nested path resolves back
func TestResolve_PropertyRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("nested value resolves at its dotted path", prop.ForAll(
		func(depth int, value string) bool {
			keys := make([]string, depth)
			for i := range keys {
				keys[i] = "k" + strings.Repeat("x", i)
			}
			var data any = value
			for i := depth - 1; i >= 0; i-- {
				data = map[string]any{keys[i]: data}
			}
			got, found := Resolve(data.(map[string]any), strings.Join(keys, "."))
			return found && got == value
		},
		gen.IntRange(1, 10),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
