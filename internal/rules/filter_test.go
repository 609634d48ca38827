package rules

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/routingfilter/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func mustFilter(t *testing.T, ft FilterType, keys []string, values ...any) *Filter {
	t.Helper()
	f, err := NewFilter(ft, keys, values)
	if err != nil {
		t.Fatalf("NewFilter(%s) error = %v, want nil", ft, err)
	}
	return f
}

func TestParseFilterType(t *testing.T) {
	tests := []struct {
		input   string
		want    FilterType
		wantErr bool
	}{
		{"EQUALS", FilterEquals, false},
		{"equals", FilterEquals, false},
		{" NOT_NETWORK ", FilterNotNetwork, false},
		{"GREATER_EQ", FilterGreaterEq, false},
		{"GREATER_EQUAL", FilterGreaterEq, false},
		{"LESS_EQUAL", FilterLessEq, false},
		{"TYPEOF", FilterTypeOf, false},
		{"CONTAINS", FilterUnspecified, true},
		{"", FilterUnspecified, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFilterType(tt.input)
			if tt.wantErr {
				if !errors.Is(err, types.ErrInvalidFilterType) {
					t.Fatalf("ParseFilterType() error = %v, want ErrInvalidFilterType", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFilterType() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("ParseFilterType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewFilter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		ft      FilterType
		keys    []string
		values  []any
		wantErr error
	}{
		{"unspecified type", FilterUnspecified, []string{"a"}, []any{"x"}, types.ErrInvalidFilterType},
		{"missing key", FilterEquals, nil, []any{"x"}, types.ErrMissingKey},
		{"missing value", FilterEquals, []string{"a"}, nil, types.ErrMissingValue},
		{"bad regexp", FilterRegexp, []string{"a"}, []any{"(unclosed"}, types.ErrInvalidRegexp},
		{"non-string regexp", FilterRegexp, []string{"a"}, []any{12}, types.ErrInvalidRegexp},
		{"bad network", FilterNetwork, []string{"ip"}, []any{"not-an-ip"}, types.ErrInvalidNetwork},
		{"bad cidr", FilterNotNetwork, []string{"ip"}, []any{"10.0.0.0/33"}, types.ErrInvalidNetwork},
		{"unresolved variable as network", FilterNetwork, []string{"ip"}, []any{"$INTERNAL_IPS"}, types.ErrInvalidNetwork},
		{"bad number", FilterGreater, []string{"n"}, []any{"ten"}, types.ErrInvalidNumber},
		{"bad type tag", FilterTypeOf, []string{"v"}, []any{"tuple"}, types.ErrInvalidTypeTag},
		{"typeof with two keys", FilterTypeOf, []string{"a", "b"}, []any{"str"}, types.ErrTooManyKeys},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFilter(tt.ft, tt.keys, tt.values)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewFilter() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFilter_Match(t *testing.T) {
	event := map[string]any{
		"name":     "Mountain Bike",
		"model":    "SuperLight",
		"wheels":   []any{"carbon", "ALLOY"},
		"price":    1500.0,
		"count":    3,
		"text":     "first line\nSecond Line",
		"src":      map[string]any{"ip": "192.168.1.10"},
		"dst_ips":  []any{"8.8.8.8", "10.1.2.3"},
		"cidr":     "192.168.0.0/16",
		"domain":   "www.Example.com",
		"enabled":  true,
		"nothing":  nil,
		"empty":    []any{},
		"nested":   []any{map[string]any{"tag": "a"}, map[string]any{"tag": "b"}},
		"mac":      "01:23:45:67:89:AB",
		"bad_ip":   "999.1.1.1",
		"port_str": "8080",
	}

	tests := []struct {
		name   string
		ft     FilterType
		keys   []string
		values []any
		want   bool
	}{
		{"all", FilterAll, nil, nil, true},

		{"exists present", FilterExists, []string{"name"}, nil, true},
		{"exists nested", FilterExists, []string{"src.ip"}, nil, true},
		{"exists any key", FilterExists, []string{"missing", "name"}, nil, true},
		{"exists null", FilterExists, []string{"nothing"}, nil, false},
		{"exists missing", FilterExists, []string{"missing"}, nil, false},
		{"not exists missing", FilterNotExists, []string{"missing", "other"}, nil, true},
		{"not exists present", FilterNotExists, []string{"missing", "name"}, nil, false},

		{"equals case-insensitive", FilterEquals, []string{"model"}, []any{"superlight"}, true},
		{"equals configured upper", FilterEquals, []string{"model"}, []any{"SUPERLIGHT"}, true},
		{"equals any value", FilterEquals, []string{"model"}, []any{"racepro", "superlight"}, true},
		{"equals list element", FilterEquals, []string{"wheels"}, []any{"alloy"}, true},
		{"equals broadcast", FilterEquals, []string{"nested.tag"}, []any{"b"}, true},
		{"equals number", FilterEquals, []string{"count"}, []any{3}, true},
		{"equals number vs string", FilterEquals, []string{"port_str"}, []any{8080}, false},
		{"equals bool", FilterEquals, []string{"enabled"}, []any{true}, true},
		{"equals no match", FilterEquals, []string{"model"}, []any{"racepro"}, false},
		{"equals missing key", FilterEquals, []string{"missing"}, []any{"x"}, false},
		{"not equals no match", FilterNotEquals, []string{"model"}, []any{"racepro"}, true},
		{"not equals match", FilterNotEquals, []string{"model"}, []any{"superlight"}, false},
		{"not equals missing key", FilterNotEquals, []string{"missing"}, []any{"x"}, true},

		{"startswith", FilterStartsWith, []string{"name"}, []any{"MOUNTAIN"}, true},
		{"startswith list", FilterStartsWith, []string{"wheels"}, []any{"al"}, true},
		{"startswith no match", FilterStartsWith, []string{"name"}, []any{"bike"}, false},
		{"endswith", FilterEndsWith, []string{"name"}, []any{"bike"}, true},
		{"endswith no match", FilterEndsWith, []string{"name"}, []any{"mountain"}, false},
		{"keyword", FilterKeyword, []string{"name"}, []any{"tain b"}, true},
		{"keyword number", FilterKeyword, []string{"count"}, []any{"3"}, true},
		{"keyword no match", FilterKeyword, []string{"name"}, []any{"road"}, false},

		{"regexp search", FilterRegexp, []string{"name"}, []any{"tain\\s+bike"}, true},
		{"regexp case-insensitive", FilterRegexp, []string{"name"}, []any{"^MOUNTAIN"}, true},
		{"regexp multi-line", FilterRegexp, []string{"text"}, []any{"^second line$"}, true},
		{"regexp no match", FilterRegexp, []string{"name"}, []any{"^bike"}, false},

		{"network address in cidr", FilterNetwork, []string{"src.ip"}, []any{"192.168.1.0/24"}, true},
		{"network exact address", FilterNetwork, []string{"src.ip"}, []any{"192.168.1.10"}, true},
		{"network list element", FilterNetwork, []string{"dst_ips"}, []any{"10.0.0.0/8"}, true},
		{"network target cidr overlaps", FilterNetwork, []string{"cidr"}, []any{"192.168.1.0/24"}, true},
		{"network no match", FilterNetwork, []string{"src.ip"}, []any{"10.0.0.0/8"}, false},
		{"network unparsable target", FilterNetwork, []string{"name"}, []any{"10.0.0.0/8"}, false},
		{"network missing key", FilterNetwork, []string{"missing"}, []any{"10.0.0.0/8"}, false},
		{"not network outside", FilterNotNetwork, []string{"src.ip"}, []any{"10.0.0.0/8"}, true},
		{"not network inside", FilterNotNetwork, []string{"src.ip"}, []any{"192.168.0.0/16"}, false},
		{"not network unparsable target", FilterNotNetwork, []string{"bad_ip"}, []any{"10.0.0.0/8"}, true},

		{"domain exact", FilterDomain, []string{"domain"}, []any{"www.example.com"}, true},
		{"domain parent", FilterDomain, []string{"domain"}, []any{"EXAMPLE.com"}, true},
		{"domain tld", FilterDomain, []string{"domain"}, []any{"com"}, true},
		{"domain label boundary", FilterDomain, []string{"domain"}, []any{"ample.com"}, false},
		{"domain other", FilterDomain, []string{"domain"}, []any{"example.org"}, false},

		{"greater", FilterGreater, []string{"price"}, []any{1000}, true},
		{"greater no", FilterGreater, []string{"price"}, []any{1500}, false},
		{"greater any value", FilterGreater, []string{"price"}, []any{2000, 100}, true},
		{"greater numeric string target", FilterGreater, []string{"port_str"}, []any{"8000"}, true},
		{"greater equal", FilterGreaterEq, []string{"price"}, []any{1500}, true},
		{"less", FilterLess, []string{"count"}, []any{"3.5"}, true},
		{"less no", FilterLess, []string{"count"}, []any{3}, false},
		{"less equal", FilterLessEq, []string{"count"}, []any{3}, true},
		{"comparator missing key", FilterGreater, []string{"missing"}, []any{1}, false},
		{"comparator empty list", FilterGreater, []string{"empty"}, []any{1}, false},

		{"typeof str", FilterTypeOf, []string{"name"}, []any{"str"}, true},
		{"typeof int", FilterTypeOf, []string{"count"}, []any{"int"}, true},
		{"typeof float", FilterTypeOf, []string{"price"}, []any{"float"}, true},
		{"typeof bool", FilterTypeOf, []string{"enabled"}, []any{"bool"}, true},
		{"typeof bool is not int", FilterTypeOf, []string{"enabled"}, []any{"int"}, false},
		{"typeof list", FilterTypeOf, []string{"wheels"}, []any{"list"}, true},
		{"typeof dict", FilterTypeOf, []string{"src"}, []any{"dict"}, true},
		{"typeof ip", FilterTypeOf, []string{"src.ip"}, []any{"ip"}, true},
		{"typeof ip cidr", FilterTypeOf, []string{"cidr"}, []any{"ip"}, true},
		{"typeof numeric string is not ip", FilterTypeOf, []string{"port_str"}, []any{"ip"}, false},
		{"typeof mac", FilterTypeOf, []string{"mac"}, []any{"mac"}, true},
		{"typeof numeric string is not mac", FilterTypeOf, []string{"port_str"}, []any{"mac"}, false},
		{"typeof any of", FilterTypeOf, []string{"count"}, []any{"str", "int"}, true},
		{"typeof empty values accepts all", FilterTypeOf, []string{"count"}, nil, true},
		{"typeof missing", FilterTypeOf, []string{"missing"}, []any{"str"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustFilter(t, tt.ft, tt.keys, tt.values...)
			got, err := f.Match(event)
			if err != nil {
				t.Fatalf("Match() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_ComparatorNonNumeric(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"string", "abc"},
		{"mapping", map[string]any{}},
		{"bool", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustFilter(t, FilterGreater, []string{"v"}, 1)
			_, err := f.Match(map[string]any{"v": tt.value})
			if !errors.Is(err, types.ErrNotNumeric) {
				t.Errorf("Match() error = %v, want ErrNotNumeric", err)
			}
		})
	}
}

func TestFilter_TypeOfNumberDecoding(t *testing.T) {
	plain := map[string]any{}
	if err := json.Unmarshal([]byte(`{"n": 3}`), &plain); err != nil {
		t.Fatalf("Unmarshal() error = %v, want nil", err)
	}

	tests := []struct {
		name  string
		value any
		tag   TypeTag
		want  bool
	}{
		{"json number integral is int", json.Number("3"), TypeInt, true},
		{"json number integral is not float", json.Number("3"), TypeFloat, false},
		{"json number fractional is float", json.Number("3.5"), TypeFloat, true},
		{"json number fractional is not int", json.Number("3.5"), TypeInt, false},
		{"go int is int", 3, TypeInt, true},
		{"float64 integral is not int", float64(3), TypeInt, false},
		{"float64 integral is float", float64(3), TypeFloat, true},
		{"plain unmarshal is not int", plain["n"], TypeInt, false},
		{"plain unmarshal is float", plain["n"], TypeFloat, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustFilter(t, FilterTypeOf, []string{"n"}, string(tt.tag))
			got, err := f.Match(map[string]any{"n": tt.value})
			if err != nil {
				t.Fatalf("Match() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Match(%T %v) = %v, want %v", tt.value, tt.value, got, tt.want)
			}
		})
	}
}

func TestFilter_NetworkSoftFailureLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f, err := NewFilter(FilterNetwork, []string{"ip"}, []any{"10.0.0.0/8"}, WithFilterLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("NewFilter() error = %v, want nil", err)
	}

	ok, err := f.Match(map[string]any{"ip": "not-an-address"})
	if err != nil || ok {
		t.Fatalf("Match() = %v, %v; want false, nil", ok, err)
	}
	if logs.Len() != 1 {
		t.Errorf("logged %d entries, want 1", logs.Len())
	}
}

// Property-based test: NOT_NETWORK is the negation of NETWORK
func TestFilter_PropertyNotNetworkInverts(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	network := mustFilter(t, FilterNetwork, []string{"ip"}, "10.0.0.0/8", "192.168.1.0/24")
	notNetwork := mustFilter(t, FilterNotNetwork, []string{"ip"}, "10.0.0.0/8", "192.168.1.0/24")

	properties.Property("NOT_NETWORK == !NETWORK", prop.ForAll(
		func(a, b, c, d uint8, garbage bool) bool {
			var ip any = []any{int(a), int(b), int(c), int(d)}
			if !garbage {
				ip = formatIPv4(a, b, c, d)
			}
			event := map[string]any{"ip": ip}
			in, _ := network.Match(event)
			out, _ := notNetwork.Match(event)
			return in != out
		},
		gen.UInt8Range(0, 255),
		gen.UInt8Range(0, 255),
		gen.UInt8Range(0, 255),
		gen.UInt8Range(0, 255),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property-based test: non-comparator filters never error or panic
func TestFilter_PropertyNeverCrashes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	filters := []*Filter{
		mustFilter(t, FilterEquals, []string{"k", "k.k"}, "v", 1),
		mustFilter(t, FilterKeyword, []string{"k"}, "v"),
		mustFilter(t, FilterRegexp, []string{"k"}, "v+"),
		mustFilter(t, FilterNetwork, []string{"k"}, "10.0.0.0/8"),
		mustFilter(t, FilterDomain, []string{"k"}, "example.com"),
		mustFilter(t, FilterTypeOf, []string{"k"}, "ip", "mac", "dict"),
		mustFilter(t, FilterExists, []string{"k.k.k"}),
	}

	shapes := []func(string) any{
		func(s string) any { return s },
		func(s string) any { return nil },
		func(s string) any { return []any{s, nil, 1.5} },
		func(s string) any { return map[string]any{"k": s} },
		func(s string) any { return []any{map[string]any{"k": []any{s}}} },
		func(s string) any { return true },
	}

	properties.Property("filters never fail on arbitrary shapes", prop.ForAll(
		func(shape int, s string) bool {
			event := map[string]any{"k": shapes[shape](s)}
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Match() panicked: %v", r)
				}
			}()
			for _, f := range filters {
				if _, err := f.Match(event); err != nil {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(shapes)-1),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func formatIPv4(a, b, c, d uint8) string {
	return itoa(a) + "." + itoa(b) + "." + itoa(c) + "." + itoa(d)
}

func itoa(v uint8) string {
	if v == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
