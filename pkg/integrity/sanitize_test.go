package integrity

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"
)

type testPoint struct {
	X, Y int
}

type testLabel string

func (l testLabel) String() string {
	return "label:" + string(l)
}

func TestForJSONShapes(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		name  string
		input interface{}
		want  interface{}
	}{
		{"nil", nil, nil},
		{"bool", true, true},
		{"string", "hello", "hello"},
		{"int", 42, 42},
		{"float", 3.5, 3.5},
		{"nan", math.NaN(), "NaN"},
		{"positive infinity", math.Inf(1), "+Inf"},
		{"complex", complex(1, 2), "(1+2i)"},
		{"utf8 bytes", []byte("plain text"), "plain text"},
		{"binary bytes", []byte{0xff, 0xfe, 0x00}, "0xfffe00"},
		{"error value", fmt.Errorf("boom"), "boom"},
		{"stringer", testLabel("x"), "label:x"},
		{"opaque struct", testPoint{X: 1, Y: 2}, "{X:1 Y:2}"},
		{"nested map", map[string]interface{}{"b": []byte("v")}, map[string]interface{}{"b": "v"}},
		{"sequence", []interface{}{1, []byte("a")}, []interface{}{1, "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.ForJSON(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ForJSON(%v) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestForJSONSetLike(t *testing.T) {
	s := NewSanitizer()

	set := map[string]struct{}{"a": {}, "b": {}, "c": {}}
	got, ok := s.ForJSON(set).([]interface{})
	if !ok {
		t.Fatalf("set-like value did not sanitize to a sequence: %#v", s.ForJSON(set))
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 members, got %d", len(got))
	}
	seen := make(map[string]bool)
	for _, member := range got {
		str, ok := member.(string)
		if !ok {
			t.Fatalf("set member is %T, want string", member)
		}
		seen[str] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !seen[want] {
			t.Errorf("missing set member %q", want)
		}
	}
}

func TestForJSONIdempotent(t *testing.T) {
	s := NewSanitizer()

	inputs := []interface{}{
		[]byte{0x01, 0x02},
		map[string]struct{}{"x": {}, "y": {}},
		map[string]interface{}{"nested": map[string]interface{}{"b": []byte("deep")}},
		testPoint{X: 9, Y: 9},
		complex(3, -4),
		math.NaN(),
		[]interface{}{1, "two", []byte("three")},
	}

	for i, input := range inputs {
		once := s.ForJSON(input)
		twice := s.ForJSON(once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("input %d: sanitize not idempotent:\nonce:  %#v\ntwice: %#v", i, once, twice)
		}
	}
}

func TestForCSV(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		name  string
		input interface{}
		want  string
	}{
		{"nil", nil, ""},
		{"string", "v", "v"},
		{"bool", false, "false"},
		{"int", -7, "-7"},
		{"float", 2.25, "2.25"},
		{"bytes", []byte("raw"), "raw"},
		{"slice embeds as json", []interface{}{1, 2}, "[1,2]"},
		{"map embeds as json", map[string]interface{}{"k": 1}, `{"k":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.ForCSV(tt.input); got != tt.want {
				t.Errorf("ForCSV(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRowForCSV(t *testing.T) {
	s := NewSanitizer()

	row := s.RowForCSV(map[string]interface{}{
		"name":  "svc",
		"count": 3,
		"blob":  []byte{0xde, 0xad},
	})
	want := map[string]string{
		"name":  "svc",
		"count": "3",
		"blob":  "0xdead",
	}
	if !reflect.DeepEqual(row, want) {
		t.Errorf("RowForCSV = %#v, want %#v", row, want)
	}
}

func TestSanitizerCache(t *testing.T) {
	s := NewSanitizer()

	var hits, misses int
	s.SetMetricsHandler(func(event string) {
		switch event {
		case EventSanitizerCacheHit:
			hits++
		case EventSanitizerCacheMiss:
			misses++
		}
	})

	payload := []byte{0xca, 0xfe}
	first := s.ForJSON(payload)
	second := s.ForJSON(payload)
	if first != second {
		t.Fatalf("cache returned different decodings: %v vs %v", first, second)
	}
	if misses != 1 || hits != 1 {
		t.Errorf("expected 1 miss and 1 hit, got %d misses %d hits", misses, hits)
	}

	s.ResetCache()
	if s.CacheLen() != 0 {
		t.Errorf("cache not empty after reset: %d entries", s.CacheLen())
	}
}

func TestSanitizerCacheBounded(t *testing.T) {
	s := NewSanitizer()
	s.cacheSize = 10

	for i := 0; i < 25; i++ {
		s.ForJSON([]byte(strings.Repeat("x", i+1) + "\xff"))
	}
	if s.CacheLen() > 10 {
		t.Errorf("cache exceeded capacity: %d entries", s.CacheLen())
	}
}
