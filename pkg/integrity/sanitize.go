package integrity

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"reflect"
	"strconv"
	"sync"
	"unicode/utf8"
)

// DefaultSanitizerCacheSize is the maximum number of decoded byte sequences
// retained by a Sanitizer between resets.
const DefaultSanitizerCacheSize = 1000

// Sanitizer events reported through the metrics handler.
const (
	EventSanitizerCacheHit  = "sanitizer_cache_hit"
	EventSanitizerCacheMiss = "sanitizer_cache_miss"
)

// Sanitizer converts arbitrary in-memory values into forms that are
// guaranteed to be encodable as JSON or CSV. The conversion is lossy for
// opaque values, which are rendered through their string representation.
//
// Sanitization is idempotent: applying it to an already-sanitized value
// returns the value unchanged. Inputs are treated as immutable for the
// duration of a call; mutating a value while it is being sanitized is
// undefined behavior.
type Sanitizer struct {
	mu        sync.Mutex
	byteCache map[uint64]string
	cacheSize int

	metricsHandler func(event string)
}

// NewSanitizer creates a sanitizer with the default cache capacity.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		byteCache: make(map[uint64]string),
		cacheSize: DefaultSanitizerCacheSize,
	}
}

// SetMetricsHandler sets the function used to track cache events.
func (s *Sanitizer) SetMetricsHandler(handler func(event string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsHandler = handler
}

// ForJSON converts a value into one that encoding/json can always encode.
//
// Primitives pass through unchanged. Byte sequences decode as UTF-8 text with
// a hex fallback for non-text bytes. Complex numbers and non-finite floats
// render as strings. Set-like containers (map[T]struct{}) become a sequence
// in iteration order, which is not stable across runs. Maps gain string keys.
// Opaque values render via fmt, trading fidelity for serializability.
func (s *Sanitizer) ForJSON(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		json.Number:
		return v
	case float64:
		return sanitizeFloat(v)
	case float32:
		return sanitizeFloat(float64(v))
	case complex64:
		return strconv.FormatComplex(complex128(v), 'g', -1, 64)
	case complex128:
		return strconv.FormatComplex(v, 'g', -1, 128)
	case []byte:
		return s.decodeBytes(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = s.ForJSON(elem)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, elem := range v {
			out[k] = s.ForJSON(elem)
		}
		return out
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	}
	return s.forJSONReflect(reflect.ValueOf(value))
}

// forJSONReflect handles named types and container shapes that the closed
// type switch cannot match directly.
func (s *Sanitizer) forJSONReflect(rv reflect.Value) interface{} {
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return sanitizeFloat(rv.Float())
	case reflect.Complex64, reflect.Complex128:
		return strconv.FormatComplex(rv.Complex(), 'g', -1, 128)
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return s.ForJSON(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return s.decodeBytes(rv.Bytes())
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = s.ForJSON(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		// Set-like containers become a sequence of their members. The order
		// is the iteration order at sanitization time; callers must not rely
		// on it being stable.
		if rv.Type().Elem() == reflect.TypeOf(struct{}{}) {
			out := make([]interface{}, 0, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				out = append(out, s.ForJSON(iter.Key().Interface()))
			}
			return out
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[s.ForCSV(iter.Key().Interface())] = s.ForJSON(iter.Value().Interface())
		}
		return out
	default:
		// Opaque value: structs without a Stringer, channels, functions.
		// Lossy by design.
		return fmt.Sprintf("%+v", rv.Interface())
	}
}

// ForCSV converts a value into a single CSV cell.
func (s *Sanitizer) ForCSV(value interface{}) string {
	switch v := s.ForJSON(value).(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case json.Number:
		return v.String()
	default:
		// Containers embed as compact JSON so the cell remains one field.
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

// RowForCSV converts a record mapping into a CSV-safe row with string keys
// and string values.
func (s *Sanitizer) RowForCSV(row map[string]interface{}) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		out[k] = s.ForCSV(v)
	}
	return out
}

// ResetCache discards all cached byte-sequence decodings.
func (s *Sanitizer) ResetCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byteCache = make(map[uint64]string)
}

// CacheLen returns the number of cached byte-sequence decodings.
func (s *Sanitizer) CacheLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byteCache)
}

// decodeBytes turns a byte sequence into text. Valid UTF-8 passes through;
// anything else is hex-encoded so the operation never fails. Results are
// cached by content hash up to the cache capacity.
func (s *Sanitizer) decodeBytes(b []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(b)
	key := h.Sum64()

	s.mu.Lock()
	if cached, ok := s.byteCache[key]; ok {
		handler := s.metricsHandler
		s.mu.Unlock()
		if handler != nil {
			handler(EventSanitizerCacheHit)
		}
		return cached
	}
	s.mu.Unlock()

	var decoded string
	if utf8.Valid(b) {
		decoded = string(b)
	} else {
		decoded = "0x" + hex.EncodeToString(b)
	}

	s.mu.Lock()
	if len(s.byteCache) >= s.cacheSize {
		// Capacity reached: drop everything rather than track recency.
		s.byteCache = make(map[uint64]string)
	}
	s.byteCache[key] = decoded
	handler := s.metricsHandler
	s.mu.Unlock()
	if handler != nil {
		handler(EventSanitizerCacheMiss)
	}
	return decoded
}

// sanitizeFloat maps non-finite floats to strings since JSON cannot encode
// NaN or infinities.
func sanitizeFloat(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}
