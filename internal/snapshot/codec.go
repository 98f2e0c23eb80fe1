package snapshot

import (
	"encoding/base64"
	"math"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	bytesTagKey   = "__type__"
	bytesTagValue = "bytes"
	bytesDataKey  = "data"
)

// Encode converts v into a JSON-safe representation: nil, bool, int64,
// json.Number, string or the tagged bytes object
// {"__type__": "bytes", "data": <base64>}. Timestamps become RFC 3339
// strings with nanoseconds. Finite floats always carry a fraction or an
// exponent so Decode can tell them from integers.
func Encode(v Value) any {
	switch v.Kind() {
	case KindNull:
		return nil
	case KindBool:
		return v.AsBool()
	case KindInt:
		return v.AsInt()
	case KindFloat:
		return encodeFloat(v.AsFloat())
	case KindText:
		return v.AsText()
	case KindBytes:
		return map[string]any{
			bytesTagKey:  bytesTagValue,
			bytesDataKey: base64.StdEncoding.EncodeToString(v.AsBytes()),
		}
	case KindTimestamp:
		return v.AsTime().Format(time.RFC3339Nano)
	}
	return nil
}

func encodeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		// not representable in JSON nor storable in MySQL
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return json.Number(s)
}

// EncodeRow encodes a row of values
func EncodeRow(row []Value) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = Encode(v)
	}
	return out
}

// Decode converts a JSON-decoded cell back into a Value. hint comes from
// the live column type; it only matters for strings that should become
// timestamps. Decode never fails: shapes it does not recognize come back as
// Text holding their JSON form.
func Decode(raw any, hint TypeHint) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case json.Number:
		return decodeNumber(string(x))
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return Int(int64(x))
		}
		return Float(x)
	case int64:
		return Int(x)
	case int:
		return Int(int64(x))
	case string:
		if hint == HintTimestamp {
			if t, ok := parseTimestamp(x); ok {
				return Timestamp(t)
			}
		}
		return Text(x)
	case map[string]any:
		if b, ok := decodeTaggedBytes(x); ok {
			return Bytes(b)
		}
		return Text(marshalFallback(x))
	default:
		return Text(marshalFallback(x))
	}
}

// DecodeRow decodes a row using one hint per column; missing hints are HintNone.
func DecodeRow(row []any, hints []TypeHint) []Value {
	out := make([]Value, len(row))
	for i, raw := range row {
		hint := HintNone
		if i < len(hints) {
			hint = hints[i]
		}
		out[i] = Decode(raw, hint)
	}
	return out
}

func decodeNumber(s string) Value {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i)
		}
		// out of int64 range, e.g. BIGINT UNSIGNED
		return Text(s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Text(s)
	}
	return Float(f)
}

func decodeTaggedBytes(m map[string]any) ([]byte, bool) {
	if len(m) != 2 {
		return nil, false
	}
	tag, _ := m[bytesTagKey].(string)
	data, ok := m[bytesDataKey].(string)
	if tag != bytesTagValue || !ok {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, false
	}
	return b, true
}

func marshalFallback(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02",
}

// parseTimestamp accepts RFC 3339 and the formats MySQL prints. Strings
// without a zone are read as UTC, matching the connection's loc setting.
func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
