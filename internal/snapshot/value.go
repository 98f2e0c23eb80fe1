package snapshot

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates the variants a Value can hold
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindBytes
	KindTimestamp
)

var kindNames = [...]string{
	KindNull:      "null",
	KindBool:      "bool",
	KindInt:       "int",
	KindFloat:     "float",
	KindText:      "text",
	KindBytes:     "bytes",
	KindTimestamp: "timestamp",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Value is a single cell read from or written to the database. The zero
// Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	raw  []byte
	t    time.Time
}

// Null returns the SQL NULL value
func Null() Value { return Value{} }

// Bool returns a boolean value
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer value
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating point value
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Text returns a string value
func Text(s string) Value { return Value{kind: KindText, s: s} }

// Bytes returns a binary value. A nil slice is stored as an empty one so it
// is not confused with NULL.
func Bytes(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{kind: KindBytes, raw: b}
}

// Timestamp returns a date/time value
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t} }

// Kind returns the variant held by v
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is NULL
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload; false for other kinds
func (v Value) AsBool() bool { return v.b }

// AsInt returns the integer payload; 0 for other kinds
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the float payload; 0 for other kinds
func (v Value) AsFloat() float64 { return v.f }

// AsText returns the string payload; "" for other kinds
func (v Value) AsText() string { return v.s }

// AsBytes returns the binary payload; nil for other kinds
func (v Value) AsBytes() []byte { return v.raw }

// AsTime returns the timestamp payload; the zero time for other kinds
func (v Value) AsTime() time.Time { return v.t }

// Equal reports whether v and o hold the same variant and payload.
// Timestamps compare by instant, NaN equals NaN.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindText:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindTimestamp:
		return v.t.Equal(o.t)
	}
	return false
}

// DriverValue returns the argument to bind when inserting v
func (v Value) DriverValue() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindText:
		return v.s
	case KindBytes:
		return v.raw
	case KindTimestamp:
		return v.t
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return strconv.Quote(v.s)
	case KindBytes:
		return fmt.Sprintf("bytes[%d]", len(v.raw))
	case KindTimestamp:
		return v.t.Format(time.RFC3339Nano)
	}
	return v.kind.String()
}

// FromDriver converts a value scanned by go-sql-driver/mysql into a Value.
// databaseType is the column's DatabaseTypeName (e.g. "VARCHAR", "BLOB");
// the driver returns []byte for both textual and binary columns, so the type
// decides which variant a byte slice becomes.
func FromDriver(v any, databaseType string) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case int64:
		return Int(x)
	case int32:
		return Int(int64(x))
	case int:
		return Int(int64(x))
	case uint64:
		if x > math.MaxInt64 {
			return Text(strconv.FormatUint(x, 10))
		}
		return Int(int64(x))
	case float64:
		return Float(x)
	case float32:
		return Float(float64(x))
	case time.Time:
		return Timestamp(x)
	case string:
		return Text(x)
	case []byte:
		return fromDriverBytes(x, databaseType)
	default:
		return Text(fmt.Sprint(x))
	}
}

func fromDriverBytes(b []byte, databaseType string) Value {
	hint := HintForType(databaseType)
	switch hint {
	case HintBinary:
		return Bytes(append([]byte(nil), b...))
	case HintInteger:
		if i, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return Int(i)
		}
		// BIGINT UNSIGNED beyond int64 keeps its exact digits
		return Text(string(b))
	case HintFloat:
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return Float(f)
		}
		return Text(string(b))
	case HintTimestamp:
		// only reached without parseTime=true
		if t, ok := parseTimestamp(string(b)); ok {
			return Timestamp(t)
		}
		return Text(string(b))
	default:
		return Text(string(b))
	}
}

// TypeHint is the coarse column class used to steer decoding
type TypeHint uint8

const (
	HintNone TypeHint = iota
	HintInteger
	HintFloat
	HintBinary
	HintTimestamp
)

// HintForType classifies a MySQL type name as reported by
// INFORMATION_SCHEMA.COLUMNS.DATA_TYPE or sql.ColumnType.DatabaseTypeName.
// DECIMAL maps to HintNone and keeps its exact text.
func HintForType(databaseType string) TypeHint {
	t := strings.ToUpper(strings.TrimSpace(databaseType))
	t = strings.TrimPrefix(t, "UNSIGNED ")
	if i := strings.IndexAny(t, "( "); i >= 0 {
		t = t[:i]
	}

	switch t {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		return HintInteger
	case "FLOAT", "DOUBLE", "REAL":
		return HintFloat
	case "BINARY", "VARBINARY", "TINYBLOB", "BLOB", "MEDIUMBLOB", "LONGBLOB", "BIT", "GEOMETRY",
		"POINT", "LINESTRING", "POLYGON", "MULTIPOINT", "MULTILINESTRING", "MULTIPOLYGON", "GEOMETRYCOLLECTION":
		return HintBinary
	case "DATE", "DATETIME", "TIMESTAMP":
		return HintTimestamp
	default:
		return HintNone
	}
}
