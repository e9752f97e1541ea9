package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the type carried by a Value.
type Kind int

const (
	// KindInvalid is the zero Value.
	KindInvalid Kind = iota
	// KindString is a UTF-8 string.
	KindString
	// KindBool is a boolean.
	KindBool
	// KindTimestamp is a point in time with nanosecond precision.
	KindTimestamp
	// KindInt64 is a signed integer. Remote records may carry it, but no
	// local field declares it.
	KindInt64
	// KindUnsupported is a value whose wire type this package does not
	// understand. It is kept opaque so merges never destroy it.
	KindUnsupported
)

// String returns the wire type tag for the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "STRING"
	case KindBool:
		return "BOOLEAN"
	case KindTimestamp:
		return "TIMESTAMP"
	case KindInt64:
		return "INT64"
	case KindUnsupported:
		return "UNSUPPORTED"
	default:
		return "INVALID"
	}
}

// Value is a typed remote field value.
type Value struct {
	kind Kind
	str  string
	b    bool
	t    time.Time
	i    int64

	// unsupported values keep their wire tag and payload verbatim
	tag string
	raw json.RawMessage
}

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Timestamp returns a timestamp Value.
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t} }

// Int64 returns an integer Value.
func Int64(i int64) Value { return Value{kind: KindInt64, i: i} }

// Unsupported wraps a wire value of an unknown type. The payload is kept
// in compact form so it compares equal after an indented encode.
func Unsupported(tag string, raw json.RawMessage) Value {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		buf.Reset()
		buf.Write(raw)
	}
	return Value{kind: KindUnsupported, tag: tag, raw: json.RawMessage(buf.Bytes())}
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// AsString returns the string and true if v is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsBool returns the boolean and true if v is a boolean.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsTime returns the timestamp and true if v is a timestamp.
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTimestamp }

// AsInt64 returns the integer and true if v is an integer.
func (v Value) AsInt64() (int64, bool) { return v.i, v.kind == KindInt64 }

// Equal reports whether two values have the same kind and content.
// Timestamps compare by instant, not by location.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	case KindTimestamp:
		return v.t.Equal(o.t)
	case KindInt64:
		return v.i == o.i
	case KindUnsupported:
		return v.tag == o.tag && string(v.raw) == string(o.raw)
	default:
		return true
	}
}

// GoString renders the value for test failure messages.
func (v Value) GoString() string {
	switch v.kind {
	case KindString:
		return fmt.Sprintf("String(%q)", v.str)
	case KindBool:
		return fmt.Sprintf("Bool(%t)", v.b)
	case KindTimestamp:
		return fmt.Sprintf("Timestamp(%s)", v.t.Format(time.RFC3339Nano))
	case KindInt64:
		return fmt.Sprintf("Int64(%d)", v.i)
	case KindUnsupported:
		return fmt.Sprintf("Unsupported(%s, %s)", v.tag, v.raw)
	default:
		return "Invalid"
	}
}

type valueJSON struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"type": TAG, "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var (
		payload any
		tag     = v.kind.String()
	)
	switch v.kind {
	case KindString:
		payload = v.str
	case KindBool:
		payload = v.b
	case KindTimestamp:
		payload = v.t.Format(time.RFC3339Nano)
	case KindInt64:
		payload = v.i
	case KindUnsupported:
		return json.Marshal(valueJSON{Type: v.tag, Value: v.raw})
	default:
		return nil, fmt.Errorf("cannot marshal invalid value")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s value: %w", tag, err)
	}
	return json.Marshal(valueJSON{Type: tag, Value: data})
}

// UnmarshalJSON decodes a typed wire value. Unknown type tags become
// Unsupported values rather than errors.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w valueJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to parse value: %w", err)
	}

	switch w.Type {
	case "STRING":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("failed to parse STRING value: %w", err)
		}
		*v = String(s)
	case "BOOLEAN":
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return fmt.Errorf("failed to parse BOOLEAN value: %w", err)
		}
		*v = Bool(b)
	case "TIMESTAMP":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("failed to parse TIMESTAMP value: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("failed to parse TIMESTAMP value: %w", err)
		}
		*v = Timestamp(t)
	case "INT64":
		var i int64
		if err := json.Unmarshal(w.Value, &i); err != nil {
			return fmt.Errorf("failed to parse INT64 value: %w", err)
		}
		*v = Int64(i)
	default:
		*v = Unsupported(w.Type, w.Value)
	}
	return nil
}
