package sandbox

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Kind tags the dynamic type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	// KindDecimal holds an exact numeric literal in Str, as produced by
	// arbitrary precision column types.
	KindDecimal
	KindText
	KindBoolean
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a single cell read from a sandbox. Only the field selected by Kind
// is meaningful.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Str   string
	Bool  bool
	Bytes []byte
}

func NullValue() Value { return Value{Kind: KindNull} }

func IntValue(v int64) Value { return Value{Kind: KindInteger, Int: v} }

func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }

func DecimalValue(literal string) Value { return Value{Kind: KindDecimal, Str: literal} }

func TextValue(v string) Value { return Value{Kind: KindText, Str: v} }

func BoolValue(v bool) Value { return Value{Kind: KindBoolean, Bool: v} }

func BytesValue(v []byte) Value {
	b := make([]byte, len(v))
	copy(b, v)
	return Value{Kind: KindBinary, Bytes: b}
}

// IsNull reports whether v is SQL NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsNumeric reports whether v takes part in numeric comparison.
func (v Value) IsNumeric() bool {
	return v.Kind == KindInteger || v.Kind == KindFloat || v.Kind == KindDecimal
}

// String renders v the way it is shown in exports and logs.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindDecimal, KindText:
		return v.Str
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindBinary:
		return fmt.Sprintf("\\x%x", v.Bytes)
	default:
		return ""
	}
}

// MarshalJSON renders v as a plain JSON scalar so the frontend can print it.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindInteger:
		return []byte(strconv.FormatInt(v.Int, 10)), nil
	case KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return json.Marshal(strconv.FormatFloat(v.Float, 'g', -1, 64))
		}
		return []byte(strconv.FormatFloat(v.Float, 'g', -1, 64)), nil
	case KindDecimal:
		if f, err := strconv.ParseFloat(v.Str, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return []byte(v.Str), nil
		}
		return json.Marshal(v.Str)
	case KindText:
		return json.Marshal(v.Str)
	case KindBoolean:
		return []byte(strconv.FormatBool(v.Bool)), nil
	case KindBinary:
		return json.Marshal(v.Bytes)
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.Kind)
	}
}

// FromDriver converts a value produced by database/sql or pgx into a Value.
func FromDriver(src interface{}) Value {
	switch x := src.(type) {
	case nil:
		return NullValue()
	case int64:
		return IntValue(x)
	case int32:
		return IntValue(int64(x))
	case int16:
		return IntValue(int64(x))
	case int8:
		return IntValue(int64(x))
	case int:
		return IntValue(int64(x))
	case uint8:
		return IntValue(int64(x))
	case uint16:
		return IntValue(int64(x))
	case uint32:
		return IntValue(int64(x))
	case uint64:
		if x > math.MaxInt64 {
			return DecimalValue(strconv.FormatUint(x, 10))
		}
		return IntValue(int64(x))
	case float64:
		return FloatValue(x)
	case float32:
		return FloatValue(float64(x))
	case bool:
		return BoolValue(x)
	case string:
		return TextValue(x)
	case []byte:
		return BytesValue(x)
	case time.Time:
		return TextValue(x.Format(time.RFC3339Nano))
	case time.Duration:
		return TextValue(x.String())
	case [16]byte:
		return TextValue(uuid.UUID(x).String())
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(x)
		if err != nil {
			return TextValue(fmt.Sprint(x))
		}
		return TextValue(string(raw))
	case driver.Valuer:
		inner, err := x.Value()
		if err != nil {
			return TextValue(fmt.Sprint(x))
		}
		if _, again := inner.(driver.Valuer); again {
			return TextValue(fmt.Sprint(inner))
		}
		return FromDriver(inner)
	case fmt.Stringer:
		return TextValue(x.String())
	default:
		return TextValue(fmt.Sprint(x))
	}
}
