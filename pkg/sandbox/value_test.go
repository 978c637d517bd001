package sandbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValueMarshalJSON(t *testing.T) {
	values := []Value{
		NullValue(),
		IntValue(3),
		FloatValue(1.5),
		DecimalValue("10.50"),
		DecimalValue("NaN"),
		TextValue("a\"b"),
		BoolValue(true),
		BytesValue([]byte{1, 2}),
	}
	raw, err := json.Marshal(values)
	require.NoError(t, err)
	require.JSONEq(t, `[null,3,1.5,10.50,"NaN","a\"b",true,"AQI="]`, string(raw))
}

func TestFromDriver(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		in   interface{}
		want Value
	}{
		{"nil", nil, NullValue()},
		{"int64", int64(7), IntValue(7)},
		{"int32", int32(-2), IntValue(-2)},
		{"huge uint", uint64(1 << 63), DecimalValue("9223372036854775808")},
		{"float", 2.25, FloatValue(2.25)},
		{"bool", false, BoolValue(false)},
		{"string", "John", TextValue("John")},
		{"bytes", []byte("x"), BytesValue([]byte("x"))},
		{"time", ts, TextValue("2024-03-01T10:00:00Z")},
		{"uuid", [16]byte{0x12, 0x34}, TextValue("12340000-0000-0000-0000-000000000000")},
		{"json", map[string]interface{}{"a": 1.0}, TextValue(`{"a":1}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, FromDriver(tc.in))
		})
	}
}

func TestFromDriverCopiesBytes(t *testing.T) {
	buf := []byte("abc")
	v := FromDriver(buf)
	buf[0] = 'z'
	require.Equal(t, []byte("abc"), v.Bytes)
}

func TestValueString(t *testing.T) {
	require.Equal(t, "NULL", NullValue().String())
	require.Equal(t, "42", IntValue(42).String())
	require.Equal(t, "0.1", FloatValue(0.1).String())
	require.Equal(t, "\\x0aff", BytesValue([]byte{0x0a, 0xff}).String())
	require.True(t, DecimalValue("1").IsNumeric())
	require.False(t, TextValue("1").IsNumeric())
}
