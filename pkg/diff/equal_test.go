package diff

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlclassroom-api/pkg/sandbox"
)

func TestEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b sandbox.Value
		want bool
	}{
		{"null null", sandbox.NullValue(), sandbox.NullValue(), true},
		{"null zero", sandbox.NullValue(), sandbox.IntValue(0), false},
		{"null empty text", sandbox.TextValue(""), sandbox.NullValue(), false},
		{"int float", sandbox.IntValue(1), sandbox.FloatValue(1.0), true},
		{"int decimal", sandbox.IntValue(10), sandbox.DecimalValue("10.00"), true},
		{"float decimal", sandbox.FloatValue(0.1), sandbox.DecimalValue("0.10"), true},
		{"float precision", sandbox.FloatValue(0.30000000000000004), sandbox.FloatValue(0.3), false},
		{"numeric text", sandbox.TextValue(" 42 "), sandbox.IntValue(42), true},
		{"non numeric text", sandbox.TextValue("forty two"), sandbox.IntValue(42), false},
		{"text text", sandbox.TextValue("1.0"), sandbox.TextValue("1"), false},
		{"bool int", sandbox.BoolValue(true), sandbox.IntValue(1), true},
		{"bool int false", sandbox.BoolValue(false), sandbox.IntValue(1), false},
		{"bool bool", sandbox.BoolValue(true), sandbox.BoolValue(true), true},
		{"bool text", sandbox.BoolValue(true), sandbox.TextValue("true"), false},
		{"bytes", sandbox.BytesValue([]byte{1}), sandbox.BytesValue([]byte{1}), true},
		{"bytes differ", sandbox.BytesValue([]byte{1}), sandbox.BytesValue([]byte{2}), false},
		{"bytes text", sandbox.BytesValue([]byte("ab")), sandbox.TextValue("ab"), true},
		{"nan nan", sandbox.FloatValue(math.NaN()), sandbox.DecimalValue("NaN"), true},
		{"nan number", sandbox.FloatValue(math.NaN()), sandbox.IntValue(0), false},
		{"big decimals", sandbox.DecimalValue("12345678901234567890.000000000000000001"), sandbox.DecimalValue("12345678901234567890.000000000000000002"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Equal(tc.a, tc.b))
			require.Equal(t, tc.want, Equal(tc.b, tc.a))
		})
	}
}

func TestCompareValuesOrdersKinds(t *testing.T) {
	vals := []sandbox.Value{
		sandbox.TextValue("a"),
		sandbox.IntValue(2),
		sandbox.NullValue(),
		sandbox.FloatValue(1.5),
		sandbox.BytesValue([]byte{0}),
	}
	rows := make([]sandbox.Row, 0, len(vals))
	for _, v := range vals {
		rows = append(rows, sandbox.Row{"v": v})
	}
	sorted := sortRows(rows, []string{"v"})
	require.Equal(t, []sandbox.Value{
		sandbox.NullValue(),
		sandbox.FloatValue(1.5),
		sandbox.IntValue(2),
		sandbox.TextValue("a"),
		sandbox.BytesValue([]byte{0}),
	}, []sandbox.Value{sorted[0]["v"], sorted[1]["v"], sorted[2]["v"], sorted[3]["v"], sorted[4]["v"]})
	require.Equal(t, sandbox.TextValue("a"), rows[0]["v"])
}
