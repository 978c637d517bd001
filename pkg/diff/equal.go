package diff

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/noah-isme/sqlclassroom-api/pkg/sandbox"
)

// Equal applies type aware equality. NULL equals only NULL. Numbers compare
// by exact decimal value across integer, float and decimal kinds; booleans
// count as 0 and 1 and numeric looking text counts as a number when compared
// against one. Binary values compare by content.
func Equal(a, b sandbox.Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	if a.Kind == b.Kind {
		switch a.Kind {
		case sandbox.KindText:
			return a.Str == b.Str
		case sandbox.KindBoolean:
			return a.Bool == b.Bool
		case sandbox.KindBinary:
			return bytes.Equal(a.Bytes, b.Bytes)
		case sandbox.KindInteger:
			return a.Int == b.Int
		}
	}

	if a.IsNumeric() || b.IsNumeric() {
		an, aok := toDecimal(a)
		bn, bok := toDecimal(b)
		if aok && bok {
			return cmpDecimal(an, bn) == 0
		}
		return false
	}

	switch {
	case a.Kind == sandbox.KindBinary && b.Kind == sandbox.KindText:
		return bytes.Equal(a.Bytes, []byte(b.Str))
	case a.Kind == sandbox.KindText && b.Kind == sandbox.KindBinary:
		return bytes.Equal([]byte(a.Str), b.Bytes)
	}
	return false
}

// toDecimal converts a value that can stand for a number.
func toDecimal(v sandbox.Value) (*apd.Decimal, bool) {
	switch v.Kind {
	case sandbox.KindInteger:
		return apd.New(v.Int, 0), true
	case sandbox.KindFloat:
		// Shortest representation, so 0.1 read from a REAL column equals the
		// literal 0.1.
		return parseDecimal(strconv.FormatFloat(v.Float, 'g', -1, 64))
	case sandbox.KindDecimal:
		return parseDecimal(v.Str)
	case sandbox.KindBoolean:
		if v.Bool {
			return apd.New(1, 0), true
		}
		return apd.New(0, 0), true
	case sandbox.KindText:
		return parseDecimal(strings.TrimSpace(v.Str))
	}
	return nil, false
}

func parseDecimal(s string) (*apd.Decimal, bool) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, false
	}
	return d, true
}

// cmpDecimal orders decimals, placing NaN after everything else so that NaN
// equals only NaN.
func cmpDecimal(a, b *apd.Decimal) int {
	aNaN := a.Form == apd.NaN || a.Form == apd.NaNSignaling
	bNaN := b.Form == apd.NaN || b.Form == apd.NaNSignaling
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	}
	return a.Cmp(b)
}

// kindRank orders values of unrelated kinds when sorting rows.
func kindRank(v sandbox.Value) int {
	switch v.Kind {
	case sandbox.KindNull:
		return 0
	case sandbox.KindInteger, sandbox.KindFloat, sandbox.KindDecimal, sandbox.KindBoolean:
		return 1
	case sandbox.KindText:
		return 2
	default:
		return 3
	}
}

// compareValues is a total order consistent with Equal for values of the same
// rank.
func compareValues(a, b sandbox.Value) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0:
		return 0
	case 1:
		an, aok := toDecimal(a)
		bn, bok := toDecimal(b)
		if aok && bok {
			return cmpDecimal(an, bn)
		}
		return strings.Compare(a.String(), b.String())
	case 2:
		return strings.Compare(a.Str, b.Str)
	default:
		return bytes.Compare(a.Bytes, b.Bytes)
	}
}
