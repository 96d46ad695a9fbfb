package bytecode

import (
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"

	"github.com/cockroachdb/apd/v3"
)

// ---------------------------------------------------------------------------
// Argument kinds
// ---------------------------------------------------------------------------

// Ref is a symbolic reference to an object-table id, written _ref(id).
type Ref int32

// Stack marks "take the value from the top of the construction stack",
// written _stack().
type Stack struct{}

// Default marks "the zero value of the target's declared type".
type Default struct{}

// Char is a single character literal.
type Char rune

// MultilineString is a string literal that originated from a
// START_STR/STR/END_STR block or was authored as m"...".
type MultilineString string

// Number is an untyped numeric literal as written by a front end. It keeps
// its source text and is narrowed to a concrete type by the binary encoder
// or by the engine when it reaches a declared member type.
type Number string

var numberPattern = regexp.MustCompile(`^[+-]?([0-9]+(\.[0-9]*)?|\.[0-9]+)([eE][+-]?[0-9]+)?$`)

// ParseNumber validates s as an untyped numeric literal.
func ParseNumber(s string) (Number, bool) {
	if !numberPattern.MatchString(s) {
		return "", false
	}
	return Number(s), true
}

// IsIntegral reports whether the literal has no fractional part or exponent.
func (n Number) IsIntegral() bool {
	_, err := strconv.ParseInt(string(n), 10, 64)
	if err == nil {
		return true
	}
	_, err = strconv.ParseUint(string(n), 10, 64)
	return err == nil
}

// Int64 returns the literal as an int64.
func (n Number) Int64() (int64, error) {
	return strconv.ParseInt(string(n), 10, 64)
}

// Uint64 returns the literal as a uint64.
func (n Number) Uint64() (uint64, error) {
	return strconv.ParseUint(string(n), 10, 64)
}

// Float64 returns the literal as a float64.
func (n Number) Float64() (float64, error) {
	return strconv.ParseFloat(string(n), 64)
}

// Rat returns the exact value of the literal.
func (n Number) Rat() (*big.Rat, bool) {
	return new(big.Rat).SetString(string(n))
}

// Decimal is an arbitrary-precision decimal literal.
type Decimal struct {
	d *apd.Decimal
}

// ParseDecimal parses a decimal literal such as "12.50".
func ParseDecimal(s string) (Decimal, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return Decimal{d: d}, nil
}

// DecimalFromFloat converts f to a Decimal.
func DecimalFromFloat(f float64) (Decimal, error) {
	d := new(apd.Decimal)
	if _, err := d.SetFloat64(f); err != nil {
		return Decimal{}, err
	}
	return Decimal{d: d}, nil
}

// DecimalFromInt converts i to a Decimal.
func DecimalFromInt(i int64) Decimal {
	return Decimal{d: apd.New(i, 0)}
}

// String returns the canonical text of the decimal.
func (d Decimal) String() string {
	if d.d == nil {
		return "0"
	}
	return d.d.String()
}

// Cmp compares two decimals numerically.
func (d Decimal) Cmp(o Decimal) int {
	return d.apd().Cmp(o.apd())
}

// Float64 returns the nearest float64.
func (d Decimal) Float64() (float64, error) {
	return d.apd().Float64()
}

func (d Decimal) apd() *apd.Decimal {
	if d.d == nil {
		return apd.New(0, 0)
	}
	return d.d
}

// ---------------------------------------------------------------------------
// ValuePrefix: binary argument tags
// ---------------------------------------------------------------------------

// ValuePrefix is the one-byte tag preceding every argument in the binary
// encoding. It self-describes the payload that follows.
type ValuePrefix byte

const (
	PrefixString          ValuePrefix = 0
	PrefixInt             ValuePrefix = 1
	PrefixRef             ValuePrefix = 2
	PrefixStack           ValuePrefix = 3
	PrefixDefault         ValuePrefix = 4
	PrefixBool            ValuePrefix = 5
	PrefixMultilineString ValuePrefix = 6
	PrefixFloat           ValuePrefix = 7
	PrefixShort           ValuePrefix = 8
	PrefixUShort          ValuePrefix = 9
	PrefixUInt            ValuePrefix = 10
	PrefixLong            ValuePrefix = 11
	PrefixULong           ValuePrefix = 12
	PrefixDouble          ValuePrefix = 13
	PrefixByte            ValuePrefix = 14
	PrefixSByte           ValuePrefix = 15
	PrefixChar            ValuePrefix = 16
	PrefixDecimal         ValuePrefix = 17
	PrefixNull            ValuePrefix = 18
)

var prefixNames = [...]string{
	"STRING", "INT", "REF", "STACK", "DEFAULT", "BOOL", "MULTILINE_STRING", "FLOAT",
	"SHORT", "USHORT", "UINT", "LONG", "ULONG", "DOUBLE", "BYTE", "SBYTE", "CHAR",
	"DECIMAL", "NULL",
}

// String returns the tag name.
func (p ValuePrefix) String() string {
	if int(p) < len(prefixNames) {
		return prefixNames[p]
	}
	return fmt.Sprintf("ValuePrefix(%d)", byte(p))
}

// Valid reports whether p is a known tag.
func (p ValuePrefix) Valid() bool {
	return int(p) < len(prefixNames)
}

// PrefixOf returns the tag for a typed argument. Number has no fixed tag;
// the binary encoder narrows it with NumberPrefix.
func PrefixOf(arg any) (ValuePrefix, bool) {
	switch arg.(type) {
	case nil:
		return PrefixNull, true
	case string:
		return PrefixString, true
	case MultilineString:
		return PrefixMultilineString, true
	case int32:
		return PrefixInt, true
	case Ref:
		return PrefixRef, true
	case Stack:
		return PrefixStack, true
	case Default:
		return PrefixDefault, true
	case bool:
		return PrefixBool, true
	case float32:
		return PrefixFloat, true
	case int16:
		return PrefixShort, true
	case uint16:
		return PrefixUShort, true
	case uint32:
		return PrefixUInt, true
	case int64:
		return PrefixLong, true
	case uint64:
		return PrefixULong, true
	case float64:
		return PrefixDouble, true
	case uint8:
		return PrefixByte, true
	case int8:
		return PrefixSByte, true
	case Char:
		return PrefixChar, true
	case Decimal:
		return PrefixDecimal, true
	}
	return 0, false
}

// NumberPrefix picks the narrowest general tag able to hold n when no
// declared type is known: INT, then LONG, then ULONG, then DOUBLE. Literals
// beyond the float64 range get DECIMAL.
func NumberPrefix(n Number) ValuePrefix {
	if i, err := n.Int64(); err == nil {
		if i >= math.MinInt32 && i <= math.MaxInt32 {
			return PrefixInt
		}
		return PrefixLong
	}
	if _, err := n.Uint64(); err == nil {
		return PrefixULong
	}
	if _, err := n.Float64(); err == nil {
		return PrefixDouble
	}
	return PrefixDecimal
}

// NumberAs converts n to the Go value carried by tag p. ok is false when the
// literal does not fit.
func NumberAs(n Number, p ValuePrefix) (any, bool) {
	switch p {
	case PrefixInt, PrefixShort, PrefixSByte, PrefixLong:
		i, err := n.Int64()
		if err != nil {
			return nil, false
		}
		switch p {
		case PrefixInt:
			return int32(i), i >= math.MinInt32 && i <= math.MaxInt32
		case PrefixShort:
			return int16(i), i >= math.MinInt16 && i <= math.MaxInt16
		case PrefixSByte:
			return int8(i), i >= math.MinInt8 && i <= math.MaxInt8
		default:
			return i, true
		}
	case PrefixByte, PrefixUShort, PrefixUInt, PrefixULong, PrefixChar:
		u, err := n.Uint64()
		if err != nil {
			return nil, false
		}
		switch p {
		case PrefixByte:
			return uint8(u), u <= math.MaxUint8
		case PrefixUShort:
			return uint16(u), u <= math.MaxUint16
		case PrefixUInt:
			return uint32(u), u <= math.MaxUint32
		case PrefixChar:
			return Char(u), u <= math.MaxInt32
		default:
			return u, true
		}
	case PrefixFloat:
		f, err := strconv.ParseFloat(string(n), 32)
		if err != nil {
			return nil, false
		}
		return float32(f), true
	case PrefixDouble:
		f, err := n.Float64()
		if err != nil {
			return nil, false
		}
		return f, true
	case PrefixDecimal:
		d, err := ParseDecimal(string(n))
		if err != nil {
			return nil, false
		}
		return d, true
	}
	return nil, false
}

// numericValue returns the exact value of a numeric argument, typed or not.
func numericValue(arg any) (*big.Rat, bool) {
	switch v := arg.(type) {
	case Number:
		return v.Rat()
	case int8:
		return new(big.Rat).SetInt64(int64(v)), true
	case int16:
		return new(big.Rat).SetInt64(int64(v)), true
	case int32:
		return new(big.Rat).SetInt64(int64(v)), true
	case int64:
		return new(big.Rat).SetInt64(v), true
	case uint8:
		return new(big.Rat).SetUint64(uint64(v)), true
	case uint16:
		return new(big.Rat).SetUint64(uint64(v)), true
	case uint32:
		return new(big.Rat).SetUint64(uint64(v)), true
	case uint64:
		return new(big.Rat).SetUint64(v), true
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, false
		}
		return new(big.Rat).SetFloat64(float64(v)), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		return new(big.Rat).SetFloat64(v), true
	case Decimal:
		return new(big.Rat).SetString(v.String())
	}
	return nil, false
}
