package vm

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"unicode/utf8"

	"github.com/chazu/wireform/internal/wferr"
	"github.com/chazu/wireform/pkg/bytecode"
)

var (
	decimalType = reflect.TypeOf(bytecode.Decimal{})
	charType    = reflect.TypeOf(bytecode.Char(0))
	numberType  = reflect.TypeOf(bytecode.Number(""))
	stringType  = reflect.TypeOf("")
)

// Coerce converts v to a value assignable to t. It handles untyped numeric
// literals, numeric narrowing with range checks, pointer and value
// adaptation, element-wise slice and map conversion, and records into
// structs. A nil t accepts v unchanged. Failures are *wferr.ConversionError.
func (r *TypeRegistry) Coerce(v any, t reflect.Type) (any, error) {
	if t == nil {
		return v, nil
	}
	switch x := v.(type) {
	case bytecode.Default:
		return reflect.Zero(t).Interface(), nil
	case nil:
		if nilable(t) {
			return reflect.Zero(t).Interface(), nil
		}
		return nil, convErr(v, t, "null is not assignable to a value type")
	case bytecode.MultilineString:
		if t != reflect.TypeOf(x) {
			v = string(x)
		}
	case bytecode.Number:
		return r.coerceNumber(x, t)
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return v, nil
	}
	out, err := r.coerceValue(rv, t)
	if err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func convErr(v any, t reflect.Type, format string, args ...any) error {
	from := "null"
	if v != nil {
		from = reflect.TypeOf(v).String()
	}
	return &wferr.ConversionError{From: from, To: t.String(), Msg: fmt.Sprintf(format, args...)}
}

// coerceNumber narrows an untyped literal to t.
func (r *TypeRegistry) coerceNumber(n bytecode.Number, t reflect.Type) (any, error) {
	switch {
	case t == numberType:
		return n, nil
	case t == decimalType:
		d, err := bytecode.ParseDecimal(string(n))
		if err != nil {
			return nil, convErr(n, t, "%v", err)
		}
		return d, nil
	case t.Kind() == reflect.Interface:
		v, ok := bytecode.NumberAs(n, bytecode.NumberPrefix(n))
		if !ok || !reflect.TypeOf(v).AssignableTo(t) {
			return nil, convErr(n, t, "literal %s", n)
		}
		return v, nil
	case t.Kind() == reflect.String:
		return reflect.ValueOf(string(n)).Convert(t).Interface(), nil
	case t.Kind() == reflect.Pointer:
		inner, err := r.coerceNumber(n, t.Elem())
		if err != nil {
			return nil, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(reflect.ValueOf(inner))
		return p.Interface(), nil
	}
	if isFloatKind(t.Kind()) {
		f, err := n.Float64()
		if err != nil {
			return nil, convErr(n, t, "literal %s", n)
		}
		return reflect.ValueOf(f).Convert(t).Interface(), nil
	}
	rat, ok := n.Rat()
	if !ok {
		return nil, convErr(n, t, "literal %s", n)
	}
	out, err := ratTo(rat, t)
	if err != nil {
		return nil, convErr(n, t, "%v", err)
	}
	return out.Interface(), nil
}

// coerceValue handles everything that is not plain assignability.
func (r *TypeRegistry) coerceValue(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	v := rv.Interface()

	// Pointer adaptation.
	if rv.Kind() == reflect.Pointer && t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}, convErr(v, t, "nil pointer")
		}
		if rec, ok := v.(*Record); ok {
			return r.recordTo(rec, t)
		}
		out, err := r.Coerce(rv.Elem().Interface(), t)
		if err != nil {
			return reflect.Value{}, err
		}
		return valueOf(out, t), nil
	}
	if t.Kind() == reflect.Pointer && rv.Kind() != reflect.Pointer {
		inner, err := r.Coerce(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(valueOf(inner, t.Elem()))
		return p, nil
	}
	if t.Kind() == reflect.Pointer && rv.Kind() == reflect.Pointer {
		if rec, ok := v.(*Record); ok && t.Elem().Kind() == reflect.Struct {
			sv, err := r.recordTo(rec, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			p := reflect.New(t.Elem())
			p.Elem().Set(sv)
			return p, nil
		}
	}

	switch {
	case t == decimalType:
		return r.toDecimal(rv, t)
	case rv.Type() == decimalType:
		d := v.(bytecode.Decimal)
		if t.Kind() == reflect.String {
			return reflect.ValueOf(d.String()).Convert(t), nil
		}
		rat, ok := new(big.Rat).SetString(d.String())
		if !ok {
			return reflect.Value{}, convErr(v, t, "decimal %s", d)
		}
		return ratToChecked(rat, v, t)
	case t == charType && rv.Kind() == reflect.String:
		s := rv.String()
		if utf8.RuneCountInString(s) != 1 {
			return reflect.Value{}, convErr(v, t, "%q is not a single character", s)
		}
		c, _ := utf8.DecodeRuneInString(s)
		return reflect.ValueOf(bytecode.Char(c)), nil
	case rv.Type() == charType && t.Kind() == reflect.String:
		return reflect.ValueOf(string(rune(v.(bytecode.Char)))).Convert(t), nil
	}

	switch {
	case isNumericKind(rv.Kind()) && isNumericKind(t.Kind()):
		if isFloatKind(t.Kind()) {
			return rv.Convert(t), nil
		}
		rat, err := valueRat(rv)
		if err != nil {
			return reflect.Value{}, convErr(v, t, "%v", err)
		}
		return ratToChecked(rat, v, t)

	case rv.Kind() == reflect.String && t.Kind() == reflect.String:
		return rv.Convert(t), nil

	case (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && t.Kind() == reflect.Slice:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return reflect.Zero(t), nil
		}
		out := reflect.MakeSlice(t, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			e, err := r.Coerce(rv.Index(i).Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(valueOf(e, t.Elem()))
		}
		return out, nil

	case (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && t.Kind() == reflect.Array:
		if rv.Len() > t.Len() {
			return reflect.Value{}, convErr(v, t, "%d elements exceed array length %d", rv.Len(), t.Len())
		}
		out := reflect.New(t).Elem()
		for i := 0; i < rv.Len(); i++ {
			e, err := r.Coerce(rv.Index(i).Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(valueOf(e, t.Elem()))
		}
		return out, nil

	case rv.Kind() == reflect.Map && t.Kind() == reflect.Map:
		if rv.IsNil() {
			return reflect.Zero(t), nil
		}
		out := reflect.MakeMapWithSize(t, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := r.Coerce(iter.Key().Interface(), t.Key())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("map key: %w", err)
			}
			e, err := r.Coerce(iter.Value().Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("map value %v: %w", k, err)
			}
			out.SetMapIndex(valueOf(k, t.Key()), valueOf(e, t.Elem()))
		}
		return out, nil

	case rv.Kind() == reflect.Struct && t.Kind() == reflect.Interface && reflect.PointerTo(rv.Type()).Implements(t):
		p := reflect.New(rv.Type())
		p.Elem().Set(rv)
		return p, nil
	}

	if rv.Kind() == t.Kind() && rv.Type().ConvertibleTo(t) {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, convErr(v, t, "")
}

// recordTo copies a record's fields into a new struct value of type t, or
// into a string-keyed map.
func (r *TypeRegistry) recordTo(rec *Record, t reflect.Type) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.Struct:
		name := r.NameOf(t)
		d, err := r.Lookup(name)
		sd, ok := d.(*structDescriptor)
		if err != nil || !ok {
			sd = newStructDescriptor(t.String(), t, r)
		}
		p := reflect.New(t)
		for _, f := range rec.Fields() {
			fv, _ := rec.Get(f)
			if err := sd.SetMember(p.Interface(), f, fv); err != nil {
				return reflect.Value{}, err
			}
		}
		return p.Elem(), nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			break
		}
		out := reflect.MakeMapWithSize(t, rec.Len())
		for _, f := range rec.Fields() {
			fv, _ := rec.Get(f)
			e, err := r.Coerce(fv, t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("field %s: %w", f, err)
			}
			out.SetMapIndex(reflect.ValueOf(f).Convert(t.Key()), valueOf(e, t.Elem()))
		}
		return out, nil
	}
	return reflect.Value{}, convErr(rec, t, "")
}

func (r *TypeRegistry) toDecimal(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	switch {
	case rv.Kind() == reflect.String:
		d, err := bytecode.ParseDecimal(rv.String())
		if err != nil {
			return reflect.Value{}, convErr(rv.Interface(), t, "%v", err)
		}
		return reflect.ValueOf(d), nil
	case isIntKind(rv.Kind()):
		return reflect.ValueOf(bytecode.DecimalFromInt(rv.Int())), nil
	case isUintKind(rv.Kind()):
		d, err := bytecode.ParseDecimal(fmt.Sprint(rv.Uint()))
		if err != nil {
			return reflect.Value{}, convErr(rv.Interface(), t, "%v", err)
		}
		return reflect.ValueOf(d), nil
	case isFloatKind(rv.Kind()):
		d, err := bytecode.DecimalFromFloat(rv.Float())
		if err != nil {
			return reflect.Value{}, convErr(rv.Interface(), t, "%v", err)
		}
		return reflect.ValueOf(d), nil
	}
	return reflect.Value{}, convErr(rv.Interface(), t, "")
}

// ---------------------------------------------------------------------------
// Numeric helpers
// ---------------------------------------------------------------------------

func isIntKind(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUintKind(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isNumericKind(k reflect.Kind) bool {
	return isIntKind(k) || isUintKind(k) || isFloatKind(k)
}

func valueRat(rv reflect.Value) (*big.Rat, error) {
	switch {
	case isIntKind(rv.Kind()):
		return new(big.Rat).SetInt64(rv.Int()), nil
	case isUintKind(rv.Kind()):
		return new(big.Rat).SetUint64(rv.Uint()), nil
	case isFloatKind(rv.Kind()):
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%v has no integral value", f)
		}
		return new(big.Rat).SetFloat64(f), nil
	}
	return nil, fmt.Errorf("%s is not numeric", rv.Type())
}

func ratToChecked(rat *big.Rat, v any, t reflect.Type) (reflect.Value, error) {
	out, err := ratTo(rat, t)
	if err != nil {
		return reflect.Value{}, convErr(v, t, "%v", err)
	}
	return out, nil
}

// ratTo converts an exact value to numeric type t, failing on fractions
// for integer targets and on overflow.
func ratTo(rat *big.Rat, t reflect.Type) (reflect.Value, error) {
	k := t.Kind()
	if isFloatKind(k) {
		f, _ := rat.Float64()
		return reflect.ValueOf(f).Convert(t), nil
	}
	if !rat.IsInt() {
		return reflect.Value{}, fmt.Errorf("%s is not integral", rat.RatString())
	}
	n := rat.Num()
	out := reflect.New(t).Elem()
	switch {
	case isIntKind(k):
		if !n.IsInt64() || out.OverflowInt(n.Int64()) {
			return reflect.Value{}, fmt.Errorf("%s overflows %s", n, t)
		}
		out.SetInt(n.Int64())
	case isUintKind(k):
		if !n.IsUint64() || out.OverflowUint(n.Uint64()) {
			return reflect.Value{}, fmt.Errorf("%s overflows %s", n, t)
		}
		out.SetUint(n.Uint64())
	default:
		return reflect.Value{}, fmt.Errorf("%s is not numeric", t)
	}
	return out, nil
}
