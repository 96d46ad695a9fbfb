package bytecode

import (
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Instruction is one opcode and its ordered arguments. Instructions never
// nest; structure comes from the sequence itself.
//
// Arguments are typed literals (see PrefixOf), Number, Ref, Stack, Default or
// nil. Arity and argument kinds are not validated here.
type Instruction struct {
	Op   Opcode
	Args []any
}

// NewInstruction builds an instruction. The argument slice is copied.
func NewInstruction(op Opcode, args ...any) Instruction {
	var cp []any
	if len(args) > 0 {
		cp = make([]any, len(args))
		copy(cp, args)
	}
	return Instruction{Op: op, Args: cp}
}

// Arg returns argument i, or nil when out of range.
func (in Instruction) Arg(i int) any {
	if i < 0 || i >= len(in.Args) {
		return nil
	}
	return in.Args[i]
}

// String renders the canonical text form of the instruction.
func (in Instruction) String() string {
	var sb strings.Builder
	_ = writeTextInstruction(&sb, in, false)
	return sb.String()
}

// Equal reports structural equality. An untyped Number is equal to a typed
// numeric argument holding the same value, which is the equivalence under
// which both codecs round-trip.
func (in Instruction) Equal(o Instruction) bool {
	if in.Op != o.Op || len(in.Args) != len(o.Args) {
		return false
	}
	for i := range in.Args {
		if !ArgEqual(in.Args[i], o.Args[i]) {
			return false
		}
	}
	return true
}

// ArgEqual compares two instruction arguments.
func ArgEqual(a, b any) bool {
	if na, ok := a.(Number); ok {
		if nb, ok := b.(Number); ok {
			return numberEqual(na, nb)
		}
		return numberMatches(na, b)
	}
	if nb, ok := b.(Number); ok {
		return numberMatches(nb, a)
	}
	switch av := a.(type) {
	case Decimal:
		bv, ok := b.(Decimal)
		return ok && av.Cmp(bv) == 0
	case float32:
		bv, ok := b.(float32)
		return ok && (av == bv || (math.IsNaN(float64(av)) && math.IsNaN(float64(bv))))
	case float64:
		bv, ok := b.(float64)
		return ok && (av == bv || (math.IsNaN(av) && math.IsNaN(bv)))
	}
	return reflect.DeepEqual(a, b)
}

func numberEqual(a, b Number) bool {
	ra, oka := a.Rat()
	rb, okb := b.Rat()
	if !oka || !okb {
		return a == b
	}
	return ra.Cmp(rb) == 0
}

// numberMatches compares an untyped literal with a typed one using the
// precision of the typed side, as the binary encoder would have narrowed it.
func numberMatches(n Number, typed any) bool {
	switch v := typed.(type) {
	case float32:
		f, err := strconv.ParseFloat(string(n), 32)
		return err == nil && float32(f) == v
	case float64:
		f, err := n.Float64()
		return err == nil && f == v
	case Decimal:
		d, err := ParseDecimal(string(n))
		return err == nil && d.Cmp(v) == 0
	}
	rn, ok := n.Rat()
	if !ok {
		return false
	}
	rt, ok := numericValue(typed)
	if !ok {
		return false
	}
	return rn.Cmp(rt) == 0
}

// SequenceEqual compares two instruction sequences with Instruction.Equal.
func SequenceEqual(a, b []Instruction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Convenience constructors used by producers and tests.

// Define returns DEFINE typeName id argc.
func Define(typeName string, id int32, argc int32) Instruction {
	return NewInstruction(OpDefine, typeName, id, argc)
}

// Set returns SET name value.
func Set(name string, value any) Instruction {
	return NewInstruction(OpSet, name, value)
}

// End returns END.
func End() Instruction { return NewInstruction(OpEnd) }

// Ret returns RET value.
func Ret(value any) Instruction { return NewInstruction(OpRet, value) }
