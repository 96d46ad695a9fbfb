package vm

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/chazu/wireform/internal/wferr"
	"github.com/chazu/wireform/pkg/bytecode"
)

// Emitter turns a Go object graph into an instruction sequence whose
// execution rebuilds an equivalent graph. Pointers and maps keep their
// identity: a value reached twice is defined once and referenced after
// that, so shared and cyclic structures survive the trip.
//
// Struct types must be registered with the registry the emitting and the
// executing sides share.
type Emitter struct {
	reg *TypeRegistry

	// KeepZero emits zero-valued fields too.
	KeepZero bool

	out    []bytecode.Instruction
	nextID int32
	seen   map[identity]int32
}

type identity struct {
	ptr uintptr
	typ reflect.Type
}

// NewEmitter creates an emitter resolving type names through reg.
func NewEmitter(reg *TypeRegistry) *Emitter {
	return &Emitter{reg: reg}
}

// Emit renders v, ending with RET.
func (e *Emitter) Emit(v any) ([]bytecode.Instruction, error) {
	e.out, e.nextID, e.seen = nil, 0, make(map[identity]int32)
	arg, err := e.value(reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}
	switch arg.(type) {
	case bytecode.Ref, bytecode.Stack:
		e.emit(bytecode.OpRet, arg)
	default:
		e.emit(bytecode.OpPush, arg)
		e.emit(bytecode.OpRet, bytecode.Stack{})
	}
	return e.out, nil
}

func (e *Emitter) emit(op bytecode.Opcode, args ...any) {
	e.out = append(e.out, bytecode.NewInstruction(op, args...))
}

func (e *Emitter) id() int32 {
	id := e.nextID
	e.nextID++
	return id
}

// value emits whatever rv needs and returns the argument that refers to it.
func (e *Emitter) value(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return e.value(rv.Elem())

	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		key := identity{rv.Pointer(), rv.Type()}
		if id, ok := e.seen[key]; ok {
			return bytecode.Ref(id), nil
		}
		if rec, ok := rv.Interface().(*Record); ok {
			return e.record(rec, key)
		}
		if rv.Elem().Kind() == reflect.Struct {
			return e.structure(rv, &key)
		}
		// Pointers to scalars and collections are rebuilt by value.
		return e.value(rv.Elem())

	case reflect.Struct:
		switch x := rv.Interface().(type) {
		case bytecode.Decimal:
			return x, nil
		}
		p := reflect.New(rv.Type())
		p.Elem().Set(rv)
		return e.structure(p, nil)

	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		return e.list(rv)
	case reflect.Array:
		return e.list(rv)
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		key := identity{rv.Pointer(), rv.Type()}
		if id, ok := e.seen[key]; ok {
			return bytecode.Ref(id), nil
		}
		return e.mapping(rv, key)
	}
	return e.scalar(rv)
}

// scalar returns the literal for a basic value, normalizing named types to
// their underlying kind and int/uint to their 64-bit forms.
func (e *Emitter) scalar(rv reflect.Value) (any, error) {
	if rv.Type() == charType {
		return rv.Interface(), nil
	}
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int64:
		return rv.Int(), nil
	case reflect.Int8:
		return int8(rv.Int()), nil
	case reflect.Int16:
		return int16(rv.Int()), nil
	case reflect.Int32:
		return int32(rv.Int()), nil
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Uint8:
		return uint8(rv.Uint()), nil
	case reflect.Uint16:
		return uint16(rv.Uint()), nil
	case reflect.Uint32:
		return uint32(rv.Uint()), nil
	case reflect.Float32:
		return float32(rv.Float()), nil
	case reflect.Float64:
		return rv.Float(), nil
	}
	return nil, &wferr.ConversionError{From: rv.Type().String(), To: "instruction argument", Msg: "unsupported kind " + rv.Kind().String()}
}

// structure emits DEFINE ... END for the struct p points to. A nil key
// means the struct was held by value and has no identity to share.
func (e *Emitter) structure(p reflect.Value, key *identity) (any, error) {
	st := p.Type().Elem()
	name := e.reg.NameOf(st)
	desc, err := e.reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	if _, ok := desc.(*structDescriptor); !ok {
		return nil, wferr.NewResolutionError("type", st.String(), "")
	}
	id := e.id()
	if key != nil {
		e.seen[*key] = id
	}
	e.emit(bytecode.OpDefine, name, id, int32(0))
	for _, m := range desc.Members() {
		if m.Kind != FieldMember {
			continue
		}
		fv, err := desc.GetMember(p.Interface(), m.Name)
		if err != nil {
			return nil, err
		}
		rfv := reflect.ValueOf(fv)
		if !e.KeepZero && (!rfv.IsValid() || rfv.IsZero()) {
			continue
		}
		arg, err := e.value(rfv)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, m.Name, err)
		}
		e.emit(bytecode.OpSet, m.Name, arg)
	}
	e.emit(bytecode.OpEnd)
	return bytecode.Ref(id), nil
}

func (e *Emitter) record(rec *Record, key identity) (any, error) {
	id := e.id()
	e.seen[key] = id
	e.emit(bytecode.OpDefine, rec.TypeName, id, int32(0))
	for _, f := range rec.Fields() {
		fv, _ := rec.Get(f)
		t, ok := rec.FieldType(f)
		if !ok {
			t = reflect.TypeOf(fv)
		}
		arg, err := e.value(reflect.ValueOf(fv))
		if err != nil {
			return nil, fmt.Errorf("record field %s: %w", f, err)
		}
		e.emit(bytecode.OpAnonymousSet, e.typeName(t), f, arg)
	}
	e.emit(bytecode.OpEnd)
	return bytecode.Ref(id), nil
}

func (e *Emitter) list(rv reflect.Value) (any, error) {
	elem := rv.Type().Elem()
	e.emit(bytecode.OpListStart, e.typeName(elem), e.id())
	for i := 0; i < rv.Len(); i++ {
		arg, err := e.value(rv.Index(i))
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		e.emit(bytecode.OpElement, arg)
	}
	e.emit(bytecode.OpListEnd)
	return bytecode.Stack{}, nil
}

func (e *Emitter) mapping(rv reflect.Value, key identity) (any, error) {
	t := rv.Type()
	id := e.id()
	e.seen[key] = id
	e.emit(bytecode.OpListStart, e.typeName(t.Elem()), id, e.typeName(t.Key()))

	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	for _, k := range keys {
		karg, err := e.scalar(k)
		if err != nil {
			return nil, fmt.Errorf("map key: %w", err)
		}
		varg, err := e.value(rv.MapIndex(k))
		if err != nil {
			return nil, fmt.Errorf("map value %v: %w", k, err)
		}
		e.emit(bytecode.OpElement, karg, varg)
	}
	e.emit(bytecode.OpListEnd)
	return bytecode.Stack{}, nil
}

// typeName spells t so that the registry resolves it back to t exactly,
// keeping pointer element types as pointers.
func (e *Emitter) typeName(t reflect.Type) string {
	if t == nil {
		return "any"
	}
	switch t.Kind() {
	case reflect.Pointer:
		if t == recordPtrType {
			return "record"
		}
		return "*" + e.typeName(t.Elem())
	case reflect.Slice:
		return "[]" + e.typeName(t.Elem())
	case reflect.Map:
		return "map[" + e.typeName(t.Key()) + "]" + e.typeName(t.Elem())
	}
	return e.reg.NameOf(t)
}
