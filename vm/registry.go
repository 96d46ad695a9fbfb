package vm

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/chazu/wireform/internal/wferr"
	"github.com/chazu/wireform/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Type descriptors
// ---------------------------------------------------------------------------

// MemberKind distinguishes fields from methods.
type MemberKind int

const (
	FieldMember MemberKind = iota
	MethodMember
)

// MemberDescriptor describes one readable or writable member of a type.
type MemberDescriptor struct {
	Name     string
	Type     reflect.Type   // field type, or the method's first result
	Kind     MemberKind
	Params   []reflect.Type // method parameters, receiver excluded
	Writable bool

	index  []int // field index path
	method string
	errOut bool // method returns (T, error)
}

// TypeDescriptor is everything the engine needs to know about a type: how to
// build an instance and how to read and write its members.
type TypeDescriptor interface {
	Name() string
	// Type is the Go type of instances stored in the object table. Struct
	// types are stored by pointer so references share identity.
	Type() reflect.Type
	Members() []MemberDescriptor
	Member(name string) (MemberDescriptor, bool)
	Construct(args []any) (any, error)
	GetMember(instance any, name string) (any, error)
	SetMember(instance any, name string, value any) error
	CallMember(instance any, name string, args []any) (any, error)
}

// ---------------------------------------------------------------------------
// Struct descriptor (reflection backed)
// ---------------------------------------------------------------------------

type structDescriptor struct {
	name    string
	typ     reflect.Type // struct type T; instances are *T
	reg     *TypeRegistry
	members []MemberDescriptor
	byName  map[string]int
}

func newStructDescriptor(name string, t reflect.Type, reg *TypeRegistry) *structDescriptor {
	d := &structDescriptor{name: name, typ: t, reg: reg, byName: make(map[string]int)}
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous && f.Type.Kind() == reflect.Struct {
			continue
		}
		mname := f.Name
		if tag, ok := f.Tag.Lookup("wireform"); ok {
			tag, _, _ = strings.Cut(tag, ",")
			if tag == "-" {
				continue
			}
			if tag != "" {
				mname = tag
			}
		}
		if _, dup := d.byName[mname]; dup {
			continue
		}
		d.byName[mname] = len(d.members)
		d.members = append(d.members, MemberDescriptor{
			Name:     mname,
			Type:     f.Type,
			Kind:     FieldMember,
			Writable: true,
			index:    f.Index,
		})
	}

	pt := reflect.PointerTo(t)
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		if _, dup := d.byName[m.Name]; dup {
			continue
		}
		mt := m.Type
		var (
			out    reflect.Type
			errOut bool
		)
		switch {
		case mt.NumOut() == 1:
			out = mt.Out(0)
		case mt.NumOut() == 2 && mt.Out(1) == errorType:
			out, errOut = mt.Out(0), true
		default:
			continue
		}
		params := make([]reflect.Type, 0, mt.NumIn()-1)
		for j := 1; j < mt.NumIn(); j++ {
			params = append(params, mt.In(j))
		}
		if mt.IsVariadic() {
			continue
		}
		d.byName[m.Name] = len(d.members)
		d.members = append(d.members, MemberDescriptor{
			Name:   m.Name,
			Type:   out,
			Kind:   MethodMember,
			Params: params,
			method: m.Name,
			errOut: errOut,
		})
	}
	return d
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func (d *structDescriptor) Name() string { return d.name }
func (d *structDescriptor) Type() reflect.Type { return reflect.PointerTo(d.typ) }

func (d *structDescriptor) Members() []MemberDescriptor {
	out := make([]MemberDescriptor, len(d.members))
	copy(out, d.members)
	return out
}

func (d *structDescriptor) Member(name string) (MemberDescriptor, bool) {
	i, ok := d.byName[name]
	if !ok {
		return MemberDescriptor{}, false
	}
	return d.members[i], true
}

func (d *structDescriptor) Construct(args []any) (any, error) {
	if len(args) == 0 && !d.reg.hasConstructor(d.name, 0) {
		return reflect.New(d.typ).Interface(), nil
	}
	v, err := d.reg.construct(d.name, args)
	if err != nil {
		return nil, err
	}
	return d.box(v), nil
}

// box stores struct values behind a pointer.
func (d *structDescriptor) box(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Type() == d.typ {
		p := reflect.New(d.typ)
		p.Elem().Set(rv)
		return p.Interface()
	}
	return v
}

// structValue returns the addressable struct behind instance.
func (d *structDescriptor) structValue(instance any) (reflect.Value, error) {
	rv := reflect.ValueOf(instance)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("%w: nil %s instance", wferr.ErrInvalidProgram, d.name)
		}
		rv = rv.Elem()
	}
	if rv.Type() != d.typ {
		return reflect.Value{}, fmt.Errorf("%w: instance is %s, not %s", wferr.ErrInvalidProgram, rv.Type(), d.name)
	}
	return rv, nil
}

func (d *structDescriptor) GetMember(instance any, name string) (any, error) {
	m, ok := d.Member(name)
	if !ok {
		return nil, wferr.NewResolutionError("member", name, d.name)
	}
	if m.Kind == MethodMember {
		return d.CallMember(instance, name, nil)
	}
	sv, err := d.structValue(instance)
	if err != nil {
		return nil, err
	}
	fv, err := sv.FieldByIndexErr(m.index)
	if err != nil {
		return nil, nil // nil embedded pointer: the promoted field reads as absent
	}
	return fv.Interface(), nil
}

func (d *structDescriptor) SetMember(instance any, name string, value any) error {
	m, ok := d.Member(name)
	if !ok || m.Kind != FieldMember {
		return wferr.NewResolutionError("member", name, d.name)
	}
	sv, err := d.structValue(instance)
	if err != nil {
		return err
	}
	if !sv.CanAddr() {
		return fmt.Errorf("%w: %s instance is not addressable", wferr.ErrInvalidProgram, d.name)
	}
	coerced, err := d.reg.Coerce(value, m.Type)
	if err != nil {
		return fmt.Errorf("member %s.%s: %w", d.name, name, err)
	}
	fv := sv
	for i, x := range m.index {
		if i > 0 && fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				fv.Set(reflect.New(fv.Type().Elem()))
			}
			fv = fv.Elem()
		}
		fv = fv.Field(x)
	}
	fv.Set(valueOf(coerced, m.Type))
	return nil
}

func (d *structDescriptor) CallMember(instance any, name string, args []any) (any, error) {
	m, ok := d.Member(name)
	if !ok || m.Kind != MethodMember {
		return nil, wferr.NewResolutionError("method", name, d.name)
	}
	if len(args) != len(m.Params) {
		return nil, &wferr.SignatureError{
			Name:      d.name + "." + name,
			Attempted: argSignature(args),
			Available: []string{typeListSignature(m.Params)},
		}
	}
	recv := reflect.ValueOf(instance)
	if recv.Kind() != reflect.Pointer {
		p := reflect.New(d.typ)
		p.Elem().Set(recv)
		recv = p
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		c, err := d.reg.Coerce(a, m.Params[i])
		if err != nil {
			return nil, &wferr.SignatureError{
				Name:      d.name + "." + name,
				Attempted: argSignature(args),
				Available: []string{typeListSignature(m.Params)},
			}
		}
		in[i] = valueOf(c, m.Params[i])
	}
	out := recv.MethodByName(m.method).Call(in)
	if m.errOut && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// ---------------------------------------------------------------------------
// Value descriptor: builtins and composites (slices, maps, pointers)
// ---------------------------------------------------------------------------

type valueDescriptor struct {
	name string
	typ  reflect.Type
	reg  *TypeRegistry
}

func (d *valueDescriptor) Name() string { return d.name }
func (d *valueDescriptor) Type() reflect.Type { return d.typ }
func (d *valueDescriptor) Members() []MemberDescriptor { return nil }
func (d *valueDescriptor) Member(string) (MemberDescriptor, bool) { return MemberDescriptor{}, false }

func (d *valueDescriptor) Construct(args []any) (any, error) {
	if d.reg.hasConstructor(d.name, len(args)) {
		return d.reg.construct(d.name, args)
	}
	switch len(args) {
	case 0:
		switch d.typ.Kind() {
		case reflect.Map:
			return reflect.MakeMap(d.typ).Interface(), nil
		case reflect.Slice:
			return reflect.MakeSlice(d.typ, 0, 0).Interface(), nil
		case reflect.Pointer:
			return reflect.New(d.typ.Elem()).Interface(), nil
		}
		return reflect.Zero(d.typ).Interface(), nil
	case 1:
		return d.reg.Coerce(args[0], d.typ)
	}
	return nil, &wferr.SignatureError{Name: d.name, Attempted: argSignature(args), Available: []string{"()", "(" + d.name + ")"}}
}

// GetMember supports keyed reads on string-keyed maps and the Count and
// Length pseudo-members on collections and strings.
func (d *valueDescriptor) GetMember(instance any, name string) (any, error) {
	rv := reflect.ValueOf(instance)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
			if v.IsValid() {
				return v.Interface(), nil
			}
		}
		fallthrough
	case reflect.Slice, reflect.Array, reflect.String:
		if name == "Count" || name == "Length" {
			return rv.Len(), nil
		}
	}
	return nil, wferr.NewResolutionError("member", name, d.name)
}

func (d *valueDescriptor) SetMember(instance any, name string, value any) error {
	rv := reflect.ValueOf(instance)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return wferr.NewResolutionError("member", name, d.name)
	}
	if rv.IsNil() {
		return fmt.Errorf("%w: nil map %s", wferr.ErrInvalidProgram, d.name)
	}
	et := rv.Type().Elem()
	c, err := d.reg.Coerce(value, et)
	if err != nil {
		return err
	}
	rv.SetMapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()), valueOf(c, et))
	return nil
}

func (d *valueDescriptor) CallMember(_ any, name string, _ []any) (any, error) {
	return nil, wferr.NewResolutionError("method", name, d.name)
}

// ---------------------------------------------------------------------------
// Record descriptor
// ---------------------------------------------------------------------------

type recordDescriptor struct {
	name string
	reg  *TypeRegistry
}

var recordPtrType = reflect.TypeOf((*Record)(nil))

func (d *recordDescriptor) Name() string { return d.name }
func (d *recordDescriptor) Type() reflect.Type { return recordPtrType }
func (d *recordDescriptor) Members() []MemberDescriptor { return nil }
func (d *recordDescriptor) Member(string) (MemberDescriptor, bool) { return MemberDescriptor{}, false }

func (d *recordDescriptor) Construct(args []any) (any, error) {
	if len(args) != 0 {
		return nil, &wferr.SignatureError{Name: d.displayName(), Attempted: argSignature(args), Available: []string{"()"}}
	}
	return NewRecord(d.name), nil
}

func (d *recordDescriptor) displayName() string {
	if d.name == "" {
		return "record"
	}
	return d.name
}

func (d *recordDescriptor) GetMember(instance any, name string) (any, error) {
	r, ok := instance.(*Record)
	if !ok {
		return nil, fmt.Errorf("%w: instance is %T, not a record", wferr.ErrInvalidProgram, instance)
	}
	v, ok := r.Get(name)
	if !ok {
		return nil, wferr.NewResolutionError("member", name, d.displayName())
	}
	return v, nil
}

func (d *recordDescriptor) SetMember(instance any, name string, value any) error {
	r, ok := instance.(*Record)
	if !ok {
		return fmt.Errorf("%w: instance is %T, not a record", wferr.ErrInvalidProgram, instance)
	}
	if t, ok := r.FieldType(name); ok {
		c, err := d.reg.Coerce(value, t)
		if err != nil {
			return err
		}
		value = c
	} else {
		switch x := value.(type) {
		case bytecode.Number:
			value, _ = d.reg.Coerce(x, anyType)
		case bytecode.Default:
			value = nil
		}
	}
	r.Set(name, value)
	return nil
}

func (d *recordDescriptor) CallMember(_ any, name string, _ []any) (any, error) {
	return nil, wferr.NewResolutionError("method", name, d.displayName())
}

// ---------------------------------------------------------------------------
// TypeRegistry
// ---------------------------------------------------------------------------

type constructor struct {
	fn     reflect.Value
	params []reflect.Type
	errOut bool
}

// TypeRegistry maps type names used in programs to descriptors and Go types
// back to names. Safe for concurrent registration and lookup.
type TypeRegistry struct {
	mu     sync.RWMutex
	byName map[string]TypeDescriptor
	byType map[reflect.Type]string
	ctors  map[string][]constructor
}

var anyType = reflect.TypeOf((*any)(nil)).Elem()

var builtinTypes = map[string]reflect.Type{
	"int":     reflect.TypeOf(int(0)),
	"int8":    reflect.TypeOf(int8(0)),
	"int16":   reflect.TypeOf(int16(0)),
	"int32":   reflect.TypeOf(int32(0)),
	"int64":   reflect.TypeOf(int64(0)),
	"uint":    reflect.TypeOf(uint(0)),
	"uint8":   reflect.TypeOf(uint8(0)),
	"uint16":  reflect.TypeOf(uint16(0)),
	"uint32":  reflect.TypeOf(uint32(0)),
	"uint64":  reflect.TypeOf(uint64(0)),
	"float32": reflect.TypeOf(float32(0)),
	"float64": reflect.TypeOf(float64(0)),
	"bool":    reflect.TypeOf(false),
	"string":  reflect.TypeOf(""),
	"byte":    reflect.TypeOf(byte(0)),
	"rune":    reflect.TypeOf(rune(0)),
	"any":     anyType,

	"short":   reflect.TypeOf(int16(0)),
	"ushort":  reflect.TypeOf(uint16(0)),
	"long":    reflect.TypeOf(int64(0)),
	"ulong":   reflect.TypeOf(uint64(0)),
	"sbyte":   reflect.TypeOf(int8(0)),
	"float":   reflect.TypeOf(float32(0)),
	"double":  reflect.TypeOf(float64(0)),
	"decimal": reflect.TypeOf(bytecode.Decimal{}),
	"char":    reflect.TypeOf(bytecode.Char(0)),
	"object":  anyType,
}

// canonicalBuiltin is the name NameOf reports for builtin types.
var canonicalBuiltin = []string{
	"int", "int8", "int16", "int32", "int64", "uint", "uint8", "uint16", "uint32", "uint64",
	"float32", "float64", "bool", "string", "any", "decimal", "char",
}

// NewTypeRegistry creates a registry preloaded with the builtin scalar
// names and the anonymous record type.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{
		byName: make(map[string]TypeDescriptor),
		byType: make(map[reflect.Type]string),
		ctors:  make(map[string][]constructor),
	}
	for name, t := range builtinTypes {
		r.byName[name] = &valueDescriptor{name: name, typ: t, reg: r}
	}
	for _, name := range canonicalBuiltin {
		r.byType[builtinTypes[name]] = name
	}
	anon := &recordDescriptor{name: "", reg: r}
	r.byName[""] = anon
	r.byName["record"] = anon
	return r
}

// Register adds a Go type under name. Pointer-to-struct types register their
// element. Registering the same name twice for different types fails.
func (r *TypeRegistry) Register(name string, t reflect.Type) (TypeDescriptor, error) {
	if name == "" || t == nil {
		return nil, fmt.Errorf("register: empty name or type")
	}
	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct {
		t = t.Elem()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok {
		if sameType(existing, t) {
			return existing, nil
		}
		return nil, fmt.Errorf("register: %q is already bound to %s", name, existing.Type())
	}

	var d TypeDescriptor
	if t.Kind() == reflect.Struct {
		d = newStructDescriptor(name, t, r)
	} else {
		d = &valueDescriptor{name: name, typ: t, reg: r}
	}
	r.byName[name] = d
	if _, taken := r.byType[t]; !taken {
		r.byType[t] = name
	}
	return d, nil
}

func sameType(d TypeDescriptor, t reflect.Type) bool {
	if sd, ok := d.(*structDescriptor); ok {
		return sd.typ == t
	}
	return d.Type() == t
}

// RegisterType registers T under name.
func RegisterType[T any](r *TypeRegistry, name string) error {
	_, err := r.Register(name, reflect.TypeOf((*T)(nil)).Elem())
	return err
}

// MustRegister is Register for package initialization; it panics on error.
func (r *TypeRegistry) MustRegister(name string, sample any) TypeDescriptor {
	d, err := r.Register(name, reflect.TypeOf(sample))
	if err != nil {
		panic(err)
	}
	return d
}

// RegisterRecord declares name as a dynamic record type.
func (r *TypeRegistry) RegisterRecord(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[name]; ok {
		if _, isRec := existing.(*recordDescriptor); isRec {
			return nil
		}
		return fmt.Errorf("register: %q is already bound to %s", name, existing.Type())
	}
	r.byName[name] = &recordDescriptor{name: name, reg: r}
	return nil
}

// RegisterConstructor adds a constructor overload for name. fn must be a
// function returning the type (or a pointer to it), optionally followed by
// an error. Overloads are tried in registration order.
func (r *TypeRegistry) RegisterConstructor(name string, fn any) error {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func || ft.IsVariadic() {
		return fmt.Errorf("constructor for %q must be a non-variadic func, got %s", name, ft)
	}
	c := constructor{fn: fv}
	switch {
	case ft.NumOut() == 1:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
		c.errOut = true
	default:
		return fmt.Errorf("constructor for %q must return (T) or (T, error)", name)
	}
	for i := 0; i < ft.NumIn(); i++ {
		c.params = append(c.params, ft.In(i))
	}

	d, err := r.Lookup(name)
	if err != nil {
		return err
	}
	out := ft.Out(0)
	want := d.Type()
	if sd, ok := d.(*structDescriptor); ok && out == sd.typ {
		out = want
	}
	if !out.AssignableTo(want) {
		return fmt.Errorf("constructor for %q returns %s, want %s", name, ft.Out(0), want)
	}

	r.mu.Lock()
	r.ctors[name] = append(r.ctors[name], c)
	r.mu.Unlock()
	return nil
}

func (r *TypeRegistry) hasConstructor(name string, arity int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.ctors[name] {
		if len(c.params) == arity {
			return true
		}
	}
	return false
}

// construct runs the first constructor overload whose arity matches and
// whose parameters accept the coerced arguments.
func (r *TypeRegistry) construct(name string, args []any) (any, error) {
	r.mu.RLock()
	ctors := append([]constructor(nil), r.ctors[name]...)
	r.mu.RUnlock()

	var available []string
	for _, c := range ctors {
		available = append(available, typeListSignature(c.params))
		if len(c.params) != len(args) {
			continue
		}
		in := make([]reflect.Value, len(args))
		ok := true
		for i, a := range args {
			v, err := r.Coerce(a, c.params[i])
			if err != nil {
				ok = false
				break
			}
			in[i] = valueOf(v, c.params[i])
		}
		if !ok {
			continue
		}
		out := c.fn.Call(in)
		if c.errOut && !out[1].IsNil() {
			return nil, fmt.Errorf("constructing %s: %w", name, out[1].Interface().(error))
		}
		return out[0].Interface(), nil
	}
	return nil, &wferr.SignatureError{Name: name, Attempted: argSignature(args), Available: available}
}

// Lookup resolves a type name. Besides registered and builtin names it
// accepts composites: "[]T", "map[K]V" and "*T".
func (r *TypeRegistry) Lookup(name string) (TypeDescriptor, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	d, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}

	// Composites are resolved per call and never stored.
	t, err := r.parseComposite(name)
	if err != nil {
		return nil, err
	}
	return &valueDescriptor{name: name, typ: t, reg: r}, nil
}

func (r *TypeRegistry) parseComposite(name string) (reflect.Type, error) {
	switch {
	case strings.HasPrefix(name, "[]"):
		elem, err := r.resolveType(name[2:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil
	case strings.HasPrefix(name, "*"):
		elem, err := r.resolveType(name[1:])
		if err != nil {
			return nil, err
		}
		return reflect.PointerTo(elem), nil
	case strings.HasPrefix(name, "map["):
		depth, end := 0, -1
		for i := 3; i < len(name); i++ {
			switch name[i] {
			case '[':
				depth++
			case ']':
				depth--
			}
			if depth == 0 {
				end = i
				break
			}
		}
		if end < 0 {
			return nil, wferr.NewResolutionError("type", name, "")
		}
		key, err := r.resolveType(name[4:end])
		if err != nil {
			return nil, err
		}
		val, err := r.resolveType(name[end+1:])
		if err != nil {
			return nil, err
		}
		if !key.Comparable() {
			return nil, fmt.Errorf("%w: map key %s is not comparable", wferr.ErrResolution, key)
		}
		return reflect.MapOf(key, val), nil
	}
	return nil, wferr.NewResolutionError("type", name, "")
}

// resolveType returns the Go type values of name take when stored inside
// other values: struct types by value, records by pointer.
func (r *TypeRegistry) resolveType(name string) (reflect.Type, error) {
	d, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return declaredType(d), nil
}

func declaredType(d TypeDescriptor) reflect.Type {
	if sd, ok := d.(*structDescriptor); ok {
		return sd.typ
	}
	return d.Type()
}

// LookupType resolves name to its declared Go type. Record types resolve to
// a nil type with ok set, since they have no static shape.
func (r *TypeRegistry) LookupType(name string) (reflect.Type, bool) {
	d, err := r.Lookup(name)
	if err != nil {
		return nil, false
	}
	if _, isRec := d.(*recordDescriptor); isRec {
		return nil, true
	}
	return declaredType(d), true
}

// MemberType returns the declared type of member on the named type.
func (r *TypeRegistry) MemberType(typeName, member string) (reflect.Type, bool) {
	d, err := r.Lookup(typeName)
	if err != nil {
		return nil, false
	}
	m, ok := d.Member(member)
	if !ok || m.Kind != FieldMember {
		return nil, false
	}
	return m.Type, true
}

// DescriptorFor returns the descriptor governing a runtime value.
func (r *TypeRegistry) DescriptorFor(v any) (TypeDescriptor, error) {
	if rec, ok := v.(*Record); ok {
		return r.Lookup(rec.TypeName)
	}
	if v == nil {
		return nil, fmt.Errorf("%w: nil has no members", wferr.ErrInvalidProgram)
	}
	t := reflect.TypeOf(v)
	name := r.NameOf(t)
	d, err := r.Lookup(name)
	if err == nil {
		return d, nil
	}
	// Unregistered values still expose their fields, methods and map keys.
	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if base.Kind() == reflect.Struct {
		return newStructDescriptor(t.String(), base, r), nil
	}
	return &valueDescriptor{name: t.String(), typ: t, reg: r}, nil
}

// NameOf returns the name programs use for t: the registered name, a
// composite of registered names, or t.String() as a last resort.
func (r *TypeRegistry) NameOf(t reflect.Type) string {
	if t == nil {
		return "any"
	}
	if t == recordPtrType {
		return "record"
	}
	r.mu.RLock()
	name, ok := r.byType[t]
	r.mu.RUnlock()
	if ok {
		return name
	}
	switch t.Kind() {
	case reflect.Pointer:
		if t.Elem().Kind() == reflect.Struct {
			return r.NameOf(t.Elem())
		}
		return "*" + r.NameOf(t.Elem())
	case reflect.Slice:
		return "[]" + r.NameOf(t.Elem())
	case reflect.Map:
		return "map[" + r.NameOf(t.Key()) + "]" + r.NameOf(t.Elem())
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return "any"
		}
	}
	return t.String()
}

// Names returns all registered names, sorted.
func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		if n != "" {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Count returns the number of registered names.
func (r *TypeRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// IsRecord reports whether name is a dynamic record type.
func (r *TypeRegistry) IsRecord(name string) bool {
	d, err := r.Lookup(name)
	if err != nil {
		return false
	}
	_, ok := d.(*recordDescriptor)
	return ok
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// valueOf converts v to a reflect.Value assignable to t, mapping nil to the
// zero value.
func valueOf(v any, t reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	rv := reflect.ValueOf(v)
	if t.Kind() == reflect.Interface && rv.Type() != t {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out
	}
	return rv
}

func argSignature(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a == nil {
			parts[i] = "nil"
		} else {
			parts[i] = reflect.TypeOf(a).String()
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func typeListSignature(types []reflect.Type) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
