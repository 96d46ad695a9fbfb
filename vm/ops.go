package vm

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/chazu/wireform/access"
	"github.com/chazu/wireform/internal/wferr"
	"github.com/chazu/wireform/pkg/bytecode"
	"github.com/chazu/wireform/pkg/runtime"
)

// run interprets body from the start. It stops at RET or END_OF_DATA and
// wraps any failure with the instruction position.
func (s *state) run(body []bytecode.Instruction) (any, error) {
	s.body = body
	for s.index = 0; s.index < len(body); s.index++ {
		in := body[s.index]
		s.eng.log.Debugf("execution %s depth %d: %04d %s", s.exec.id, s.depth, s.index, in)
		stop, err := s.step(in)
		if err != nil {
			return nil, &wferr.ExecutionError{Index: s.index, Op: in.Op.String(), Err: err}
		}
		if stop {
			break
		}
	}
	return s.finish()
}

// finish produces the body's value once interpretation has stopped.
func (s *state) finish() (any, error) {
	if s.hasResult {
		return s.result, nil
	}
	if s.inString {
		return nil, &wferr.ExecutionError{Index: s.index, Op: "END_STR", Err: wferr.NewInvalidProgramError("unterminated multi-line string")}
	}
	if n := len(s.frames); n > 0 {
		f := s.frames[n-1]
		return nil, &wferr.ExecutionError{Index: s.index, Op: "END", Err: wferr.NewInvalidProgramError("%d construction frame(s) left open, innermost %s", n, frameName(f))}
	}
	switch len(s.stack) {
	case 0:
		return nil, nil
	case 1:
		return s.stack[0], nil
	}
	out := make([]any, len(s.stack))
	copy(out, s.stack)
	return out, nil
}

func frameName(f *frame) string {
	switch f.kind {
	case listFrame:
		return "list of " + f.elemType.String()
	case mapFrame:
		return "map of " + f.keyType.String() + " to " + f.elemType.String()
	}
	return f.desc.Name()
}

// step applies one instruction. stop ends the body.
func (s *state) step(in bytecode.Instruction) (stop bool, err error) {
	if s.inString && in.Op != bytecode.OpStr && in.Op != bytecode.OpEndStr {
		return false, wferr.NewInvalidProgramError("%s inside a multi-line string", in.Op)
	}
	switch in.Op {
	case bytecode.OpDefine:
		return false, s.opDefine(in)
	case bytecode.OpSet:
		return false, s.opSet(in)
	case bytecode.OpSetAccess:
		return false, s.opSetAccess(in)
	case bytecode.OpEnd:
		return false, s.opEnd()
	case bytecode.OpRet:
		return true, s.opRet(in)
	case bytecode.OpAs:
		return false, s.opAs(in)
	case bytecode.OpPush:
		return false, s.opPush(in)
	case bytecode.OpElement:
		return false, s.opElement(in)
	case bytecode.OpListStart:
		return false, s.opListStart(in)
	case bytecode.OpListEnd:
		return false, s.opListEnd()
	case bytecode.OpAccess:
		return false, s.opAccess(in)
	case bytecode.OpAlias:
		return false, s.opAlias(in)
	case bytecode.OpAnonymousSet:
		return false, s.opAnonymousSet(in)
	case bytecode.OpImport:
		return false, s.opImport(in)
	case bytecode.OpStartStr:
		if s.inString {
			return false, wferr.NewInvalidProgramError("nested START_STR")
		}
		s.inString, s.strLines = true, nil
		return false, nil
	case bytecode.OpStr:
		if !s.inString {
			return false, wferr.NewInvalidProgramError("STR outside START_STR")
		}
		line, err := stringArg(in, 0)
		if err != nil {
			return false, err
		}
		s.strLines = append(s.strLines, line)
		return false, nil
	case bytecode.OpEndStr:
		if !s.inString {
			return false, wferr.NewInvalidProgramError("END_STR without START_STR")
		}
		s.push(strings.Join(s.strLines, "\n"))
		s.inString, s.strLines = false, nil
		return false, nil
	case bytecode.OpProgress:
		if s.eng.progress != nil {
			s.eng.progress(s.index+1, len(s.body))
		}
		return false, nil
	case bytecode.OpEndOfData:
		return true, nil
	}
	return false, wferr.NewResolutionError("opcode", in.Op.String(), "")
}

// ---------------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------------

func argCount(in bytecode.Instruction, min, max int) error {
	if n := len(in.Args); n < min || n > max {
		if min == max {
			return wferr.NewInvalidProgramError("%s takes %d argument(s), got %d", in.Op, min, n)
		}
		return wferr.NewInvalidProgramError("%s takes %d to %d arguments, got %d", in.Op, min, max, n)
	}
	return nil
}

func stringArg(in bytecode.Instruction, i int) (string, error) {
	switch v := in.Arg(i).(type) {
	case string:
		return v, nil
	case bytecode.MultilineString:
		return string(v), nil
	}
	return "", wferr.NewInvalidProgramError("%s argument %d must be a string, got %s", in.Op, i, argKind(in.Arg(i)))
}

// intValue reads an integral argument: any typed integer, an integral
// Number, or a Ref.
func intValue(arg any) (int64, bool) {
	switch v := arg.(type) {
	case bytecode.Number:
		i, err := v.Int64()
		return i, err == nil
	case bytecode.Ref:
		return int64(v), true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v <= 1<<62 {
			return int64(v), true
		}
	}
	return 0, false
}

func idArg(in bytecode.Instruction, i int) (int32, error) {
	n, ok := intValue(in.Arg(i))
	if !ok || n < 0 || n > 1<<31-1 {
		return 0, wferr.NewInvalidProgramError("%s argument %d must be a non-negative id, got %s", in.Op, i, argKind(in.Arg(i)))
	}
	return int32(n), nil
}

func argKind(arg any) string {
	if arg == nil {
		return "null"
	}
	return fmt.Sprintf("%T(%v)", arg, arg)
}

// literal normalizes a literal argument for use as a runtime value: untyped
// numbers take their narrowest general type and multi-line strings become
// strings.
func (s *state) literal(arg any) (any, error) {
	switch v := arg.(type) {
	case bytecode.Number:
		return s.eng.registry.Coerce(v, anyType)
	case bytecode.MultilineString:
		return string(v), nil
	case bytecode.Default:
		return nil, nil
	}
	return arg, nil
}

// value resolves a value argument and hands it to assign: _ref ids through
// the object table (deferred for growing slices), _stack() from the
// construction stack, literals as written.
func (s *state) value(arg any, assign func(any) error) error {
	switch v := arg.(type) {
	case bytecode.Ref:
		return s.resolveRef(int32(v), assign)
	case bytecode.Stack:
		top, err := s.pop()
		if err != nil {
			return err
		}
		return assign(top)
	case bytecode.MultilineString:
		return assign(string(v))
	}
	return assign(arg)
}

// immediate resolves a value argument that must be available now.
func (s *state) immediate(arg any) (any, error) {
	switch v := arg.(type) {
	case bytecode.Ref:
		return s.refValue(int32(v))
	case bytecode.Stack:
		return s.pop()
	}
	return s.literal(arg)
}

// typeArg resolves an element or field type name. An empty name or "any"
// is the empty interface.
func (s *state) typeArg(name string) (reflect.Type, error) {
	if name == "" || name == "any" || name == "object" {
		return anyType, nil
	}
	return s.eng.registry.resolveType(name)
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func (s *state) opDefine(in bytecode.Instruction) error {
	if err := argCount(in, 3, 3); err != nil {
		return err
	}
	typeName, err := stringArg(in, 0)
	if err != nil {
		return err
	}
	id, err := idArg(in, 1)
	if err != nil {
		return err
	}
	argc, ok := intValue(in.Arg(2))
	if !ok || argc < 0 {
		return wferr.NewInvalidProgramError("DEFINE argument count must be a non-negative integer, got %s", argKind(in.Arg(2)))
	}
	desc, err := s.eng.registry.Lookup(typeName)
	if err != nil {
		return err
	}
	args, err := s.popN(int(argc))
	if err != nil {
		return err
	}
	inst, err := desc.Construct(args)
	if err != nil {
		return err
	}
	if err := s.objects.bind(id, inst); err != nil {
		return err
	}
	s.frames = append(s.frames, &frame{kind: instanceFrame, id: id, hasID: true, desc: desc, instance: inst})
	return nil
}

func (s *state) opEnd() error {
	f, err := s.openInstance()
	if err != nil {
		return err
	}
	s.frames = s.frames[:len(s.frames)-1]
	if err := s.objects.complete(f.id, f.instance); err != nil {
		return err
	}
	if len(s.frames) == 0 {
		s.report(milestoneTopInstance)
	} else {
		s.report(milestoneInstance)
	}
	return nil
}

func (s *state) opSet(in bytecode.Instruction) error {
	if err := argCount(in, 2, 2); err != nil {
		return err
	}
	name, err := stringArg(in, 0)
	if err != nil {
		return err
	}
	f, err := s.openInstance()
	if err != nil {
		return err
	}
	if err := s.setMember(f.desc, f.instance, name, in.Arg(1)); err != nil {
		return err
	}
	s.report(milestoneField)
	return nil
}

// setMember assigns a resolved value argument to a member of instance.
func (s *state) setMember(desc TypeDescriptor, instance any, name string, arg any) error {
	if _, isStruct := desc.(*structDescriptor); isStruct {
		if m, ok := desc.Member(name); !ok || m.Kind != FieldMember {
			return wferr.NewResolutionError("member", name, desc.Name())
		}
	}
	return s.value(arg, func(v any) error {
		return desc.SetMember(instance, name, v)
	})
}

func (s *state) opSetAccess(in bytecode.Instruction) error {
	if err := argCount(in, 2, 3); err != nil {
		return err
	}
	var (
		target any
		rest   = 0
	)
	if len(in.Args) == 3 {
		v, _, err := s.target(in.Arg(0))
		if err != nil {
			return err
		}
		target, rest = v, 1
	} else {
		f, err := s.openInstance()
		if err != nil {
			return err
		}
		target = f.instance
	}
	name, err := stringArg(in, rest)
	if err != nil {
		return err
	}
	if err := s.validate(target, name); err != nil {
		return err
	}
	desc, err := s.eng.registry.DescriptorFor(target)
	if err != nil {
		return err
	}
	if err := s.setMember(desc, target, name, in.Arg(rest+1)); err != nil {
		return err
	}
	s.report(milestoneField)
	return nil
}

// validate consults the access filter for member on target's type.
func (s *state) validate(target any, member string) error {
	return s.eng.filters.Validate(filterKey(target), s.eng.filterKind, member)
}

// filterKey names the filter governing a value: a record's type name, or
// the Go type's qualified name.
func filterKey(v any) string {
	if r, ok := v.(*Record); ok {
		if r.TypeName == "" {
			return "record"
		}
		return r.TypeName
	}
	if v == nil {
		return "nil"
	}
	return access.TypeKey(reflect.TypeOf(v))
}

func (s *state) opAnonymousSet(in bytecode.Instruction) error {
	if err := argCount(in, 3, 3); err != nil {
		return err
	}
	typeName, err := stringArg(in, 0)
	if err != nil {
		return err
	}
	field, err := stringArg(in, 1)
	if err != nil {
		return err
	}
	f, err := s.openInstance()
	if err != nil {
		return err
	}
	t, err := s.typeArg(typeName)
	if err != nil {
		return err
	}
	err = s.value(in.Arg(2), func(v any) error {
		c, err := s.eng.registry.Coerce(v, t)
		if err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
		if rec, ok := f.instance.(*Record); ok {
			rec.SetTyped(field, t, c)
			return nil
		}
		return f.desc.SetMember(f.instance, field, c)
	})
	if err != nil {
		return err
	}
	s.report(milestoneField)
	return nil
}

// ---------------------------------------------------------------------------
// Collections
// ---------------------------------------------------------------------------

func (s *state) opListStart(in bytecode.Instruction) error {
	if err := argCount(in, 1, 3); err != nil {
		return err
	}
	elemName, err := stringArg(in, 0)
	if err != nil {
		return err
	}
	elem, err := s.typeArg(elemName)
	if err != nil {
		return err
	}
	f := &frame{kind: listFrame, elemType: elem}
	for i := 1; i < len(in.Args); i++ {
		switch a := in.Args[i].(type) {
		case string:
			if f.keyType, err = s.typeArg(a); err != nil {
				return err
			}
			if !f.keyType.Comparable() {
				return wferr.NewInvalidProgramError("map key type %s is not comparable", f.keyType)
			}
			f.kind = mapFrame
		case nil:
		default:
			if f.id, err = idArg(in, i); err != nil {
				return err
			}
			f.hasID = true
		}
	}

	if f.kind == mapFrame {
		f.items = reflect.MakeMap(reflect.MapOf(f.keyType, f.elemType))
	} else {
		f.items = reflect.MakeSlice(reflect.SliceOf(f.elemType), 0, 4)
	}
	if f.hasID {
		if err := s.objects.bind(f.id, f.items.Interface()); err != nil {
			return err
		}
		s.objects.slots[f.id].collecting = f.kind == listFrame
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *state) opElement(in bytecode.Instruction) error {
	if err := argCount(in, 1, 2); err != nil {
		return err
	}
	f, ok := s.top()
	if !ok || f.kind == instanceFrame {
		return wferr.NewInvalidProgramError("ELEMENT outside LIST_START")
	}

	if f.kind == listFrame {
		if len(in.Args) != 1 {
			return wferr.NewInvalidProgramError("list ELEMENT takes one argument, got %d", len(in.Args))
		}
		idx := f.items.Len()
		f.items = reflect.Append(f.items, reflect.Zero(f.elemType))
		err := s.value(in.Arg(0), func(v any) error {
			c, err := s.eng.registry.Coerce(v, f.elemType)
			if err != nil {
				return fmt.Errorf("element %d: %w", idx, err)
			}
			f.items.Index(idx).Set(valueOf(c, f.elemType))
			return nil
		})
		if err != nil {
			return err
		}
		s.report(milestoneField)
		return nil
	}

	if len(in.Args) != 2 {
		return wferr.NewInvalidProgramError("map ELEMENT takes a key and a value, got %d argument(s)", len(in.Args))
	}
	// A stacked value sits above a stacked key.
	var (
		val      any
		valReady bool
	)
	if _, ok := in.Arg(1).(bytecode.Stack); ok {
		v, err := s.pop()
		if err != nil {
			return err
		}
		val, valReady = v, true
	}
	rawKey, err := s.immediate(in.Arg(0))
	if err != nil {
		return err
	}
	key, err := s.eng.registry.Coerce(rawKey, f.keyType)
	if err != nil {
		return fmt.Errorf("map key: %w", err)
	}
	if valReady {
		err = s.mapStore(f, key, val)
	} else {
		err = s.value(in.Arg(1), func(v any) error { return s.mapStore(f, key, v) })
	}
	if err != nil {
		return err
	}
	s.report(milestoneField)
	return nil
}

func (s *state) mapStore(f *frame, key, v any) error {
	c, err := s.eng.registry.Coerce(v, f.elemType)
	if err != nil {
		return fmt.Errorf("map value %v: %w", key, err)
	}
	f.items.SetMapIndex(valueOf(key, f.keyType), valueOf(c, f.elemType))
	return nil
}

func (s *state) opListEnd() error {
	f, ok := s.top()
	if !ok || f.kind == instanceFrame {
		return wferr.NewInvalidProgramError("LIST_END without LIST_START")
	}
	s.frames = s.frames[:len(s.frames)-1]
	value := f.items.Interface()
	if f.hasID {
		if err := s.objects.complete(f.id, value); err != nil {
			return err
		}
	}
	s.push(value)
	s.report(milestoneInstance)
	return nil
}

// ---------------------------------------------------------------------------
// Stack
// ---------------------------------------------------------------------------

func (s *state) opPush(in bytecode.Instruction) error {
	if err := argCount(in, 1, 2); err != nil {
		return err
	}
	var v any
	var err error
	if _, dup := in.Arg(0).(bytecode.Stack); dup {
		if len(s.stack) == 0 {
			return wferr.NewInvalidProgramError("construction stack is empty")
		}
		v = s.stack[len(s.stack)-1]
	} else if v, err = s.immediate(in.Arg(0)); err != nil {
		return err
	}
	if len(in.Args) == 2 && in.Arg(1) != nil {
		id, err := idArg(in, 1)
		if err != nil {
			return err
		}
		if err := s.objects.bind(id, v); err != nil {
			return err
		}
	}
	s.push(v)
	return nil
}

func (s *state) opAs(in bytecode.Instruction) error {
	if err := argCount(in, 1, 1); err != nil {
		return err
	}
	name, err := stringArg(in, 0)
	if err != nil {
		return err
	}
	desc, err := s.eng.registry.Lookup(name)
	if err != nil {
		return err
	}
	v, err := s.pop()
	if err != nil {
		return err
	}
	target := desc.Type()
	if _, isRec := desc.(*recordDescriptor); isRec {
		if rec, ok := v.(*Record); ok {
			s.push(rec)
			return nil
		}
	}
	c, err := s.eng.registry.Coerce(v, target)
	if err != nil {
		return err
	}
	s.push(c)
	return nil
}

func (s *state) opRet(in bytecode.Instruction) error {
	if err := argCount(in, 0, 1); err != nil {
		return err
	}
	if len(in.Args) == 0 {
		if len(s.stack) > 0 {
			v, _ := s.pop()
			s.result, s.hasResult = v, true
		} else {
			s.result, s.hasResult = nil, true
		}
		return nil
	}

	arg := in.Arg(0)
	switch a := arg.(type) {
	case bytecode.Stack:
		v, err := s.pop()
		if err != nil {
			return err
		}
		s.result, s.hasResult = v, true
		return nil
	case string:
		if id, ok := s.aliases[a]; ok {
			return s.retID(id)
		}
		if v, ok := s.scope.LookupVariable(a); ok {
			val, err := v.Get(s)
			if err != nil {
				return err
			}
			s.result, s.hasResult = val, true
			return nil
		}
		s.result, s.hasResult = a, true
		return nil
	case bytecode.Number:
		if !a.IsIntegral() {
			break
		}
		id, err := idArg(in, 0)
		if err != nil {
			return err
		}
		return s.retID(id)
	}
	if id, ok := intValue(arg); ok {
		if id < 0 || id > 1<<31-1 {
			return wferr.NewInvalidProgramError("RET id %d out of range", id)
		}
		return s.retID(int32(id))
	}
	v, err := s.literal(arg)
	if err != nil {
		return err
	}
	s.result, s.hasResult = v, true
	return nil
}

func (s *state) retID(id int32) error {
	v, err := s.refValue(id)
	if err != nil {
		return err
	}
	s.result, s.hasResult = v, true
	s.resultID, s.hasID = id, true
	return nil
}

// ---------------------------------------------------------------------------
// Navigation and naming
// ---------------------------------------------------------------------------

// target resolves an ACCESS or SETACCESS target. A template group is
// returned unevaluated so the caller can supply arguments.
func (s *state) target(arg any) (any, *runtime.TemplateGroup, error) {
	switch a := arg.(type) {
	case bytecode.Ref:
		v, err := s.refValue(int32(a))
		return v, nil, err
	case bytecode.Stack:
		v, err := s.pop()
		return v, nil, err
	case string:
		if id, ok := parseRefString(a); ok {
			v, err := s.refValue(id)
			return v, nil, err
		}
		if id, ok := s.aliases[a]; ok {
			v, err := s.refValue(id)
			return v, nil, err
		}
		switch x := s.scope.GetIdentifier(a).(type) {
		case *runtime.Variable:
			v, err := x.Get(s)
			return v, nil, err
		case *runtime.TemplateGroup:
			return nil, x, nil
		case *runtime.Scope:
			return x, nil, nil
		}
		return nil, nil, wferr.NewResolutionError("identifier", a, "")
	}
	if id, ok := intValue(arg); ok {
		v, err := s.refValue(int32(id))
		return v, nil, err
	}
	return nil, nil, wferr.NewInvalidProgramError("cannot access %s", argKind(arg))
}

// parseRefString accepts the quoted form "_ref(N)".
func parseRefString(s string) (int32, bool) {
	if !strings.HasPrefix(s, "_ref(") || !strings.HasSuffix(s, ")") {
		return 0, false
	}
	n, err := strconv.ParseInt(s[5:len(s)-1], 10, 32)
	if err != nil || n < 0 {
		return 0, false
	}
	return int32(n), true
}

func (s *state) opAccess(in bytecode.Instruction) error {
	if err := argCount(in, 1, 3); err != nil {
		return err
	}
	var member string
	argc := int64(0)
	for i := 1; i < len(in.Args); i++ {
		switch a := in.Args[i].(type) {
		case string:
			member = a
		case nil:
		default:
			n, ok := intValue(a)
			if !ok || n < 0 {
				return wferr.NewInvalidProgramError("ACCESS argument count must be a non-negative integer, got %s", argKind(a))
			}
			argc = n
		}
	}

	v, group, err := s.target(in.Arg(0))
	if err != nil {
		return err
	}
	if group != nil {
		args, err := s.popN(int(argc))
		if err != nil {
			return err
		}
		v, err = group.TryCall(args, s.eng.registry, s, s.eng.implicitEmpty)
		if err != nil {
			return err
		}
		argc = 0
	}
	if member != "" {
		if v, err = s.member(v, member, int(argc)); err != nil {
			return err
		}
	}
	s.push(v)
	return nil
}

// member reads, or calls with argc stacked arguments, a member of target
// after checking the access filter. Container scopes resolve their own
// identifiers and are not filtered.
func (s *state) member(target any, name string, argc int) (any, error) {
	if sc, ok := target.(*runtime.Scope); ok {
		switch x := sc.GetIdentifier(name).(type) {
		case *runtime.Variable:
			return x.Get(s)
		case *runtime.TemplateGroup:
			args, err := s.popN(argc)
			if err != nil {
				return nil, err
			}
			return x.TryCall(args, s.eng.registry, s, s.eng.implicitEmpty)
		case *runtime.Scope:
			return x, nil
		}
		return nil, wferr.NewResolutionError("identifier", name, "container")
	}
	if target == nil {
		return nil, wferr.NewInvalidProgramError("member %s of null", name)
	}
	if err := s.validate(target, name); err != nil {
		return nil, err
	}
	desc, err := s.eng.registry.DescriptorFor(target)
	if err != nil {
		return nil, err
	}
	if m, ok := desc.Member(name); ok && m.Kind == MethodMember && (argc > 0 || len(m.Params) > 0) {
		args, err := s.popN(argc)
		if err != nil {
			return nil, err
		}
		return desc.CallMember(target, name, args)
	}
	return desc.GetMember(target, name)
}

func (s *state) opAlias(in bytecode.Instruction) error {
	if err := argCount(in, 2, 2); err != nil {
		return err
	}
	id, err := idArg(in, 0)
	if err != nil {
		return err
	}
	name, err := stringArg(in, 1)
	if err != nil {
		return err
	}
	if _, err := s.objects.get(id); err != nil {
		return err
	}
	s.aliases[name] = id
	return nil
}

func (s *state) opImport(in bytecode.Instruction) error {
	if err := argCount(in, 1, 2); err != nil {
		return err
	}
	name, err := stringArg(in, 0)
	if err != nil {
		return err
	}
	if s.eng.importer == nil {
		return wferr.NewResolutionError("import", name, "")
	}
	v, err := s.eng.importer.Import(name)
	if err != nil {
		return fmt.Errorf("import %s: %w", name, err)
	}

	switch x := v.(type) {
	case *runtime.Template:
		return s.scope.DefineTemplate(x)
	case *runtime.TemplateGroup:
		for _, t := range x.Templates() {
			if err := s.scope.DefineTemplate(t); err != nil {
				return err
			}
		}
		return nil
	case []bytecode.Instruction:
		if v, err = s.nested(x, runtime.NewScope(s.scope), "import "+name); err != nil {
			return err
		}
	}
	s.scope.DefineVariable(runtime.NewVariable(name, v))
	if len(in.Args) == 2 && in.Arg(1) != nil {
		id, err := idArg(in, 1)
		if err != nil {
			return err
		}
		return s.objects.bind(id, v)
	}
	return nil
}
