package vm

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/chazu/wireform/access"
	"github.com/chazu/wireform/internal/wferr"
	"github.com/chazu/wireform/pkg/bytecode"
	"github.com/chazu/wireform/pkg/runtime"
)

type Vector2 struct {
	X float32
	Y int8
}

type node struct {
	Name string
	Next *node
}

type widget struct {
	Field string
	Count int
}

func (w *widget) Label() string { return "widget:" + w.Field }

func (w *widget) Scaled(f int) int { return w.Count * f }

func testRegistry(t *testing.T) *TypeRegistry {
	t.Helper()
	reg := NewTypeRegistry()
	for name, sample := range map[string]any{
		"Vector2": Vector2{},
		"node":    node{},
		"T":       widget{},
	} {
		if _, err := reg.Register(name, reflect.TypeOf(sample)); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	return reg
}

func testEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithRegistry(testRegistry(t)), WithFilterCache(access.NewCache())}
	return New(append(base, opts...)...)
}

func program(t *testing.T, src string) []bytecode.Instruction {
	t.Helper()
	instrs, err := bytecode.DecodeText([]byte(src))
	if err != nil {
		t.Fatalf("DecodeText: %v", err)
	}
	return instrs
}

func run(t *testing.T, eng *Engine, src string) *Result {
	t.Helper()
	res, err := eng.Execute(program(t, src))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestExecute_Vector2(t *testing.T) {
	eng := testEngine(t)
	res := run(t, eng, `
DEFINE "Vector2" 0 0
SET "X" 10
END
RET 0
`)
	v, ok := res.Value.(*Vector2)
	if !ok {
		t.Fatalf("Value = %T, want *Vector2", res.Value)
	}
	if v.X != 10 {
		t.Errorf("X = %v, want 10", v.X)
	}
	if v.Y != 0 {
		t.Errorf("Y = %v, want 0", v.Y)
	}
	if !res.HasID || res.ID != 0 {
		t.Errorf("ID = %d (%v), want 0", res.ID, res.HasID)
	}
	if res.Objects[0] != res.Value {
		t.Error("object table entry 0 is not the returned instance")
	}
}

func TestExecuteAs_Value(t *testing.T) {
	eng := testEngine(t)
	v, err := ExecuteAs[Vector2](eng, program(t, `
DEFINE "Vector2" 0 0
SET "X" 1.5
SET "Y" -3
END
RET 0
`))
	if err != nil {
		t.Fatalf("ExecuteAs: %v", err)
	}
	if v != (Vector2{X: 1.5, Y: -3}) {
		t.Errorf("ExecuteAs = %+v, want {1.5 -3}", v)
	}
}

func TestExecute_ListOfInt(t *testing.T) {
	eng := testEngine(t)
	res := run(t, eng, `
LIST_START <int>
ELEMENT 1
ELEMENT 2
ELEMENT 3
LIST_END
RET _stack()
`)
	got, ok := res.Value.([]int)
	if !ok {
		t.Fatalf("Value = %T, want []int", res.Value)
	}
	if !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("Value = %v, want [1 2 3]", got)
	}
}

func TestExecute_Map(t *testing.T) {
	eng := testEngine(t)
	res := run(t, eng, `
LIST_START "int" 0 "string"
ELEMENT "a" 1
ELEMENT "b" 2
LIST_END
RET 0
`)
	want := map[string]int{"a": 1, "b": 2}
	if !reflect.DeepEqual(res.Value, want) {
		t.Errorf("Value = %v, want %v", res.Value, want)
	}
}

func TestExecute_ConstructorArguments(t *testing.T) {
	reg := testRegistry(t)
	err := reg.RegisterConstructor("Vector2", func(x float32, y int8) Vector2 {
		return Vector2{X: x, Y: y}
	})
	if err != nil {
		t.Fatalf("RegisterConstructor: %v", err)
	}
	eng := New(WithRegistry(reg), WithFilterCache(access.NewCache()))
	res := run(t, eng, `
PUSH 4
PUSH 5
DEFINE "Vector2" 0 2
END
RET 0
`)
	v := res.Value.(*Vector2)
	if v.X != 4 || v.Y != 5 {
		t.Errorf("Vector2 = %+v, want {4 5}", *v)
	}
}

func TestExecute_ConstructorSignatureError(t *testing.T) {
	eng := testEngine(t)
	_, err := eng.Execute(program(t, `
PUSH "a"
PUSH "b"
PUSH "c"
DEFINE "Vector2" 0 3
END
`))
	var se *wferr.SignatureError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SignatureError", err)
	}
}

func TestExecute_AnonymousRecord(t *testing.T) {
	eng := testEngine(t)
	res := run(t, eng, `
DEFINE "" 0 0
ANONYMOUS_SET "int" "N" 5
ANONYMOUS_SET "string" "Name" "five"
END
RET 0
`)
	rec, ok := res.Value.(*Record)
	if !ok {
		t.Fatalf("Value = %T, want *Record", res.Value)
	}
	if n, _ := rec.Get("N"); n != 5 {
		t.Errorf("N = %v (%T), want int 5", n, n)
	}
	if name, _ := rec.Get("Name"); name != "five" {
		t.Errorf("Name = %v, want five", name)
	}
	if got := rec.Fields(); !reflect.DeepEqual(got, []string{"N", "Name"}) {
		t.Errorf("Fields = %v", got)
	}
}

func TestExecute_AsConvertsStackTop(t *testing.T) {
	eng := testEngine(t)
	res := run(t, eng, `
PUSH 7
AS "uint8"
RET _stack()
`)
	if res.Value != uint8(7) {
		t.Errorf("Value = %v (%T), want uint8 7", res.Value, res.Value)
	}
}

func TestExecute_MultilineString(t *testing.T) {
	eng := testEngine(t)
	res := run(t, eng, `
START_STR
STR "first"
STR "second"
END_STR
RET _stack()
`)
	if res.Value != "first\nsecond" {
		t.Errorf("Value = %q", res.Value)
	}
}

func TestExecute_NoRetYieldsStack(t *testing.T) {
	eng := testEngine(t)

	res := run(t, eng, "")
	if res.Value != nil {
		t.Errorf("empty program Value = %v, want nil", res.Value)
	}

	res = run(t, eng, "PUSH \"a\"\nPUSH \"b\"\n")
	if !reflect.DeepEqual(res.Value, []any{"a", "b"}) {
		t.Errorf("Value = %v, want [a b]", res.Value)
	}
}

func TestExecute_EndOfDataStops(t *testing.T) {
	eng := testEngine(t)
	instrs := []bytecode.Instruction{
		bytecode.NewInstruction(bytecode.OpPush, "kept"),
		bytecode.NewInstruction(bytecode.OpEndOfData),
		bytecode.NewInstruction(bytecode.OpPush, "ignored"),
	}
	res, err := eng.Execute(instrs)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Value != "kept" {
		t.Errorf("Value = %v, want kept", res.Value)
	}
}

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

func TestExecute_Cycle(t *testing.T) {
	eng := testEngine(t)
	res := run(t, eng, `
DEFINE "node" 0 0
SET "Name" "a"
DEFINE "node" 1 0
SET "Name" "b"
SET "Next" _ref(0)
END
SET "Next" _ref(1)
END
RET 0
`)
	a := res.Value.(*node)
	if a.Next == nil || a.Next.Name != "b" {
		t.Fatalf("a.Next = %+v, want node b", a.Next)
	}
	if a.Next.Next != a {
		t.Error("b.Next does not point back to a")
	}
	if res.Objects[1] != a.Next {
		t.Error("object 1 is not a.Next")
	}
}

func TestExecute_SelfReference(t *testing.T) {
	eng := testEngine(t)
	res := run(t, eng, `
DEFINE "node" 0 0
SET "Next" _ref(0)
END
RET 0
`)
	n := res.Value.(*node)
	if n.Next != n {
		t.Error("self reference not resolved to the instance under construction")
	}
}

func TestExecute_SameInstancePerID(t *testing.T) {
	eng := testEngine(t)
	res := run(t, eng, `
DEFINE "node" 0 0
END
LIST_START "*node" 1
ELEMENT _ref(0)
ELEMENT _ref(0)
ELEMENT _ref(0)
LIST_END
RET 1
`)
	list := res.Value.([]*node)
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i, n := range list {
		if n != res.Objects[0] {
			t.Errorf("element %d is a different instance", i)
		}
	}
}

func TestExecute_ListReferencesItself(t *testing.T) {
	eng := testEngine(t)
	res := run(t, eng, `
LIST_START "any" 0
ELEMENT "x"
ELEMENT _ref(0)
LIST_END
RET 0
`)
	list := res.Value.([]any)
	inner, ok := list[1].([]any)
	if !ok {
		t.Fatalf("list[1] = %T, want []any", list[1])
	}
	if reflect.ValueOf(inner).Pointer() != reflect.ValueOf(list).Pointer() {
		t.Error("list[1] does not share the list's storage")
	}
}

func TestExecute_FieldReferencesGrowingList(t *testing.T) {
	reg := testRegistry(t)
	type holder struct{ Items []int }
	if _, err := reg.Register("holder", reflect.TypeOf(holder{})); err != nil {
		t.Fatal(err)
	}
	eng := New(WithRegistry(reg), WithFilterCache(access.NewCache()))
	res := run(t, eng, `
LIST_START "int" 0
DEFINE "holder" 1 0
SET "Items" _ref(0)
END
ELEMENT 1
ELEMENT 2
LIST_END
RET 1
`)
	h := res.Value.(*holder)
	if !reflect.DeepEqual(h.Items, []int{1, 2}) {
		t.Errorf("Items = %v, want [1 2]", h.Items)
	}
}

func TestExecute_RebindFails(t *testing.T) {
	eng := testEngine(t)
	_, err := eng.Execute(program(t, `
DEFINE "node" 0 0
END
DEFINE "node" 0 0
END
`))
	if !errors.Is(err, wferr.ErrInvalidProgram) {
		t.Fatalf("err = %v, want ErrInvalidProgram", err)
	}
	var ee *wferr.ExecutionError
	if !errors.As(err, &ee) || ee.Index != 2 || ee.Op != "DEFINE" {
		t.Errorf("ExecutionError = %+v, want index 2 DEFINE", ee)
	}
}

func TestExecute_UnknownRef(t *testing.T) {
	eng := testEngine(t)
	_, err := eng.Execute(program(t, "RET 9"))
	if !errors.Is(err, wferr.ErrResolution) {
		t.Fatalf("err = %v, want ErrResolution", err)
	}
}

func TestExecute_AliasMatchesRef(t *testing.T) {
	eng := testEngine(t)
	prefix := `
DEFINE "T" 0 0
SET "Field" "value"
END
ALIAS 0 "a"
`
	byAlias := run(t, eng, prefix+`ACCESS "a" -> "Field"`)
	byRef := run(t, eng, prefix+`ACCESS "_ref(0)" -> "Field"`)
	if byAlias.Value != "value" {
		t.Errorf("alias access = %v, want value", byAlias.Value)
	}
	if byAlias.Value != byRef.Value {
		t.Errorf("alias access %v != ref access %v", byAlias.Value, byRef.Value)
	}
	if byAlias.Aliases["a"] != 0 {
		t.Errorf("Aliases = %v", byAlias.Aliases)
	}
	if v, ok := byAlias.Alias("a"); !ok || v != byAlias.Objects[0] {
		t.Error("Result.Alias does not resolve to object 0")
	}
}

func TestExecute_AliasUnknownID(t *testing.T) {
	eng := testEngine(t)
	_, err := eng.Execute(program(t, `ALIAS 3 "x"`))
	if !errors.Is(err, wferr.ErrResolution) {
		t.Errorf("err = %v, want ErrResolution", err)
	}
}

// ---------------------------------------------------------------------------
// Access
// ---------------------------------------------------------------------------

func TestExecute_AccessMethods(t *testing.T) {
	eng := testEngine(t)
	res := run(t, eng, `
DEFINE "T" 0 0
SET "Field" "w"
SET "Count" 4
END
ACCESS _ref(0) "Label"
PUSH 3
ACCESS _ref(0) "Scaled" 1
`)
	want := []any{"widget:w", 12}
	if !reflect.DeepEqual(res.Value, want) {
		t.Errorf("Value = %v, want %v", res.Value, want)
	}
}

func TestExecute_AccessDenied(t *testing.T) {
	cache := access.NewCache()
	cache.Register(access.NewFilter(access.TypeKey(reflect.TypeOf(&widget{})), access.Whitelist).Govern("Count"))
	eng := New(WithRegistry(testRegistry(t)), WithFilterCache(cache))

	// Construction is never filtered.
	build := `
DEFINE "T" 0 0
SET "Field" "hidden"
END
`
	run(t, eng, build+"RET 0")

	_, err := eng.Execute(program(t, build+`ACCESS "_ref(0)" "Field"`))
	if !wferr.IsAccessDenied(err) {
		t.Fatalf("err = %v, want access denied", err)
	}
	var ae *wferr.AccessError
	if !errors.As(err, &ae) || ae.Member != "Field" || ae.Filter != "whitelist" {
		t.Errorf("AccessError = %+v", ae)
	}

	res := run(t, eng, build+`ACCESS "_ref(0)" "Count"`)
	if res.Value != 0 {
		t.Errorf("Count = %v, want 0", res.Value)
	}

	_, err = eng.Execute(program(t, build+`SETACCESS _ref(0) "Field" "x"`))
	if !errors.Is(err, wferr.ErrAccessDenied) {
		t.Errorf("SETACCESS err = %v, want access denied", err)
	}
}

func TestExecute_SetAccessOnOpenInstance(t *testing.T) {
	eng := testEngine(t)
	res := run(t, eng, `
DEFINE "T" 0 0
SETACCESS "Field" "open"
END
RET 0
`)
	if w := res.Value.(*widget); w.Field != "open" {
		t.Errorf("Field = %q, want open", w.Field)
	}
}

func TestExecute_FilterKindWhitelistDeniesUngoverned(t *testing.T) {
	eng := testEngine(t, WithFilterKind(access.Whitelist))
	_, err := eng.Execute(program(t, `
DEFINE "T" 0 0
END
ACCESS _ref(0) "Field"
`))
	if !errors.Is(err, wferr.ErrAccessDenied) {
		t.Errorf("err = %v, want access denied", err)
	}
}

func TestExecute_UnknownMember(t *testing.T) {
	eng := testEngine(t)
	_, err := eng.Execute(program(t, `
DEFINE "Vector2" 0 0
SET "Z" 1
END
`))
	var re *wferr.ResolutionError
	if !errors.As(err, &re) || re.Name != "Z" {
		t.Fatalf("err = %v, want unknown member Z", err)
	}
}

func TestExecute_UnknownType(t *testing.T) {
	eng := testEngine(t)
	_, err := eng.Execute(program(t, `DEFINE "Nope" 0 0`))
	var re *wferr.ResolutionError
	if !errors.As(err, &re) || re.Kind != "type" {
		t.Fatalf("err = %v, want unknown type", err)
	}
}

// ---------------------------------------------------------------------------
// Scope, templates and imports
// ---------------------------------------------------------------------------

func vectorTemplate() *runtime.Template {
	return &runtime.Template{
		Name:   "mk",
		Params: []runtime.Param{{Name: "x", Type: reflect.TypeOf(float32(0))}},
		Body: []bytecode.Instruction{
			bytecode.Define("Vector2", 0, 0),
			bytecode.NewInstruction(bytecode.OpAccess, "x"),
			bytecode.Set("X", bytecode.Stack{}),
			bytecode.End(),
			bytecode.Ret(int32(0)),
		},
	}
}

func TestExecute_TemplateCall(t *testing.T) {
	scope := runtime.NewScope(nil)
	if err := scope.DefineTemplate(vectorTemplate()); err != nil {
		t.Fatalf("DefineTemplate: %v", err)
	}
	eng := testEngine(t, WithScope(scope))
	res := run(t, eng, `
PUSH 3
ACCESS "mk" 1
PUSH 4
ACCESS "mk" 1
`)
	pair := res.Value.([]any)
	a, b := pair[0].(*Vector2), pair[1].(*Vector2)
	if a.X != 3 || b.X != 4 {
		t.Errorf("results = %+v %+v, want X 3 and 4", *a, *b)
	}
	if a == b {
		t.Error("separate calls share an instance")
	}
	if len(res.Objects) != 0 {
		t.Errorf("template objects leaked into caller table: %v", res.Objects)
	}
}

func TestExecute_TemplateNoMatchingOverload(t *testing.T) {
	scope := runtime.NewScope(nil)
	if err := scope.DefineTemplate(vectorTemplate()); err != nil {
		t.Fatal(err)
	}

	eng := testEngine(t, WithScope(scope))
	_, err := eng.Execute(program(t, `ACCESS "mk" 0`))
	var se *wferr.SignatureError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SignatureError", err)
	}
	if len(se.Available) != 1 || se.Available[0] != "(float32)" {
		t.Errorf("Available = %v", se.Available)
	}

	eng = testEngine(t, WithScope(scope), WithImplicitEmptyCalls(true))
	res := run(t, eng, `ACCESS "mk" 0`)
	if res.Value != nil {
		t.Errorf("implicit empty call = %v, want nil", res.Value)
	}
}

func TestExecute_RecursionDepthLimit(t *testing.T) {
	scope := runtime.NewScope(nil)
	loop := &runtime.Template{
		Name: "loop",
		Body: []bytecode.Instruction{bytecode.NewInstruction(bytecode.OpAccess, "loop")},
	}
	if err := scope.DefineTemplate(loop); err != nil {
		t.Fatal(err)
	}
	eng := testEngine(t, WithScope(scope), WithMaxDepth(8))
	_, err := eng.Execute(program(t, `ACCESS "loop"`))
	if !errors.Is(err, wferr.ErrInvalidProgram) {
		t.Errorf("err = %v, want depth failure", err)
	}
}

func TestExecute_LazyVariable(t *testing.T) {
	scope := runtime.NewScope(nil)
	scope.DefineVariable(runtime.NewLazyVariable("origin", []bytecode.Instruction{
		bytecode.Define("Vector2", 0, 0),
		bytecode.Set("X", bytecode.Number("2")),
		bytecode.End(),
		bytecode.Ret(int32(0)),
	}))
	eng := testEngine(t, WithScope(scope))

	first := run(t, eng, `ACCESS "origin"`)
	second := run(t, eng, `ACCESS "origin" "X"`)
	if v := first.Value.(*Vector2); v.X != 2 {
		t.Errorf("origin = %+v", *v)
	}
	if second.Value != float32(2) {
		t.Errorf("origin.X = %v (%T), want float32 2", second.Value, second.Value)
	}
}

func TestExecute_SelfReferentialLazyVariable(t *testing.T) {
	scope := runtime.NewScope(nil)
	scope.DefineVariable(runtime.NewLazyVariable("x", []bytecode.Instruction{
		bytecode.NewInstruction(bytecode.OpAccess, "x"),
		bytecode.Ret(bytecode.Stack{}),
	}))
	eng := testEngine(t, WithScope(scope))

	prog := program(t, `ACCESS "x"`)
	done := make(chan error, 1)
	go func() {
		_, err := eng.Execute(prog)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, wferr.ErrInvalidProgram) || !strings.Contains(err.Error(), "cyclic") {
			t.Errorf("err = %v, want cyclic lazy default", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return")
	}
}

func TestExecute_ContainerScope(t *testing.T) {
	scope := runtime.NewScope(nil)
	scope.DefineContainer("math").SetVariable("pi", 3.14)
	eng := testEngine(t, WithScope(scope))

	res := run(t, eng, `ACCESS "math" "pi"`)
	if res.Value != 3.14 {
		t.Errorf("math.pi = %v", res.Value)
	}
	res = run(t, eng, `ACCESS "math.pi"`)
	if res.Value != 3.14 {
		t.Errorf("dotted math.pi = %v", res.Value)
	}
}

func TestExecute_UnknownIdentifier(t *testing.T) {
	eng := testEngine(t)
	_, err := eng.Execute(program(t, `ACCESS "missing"`))
	if !errors.Is(err, wferr.ErrResolution) {
		t.Errorf("err = %v, want ErrResolution", err)
	}
}

func TestExecute_Import(t *testing.T) {
	imports := map[string]any{
		"answer": 42,
		"origin": program(t, "DEFINE \"Vector2\" 0 0\nEND\nRET 0"),
		"mk":     vectorTemplate(),
	}
	imp := ImporterFunc(func(name string) (any, error) {
		v, ok := imports[name]
		if !ok {
			return nil, wferr.NewResolutionError("import", name, "")
		}
		return v, nil
	})
	eng := testEngine(t, WithImporter(imp))

	res := run(t, eng, `
IMPORT "answer" 5
IMPORT "origin"
IMPORT "mk"
ACCESS "answer"
ACCESS "origin" "Y"
PUSH 1
ACCESS "mk" 1 "X"
`)
	want := []any{42, int8(0), float32(1)}
	if !reflect.DeepEqual(res.Value, want) {
		t.Errorf("Value = %v, want %v", res.Value, want)
	}
	if res.Objects[5] != 42 {
		t.Errorf("object 5 = %v, want 42", res.Objects[5])
	}

	_, err := eng.Execute(program(t, `IMPORT "nothing"`))
	if !errors.Is(err, wferr.ErrResolution) {
		t.Errorf("err = %v, want ErrResolution", err)
	}
}

func TestExecute_ImportWithoutImporter(t *testing.T) {
	eng := testEngine(t)
	_, err := eng.Execute(program(t, `IMPORT "x"`))
	if !errors.Is(err, wferr.ErrResolution) {
		t.Errorf("err = %v, want ErrResolution", err)
	}
}

func TestExecute_DefinitionsDoNotLeak(t *testing.T) {
	scope := runtime.NewScope(nil)
	imp := ImporterFunc(func(string) (any, error) { return "v", nil })
	eng := testEngine(t, WithScope(scope), WithImporter(imp))
	run(t, eng, `IMPORT "x"`)
	if scope.GetIdentifier("x") != nil {
		t.Error("import defined x in the engine's global scope")
	}
}

// ---------------------------------------------------------------------------
// Failure modes
// ---------------------------------------------------------------------------

func TestExecute_OpenFrameAtEnd(t *testing.T) {
	eng := testEngine(t)
	_, err := eng.Execute(program(t, `DEFINE "node" 0 0`))
	if !errors.Is(err, wferr.ErrInvalidProgram) {
		t.Errorf("err = %v, want ErrInvalidProgram", err)
	}
}

func TestExecute_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"define arity", `DEFINE "node" 0`},
		{"set outside define", `SET "X" 1`},
		{"end without define", `END`},
		{"element outside list", `ELEMENT 1`},
		{"list end without start", `LIST_END`},
		{"pop empty stack", `RET _stack()`},
		{"str outside block", `STR "x"`},
		{"nested start str", "START_STR\nSTART_STR"},
		{"negative id", `DEFINE "node" -1 0`},
	}
	eng := testEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Execute(program(t, tt.src))
			if !errors.Is(err, wferr.ErrInvalidProgram) {
				t.Errorf("err = %v, want ErrInvalidProgram", err)
			}
		})
	}
}

func TestExecute_UnknownOpcode(t *testing.T) {
	eng := testEngine(t)
	_, err := eng.Execute([]bytecode.Instruction{{Op: bytecode.Opcode(0x40)}})
	if !errors.Is(err, wferr.ErrResolution) {
		t.Errorf("err = %v, want ErrResolution", err)
	}
}

func TestExecute_ConversionFailure(t *testing.T) {
	eng := testEngine(t)
	_, err := eng.Execute(program(t, `
DEFINE "Vector2" 0 0
SET "Y" 300
END
`))
	if !errors.Is(err, wferr.ErrConversion) {
		t.Errorf("err = %v, want ErrConversion", err)
	}
}

// ---------------------------------------------------------------------------
// Progress and streams
// ---------------------------------------------------------------------------

func TestExecute_Progress(t *testing.T) {
	src := `
DEFINE "node" 0 0
SET "Name" "a"
DEFINE "node" 1 0
END
END
PROGRESS
RET 0
`
	tests := []struct {
		level ProgressLevel
		want  [][2]int
	}{
		{ProgressNone, [][2]int{{6, 7}}},
		{ProgressInstance, [][2]int{{5, 7}, {6, 7}}},
		{ProgressClassInstance, [][2]int{{4, 7}, {5, 7}, {6, 7}}},
		{ProgressField, [][2]int{{2, 7}, {4, 7}, {5, 7}, {6, 7}}},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var got [][2]int
			eng := testEngine(t, WithProgress(tt.level, func(cur, total int) {
				got = append(got, [2]int{cur, total})
			}))
			run(t, eng, src)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("progress = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseProgressLevel(t *testing.T) {
	for _, name := range []string{"none", "instance", "class-instance", "field"} {
		l, err := ParseProgressLevel(name)
		if err != nil {
			t.Fatalf("ParseProgressLevel(%q): %v", name, err)
		}
		if l.String() != name {
			t.Errorf("String() = %q, want %q", l.String(), name)
		}
	}
	if _, err := ParseProgressLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestExecuteStream_TextAndBinary(t *testing.T) {
	reg := testRegistry(t)
	eng := New(WithRegistry(reg), WithFilterCache(access.NewCache()))
	src := "DEFINE \"Vector2\" 0 0\nSET \"Y\" 7\nEND\nRET 0\nWF_ENDOFDATA\nthis line is never read\n"

	res, err := eng.ExecuteStream(bytecode.NewTextDecoder(strings.NewReader(src)))
	if err != nil {
		t.Fatalf("text stream: %v", err)
	}
	if v := res.Value.(*Vector2); v.Y != 7 {
		t.Errorf("text Y = %d", v.Y)
	}

	instrs := program(t, "DEFINE \"Vector2\" 0 0\nSET \"Y\" 7\nEND\nRET 0")
	data, err := bytecode.EncodeBinary(instrs, reg)
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}
	res, err = eng.ExecuteStream(bytecode.NewBinaryDecoder(strings.NewReader(string(data))))
	if err != nil {
		t.Fatalf("binary stream: %v", err)
	}
	if v := res.Value.(*Vector2); v.Y != 7 {
		t.Errorf("binary Y = %d", v.Y)
	}
}

func TestExecute_ConcurrentCalls(t *testing.T) {
	eng := testEngine(t)
	instrs := program(t, "DEFINE \"node\" 0 0\nSET \"Next\" _ref(0)\nEND\nRET 0")
	done := make(chan *node, 8)
	for i := 0; i < cap(done); i++ {
		go func() {
			res, err := eng.Execute(instrs)
			if err != nil {
				done <- nil
				return
			}
			done <- res.Value.(*node)
		}()
	}
	seen := make(map[*node]bool)
	for i := 0; i < cap(done); i++ {
		n := <-done
		if n == nil {
			t.Fatal("concurrent execution failed")
		}
		if seen[n] {
			t.Error("two executions returned the same instance")
		}
		seen[n] = true
	}
}
