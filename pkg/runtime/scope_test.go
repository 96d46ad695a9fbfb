package runtime

import (
	"errors"
	"reflect"
	"testing"

	"github.com/chazu/wireform/internal/wferr"
	"github.com/chazu/wireform/pkg/bytecode"
)

func TestScopeLexicalLookup(t *testing.T) {
	root := NewScope(nil)
	root.SetVariable("x", 1)
	root.SetVariable("y", 2)

	child := NewScope(root)
	child.SetVariable("x", 10)

	v, ok := child.LookupVariable("x")
	if !ok || v.value != 10 {
		t.Errorf("child x = %v, want 10", v.value)
	}
	v, ok = child.LookupVariable("y")
	if !ok || v.value != 2 {
		t.Errorf("child y = %v, want 2 (from parent)", v.value)
	}
	if _, ok := child.LookupVariable("z"); ok {
		t.Error("LookupVariable(z) found a variable")
	}
	if got := child.GetIdentifier("missing"); got != nil {
		t.Errorf("GetIdentifier(missing) = %v, want nil", got)
	}
	if child.Root() != root || child.Depth() != 1 {
		t.Errorf("Root/Depth wrong: depth %d", child.Depth())
	}
}

func TestScopeDefineVariableMerges(t *testing.T) {
	s := NewScope(nil)
	first := s.SetVariable("v", "a")
	second := s.DefineVariable(NewVariable("v", "b"))
	if first != second {
		t.Fatal("DefineVariable replaced the existing variable instead of merging")
	}
	got, _ := first.Get(nil)
	if got != "b" {
		t.Errorf("merged value = %v, want b", got)
	}
}

func TestScopeGetIdentifierKinds(t *testing.T) {
	s := NewScope(nil)
	s.SetVariable("v", 1)
	if err := s.DefineTemplate(&Template{Name: "f"}); err != nil {
		t.Fatal(err)
	}
	geo := s.DefineContainer("geo")
	geo.SetVariable("origin", "0,0")
	inner := geo.DefineContainer("inner")
	inner.SetVariable("deep", true)

	if _, ok := s.GetIdentifier("v").(*Variable); !ok {
		t.Error("v is not a *Variable")
	}
	if _, ok := s.GetIdentifier("f").(*TemplateGroup); !ok {
		t.Error("f is not a *TemplateGroup")
	}
	if c, ok := s.GetIdentifier("geo").(*Scope); !ok || c != geo {
		t.Error("geo is not the container scope")
	}

	child := NewScope(s)
	v, ok := child.GetIdentifier("geo.origin").(*Variable)
	if !ok || v.value != "0,0" {
		t.Errorf("geo.origin = %v", child.GetIdentifier("geo.origin"))
	}
	if v, ok := child.GetIdentifier("geo.inner.deep").(*Variable); !ok || v.value != true {
		t.Error("geo.inner.deep not found")
	}
	if got := child.GetIdentifier("geo.v"); got != nil {
		t.Errorf("dotted lookup walked out of the container: %v", got)
	}
	if got := child.GetIdentifier("nope.v"); got != nil {
		t.Errorf("GetIdentifier(nope.v) = %v, want nil", got)
	}
	if geo.DefineContainer("inner") != inner {
		t.Error("DefineContainer did not return the existing container")
	}
}

func TestScopeCloneIsolation(t *testing.T) {
	root := NewScope(nil)
	s := NewScope(root)
	s.SetVariable("counter", 1)
	c := s.DefineContainer("box")
	c.SetVariable("item", "a")

	clone := s.Clone()
	if clone.Parent() != root {
		t.Error("clone does not share the parent")
	}
	cv, _ := clone.LookupVariable("counter")
	cv.Set(2)
	ov, _ := s.LookupVariable("counter")
	if got, _ := ov.Get(nil); got != 1 {
		t.Errorf("original counter = %v after clone mutation, want 1", got)
	}

	item := clone.GetIdentifier("box.item").(*Variable)
	item.Set("b")
	if got := s.GetIdentifier("box.item").(*Variable).value; got != "a" {
		t.Errorf("original box.item = %v, want a", got)
	}
	box := clone.GetIdentifier("box").(*Scope)
	if box.Parent() != clone {
		t.Error("cloned container is not parented to the clone")
	}
}

func TestScopeNames(t *testing.T) {
	s := NewScope(nil)
	s.SetVariable("b", 1)
	s.DefineContainer("c")
	if err := s.DefineTemplate(&Template{Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if got, want := s.Names(), []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

type countingEvaluator struct {
	calls int
	fail  bool
	seen  *Scope
}

func (e *countingEvaluator) Evaluate(body []bytecode.Instruction, scope *Scope) (any, error) {
	e.calls++
	e.seen = scope
	if e.fail {
		return nil, errors.New("boom")
	}
	return len(body), nil
}

func TestVariableLazyDefault(t *testing.T) {
	s := NewScope(nil)
	body := []bytecode.Instruction{bytecode.Ret(bytecode.Number("1")), bytecode.End()}
	v := s.DefineVariable(NewLazyVariable("lazy", body))
	if v.IsSet() || !v.HasDefault() {
		t.Fatal("lazy variable should start unset with a default")
	}

	ev := &countingEvaluator{fail: true}
	if _, err := v.Get(ev); err == nil {
		t.Fatal("expected evaluation error")
	}
	if v.IsSet() {
		t.Error("failed evaluation was cached")
	}

	ev.fail = false
	for i := 0; i < 3; i++ {
		got, err := v.Get(ev)
		if err != nil {
			t.Fatal(err)
		}
		if got != 2 {
			t.Errorf("Get() = %v, want 2", got)
		}
	}
	if ev.calls != 2 {
		t.Errorf("evaluator called %d times, want 2 (one failure, one success)", ev.calls)
	}
	if ev.seen != s {
		t.Error("default evaluated outside its defining scope")
	}
}

// rereadEvaluator resolves every default by reading target again.
type rereadEvaluator struct {
	target *Variable
	calls  int
}

func (e *rereadEvaluator) Evaluate(body []bytecode.Instruction, scope *Scope) (any, error) {
	e.calls++
	if e.calls > 10 {
		return nil, errors.New("runaway evaluation")
	}
	return e.target.Get(e)
}

func TestVariableCyclicDefault(t *testing.T) {
	body := []bytecode.Instruction{bytecode.NewInstruction(bytecode.OpAccess, "x")}
	x := NewLazyVariable("x", body)
	ev := &rereadEvaluator{target: x}

	_, err := x.Get(ev)
	if !errors.Is(err, wferr.ErrInvalidProgram) {
		t.Fatalf("Get() err = %v, want ErrInvalidProgram", err)
	}
	if ev.calls != 1 {
		t.Errorf("evaluator called %d times, want 1", ev.calls)
	}
	if x.IsSet() {
		t.Error("cyclic evaluation was cached")
	}

	// The variable is usable again once the cycle is gone.
	x.Set("done")
	if got, err := x.Get(ev); err != nil || got != "done" {
		t.Errorf("Get() = %v, %v; want done", got, err)
	}
}

func TestVariableIndirectCycle(t *testing.T) {
	body := []bytecode.Instruction{bytecode.NewInstruction(bytecode.OpAccess, "other")}
	a := NewLazyVariable("a", body)
	b := NewLazyVariable("b", body)
	ev := &pairEvaluator{next: map[*Variable]*Variable{}}
	ev.next[a], ev.next[b] = b, a
	ev.current = a

	if _, err := a.Get(ev); !errors.Is(err, wferr.ErrInvalidProgram) {
		t.Errorf("Get() err = %v, want ErrInvalidProgram", err)
	}
}

// pairEvaluator alternates between variables that read each other.
type pairEvaluator struct {
	next    map[*Variable]*Variable
	current *Variable
}

func (e *pairEvaluator) Evaluate(body []bytecode.Instruction, scope *Scope) (any, error) {
	e.current = e.next[e.current]
	return e.current.Get(e)
}

func TestVariableLiteralDefault(t *testing.T) {
	v := NewLazyVariable("d", 42)
	got, err := v.Get(nil)
	if err != nil || got != 42 {
		t.Errorf("Get() = %v, %v; want 42", got, err)
	}
}
