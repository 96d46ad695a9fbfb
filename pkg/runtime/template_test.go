package runtime

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/chazu/wireform/internal/wferr"
)

var (
	intType    = reflect.TypeOf(int32(0))
	stringType = reflect.TypeOf("")
	readerType = reflect.TypeOf((*io.Reader)(nil)).Elem()
	bufferType = reflect.TypeOf(&bytes.Buffer{})
)

func tmpl(name string, types ...reflect.Type) *Template {
	t := &Template{Name: name}
	for i, typ := range types {
		t.Params = append(t.Params, Param{Name: string(rune('a' + i)), Type: typ})
	}
	return t
}

func TestTemplateGroupRejectsAmbiguous(t *testing.T) {
	tests := []struct {
		name     string
		existing []reflect.Type
		added    []reflect.Type
		wantErr  bool
	}{
		{"identical", []reflect.Type{intType}, []reflect.Type{intType}, true},
		{"different types", []reflect.Type{intType}, []reflect.Type{stringType}, false},
		{"different arity", []reflect.Type{intType}, []reflect.Type{intType, intType}, false},
		{"untyped overlaps", []reflect.Type{nil}, []reflect.Type{intType}, true},
		{"assignable", []reflect.Type{readerType}, []reflect.Type{bufferType}, true},
		{"one differing param", []reflect.Type{intType, intType}, []reflect.Type{intType, stringType}, false},
		{"no params twice", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewTemplateGroup("f")
			if err := g.Add(tmpl("f", tt.existing...)); err != nil {
				t.Fatalf("first Add: %v", err)
			}
			err := g.Add(tmpl("f", tt.added...))
			if tt.wantErr {
				if !errors.Is(err, wferr.ErrAmbiguousTemplate) {
					t.Errorf("Add error = %v, want ErrAmbiguousTemplate", err)
				}
				if g.Len() != 1 {
					t.Errorf("rejected template was added: Len = %d", g.Len())
				}
			} else if err != nil {
				t.Errorf("Add error = %v, want nil", err)
			}
		})
	}
}

func TestScopeDefineTemplateMergesGroups(t *testing.T) {
	s := NewScope(nil)
	if err := s.DefineTemplate(tmpl("f", intType)); err != nil {
		t.Fatal(err)
	}
	if err := s.DefineTemplate(tmpl("f", stringType)); err != nil {
		t.Fatal(err)
	}
	err := s.DefineTemplate(tmpl("f", intType))
	var amb *wferr.AmbiguousTemplateError
	if !errors.As(err, &amb) {
		t.Fatalf("error = %v, want *AmbiguousTemplateError", err)
	}
	if amb.New != "(int32)" || amb.Existing != "(int32)" {
		t.Errorf("error signatures = %s / %s", amb.New, amb.Existing)
	}
	g, ok := s.LookupTemplates("f")
	if !ok || g.Len() != 2 {
		t.Fatalf("group has %d overloads, want 2", g.Len())
	}
	if got := g.Templates()[0].Scope; got != s {
		t.Error("template did not capture its defining scope")
	}
}

type recordingInvoker struct {
	template *Template
	scope    *Scope
}

func (r *recordingInvoker) Invoke(t *Template, scope *Scope) (any, error) {
	r.template, r.scope = t, scope
	v, _ := scope.LookupVariable("a")
	got, _ := v.Get(nil)
	return got, nil
}

// strictCoercer only converts int to int32.
type strictCoercer struct{}

func (strictCoercer) Coerce(v any, t reflect.Type) (any, error) {
	if v != nil && reflect.TypeOf(v) == t {
		return v, nil
	}
	if i, ok := v.(int); ok && t == intType {
		return int32(i), nil
	}
	return nil, errors.New("no conversion")
}

func TestTemplateGroupTryCall(t *testing.T) {
	defining := NewScope(nil)
	defining.SetVariable("captured", "yes")
	g := NewTemplateGroup("f")
	ti := tmpl("f", intType)
	ti.Scope = defining
	ts := tmpl("f", stringType)
	if err := g.Add(ti); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(ts); err != nil {
		t.Fatal(err)
	}

	inv := &recordingInvoker{}
	got, err := g.TryCall([]any{7}, strictCoercer{}, inv, false)
	if err != nil {
		t.Fatalf("TryCall: %v", err)
	}
	if inv.template != ti {
		t.Error("wrong overload invoked")
	}
	if got != int32(7) {
		t.Errorf("bound parameter = %#v, want int32(7)", got)
	}
	if _, ok := inv.scope.LookupVariable("captured"); !ok {
		t.Error("call scope cannot see the defining scope")
	}
	if inv.scope.Parent() == defining {
		t.Error("call scope reused the defining scope instead of a clone")
	}

	if _, err := g.TryCall([]any{"s"}, strictCoercer{}, inv, false); err != nil || inv.template != ts {
		t.Errorf("string overload not selected: %v", err)
	}
}

func TestTemplateGroupTryCallNoMatch(t *testing.T) {
	g := NewTemplateGroup("f")
	if err := g.Add(tmpl("f", intType)); err != nil {
		t.Fatal(err)
	}
	inv := &recordingInvoker{}

	_, err := g.TryCall([]any{1.5}, strictCoercer{}, inv, false)
	var sig *wferr.SignatureError
	if !errors.As(err, &sig) {
		t.Fatalf("error = %v, want *SignatureError", err)
	}
	if sig.Attempted != "(float64)" {
		t.Errorf("Attempted = %q", sig.Attempted)
	}
	if !reflect.DeepEqual(sig.Available, []string{"(int32)"}) {
		t.Errorf("Available = %v", sig.Available)
	}

	got, err := g.TryCall([]any{1.5}, strictCoercer{}, inv, true)
	if got != nil || err != nil {
		t.Errorf("implicit empty call = %v, %v; want nil, nil", got, err)
	}
	if inv.template != nil {
		t.Error("implicit empty call invoked a template")
	}
}

func TestTemplateGroupFirstMatchWins(t *testing.T) {
	g := NewTemplateGroup("f")
	first := tmpl("f", intType, stringType)
	second := tmpl("f", stringType, intType)
	if err := g.Add(first); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(second); err != nil {
		t.Fatal(err)
	}
	tpl, args, ok := g.Resolve([]any{int32(1), "x"}, nil)
	if !ok || tpl != first {
		t.Fatal("Resolve did not pick the first compatible overload")
	}
	if args[0] != int32(1) || args[1] != "x" {
		t.Errorf("args = %v", args)
	}
	if _, _, ok := g.Resolve([]any{nil, "x"}, nil); ok {
		t.Error("nil argument matched a value-typed parameter without a coercer")
	}
}

func TestTemplateGroupRejectsForeignName(t *testing.T) {
	g := NewTemplateGroup("f")
	if err := g.Add(tmpl("g")); err == nil {
		t.Error("Add accepted a template with another name")
	}
	anon := &Template{}
	if err := g.Add(anon); err != nil || anon.Name != "f" {
		t.Errorf("unnamed template: err %v, name %q", err, anon.Name)
	}
}
