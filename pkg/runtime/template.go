package runtime

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/chazu/wireform/internal/wferr"
	"github.com/chazu/wireform/pkg/bytecode"
)

// Param is one template parameter. A nil Type accepts any argument.
type Param struct {
	Name string
	Type reflect.Type
}

// Template is a named, parameter-typed instruction body. Templates are
// immutable once added to a group.
type Template struct {
	Name   string
	Params []Param
	Body   []bytecode.Instruction
	Scope  *Scope // defining scope, cloned for every call
}

// Signature renders the parameter list, e.g. "(int32, string)".
func (t *Template) Signature() string {
	types := make([]reflect.Type, len(t.Params))
	for i, p := range t.Params {
		types[i] = p.Type
	}
	return formatSignature(types)
}

func formatSignature(types []reflect.Type) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = typeName(t)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "any"
	}
	return t.String()
}

// Coercer converts a call argument to a parameter type. The engine's type
// registry implements it.
type Coercer interface {
	Coerce(v any, t reflect.Type) (any, error)
}

// Invoker runs a template body in a prepared call scope. Implementations
// make scope the current scope for the duration of the call and restore
// the previous one on return, including on failure.
type Invoker interface {
	Invoke(t *Template, scope *Scope) (any, error)
}

// TemplateGroup is the overload set for one template name. It is safe for
// concurrent use.
type TemplateGroup struct {
	Name string

	mu        sync.RWMutex
	templates []*Template
}

// NewTemplateGroup creates an empty group.
func NewTemplateGroup(name string) *TemplateGroup {
	return &TemplateGroup{Name: name}
}

// Add appends t to the group. It fails with *wferr.AmbiguousTemplateError
// when an existing template has the same arity and every parameter type
// pair is identical or assignable in either direction.
func (g *TemplateGroup) Add(t *Template) error {
	if t.Name == "" {
		t.Name = g.Name
	}
	if t.Name != g.Name {
		return fmt.Errorf("template %q cannot join group %q", t.Name, g.Name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.templates {
		if ambiguous(existing.Params, t.Params) {
			return &wferr.AmbiguousTemplateError{
				Name:     g.Name,
				New:      t.Signature(),
				Existing: existing.Signature(),
			}
		}
	}
	g.templates = append(g.templates, t)
	return nil
}

func ambiguous(a, b []Param) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !overlaps(a[i].Type, b[i].Type) {
			return false
		}
	}
	return true
}

func overlaps(a, b reflect.Type) bool {
	if a == nil || b == nil || a == b {
		return true
	}
	return a.AssignableTo(b) || b.AssignableTo(a)
}

// Templates returns the overloads in definition order.
func (g *TemplateGroup) Templates() []*Template {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Template, len(g.templates))
	copy(out, g.templates)
	return out
}

// Len returns the number of overloads.
func (g *TemplateGroup) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.templates)
}

// Signatures lists every overload signature.
func (g *TemplateGroup) Signatures() []string {
	ts := g.Templates()
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Signature()
	}
	return out
}

func (g *TemplateGroup) copy() *TemplateGroup {
	return &TemplateGroup{Name: g.Name, templates: g.Templates()}
}

// Resolve returns the first overload whose arity matches and whose
// parameters all accept the coerced arguments, together with the coerced
// arguments.
func (g *TemplateGroup) Resolve(args []any, co Coercer) (*Template, []any, bool) {
	for _, t := range g.Templates() {
		if len(t.Params) != len(args) {
			continue
		}
		coerced, ok := coerceArgs(t.Params, args, co)
		if ok {
			return t, coerced, true
		}
	}
	return nil, nil, false
}

func coerceArgs(params []Param, args []any, co Coercer) ([]any, bool) {
	out := make([]any, len(args))
	for i, p := range params {
		if p.Type == nil {
			out[i] = args[i]
			continue
		}
		if co == nil {
			if args[i] == nil || !reflect.TypeOf(args[i]).AssignableTo(p.Type) {
				return nil, false
			}
			out[i] = args[i]
			continue
		}
		v, err := co.Coerce(args[i], p.Type)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// TryCall resolves an overload for args and invokes it. The call scope is a
// clone of the template's defining scope with a fresh child holding the
// parameters. When nothing matches, TryCall fails with *wferr.SignatureError,
// or returns (nil, nil) if implicitEmpty is set.
func (g *TemplateGroup) TryCall(args []any, co Coercer, inv Invoker, implicitEmpty bool) (any, error) {
	t, coerced, ok := g.Resolve(args, co)
	if !ok {
		if implicitEmpty {
			return nil, nil
		}
		return nil, &wferr.SignatureError{
			Name:      g.Name,
			Attempted: argSignature(args),
			Available: g.Signatures(),
		}
	}

	var base *Scope
	if t.Scope != nil {
		base = t.Scope.Clone()
	}
	call := NewScope(base)
	for i, p := range t.Params {
		v := NewVariable(p.Name, coerced[i])
		v.Type = p.Type
		call.DefineVariable(v)
	}
	return inv.Invoke(t, call)
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
