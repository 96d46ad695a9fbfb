package runtime

import (
	"reflect"
	"sync"

	"github.com/chazu/wireform/internal/wferr"
	"github.com/chazu/wireform/pkg/bytecode"
)

// Evaluator runs an instruction body and returns the value it yields. The
// engine supplies one to resolve lazy variable defaults.
//
// An evaluator whose nested calls belong to one logical run should also
// implement ExecutionKey() any, returning the same comparable value at every
// level. Otherwise the evaluator itself is the key.
type Evaluator interface {
	Evaluate(body []bytecode.Instruction, scope *Scope) (any, error)
}

type executionKeyer interface {
	ExecutionKey() any
}

func evaluationKey(ev Evaluator) any {
	if k, ok := ev.(executionKeyer); ok {
		return k.ExecutionKey()
	}
	return ev
}

// Variable is a named value in a Scope. A variable may carry a default that
// is resolved on first read: either a literal or an instruction body.
type Variable struct {
	Name string
	Type reflect.Type // declared type, nil for untyped

	mu      sync.Mutex
	value   any
	set     bool
	def     any
	hasDef  bool
	defined *Scope // scope lazy bodies evaluate in

	evaluating map[any]struct{} // runs currently evaluating the default
}

// NewVariable creates a variable holding value.
func NewVariable(name string, value any) *Variable {
	return &Variable{Name: name, value: value, set: true}
}

// NewLazyVariable creates a variable whose value is def, evaluated on first
// Get when def is a []bytecode.Instruction.
func NewLazyVariable(name string, def any) *Variable {
	return &Variable{Name: name, def: def, hasDef: true}
}

// Get returns the current value, evaluating the default on first use. A
// failed evaluation is not cached. The lock is not held while the default
// runs; a run that reads the variable again from inside its own default
// fails with wferr.ErrInvalidProgram. Concurrent runs evaluate independently
// and the first result stored wins.
func (v *Variable) Get(ev Evaluator) (any, error) {
	v.mu.Lock()
	if v.set || !v.hasDef {
		val := v.value
		v.mu.Unlock()
		return val, nil
	}
	body, ok := v.def.([]bytecode.Instruction)
	if !ok {
		v.value, v.set = v.def, true
		v.mu.Unlock()
		return v.def, nil
	}
	if ev == nil {
		v.mu.Unlock()
		return nil, nil
	}
	key := evaluationKey(ev)
	if _, busy := v.evaluating[key]; busy {
		v.mu.Unlock()
		return nil, wferr.NewInvalidProgramError("cyclic lazy default for variable %q", v.Name)
	}
	if v.evaluating == nil {
		v.evaluating = make(map[any]struct{})
	}
	v.evaluating[key] = struct{}{}
	scope := v.defined
	v.mu.Unlock()

	val, err := ev.Evaluate(body, scope)

	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.evaluating, key)
	if err != nil {
		return nil, err
	}
	if v.set {
		return v.value, nil
	}
	v.value, v.set = val, true
	return val, nil
}

// Set assigns a value, discarding any pending default.
func (v *Variable) Set(value any) {
	v.mu.Lock()
	v.value, v.set = value, true
	v.mu.Unlock()
}

// IsSet reports whether the variable holds a value rather than a pending
// default.
func (v *Variable) IsSet() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.set
}

// HasDefault reports whether the variable was created with a default.
func (v *Variable) HasDefault() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hasDef
}

func (v *Variable) clone(owner *Scope) *Variable {
	v.mu.Lock()
	defer v.mu.Unlock()
	return &Variable{
		Name:    v.Name,
		Type:    v.Type,
		value:   v.value,
		set:     v.set,
		def:     v.def,
		hasDef:  v.hasDef,
		defined: owner,
	}
}

// merge folds other into v: a value replaces the current value, a default
// replaces a pending default.
func (v *Variable) merge(other *Variable) {
	other.mu.Lock()
	value, set, def, hasDef, typ := other.value, other.set, other.def, other.hasDef, other.Type
	other.mu.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if typ != nil {
		v.Type = typ
	}
	if set {
		v.value, v.set = value, true
		return
	}
	if hasDef {
		v.def, v.hasDef = def, true
		v.set = false
		v.value = nil
	}
}
