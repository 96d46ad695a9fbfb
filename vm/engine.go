package vm

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/wireform/access"
	"github.com/chazu/wireform/internal/wferr"
	"github.com/chazu/wireform/pkg/bytecode"
	"github.com/chazu/wireform/pkg/runtime"
)

// DefaultMaxDepth bounds nested template calls and lazy evaluations.
const DefaultMaxDepth = 256

// ProgressLevel selects which milestones besides PROGRESS opcodes are
// reported.
type ProgressLevel int

const (
	ProgressNone          ProgressLevel = iota // PROGRESS opcodes only
	ProgressInstance                           // plus every top-level END
	ProgressClassInstance                      // plus every END and LIST_END
	ProgressField                              // plus every member assignment and element
)

var progressLevelNames = map[string]ProgressLevel{
	"none":           ProgressNone,
	"instance":       ProgressInstance,
	"class-instance": ProgressClassInstance,
	"field":          ProgressField,
}

// ParseProgressLevel accepts none, instance, class-instance or field.
func ParseProgressLevel(s string) (ProgressLevel, error) {
	if l, ok := progressLevelNames[s]; ok {
		return l, nil
	}
	return ProgressNone, fmt.Errorf("unknown progress level %q", s)
}

func (l ProgressLevel) String() string {
	for name, v := range progressLevelNames {
		if v == l {
			return name
		}
	}
	return fmt.Sprintf("ProgressLevel(%d)", int(l))
}

// ProgressFunc receives (current, total) instruction positions. It is
// advisory and cannot stop execution.
type ProgressFunc func(current, total int)

// Importer supplies values for IMPORT. A result may be an instruction
// sequence (executed, its result imported), a *runtime.Template or
// *runtime.TemplateGroup (defined in scope), or any other value (bound as a
// variable).
type Importer interface {
	Import(name string) (any, error)
}

// ImporterFunc adapts a function to Importer.
type ImporterFunc func(name string) (any, error)

func (f ImporterFunc) Import(name string) (any, error) { return f(name) }

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Engine interprets instruction sequences. An Engine is immutable after New
// and safe for concurrent Execute calls; each call gets its own object
// table, alias table and root scope.
type Engine struct {
	registry      *TypeRegistry
	filters       *access.Cache
	filterKind    access.Kind
	progressLevel ProgressLevel
	progress      ProgressFunc
	importer      Importer
	scope         *runtime.Scope
	log           commonlog.Logger
	implicitEmpty bool
	maxDepth      int
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry sets the type registry. Defaults to a fresh registry with
// only builtin types.
func WithRegistry(r *TypeRegistry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithFilterKind sets the default kind for filters created on first use.
// Defaults to Blacklist, which allows every member not explicitly governed.
func WithFilterKind(k access.Kind) Option {
	return func(e *Engine) { e.filterKind = k }
}

// WithFilterCache sets the filter cache. Defaults to access.Default.
func WithFilterCache(c *access.Cache) Option {
	return func(e *Engine) { e.filters = c }
}

// WithProgress installs a progress callback reporting at level.
func WithProgress(level ProgressLevel, fn ProgressFunc) Option {
	return func(e *Engine) {
		e.progressLevel = level
		e.progress = fn
	}
}

// WithImporter sets the source for IMPORT.
func WithImporter(imp Importer) Option {
	return func(e *Engine) { e.importer = imp }
}

// WithScope sets the global scope. Every execution runs in a child of it,
// so programs can read its variables and call its templates but their own
// definitions do not leak back.
func WithScope(s *runtime.Scope) Option {
	return func(e *Engine) { e.scope = s }
}

// WithLogger overrides the engine logger.
func WithLogger(l commonlog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithImplicitEmptyCalls makes template calls with no matching overload
// yield null instead of failing.
func WithImplicitEmptyCalls(on bool) Option {
	return func(e *Engine) { e.implicitEmpty = on }
}

// WithMaxDepth bounds nested template calls.
func WithMaxDepth(n int) Option {
	return func(e *Engine) { e.maxDepth = n }
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		filterKind: access.Blacklist,
		maxDepth:   DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewTypeRegistry()
	}
	if e.filters == nil {
		e.filters = access.Default
	}
	if e.scope == nil {
		e.scope = runtime.NewScope(nil)
	}
	if e.log == nil {
		e.log = commonlog.GetLogger("wireform.vm")
	}
	return e
}

// With returns a copy of e with opts applied on top of its settings. The
// copy shares the registry, filter cache and global scope unless opts
// replace them.
func (e *Engine) With(opts ...Option) *Engine {
	c := *e
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Registry returns the engine's type registry.
func (e *Engine) Registry() *TypeRegistry { return e.registry }

// Scope returns the global scope.
func (e *Engine) Scope() *runtime.Scope { return e.scope }

// Filters returns the engine's filter cache.
func (e *Engine) Filters() *access.Cache { return e.filters }

// execution is the per-call context shared by the top-level body and every
// nested template call it makes.
type execution struct {
	eng   *Engine
	id    uuid.UUID
	total int
}

// Execute interprets instrs and returns the reconstructed value together
// with every materialized object. Any failure aborts the whole execution
// with a *wferr.ExecutionError and no partial result.
func (e *Engine) Execute(instrs []bytecode.Instruction) (*Result, error) {
	exec := &execution{eng: e, id: uuid.New(), total: len(instrs)}
	start := time.Now()
	e.log.Infof("execution %s: %d instructions", exec.id, len(instrs))

	st := newState(exec, runtime.NewScope(e.scope), 0)
	value, err := st.run(instrs)
	if err != nil {
		e.log.Warningf("execution %s failed: %s", exec.id, err)
		return nil, err
	}

	res := &Result{
		Value:   value,
		Objects: st.objects.snapshot(),
		Aliases: make(map[string]int32, len(st.aliases)),
		reg:     e.registry,
	}
	res.ID, res.HasID = st.resultID, st.hasID
	for k, v := range st.aliases {
		res.Aliases[k] = v
	}
	e.log.Infof("execution %s: %d objects in %s", exec.id, len(res.Objects), time.Since(start))
	return res, nil
}

// ExecuteStream drains d and executes what it read. Decoding stops at
// END_OF_DATA or the natural end of input; format errors are returned
// before anything runs.
func (e *Engine) ExecuteStream(d bytecode.Decoder) (*Result, error) {
	instrs, err := bytecode.ReadAll(d)
	if err != nil {
		return nil, err
	}
	return e.Execute(instrs)
}

// ExecuteAs executes instrs and coerces the result to T.
func ExecuteAs[T any](e *Engine, instrs []bytecode.Instruction) (T, error) {
	var out T
	res, err := e.Execute(instrs)
	if err != nil {
		return out, err
	}
	err = res.Decode(&out)
	return out, err
}

// ---------------------------------------------------------------------------
// Result
// ---------------------------------------------------------------------------

// Result is the outcome of one execution.
type Result struct {
	// Value is what RET yielded, or the construction stack's content when
	// the program ended without RET: nil when empty, the single value, or
	// []any bottom to top.
	Value any
	// ID is the object-table id RET named, when it named one.
	ID    int32
	HasID bool
	// Objects holds every materialized object keyed by id.
	Objects map[int32]any
	// Aliases maps ALIAS names to ids.
	Aliases map[string]int32

	reg *TypeRegistry
}

// Object returns the object bound to id.
func (r *Result) Object(id int32) (any, bool) {
	v, ok := r.Objects[id]
	return v, ok
}

// Alias returns the object an alias names.
func (r *Result) Alias(name string) (any, bool) {
	id, ok := r.Aliases[name]
	if !ok {
		return nil, false
	}
	return r.Object(id)
}

// Decode coerces Value into the variable out points to, e.g. a []any
// collection into []int, or a *Vector2 into a Vector2.
func (r *Result) Decode(out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", out)
	}
	reg := r.reg
	if reg == nil {
		reg = NewTypeRegistry()
	}
	t := rv.Elem().Type()
	v, err := reg.Coerce(r.Value, t)
	if err != nil {
		return err
	}
	rv.Elem().Set(valueOf(v, t))
	return nil
}

// ---------------------------------------------------------------------------
// Template invocation and lazy defaults
// ---------------------------------------------------------------------------

// Invoke runs a template body in scope on a fresh state one level deeper.
func (s *state) Invoke(t *runtime.Template, scope *runtime.Scope) (any, error) {
	return s.nested(t.Body, scope, "template "+t.Name)
}

// Evaluate runs a lazy default body. A nil scope means the caller's.
func (s *state) Evaluate(body []bytecode.Instruction, scope *runtime.Scope) (any, error) {
	if scope == nil {
		scope = s.scope
	}
	return s.nested(body, runtime.NewScope(scope), "lazy default")
}

// ExecutionKey ties nested states of one execution together so a lazy
// default that reads itself is reported instead of deadlocking.
func (s *state) ExecutionKey() any { return s.exec }

func (s *state) nested(body []bytecode.Instruction, scope *runtime.Scope, what string) (any, error) {
	if s.depth+1 > s.eng.maxDepth {
		return nil, wferr.NewInvalidProgramError("%s exceeds maximum call depth %d", what, s.eng.maxDepth)
	}
	s.eng.log.Debugf("execution %s: enter %s at depth %d", s.exec.id, what, s.depth+1)
	child := newState(s.exec, scope, s.depth+1)
	return child.run(body)
}

// ---------------------------------------------------------------------------
// Progress
// ---------------------------------------------------------------------------

type milestone int

const (
	milestoneTopInstance milestone = iota
	milestoneInstance
	milestoneField
)

func (s *state) report(m milestone) {
	e := s.eng
	if e.progress == nil {
		return
	}
	var report bool
	switch m {
	case milestoneTopInstance:
		report = e.progressLevel >= ProgressInstance
	case milestoneInstance:
		report = e.progressLevel >= ProgressClassInstance
	case milestoneField:
		report = e.progressLevel >= ProgressField
	}
	if report {
		e.progress(s.index+1, len(s.body))
	}
}
