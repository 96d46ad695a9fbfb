package vm

import (
	"reflect"
	"strconv"

	"github.com/chazu/wireform/internal/wferr"
	"github.com/chazu/wireform/pkg/bytecode"
	"github.com/chazu/wireform/pkg/runtime"
)

// ---------------------------------------------------------------------------
// Object table
// ---------------------------------------------------------------------------

type slot struct {
	value any
	// collecting is set while a slice bound to the slot is still growing;
	// references to it are deferred as fixups run at LIST_END.
	collecting bool
	fixups     []func(any) error
}

// objectTable is the per-execution arena of slots indexed by id. A bound id
// is immutable for the rest of the execution.
type objectTable struct {
	slots map[int32]*slot
}

func newObjectTable() *objectTable {
	return &objectTable{slots: make(map[int32]*slot)}
}

// bind stores value under id. Rebinding fails.
func (t *objectTable) bind(id int32, value any) error {
	if id < 0 {
		return wferr.NewInvalidProgramError("negative id %d", id)
	}
	if _, ok := t.slots[id]; ok {
		return wferr.NewInvalidProgramError("id %d is already bound", id)
	}
	t.slots[id] = &slot{value: value}
	return nil
}

// complete marks id as finished, optionally replacing its value, and runs
// pending fixups.
func (t *objectTable) complete(id int32, value any) error {
	s, ok := t.slots[id]
	if !ok {
		return wferr.NewResolutionError("id", refName(id), "")
	}
	s.value, s.collecting = value, false
	fixups := s.fixups
	s.fixups = nil
	for _, f := range fixups {
		if err := f(value); err != nil {
			return err
		}
	}
	return nil
}

func (t *objectTable) get(id int32) (*slot, error) {
	s, ok := t.slots[id]
	if !ok {
		return nil, wferr.NewResolutionError("id", refName(id), "")
	}
	return s, nil
}

// snapshot returns every materialized object keyed by id.
func (t *objectTable) snapshot() map[int32]any {
	out := make(map[int32]any, len(t.slots))
	for id, s := range t.slots {
		out[id] = s.value
	}
	return out
}

func refName(id int32) string {
	return "_ref(" + strconv.Itoa(int(id)) + ")"
}

// ---------------------------------------------------------------------------
// Construction frames
// ---------------------------------------------------------------------------

type frameKind uint8

const (
	instanceFrame frameKind = iota
	listFrame
	mapFrame
)

// frame is one open DEFINE or LIST_START.
type frame struct {
	kind     frameKind
	id       int32
	hasID    bool
	desc     TypeDescriptor
	instance any

	elemType reflect.Type
	keyType  reflect.Type
	items    reflect.Value // slice under construction, or the map
}

// ---------------------------------------------------------------------------
// Execution state
// ---------------------------------------------------------------------------

// state is the mutable machine for one body: the top-level program, a
// template call, or a lazy default. Template and lazy bodies get their own
// state with a fresh object table.
type state struct {
	eng   *Engine
	exec  *execution
	depth int

	objects *objectTable
	aliases map[string]int32
	scope   *runtime.Scope

	stack  []any
	frames []*frame

	strLines []string
	inString bool

	result    any
	hasResult bool
	resultID  int32
	hasID     bool

	body  []bytecode.Instruction
	index int
}

func newState(exec *execution, scope *runtime.Scope, depth int) *state {
	return &state{
		eng:     exec.eng,
		exec:    exec,
		depth:   depth,
		objects: newObjectTable(),
		aliases: make(map[string]int32),
		scope:   scope,
	}
}

func (s *state) push(v any) { s.stack = append(s.stack, v) }

func (s *state) pop() (any, error) {
	if len(s.stack) == 0 {
		return nil, wferr.NewInvalidProgramError("construction stack is empty")
	}
	v := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return v, nil
}

// popN removes n values and returns them in push order.
func (s *state) popN(n int) ([]any, error) {
	if n < 0 || n > len(s.stack) {
		return nil, wferr.NewInvalidProgramError("need %d stacked values, have %d", n, len(s.stack))
	}
	out := make([]any, n)
	copy(out, s.stack[len(s.stack)-n:])
	s.stack = s.stack[:len(s.stack)-n]
	return out, nil
}

func (s *state) top() (*frame, bool) {
	if len(s.frames) == 0 {
		return nil, false
	}
	return s.frames[len(s.frames)-1], true
}

func (s *state) openInstance() (*frame, error) {
	f, ok := s.top()
	if !ok || f.kind != instanceFrame {
		return nil, wferr.NewInvalidProgramError("no instance under construction")
	}
	return f, nil
}

// resolveRef hands the value bound to id to assign. A slice still under
// construction is not yet addressable, so assign is deferred until its
// LIST_END.
func (s *state) resolveRef(id int32, assign func(any) error) error {
	sl, err := s.objects.get(id)
	if err != nil {
		return err
	}
	if sl.collecting {
		sl.fixups = append(sl.fixups, assign)
		return nil
	}
	return assign(sl.value)
}

// refValue returns the value bound to id for immediate use.
func (s *state) refValue(id int32) (any, error) {
	sl, err := s.objects.get(id)
	if err != nil {
		return nil, err
	}
	if sl.collecting {
		return nil, wferr.NewInvalidProgramError("collection %s is still under construction", refName(id))
	}
	return sl.value, nil
}
