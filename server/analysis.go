package server

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/chazu/wireform/internal/wferr"
	"github.com/chazu/wireform/pkg/bytecode"
)

// severity mirrors the LSP diagnostic severities the analysis produces.
type severity int

const (
	severityError severity = iota + 1
	severityWarning
)

// issue is a problem found on one line (0-based).
type issue struct {
	line     int
	severity severity
	msg      string
}

// analysis is the line-level view of a text program the language server
// works from. Unlike the decoder it keeps going after a bad line so every
// problem is reported at once.
type analysis struct {
	instrs map[int]bytecode.Instruction // by 0-based line
	defs   map[int32]int                // object id -> defining line
	refs   map[int32][]int              // object id -> referencing lines
	issues []issue
}

type openFrame struct {
	op   bytecode.Opcode
	line int
}

var refPattern = regexp.MustCompile(`_ref\((-?\d+)\)`)

func analyze(text string) *analysis {
	a := &analysis{
		instrs: make(map[int]bytecode.Instruction),
		defs:   make(map[int32]int),
		refs:   make(map[int32][]int),
	}
	var (
		frames   []openFrame
		inString = -1
		ended    = -1
	)

	for i, raw := range strings.Split(text, "\n") {
		in, ok, err := bytecode.ParseTextLine(raw, i+1)
		if err != nil {
			a.add(i, severityError, formatMessage(err))
			continue
		}
		if !ok {
			continue
		}
		if ended >= 0 {
			a.add(i, severityWarning, "instruction after WF_ENDOFDATA is never read")
		}
		a.instrs[i] = in
		a.checkArity(i, in)

		if inString >= 0 && in.Op != bytecode.OpStr && in.Op != bytecode.OpEndStr {
			a.add(i, severityError, fmt.Sprintf("%s inside a multi-line string", in.Op))
		}

		switch in.Op {
		case bytecode.OpDefine, bytecode.OpListStart:
			frames = append(frames, openFrame{in.Op, i})
		case bytecode.OpEnd, bytecode.OpListEnd:
			want := bytecode.OpDefine
			if in.Op == bytecode.OpListEnd {
				want = bytecode.OpListStart
			}
			if len(frames) == 0 {
				a.add(i, severityError, fmt.Sprintf("%s without an open %s", in.Op, want))
				break
			}
			top := frames[len(frames)-1]
			frames = frames[:len(frames)-1]
			if top.op != want {
				a.add(i, severityError, fmt.Sprintf("%s closes the %s opened on line %d", in.Op, top.op, top.line+1))
			}
		case bytecode.OpStartStr:
			if inString >= 0 {
				a.add(i, severityError, "nested START_STR")
			}
			inString = i
		case bytecode.OpStr:
			if inString < 0 {
				a.add(i, severityError, "STR outside a multi-line string")
			}
		case bytecode.OpEndStr:
			if inString < 0 {
				a.add(i, severityError, "END_STR without START_STR")
			}
			inString = -1
		case bytecode.OpEndOfData:
			ended = i
		}

		a.collectIDs(i, in)
	}

	for _, f := range frames {
		a.add(f.line, severityError, fmt.Sprintf("%s is never closed", f.op))
	}
	if inString >= 0 {
		a.add(inString, severityError, "multi-line string is never closed")
	}
	for id, lines := range a.refs {
		if _, ok := a.defs[id]; !ok {
			for _, l := range lines {
				a.add(l, severityWarning, fmt.Sprintf("object %d is never defined", id))
			}
		}
	}
	return a
}

func (a *analysis) add(line int, sev severity, msg string) {
	a.issues = append(a.issues, issue{line: line, severity: sev, msg: msg})
}

func (a *analysis) checkArity(line int, in bytecode.Instruction) {
	info := bytecode.GetOpcodeInfo(in.Op)
	n := len(in.Args)
	switch {
	case n < info.MinArgs:
		a.add(line, severityError, fmt.Sprintf("%s takes at least %d arguments, got %d", info.Name, info.MinArgs, n))
	case n > info.MaxArgs:
		a.add(line, severityError, fmt.Sprintf("%s takes at most %d arguments, got %d", info.Name, info.MaxArgs, n))
	}
}

// collectIDs records where ids are bound and where they are referenced.
func (a *analysis) collectIDs(line int, in bytecode.Instruction) {
	for _, arg := range in.Args {
		if r, ok := arg.(bytecode.Ref); ok {
			a.refs[int32(r)] = append(a.refs[int32(r)], line)
		}
	}

	bind := func(i int) {
		if i >= len(in.Args) {
			return
		}
		id, ok := idOf(in.Args[i])
		if !ok {
			return
		}
		if prev, dup := a.defs[id]; dup {
			a.add(line, severityError, fmt.Sprintf("object %d is already bound on line %d", id, prev+1))
			return
		}
		a.defs[id] = line
	}
	switch in.Op {
	case bytecode.OpDefine, bytecode.OpListStart, bytecode.OpPush, bytecode.OpImport:
		bind(1)
	case bytecode.OpAlias, bytecode.OpRet:
		if len(in.Args) > 0 {
			if id, ok := idOf(in.Args[0]); ok {
				a.refs[id] = append(a.refs[id], line)
			}
		}
	}
}

// idOf reads an integral id argument, as the engine would.
func idOf(arg any) (int32, bool) {
	switch v := arg.(type) {
	case int32:
		return v, true
	case bytecode.Number:
		if !v.IsIntegral() {
			return 0, false
		}
		n, err := v.Int64()
		if err != nil || n < 0 || n > 1<<31-1 {
			return 0, false
		}
		return int32(n), true
	}
	return 0, false
}

// refAt returns the id of the _ref(N) spanning column col of line.
func refAt(line string, col int) (int32, bool) {
	for _, m := range refPattern.FindAllStringSubmatchIndex(line, -1) {
		if col >= m[0] && col <= m[1] {
			var id int32
			if _, err := fmt.Sscanf(line[m[2]:m[3]], "%d", &id); err == nil {
				return id, true
			}
		}
	}
	return 0, false
}

func formatMessage(err error) string {
	var fe *wferr.FormatError
	if errors.As(err, &fe) {
		return fe.Msg
	}
	return err.Error()
}
