package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"connectrpc.com/connect"

	"github.com/chazu/wireform/internal/wferr"
	"github.com/chazu/wireform/pkg/bytecode"
	"github.com/chazu/wireform/store"
	"github.com/chazu/wireform/vm"
)

// ExecutionService runs programs on the server's engine.
type ExecutionService struct {
	worker  *Worker
	handles *HandleStore
	lib     *store.Library
}

// NewExecutionService creates an ExecutionService. lib may be nil, in
// which case programs cannot be referenced by name.
func NewExecutionService(worker *Worker, handles *HandleStore, lib *store.Library) *ExecutionService {
	return &ExecutionService{worker: worker, handles: handles, lib: lib}
}

// Execute decodes and runs a program, returning a snapshot of its result.
func (s *ExecutionService) Execute(
	ctx context.Context,
	req *connect.Request[ExecuteRequest],
) (*connect.Response[ExecuteResponse], error) {
	instrs, err := s.instructions(req.Msg.Program)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		progress []ProgressReport
	)
	record := func(cur, total int) {
		mu.Lock()
		progress = append(progress, ProgressReport{Current: cur, Total: total})
		mu.Unlock()
	}

	v, err := s.worker.Do(ctx, func(e *vm.Engine) (any, error) {
		return e.With(vm.WithProgress(vm.ProgressInstance, record)).Execute(instrs)
	})
	if ctx.Err() != nil {
		return nil, connect.NewError(connect.CodeCanceled, ctx.Err())
	}

	resp := &ExecuteResponse{Progress: progress}
	if err != nil {
		resp.Error = err.Error()
		var ee *wferr.ExecutionError
		if errors.As(err, &ee) {
			resp.ErrorIndex = ee.Index
			resp.ErrorOp = ee.Op
		}
		return connect.NewResponse(resp), nil
	}

	res := v.(*vm.Result)
	doc := vm.Snapshot(res)
	resp.Success = true
	resp.Result = &doc
	if req.Msg.Keep {
		resp.Handle = s.handles.Create(res)
	}
	return connect.NewResponse(resp), nil
}

// Check decodes a program and reports format problems without running it.
func (s *ExecutionService) Check(
	ctx context.Context,
	req *connect.Request[CheckRequest],
) (*connect.Response[CheckResponse], error) {
	instrs, err := s.instructions(req.Msg.Program)
	if err == nil {
		return connect.NewResponse(&CheckResponse{Valid: true, Instructions: len(instrs)}), nil
	}
	var fe *wferr.FormatError
	if !errors.As(err, &fe) {
		return nil, err
	}
	d := Diagnostic{Message: fe.Msg, Line: fe.Line}
	if fe.Line == 0 && fe.Offset >= 0 {
		d.Offset = fe.Offset
	}
	return connect.NewResponse(&CheckResponse{Diagnostics: []Diagnostic{d}}), nil
}

// Disassemble renders a program as an annotated listing.
func (s *ExecutionService) Disassemble(
	ctx context.Context,
	req *connect.Request[DisassembleRequest],
) (*connect.Response[DisassembleResponse], error) {
	instrs, err := s.instructions(req.Msg.Program)
	if err != nil {
		return nil, err
	}
	name := req.Msg.Program.Name
	if name == "" {
		name = "program"
	}
	return connect.NewResponse(&DisassembleResponse{Listing: bytecode.DisassembleWithName(instrs, name)}), nil
}

// Inspect returns one object of a retained result.
func (s *ExecutionService) Inspect(
	ctx context.Context,
	req *connect.Request[InspectRequest],
) (*connect.Response[InspectResponse], error) {
	res, ok := s.handles.Lookup(req.Msg.Handle)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", req.Msg.Handle))
	}

	id := req.Msg.ID
	if req.Msg.Alias != "" {
		aid, ok := res.Aliases[req.Msg.Alias]
		if !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("alias %q not found", req.Msg.Alias))
		}
		id = aid
	}
	for _, obj := range vm.Snapshot(res).Objects {
		if obj.ID == id {
			return connect.NewResponse(&InspectResponse{Object: obj}), nil
		}
	}
	return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("object %d not found", id))
}

// Release drops a retained result.
func (s *ExecutionService) Release(
	ctx context.Context,
	req *connect.Request[ReleaseRequest],
) (*connect.Response[ReleaseResponse], error) {
	return connect.NewResponse(&ReleaseResponse{Released: s.handles.Release(req.Msg.Handle)}), nil
}

// instructions decodes p, mapping failures to RPC errors.
func (s *ExecutionService) instructions(p Program) ([]bytecode.Instruction, error) {
	instrs, err := decodeProgram(p, s.lib)
	if err == nil {
		return instrs, nil
	}
	var fe *wferr.FormatError
	switch {
	case errors.As(err, &fe):
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, store.ErrNotFound):
		return nil, connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, errNoProgram):
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return nil, connect.NewError(connect.CodeInternal, err)
}

var errNoProgram = errors.New("exactly one of text, binary and name is required")

func decodeProgram(p Program, lib *store.Library) ([]bytecode.Instruction, error) {
	set := 0
	for _, ok := range []bool{p.Text != "", len(p.Binary) > 0, p.Name != ""} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, errNoProgram
	}
	switch {
	case p.Text != "":
		return bytecode.DecodeText([]byte(p.Text))
	case len(p.Binary) > 0:
		return bytecode.DecodeBinary(p.Binary)
	}
	if lib == nil {
		return nil, fmt.Errorf("program %s: %w", p.Name, store.ErrNotFound)
	}
	return lib.Program(p.Name)
}
