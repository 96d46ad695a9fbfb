package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/wireform/pkg/bytecode"
	"github.com/chazu/wireform/store"
	"github.com/chazu/wireform/vm"
)

// LibraryService manages the program library.
type LibraryService struct {
	lib *store.Library
	reg *vm.TypeRegistry
}

// NewLibraryService creates a LibraryService. reg resolves member types
// when programs are stored in binary form.
func NewLibraryService(lib *store.Library, reg *vm.TypeRegistry) *LibraryService {
	return &LibraryService{lib: lib, reg: reg}
}

// ListPrograms lists every stored program.
func (s *LibraryService) ListPrograms(
	ctx context.Context,
	req *connect.Request[ListProgramsRequest],
) (*connect.Response[ListProgramsResponse], error) {
	entries, err := s.lib.List()
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	resp := &ListProgramsResponse{Programs: make([]ProgramInfo, len(entries))}
	for i, e := range entries {
		resp.Programs[i] = ProgramInfo{
			Name:     e.Name,
			Encoding: string(e.Encoding),
			Hash:     e.Hash,
			Count:    e.Count,
			Updated:  e.Updated.Format(time.RFC3339),
		}
	}
	return connect.NewResponse(resp), nil
}

// PutProgram decodes and stores a program.
func (s *LibraryService) PutProgram(
	ctx context.Context,
	req *connect.Request[PutProgramRequest],
) (*connect.Response[PutProgramResponse], error) {
	if req.Msg.Name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name is required"))
	}
	if req.Msg.Program.Name != "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("program must be given as text or binary"))
	}
	instrs, err := decodeProgram(req.Msg.Program, nil)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	enc := bytecode.Encoding(req.Msg.Encoding)
	switch {
	case enc == "" && len(req.Msg.Program.Binary) > 0:
		enc = bytecode.EncodingBinary
	case enc == "":
		enc = bytecode.EncodingText
	}

	b, err := s.lib.PutProgram(req.Msg.Name, enc, instrs, s.reg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return connect.NewResponse(&PutProgramResponse{Hash: hex.EncodeToString(b.Hash[:]), Count: b.Count}), nil
}

// DeleteProgram removes a program.
func (s *LibraryService) DeleteProgram(
	ctx context.Context,
	req *connect.Request[DeleteProgramRequest],
) (*connect.Response[DeleteProgramResponse], error) {
	if err := s.lib.Delete(req.Msg.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&DeleteProgramResponse{}), nil
}
