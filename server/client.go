package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/chazu/wireform/internal/codec"
)

// Client calls a WireformServer.
type Client struct {
	execute     *connect.Client[ExecuteRequest, ExecuteResponse]
	check       *connect.Client[CheckRequest, CheckResponse]
	disassemble *connect.Client[DisassembleRequest, DisassembleResponse]
	inspect     *connect.Client[InspectRequest, InspectResponse]
	release     *connect.Client[ReleaseRequest, ReleaseResponse]
	list        *connect.Client[ListProgramsRequest, ListProgramsResponse]
	put         *connect.Client[PutProgramRequest, PutProgramResponse]
	del         *connect.Client[DeleteProgramRequest, DeleteProgramResponse]
}

// NewClient creates a client for the server at baseURL, encoding request
// bodies with c.
func NewClient(httpClient connect.HTTPClient, baseURL string, c codec.Codec) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opt := connect.WithCodec(c)
	return &Client{
		execute:     connect.NewClient[ExecuteRequest, ExecuteResponse](httpClient, baseURL+ExecuteProcedure, opt),
		check:       connect.NewClient[CheckRequest, CheckResponse](httpClient, baseURL+CheckProcedure, opt),
		disassemble: connect.NewClient[DisassembleRequest, DisassembleResponse](httpClient, baseURL+DisassembleProcedure, opt),
		inspect:     connect.NewClient[InspectRequest, InspectResponse](httpClient, baseURL+InspectProcedure, opt),
		release:     connect.NewClient[ReleaseRequest, ReleaseResponse](httpClient, baseURL+ReleaseProcedure, opt),
		list:        connect.NewClient[ListProgramsRequest, ListProgramsResponse](httpClient, baseURL+ListProgramsProcedure, opt),
		put:         connect.NewClient[PutProgramRequest, PutProgramResponse](httpClient, baseURL+PutProgramProcedure, opt),
		del:         connect.NewClient[DeleteProgramRequest, DeleteProgramResponse](httpClient, baseURL+DeleteProgramProcedure, opt),
	}
}

// Execute runs a program remotely.
func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	return call(ctx, c.execute, req)
}

// Check decodes a program remotely.
func (c *Client) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	return call(ctx, c.check, req)
}

// Disassemble renders a program remotely.
func (c *Client) Disassemble(ctx context.Context, req *DisassembleRequest) (*DisassembleResponse, error) {
	return call(ctx, c.disassemble, req)
}

// Inspect reads one object of a retained result.
func (c *Client) Inspect(ctx context.Context, req *InspectRequest) (*InspectResponse, error) {
	return call(ctx, c.inspect, req)
}

// Release drops a retained result.
func (c *Client) Release(ctx context.Context, req *ReleaseRequest) (*ReleaseResponse, error) {
	return call(ctx, c.release, req)
}

// ListPrograms lists library programs.
func (c *Client) ListPrograms(ctx context.Context) (*ListProgramsResponse, error) {
	return call(ctx, c.list, &ListProgramsRequest{})
}

// PutProgram stores a program in the library.
func (c *Client) PutProgram(ctx context.Context, req *PutProgramRequest) (*PutProgramResponse, error) {
	return call(ctx, c.put, req)
}

// DeleteProgram removes a library program.
func (c *Client) DeleteProgram(ctx context.Context, name string) error {
	_, err := call(ctx, c.del, &DeleteProgramRequest{Name: name})
	return err
}

func call[Req, Res any](ctx context.Context, cl *connect.Client[Req, Res], req *Req) (*Res, error) {
	resp, err := cl.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
