package server

import (
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/wireform/internal/codec"
	"github.com/chazu/wireform/store"
	"github.com/chazu/wireform/vm"
)

// WireformServer serves the execution and library services over Connect
// (HTTP with JSON or MessagePack bodies).
type WireformServer struct {
	worker  *Worker
	handles *HandleStore
	mux     *http.ServeMux
	log     commonlog.Logger

	stopSweeper func()
}

// ServerOption configures a WireformServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	lib         *store.Library
	concurrency int
	handleTTL   time.Duration
}

// WithLibrary serves the program library and lets requests name stored
// programs. Without it the library service is not mounted.
func WithLibrary(lib *store.Library) ServerOption {
	return func(c *serverConfig) { c.lib = lib }
}

// WithConcurrency bounds concurrent executions. Defaults to 8.
func WithConcurrency(n int) ServerOption {
	return func(c *serverConfig) { c.concurrency = n }
}

// WithHandleTTL sets how long an unused retained result lives. Defaults to
// 30 minutes.
func WithHandleTTL(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.handleTTL = d }
}

// codecOptions registers the codecs every procedure accepts.
func codecOptions() []connect.HandlerOption {
	return []connect.HandlerOption{
		connect.WithCodec(codec.JSON{}),
		connect.WithCodec(codec.MsgPack{}),
	}
}

// New creates a WireformServer executing on e.
func New(e *vm.Engine, opts ...ServerOption) *WireformServer {
	cfg := &serverConfig{concurrency: 8, handleTTL: 30 * time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &WireformServer{
		worker:  NewWorker(e, cfg.concurrency),
		handles: NewHandleStore(),
		mux:     http.NewServeMux(),
		log:     commonlog.GetLogger("wireform.server"),
	}

	exec := NewExecutionService(s.worker, s.handles, cfg.lib)
	co := codecOptions()
	s.mux.Handle(ExecuteProcedure, connect.NewUnaryHandler(ExecuteProcedure, exec.Execute, co...))
	s.mux.Handle(CheckProcedure, connect.NewUnaryHandler(CheckProcedure, exec.Check, co...))
	s.mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, exec.Disassemble, co...))
	s.mux.Handle(InspectProcedure, connect.NewUnaryHandler(InspectProcedure, exec.Inspect, co...))
	s.mux.Handle(ReleaseProcedure, connect.NewUnaryHandler(ReleaseProcedure, exec.Release, co...))

	if cfg.lib != nil {
		lib := NewLibraryService(cfg.lib, e.Registry())
		s.mux.Handle(ListProgramsProcedure, connect.NewUnaryHandler(ListProgramsProcedure, lib.ListPrograms, co...))
		s.mux.Handle(PutProgramProcedure, connect.NewUnaryHandler(PutProgramProcedure, lib.PutProgram, co...))
		s.mux.Handle(DeleteProgramProcedure, connect.NewUnaryHandler(DeleteProgramProcedure, lib.DeleteProgram, co...))
	}

	interval := cfg.handleTTL / 6
	if interval < time.Second {
		interval = time.Second
	}
	s.stopSweeper = s.handles.StartSweeper(interval, cfg.handleTTL)
	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *WireformServer) Handler() http.Handler { return s.mux }

// Handles returns the retained-result store.
func (s *WireformServer) Handles() *HandleStore { return s.handles }

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *WireformServer) ListenAndServe(addr string) error {
	s.log.Infof("wireform server listening on %s", addr)
	s.log.Infof("  Connect (HTTP/JSON): http://%s%s", addr, ExecuteProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the sweeper.
func (s *WireformServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
}
