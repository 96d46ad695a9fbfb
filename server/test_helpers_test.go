package server

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/wireform/access"
	"github.com/chazu/wireform/internal/codec"
	"github.com/chazu/wireform/store"
	"github.com/chazu/wireform/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

type point struct {
	X float32
	Y int8
}

type link struct {
	Name string
	Next *link
}

func testRegistry(t *testing.T) *vm.TypeRegistry {
	t.Helper()
	reg := vm.NewTypeRegistry()
	for name, sample := range map[string]any{"point": point{}, "link": link{}} {
		if _, err := reg.Register(name, reflect.TypeOf(sample)); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func testEngine(t *testing.T) *vm.Engine {
	t.Helper()
	return vm.New(vm.WithRegistry(testRegistry(t)), vm.WithFilterCache(access.NewCache()))
}

func testLibrary(t *testing.T) *store.Library {
	t.Helper()
	lib, err := store.Open(filepath.Join(t.TempDir(), "lib.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lib.Close() })
	return lib
}

// testEnv bundles services wired to a fresh engine and library.
type testEnv struct {
	Engine  *vm.Engine
	Lib     *store.Library
	Handles *HandleStore
	Exec    *ExecutionService
	Library *LibraryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	eng := testEngine(t)
	lib := testLibrary(t)
	h := NewHandleStore()
	return &testEnv{
		Engine:  eng,
		Lib:     lib,
		Handles: h,
		Exec:    NewExecutionService(NewWorker(eng, 2), h, lib),
		Library: NewLibraryService(lib, eng.Registry()),
	}
}

// newTestClient starts an HTTP server for a WireformServer and returns a
// client speaking c.
func newTestClient(t *testing.T, c codec.Codec) (*Client, *WireformServer) {
	t.Helper()
	srv := New(testEngine(t), WithLibrary(testLibrary(t)))
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		srv.Stop()
	})
	return NewClient(hs.Client(), hs.URL, c), srv
}

// ---------------------------------------------------------------------------
// Request builder helpers.
// ---------------------------------------------------------------------------

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}

const cycleProgram = `
DEFINE "link" 0 0
SET "Name" "a"
DEFINE "link" 1 0
SET "Name" "b"
SET "Next" _ref(0)
END
SET "Next" _ref(1)
END
ALIAS 1 "second"
RET 0
`
