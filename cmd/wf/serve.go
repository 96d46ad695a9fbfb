package main

import (
	"fmt"
	"time"

	"github.com/chazu/wireform/server"
)

func (a *app) serve(args []string) error {
	fs := a.flags("serve")
	addr := fs.String("addr", a.m.Server.Addr, "Listen address")
	workers := fs.Int("workers", 8, "Maximum concurrent executions")
	ttl := fs.Duration("ttl", 30*time.Minute, "Idle lifetime of retained results")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := a.engine()
	if err != nil {
		return err
	}
	lib, err := a.library()
	if err != nil {
		return err
	}

	srv := server.New(e,
		server.WithLibrary(lib),
		server.WithConcurrency(*workers),
		server.WithHandleTTL(*ttl),
	)
	defer srv.Stop()

	fmt.Fprintf(a.stderr, "wireform execution service on http://%s (codecs: json, msgpack)\n", *addr)
	return srv.ListenAndServe(*addr)
}

func (a *app) lsp(args []string) error {
	fs := a.flags("lsp")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return server.NewLSP(a.reg).Run()
}
