package main

import (
	"fmt"

	"github.com/chazu/wireform/internal/codec"
	"github.com/chazu/wireform/vm"
)

func (a *app) run(args []string) error {
	fs := a.flags("run")
	out := fs.String("o", "", "Output file")
	codecName := fs.String("codec", a.m.Server.Codec, "Snapshot codec: json or msgpack")
	progress := fs.String("progress", a.m.Engine.Progress, "Progress level: none, instance, class-instance, field")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := codec.ByName(*codecName)
	if err != nil {
		return err
	}
	if _, ok := c.(codec.JSON); ok {
		c = codec.JSON{Indent: true}
	}
	level, err := vm.ParseProgressLevel(*progress)
	if err != nil {
		return err
	}

	data, name, err := a.input(fs.Args())
	if err != nil {
		return err
	}
	instrs, err := loadProgram(data)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	e, err := a.engine(vm.WithProgress(level, func(current, total int) {
		fmt.Fprintf(a.stderr, "progress %d/%d\n", current, total)
	}))
	if err != nil {
		return err
	}
	res, err := e.Execute(instrs)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	doc, err := vm.Snapshot(res).Encode(c)
	if err != nil {
		return err
	}
	if _, isJSON := c.(codec.JSON); isJSON {
		doc = append(doc, '\n')
	}
	return a.output(*out, doc)
}
