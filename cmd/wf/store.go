package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/chazu/wireform/pkg/bytecode"
	"github.com/chazu/wireform/pkg/runtime"
)

// handle `wf store`.
// Usage:
//
//	wf store put [-binary] NAME [file]          Store a program
//	wf store get [-o out] NAME                  Print a stored program as text
//	wf store list                               List stored programs
//	wf store rm [-templates] NAME               Delete a program or its templates
//	wf store template -p x:float32 NAME [file]  Store a template overload
func (a *app) store(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: wf store [put|get|list|rm|template] ...")
	}
	lib, err := a.library()
	if err != nil {
		return err
	}

	switch args[0] {
	case "put":
		fs := a.flags("store put")
		binary := fs.Bool("binary", false, "Store the payload in binary form")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() == 0 {
			return fmt.Errorf("usage: wf store put [-binary] NAME [file]")
		}
		data, src, err := a.input(fs.Args()[1:])
		if err != nil {
			return err
		}
		instrs, err := loadProgram(data)
		if err != nil {
			return fmt.Errorf("%s: %w", src, err)
		}
		enc := bytecode.EncodingText
		if *binary {
			enc = bytecode.EncodingBinary
		}
		b, err := lib.PutProgram(fs.Arg(0), enc, instrs, a.reg)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%s %x (%d instructions)\n", b.Name, b.Hash[:8], b.Count)
		return nil

	case "get":
		fs := a.flags("store get")
		out := fs.String("o", "", "Output file")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: wf store get [-o out] NAME")
		}
		instrs, err := lib.Program(fs.Arg(0))
		if err != nil {
			return err
		}
		text, err := bytecode.EncodeText(instrs)
		if err != nil {
			return err
		}
		return a.output(*out, text)

	case "list":
		entries, err := lib.List()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tENCODING\tCOUNT\tHASH\tUPDATED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%.16s\t%s\n", e.Name, e.Encoding, e.Count, e.Hash, e.Updated.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()

	case "rm":
		fs := a.flags("store rm")
		templates := fs.Bool("templates", false, "Delete the template overloads instead of the program")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: wf store rm [-templates] NAME")
		}
		if *templates {
			return lib.DeleteTemplates(fs.Arg(0))
		}
		return lib.Delete(fs.Arg(0))

	case "template":
		fs := a.flags("store template")
		var params paramList
		fs.Var(&params, "p", "Parameter as name or name:type (repeatable, in order)")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() == 0 {
			return fmt.Errorf("usage: wf store template [-p name:type]... NAME [file]")
		}
		data, src, err := a.input(fs.Args()[1:])
		if err != nil {
			return err
		}
		body, err := loadProgram(data)
		if err != nil {
			return fmt.Errorf("%s: %w", src, err)
		}
		t := &runtime.Template{Name: fs.Arg(0), Body: body}
		for _, p := range params {
			name, typ, _ := strings.Cut(p, ":")
			param := runtime.Param{Name: name}
			if typ != "" && typ != "any" {
				rt, ok := a.reg.LookupType(typ)
				if !ok {
					return fmt.Errorf("parameter %s: unknown type %q", name, typ)
				}
				param.Type = rt
			}
			t.Params = append(t.Params, param)
		}
		if err := lib.PutTemplate(t, a.reg); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%s%s\n", t.Name, t.Signature())
		return nil
	}
	return fmt.Errorf("unknown store command %q", args[0])
}

// paramList collects repeated -p flags.
type paramList []string

func (p *paramList) String() string { return strings.Join(*p, ",") }

func (p *paramList) Set(v string) error {
	*p = append(*p, v)
	return nil
}
