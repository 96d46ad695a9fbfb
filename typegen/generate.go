package typegen

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/dave/jennifer/jen"
)

const vmPath = "github.com/chazu/wireform/vm"

// GenerateOptions controls code generation.
type GenerateOptions struct {
	// Package is the name of the generated file's package.
	Package string
	// PackagePath is the generated file's import path. Types from that same
	// package are referenced unqualified.
	PackagePath string
	// FuncName names the registration function. Defaults to RegisterTypes.
	FuncName string
}

// Generate renders a Go file whose registration function registers every
// type in models, followed by its constructors, with a *vm.TypeRegistry.
func Generate(models []*PackageModel, opts GenerateOptions) (string, error) {
	if opts.Package == "" {
		return "", errors.New("typegen: output package name required")
	}
	fn := opts.FuncName
	if fn == "" {
		fn = "RegisterTypes"
	}

	var f *jen.File
	if opts.PackagePath != "" {
		f = jen.NewFilePathName(opts.PackagePath, opts.Package)
	} else {
		f = jen.NewFile(opts.Package)
	}
	f.HeaderComment("Code generated by wf gen. DO NOT EDIT.")
	f.ImportName(vmPath, "vm")

	used := map[string]bool{"vm": true}
	for _, m := range models {
		if m.ImportPath == opts.PackagePath {
			continue
		}
		base := ImportAlias(m.ImportPath)
		alias := base
		for i := 2; used[alias]; i++ {
			alias = fmt.Sprintf("%s%d", base, i)
		}
		used[alias] = true
		f.ImportAlias(m.ImportPath, alias)
	}

	var body []jen.Code
	for _, m := range models {
		for _, t := range m.Types {
			body = append(body,
				jen.Comment(describe(t)),
				jen.If(
					jen.Err().Op(":=").Qual(vmPath, "RegisterType").Types(jen.Qual(m.ImportPath, t.Name)).Call(jen.Id("reg"), jen.Lit(t.WireName)),
					jen.Err().Op("!=").Nil(),
				).Block(jen.Return(jen.Err())),
			)
			for _, c := range t.Constructors {
				body = append(body, jen.If(
					jen.Err().Op(":=").Id("reg").Dot("RegisterConstructor").Call(jen.Lit(t.WireName), jen.Qual(m.ImportPath, c.Name)),
					jen.Err().Op("!=").Nil(),
				).Block(jen.Return(jen.Err())))
			}
		}
	}
	body = append(body, jen.Return(jen.Nil()))

	f.Commentf("%s registers the generated types and their constructors with reg.", fn)
	f.Func().Id(fn).Params(jen.Id("reg").Op("*").Qual(vmPath, "TypeRegistry")).Error().Block(body...)

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return "", fmt.Errorf("rendering %s: %w", opts.Package, err)
	}
	return buf.String(), nil
}

// describe summarizes a type's members for the generated comment.
func describe(t TypeModel) string {
	var b strings.Builder
	b.WriteString(t.WireName)
	if len(t.Fields) > 0 {
		b.WriteString(": ")
		for i, f := range t.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.WireName + " " + f.TypeStr)
		}
	}
	return b.String()
}
