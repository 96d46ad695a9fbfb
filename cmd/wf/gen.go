package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/wireform/typegen"
)

// handle `wf gen`.
// Usage:
//
//	wf gen                          # packages from [types] in wireform.toml
//	wf gen ./model example.com/geom # ad-hoc packages
//	wf gen -list ./model            # print what would be registered
func (a *app) gen(args []string) error {
	fs := a.flags("gen")
	out := fs.String("o", a.m.Types.Output, "Output file, relative to the project directory")
	pkgName := fs.String("pkg", a.m.Types.Package, "Package of the generated file (default: the single introspected package)")
	qualify := fs.Bool("qualify", false, "Register types as pkg.Type")
	list := fs.Bool("list", false, "Print the introspected types instead of generating code")
	if err := fs.Parse(args); err != nil {
		return err
	}

	patterns := fs.Args()
	if len(patterns) == 0 {
		patterns = a.m.Types.Packages
	}
	if len(patterns) == 0 {
		return fmt.Errorf("no packages given and no [types].packages in %s", a.m.Resolve("wireform.toml"))
	}

	var models []*typegen.PackageModel
	for _, p := range patterns {
		m, err := typegen.IntrospectPackage(p, typegen.Options{Qualify: *qualify, Dir: a.m.Dir})
		if err != nil {
			return err
		}
		models = append(models, m)
	}

	if *list {
		for _, m := range models {
			fmt.Fprintf(a.stdout, "%s (%s)\n", m.ImportPath, m.Name)
			for _, t := range m.Types {
				fmt.Fprintf(a.stdout, "  %s\n", t.WireName)
				for _, f := range t.Fields {
					fmt.Fprintf(a.stdout, "    %s %s\n", f.WireName, f.TypeStr)
				}
				for _, c := range t.Constructors {
					fmt.Fprintf(a.stdout, "    %s/%d\n", c.Name, len(c.Params))
				}
			}
		}
		return nil
	}

	opts := typegen.GenerateOptions{Package: *pkgName}
	if opts.Package == "" {
		if len(models) != 1 {
			return fmt.Errorf("-pkg is required when generating for %d packages", len(models))
		}
		opts.Package = models[0].Name
		opts.PackagePath = models[0].ImportPath
	}

	code, err := typegen.Generate(models, opts)
	if err != nil {
		return err
	}
	path := a.m.Resolve(*out)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "wrote %s\n", path)
	return nil
}
